package location

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sampleday/backend/internal/checkin"
)

// toFields mimics what HGETALL returns for a hash written with encode.
func toFields(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func TestEncodeDecode(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC)
	loc := checkin.Location{Latitude: 40.712812345, Longitude: -74.006}

	got, perm, gotAt, err := decode(toFields(encode(loc, checkin.PermissionGranted, at)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != loc || perm != checkin.PermissionGranted || !gotAt.Equal(at) {
		t.Errorf("got %+v %s %s", got, perm, gotAt)
	}
}

func TestDecode_DeniedHasNoCoordinates(t *testing.T) {
	fields := toFields(encode(checkin.Location{Latitude: 1, Longitude: 2}, checkin.PermissionDenied, time.Now()))
	if _, ok := fields["lat"]; ok {
		t.Error("denied samples must not store coordinates")
	}
	_, perm, _, err := decode(fields)
	if err != nil || perm != checkin.PermissionDenied {
		t.Errorf("expected denied, got %s (%v)", perm, err)
	}
}

func TestDecode_Missing(t *testing.T) {
	if _, _, _, err := decode(map[string]string{}); !errors.Is(err, checkin.ErrNoSample) {
		t.Errorf("expected ErrNoSample, got %v", err)
	}
	if _, _, _, err := decode(map[string]string{"perm": "granted", "lat": "x", "lon": "1"}); err == nil {
		t.Error("expected parse error")
	}
}
