package checkin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeRecorder struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (f *fakeRecorder) RecordCheckIn(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return f.err
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func newTestSession(rec Recorder) (*Session, *[]Snapshot) {
	var (
		mu    sync.Mutex
		snaps []Snapshot
	)
	notify := func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	}
	s := NewSession(uuid.New(), uuid.New(), NewEngine(CheckInRadiusMeters, nil), rec, notify, nil)
	return s, &snaps
}

func TestSession_InertUntilLoaded(t *testing.T) {
	s, _ := newTestSession(nil)
	now := eventStart.Add(time.Hour)

	snap, err := s.UpdateLocation(north(venue, 10), PermissionGranted, now)
	if err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
	if snap.Eligible || snap.Status != StatusNone || snap.Loaded {
		t.Fatalf("expected inert session, got %+v", snap)
	}

	snap = s.SetContext(testContext(), now)
	if !snap.Eligible || snap.Status != StatusInput {
		t.Errorf("expected input after load with nearby location, got %+v", snap)
	}
}

func TestSession_Scenario_WrongThenCorrect(t *testing.T) {
	rec := &fakeRecorder{}
	s, snaps := newTestSession(rec)
	now := time.Date(2026, 1, 5, 16, 0, 0, 0, time.UTC)
	s.SetContext(testContext(), now)

	snap, _ := s.UpdateLocation(north(venue, 50), PermissionGranted, now)
	if snap.Status != StatusInput {
		t.Fatalf("expected input, got %s", snap.Status)
	}

	snap, err := s.Submit(context.Background(), "000000", now)
	if !errors.Is(err, ErrIncorrectCode) || snap.Status != StatusIncorrect {
		t.Fatalf("expected incorrect, got %s (%v)", snap.Status, err)
	}

	snap, err = s.Submit(context.Background(), "482913", now)
	if err != nil || snap.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", snap.Status, err)
	}
	if snap.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", snap.Attempts)
	}
	if snap.Submitting {
		t.Error("submitting flag should be cleared after recording")
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 recorded check-in, got %d", rec.count())
	}
	if rec.records[0].EventID != s.EventID() || rec.records[0].UserID != s.UserID() {
		t.Error("record has wrong event or user")
	}
	if len(*snaps) == 0 {
		t.Error("expected change notifications")
	}
}

func TestSession_FarAwayNeverOpensCodeEntry(t *testing.T) {
	s, _ := newTestSession(nil)
	now := eventStart.Add(time.Hour)
	s.SetContext(testContext(), now)
	s.UpdateLocation(north(venue, 500), PermissionGranted, now)

	for _, code := range []string{"482913", "000000", "12"} {
		snap, err := s.Submit(context.Background(), code, now)
		if snap.Status != StatusNone {
			t.Errorf("code %q changed status to %s", code, snap.Status)
		}
		if !errors.Is(err, ErrCodeEntryClosed) {
			t.Errorf("code %q: expected ErrCodeEntryClosed, got %v", code, err)
		}
	}
}

func TestSession_WindowOpens(t *testing.T) {
	s, _ := newTestSession(nil)
	early := time.Date(2026, 1, 5, 14, 59, 0, 0, time.UTC)
	s.SetContext(testContext(), early)

	snap, _ := s.UpdateLocation(north(venue, 20), PermissionGranted, early)
	if snap.Status != StatusNone {
		t.Fatalf("expected none before window, got %s", snap.Status)
	}
	snap = s.Tick(eventStart)
	if snap.Status != StatusInput {
		t.Errorf("expected input once window opens, got %s", snap.Status)
	}
}

func TestSession_ShortCodeRejectedWithoutStateChange(t *testing.T) {
	s, _ := newTestSession(nil)
	now := eventStart.Add(time.Hour)
	s.SetContext(testContext(), now)
	s.UpdateLocation(north(venue, 20), PermissionGranted, now)

	snap, err := s.Submit(context.Background(), "4829", now)
	if !errors.Is(err, ErrInvalidCodeLength) {
		t.Fatalf("expected ErrInvalidCodeLength, got %v", err)
	}
	if snap.Status != StatusInput || snap.Attempts != 0 {
		t.Errorf("short code must not change state: %+v", snap)
	}
}

func TestSession_EligibilityLossResets(t *testing.T) {
	for _, start := range []Status{StatusInput, StatusIncorrect} {
		t.Run(string(start), func(t *testing.T) {
			s, _ := newTestSession(nil)
			now := eventStart.Add(time.Hour)
			s.SetContext(testContext(), now)
			s.UpdateLocation(north(venue, 20), PermissionGranted, now)
			if start == StatusIncorrect {
				s.Submit(context.Background(), "999999", now)
			}
			if s.Status() != start {
				t.Fatalf("setup: expected %s, got %s", start, s.Status())
			}

			snap, _ := s.UpdateLocation(north(venue, 300), PermissionGranted, now)
			if snap.Status != StatusNone {
				t.Errorf("walking away: expected none, got %s", snap.Status)
			}
		})
	}

	s, _ := newTestSession(nil)
	now := eventStart.Add(time.Hour)
	s.SetContext(testContext(), now)
	s.UpdateLocation(north(venue, 20), PermissionGranted, now)
	if snap := s.Tick(eventEnd.Add(time.Second)); snap.Status != StatusNone {
		t.Errorf("window closing: expected none, got %s", snap.Status)
	}
}

func TestSession_SuccessIsTerminal(t *testing.T) {
	s, _ := newTestSession(&fakeRecorder{})
	now := eventStart.Add(time.Hour)
	s.SetContext(testContext(), now)
	s.UpdateLocation(north(venue, 20), PermissionGranted, now)
	if _, err := s.Submit(context.Background(), "482913", now); err != nil {
		t.Fatalf("submit: %v", err)
	}

	s.UpdateLocation(north(venue, 5000), PermissionGranted, now)
	s.UpdateLocation(Location{}, PermissionDenied, now)
	s.Tick(eventEnd.Add(24 * time.Hour))
	s.Submit(context.Background(), "000000", now)
	s.Submit(context.Background(), "1", now)

	if st := s.Status(); st != StatusSuccess {
		t.Errorf("expected success to stick, got %s", st)
	}
}

func TestSession_RecorderFailureKeepsSuccess(t *testing.T) {
	s, _ := newTestSession(&fakeRecorder{err: errors.New("queue down")})
	now := eventStart.Add(time.Hour)
	s.SetContext(testContext(), now)
	s.UpdateLocation(north(venue, 20), PermissionGranted, now)

	snap, err := s.Submit(context.Background(), "482913", now)
	if err != nil || snap.Status != StatusSuccess {
		t.Errorf("expected success despite recorder error, got %s (%v)", snap.Status, err)
	}
}

func TestSession_DeniedPermissionIsPermanent(t *testing.T) {
	s, _ := newTestSession(nil)
	now := eventStart.Add(time.Hour)
	s.SetContext(testContext(), now)
	s.UpdateLocation(north(venue, 20), PermissionGranted, now)

	snap, _ := s.UpdateLocation(Location{}, PermissionDenied, now)
	if snap.Status != StatusNone || snap.Eligible {
		t.Fatalf("expected none after denial, got %+v", snap)
	}
	snap, _ = s.UpdateLocation(north(venue, 20), PermissionGranted, now)
	if snap.Eligible {
		t.Error("denied permission should keep the session ineligible")
	}
}

func TestSession_InvalidSampleRejected(t *testing.T) {
	s, _ := newTestSession(nil)
	if _, err := s.UpdateLocation(Location{Latitude: 120}, PermissionGranted, eventStart); !errors.Is(err, ErrInvalidLocation) {
		t.Errorf("expected ErrInvalidLocation, got %v", err)
	}
}

func TestSession_MalformedEventNeverEligible(t *testing.T) {
	s, _ := newTestSession(nil)
	c := testContext()
	c.StartTime, c.EndTime = c.EndTime, c.StartTime
	now := eventStart.Add(time.Hour)
	s.SetContext(c, now)

	snap, _ := s.UpdateLocation(venue, PermissionGranted, now)
	if snap.Eligible || snap.Status != StatusNone {
		t.Errorf("expected ineligible for inverted window, got %+v", snap)
	}
}

func TestParsePermission(t *testing.T) {
	for in, want := range map[string]Permission{
		"granted":      PermissionGranted,
		"denied":       PermissionDenied,
		"undetermined": PermissionUndetermined,
		"":             PermissionUndetermined,
	} {
		got, err := ParsePermission(in)
		if err != nil || got != want {
			t.Errorf("ParsePermission(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParsePermission("maybe"); err == nil {
		t.Error("expected error for unknown permission")
	}
}

type ctxAwareRecorder struct {
	mu          sync.Mutex
	records     []Record
	hadDeadline bool
}

func (r *ctxAwareRecorder) RecordCheckIn(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, r.hadDeadline = ctx.Deadline()
	r.records = append(r.records, rec)
	return nil
}

func TestSession_RecordsEvenWhenCallerGoesAway(t *testing.T) {
	rec := &ctxAwareRecorder{}
	s, _ := newTestSession(rec)
	now := eventStart.Add(time.Hour)
	s.SetContext(testContext(), now)
	s.UpdateLocation(north(venue, 20), PermissionGranted, now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap, err := s.Submit(ctx, "482913", now)
	if err != nil || snap.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", snap.Status, err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.records) != 1 {
		t.Fatalf("expected the check-in to be recorded, got %d records", len(rec.records))
	}
	if !rec.hadDeadline {
		t.Error("recording should run with a deadline")
	}
}

func TestSession_DeniedPermissionStaysReported(t *testing.T) {
	s, _ := newTestSession(nil)
	now := eventStart.Add(time.Hour)
	s.SetContext(testContext(), now)
	s.UpdateLocation(Location{}, PermissionDenied, now)

	snap, _ := s.UpdateLocation(north(venue, 20), PermissionGranted, now)
	if snap.Permission != PermissionDenied {
		t.Errorf("expected permission to stay denied, got %s", snap.Permission)
	}
	if snap.LocationAt != nil {
		t.Error("denied session should not keep a location")
	}
}

func TestSession_UpdateLocationAtKeepsSampleTime(t *testing.T) {
	s, _ := newTestSession(nil)
	now := eventStart.Add(time.Hour)
	s.SetContext(testContext(), now)

	sampled := now.Add(-3 * time.Minute)
	snap, err := s.UpdateLocationAt(north(venue, 20), PermissionGranted, sampled, now)
	if err != nil {
		t.Fatalf("UpdateLocationAt: %v", err)
	}
	if snap.LocationAt == nil || !snap.LocationAt.Equal(sampled) {
		t.Errorf("expected location_at %v, got %v", sampled, snap.LocationAt)
	}

	snap, _ = s.UpdateLocationAt(north(venue, 20), PermissionGranted, now.Add(time.Hour), now)
	if !snap.LocationAt.Equal(now) {
		t.Errorf("future sample time should clamp to now, got %v", snap.LocationAt)
	}
}
