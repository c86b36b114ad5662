package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sampleday/backend/internal/checkin"
)

type oneEventSource struct {
	id  uuid.UUID
	ctx checkin.Context
}

func (s oneEventSource) LoadContext(_ context.Context, id uuid.UUID) (checkin.Context, error) {
	if id != s.id {
		return checkin.Context{}, checkin.ErrUnknownEvent
	}
	return s.ctx, nil
}

type noSample struct{}

func (noSample) Latest(context.Context, uuid.UUID) (checkin.Location, checkin.Permission, time.Time, error) {
	return checkin.Location{}, checkin.PermissionUndetermined, time.Time{}, checkin.ErrNoSample
}

var venue = checkin.Location{Latitude: 48.8584, Longitude: 2.2945}

func newWSServer(t *testing.T) (*httptest.Server, uuid.UUID, uuid.UUID) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	eventID, userID := uuid.New(), uuid.New()
	loc := venue
	start, end := time.Now().Add(-time.Hour), time.Now().Add(time.Hour)
	src := oneEventSource{id: eventID, ctx: checkin.Context{EventLocation: &loc, StartTime: &start, EndTime: &end, ExpectedCode: "246810"}}

	reg, err := checkin.NewRegistry(checkin.NewEngine(0, nil), src, nil, nil, 0, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	hub := NewHub(nil, nil, nil)
	reg.SetNotifier(hub.NotifyCheckIn)

	validate := func(token string) (uuid.UUID, error) {
		if token != "good" {
			return uuid.Nil, errors.New("bad token")
		}
		return userID, nil
	}
	r := gin.New()
	r.GET("/ws", ServeWs(hub, CheckIn{Registry: reg, Provider: noSample{}, Interval: time.Hour}, zap.NewNop(), validate))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, eventID, userID
}

// readUntil reads messages until one satisfies match or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(WSMessage) bool) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func statusIs(want checkin.Status) func(WSMessage) bool {
	return func(m WSMessage) bool {
		if m.Event != EventCheckInStatus {
			return false
		}
		var snap checkin.Snapshot
		return json.Unmarshal(m.Data, &snap) == nil && snap.Status == want
	}
}

func TestServeWs_CheckInFlow(t *testing.T) {
	srv, eventID, _ := newWSServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=good&event_id=" + eventID.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readUntil(t, conn, statusIs(checkin.StatusNone))

	conn.WriteJSON(map[string]any{"event": "location", "data": map[string]any{
		"latitude": venue.Latitude, "longitude": venue.Longitude, "permission": "granted",
	}})
	readUntil(t, conn, statusIs(checkin.StatusInput))

	conn.WriteJSON(map[string]any{"event": "submit_code", "data": map[string]string{"code": "000000"}})
	readUntil(t, conn, func(m WSMessage) bool {
		return m.Event == EventCheckInError && strings.Contains(string(m.Data), checkin.IncorrectCodeMessage)
	})

	conn.WriteJSON(map[string]any{"event": "submit_code", "data": map[string]string{"code": "246810"}})
	readUntil(t, conn, statusIs(checkin.StatusSuccess))
}

func TestServeWs_Rejections(t *testing.T) {
	srv, _, _ := newWSServer(t)
	tests := map[string]struct {
		query string
		want  int
	}{
		"no token":      {"", http.StatusBadRequest},
		"bad token":     {"?token=bad", http.StatusUnauthorized},
		"bad event":     {"?token=good&event_id=x", http.StatusBadRequest},
		"unknown event": {"?token=good&event_id=" + uuid.NewString(), http.StatusNotFound},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/ws" + tt.query)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}
