package checkin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sampleday/backend/internal/middleware"
)

type memSink struct {
	saved []Permission
}

func (m *memSink) Save(_ context.Context, _ uuid.UUID, _ Location, perm Permission, _ time.Time) error {
	m.saved = append(m.saved, perm)
	return nil
}

type handlerEnv struct {
	router  *gin.Engine
	eventID uuid.UUID
	sink    *memSink
	rec     *fakeRecorder
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := &handlerEnv{eventID: uuid.New(), sink: &memSink{}, rec: &fakeRecorder{}}
	src := &fakeSource{ctx: testContext()}
	reg, err := NewRegistry(NewEngine(0, nil), sourceFor(env.eventID, src), nil, env.rec, 0, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	h := NewHandler(reg, env.sink, nil)
	h.now = func() time.Time { return eventStart.Add(30 * time.Minute) }

	user := uuid.New()
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(middleware.ContextUserID, user) })
	r.GET("/events/:id/checkin", h.Status)
	r.POST("/events/:id/checkin/location", h.UpdateLocation)
	r.POST("/events/:id/checkin/code", h.SubmitCode)
	env.router = r
	return env
}

// knownEvent serves the context for one event ID and ErrUnknownEvent otherwise.
type knownEvent struct {
	id  uuid.UUID
	src *fakeSource
}

func sourceFor(id uuid.UUID, src *fakeSource) knownEvent { return knownEvent{id: id, src: src} }

func (k knownEvent) LoadContext(ctx context.Context, id uuid.UUID) (Context, error) {
	if id != k.id {
		return Context{}, ErrUnknownEvent
	}
	return k.src.LoadContext(ctx, id)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (e *handlerEnv) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	return w.Code, env
}

func (e *handlerEnv) base() string { return "/events/" + e.eventID.String() + "/checkin" }

func TestHandler_FullCheckIn(t *testing.T) {
	env := newHandlerEnv(t)

	code, body := env.do(t, http.MethodGet, env.base(), nil)
	var snap Snapshot
	json.Unmarshal(body.Data, &snap)
	if code != http.StatusOK || snap.Status != StatusNone || !snap.Loaded {
		t.Fatalf("initial status: %d %+v", code, snap)
	}

	here := north(venue, 40)
	code, body = env.do(t, http.MethodPost, env.base()+"/location", LocationRequest{Latitude: &here.Latitude, Longitude: &here.Longitude, Permission: "granted"})
	json.Unmarshal(body.Data, &snap)
	if code != http.StatusOK || snap.Status != StatusInput {
		t.Fatalf("location: %d %+v", code, snap)
	}
	if len(env.sink.saved) != 1 {
		t.Error("location sample should be stored")
	}

	code, body = env.do(t, http.MethodPost, env.base()+"/code", CodeRequest{Code: "12"})
	if code != http.StatusBadRequest {
		t.Errorf("short code: expected 400, got %d", code)
	}

	code, body = env.do(t, http.MethodPost, env.base()+"/code", CodeRequest{Code: "000000"})
	var result struct {
		Checkin Snapshot `json:"checkin"`
		Message string   `json:"message"`
	}
	json.Unmarshal(body.Data, &result)
	if code != http.StatusOK || result.Checkin.Status != StatusIncorrect || result.Message != IncorrectCodeMessage {
		t.Fatalf("wrong code: %d %+v", code, result)
	}

	code, body = env.do(t, http.MethodPost, env.base()+"/code", CodeRequest{Code: "482913"})
	json.Unmarshal(body.Data, &result)
	if code != http.StatusOK || result.Checkin.Status != StatusSuccess {
		t.Fatalf("right code: %d %+v", code, result)
	}
	if env.rec.count() != 1 {
		t.Errorf("expected the check-in to be recorded once, got %d", env.rec.count())
	}
}

func TestHandler_CodeEntryClosed(t *testing.T) {
	env := newHandlerEnv(t)
	far := north(venue, 1000)
	env.do(t, http.MethodPost, env.base()+"/location", LocationRequest{Latitude: &far.Latitude, Longitude: &far.Longitude, Permission: "granted"})

	if code, _ := env.do(t, http.MethodPost, env.base()+"/code", CodeRequest{Code: "482913"}); code != http.StatusConflict {
		t.Errorf("expected 409 while out of range, got %d", code)
	}
}

func TestHandler_LocationValidation(t *testing.T) {
	env := newHandlerEnv(t)
	bad := 123.0
	tests := []struct {
		name string
		req  LocationRequest
		want int
	}{
		{"missing coordinates", LocationRequest{Permission: "granted"}, http.StatusBadRequest},
		{"out of range", LocationRequest{Latitude: &bad, Longitude: &bad, Permission: "granted"}, http.StatusBadRequest},
		{"unknown permission", LocationRequest{Permission: "sometimes"}, http.StatusBadRequest},
		{"denied without coordinates", LocationRequest{Permission: "denied"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := env.do(t, http.MethodPost, env.base()+"/location", tt.req); code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, code)
			}
		})
	}
}

func TestHandler_UnknownEvent(t *testing.T) {
	env := newHandlerEnv(t)
	if code, _ := env.do(t, http.MethodGet, "/events/"+uuid.NewString()+"/checkin", nil); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/events/nope/checkin", nil); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}
