package checkin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeSource struct {
	mu    sync.Mutex
	ctx   Context
	err   error
	loads int
}

func (f *fakeSource) LoadContext(context.Context, uuid.UUID) (Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.ctx, f.err
}

type fakeHistory map[uuid.UUID]time.Time

func (f fakeHistory) CheckedInAt(_ context.Context, eventID, _ uuid.UUID) (*time.Time, error) {
	if at, ok := f[eventID]; ok {
		return &at, nil
	}
	return nil, nil
}

func TestRegistry_LoadsOncePerSession(t *testing.T) {
	src := &fakeSource{ctx: testContext()}
	reg, err := NewRegistry(NewEngine(0, nil), src, nil, nil, 0, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	user, event := uuid.New(), uuid.New()

	s1, err := reg.Get(context.Background(), user, event)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	s2, _ := reg.Get(context.Background(), user, event)
	if s1 != s2 {
		t.Error("expected the same session for the same user and event")
	}
	if src.loads != 1 {
		t.Errorf("expected 1 context load, got %d", src.loads)
	}
	if !s1.Loaded() {
		t.Error("session should be loaded")
	}

	other, _ := reg.Get(context.Background(), uuid.New(), event)
	if other == s1 {
		t.Error("different users must get different sessions")
	}
}

func TestRegistry_FailedLoadIsRetried(t *testing.T) {
	dbDown := errors.New("connection refused")
	src := &fakeSource{err: dbDown}
	reg, _ := NewRegistry(NewEngine(0, nil), src, nil, nil, 0, nil)
	user, event := uuid.New(), uuid.New()

	s, err := reg.Get(context.Background(), user, event)
	if !errors.Is(err, dbDown) {
		t.Fatalf("expected load error, got %v", err)
	}
	if s.Loaded() {
		t.Error("session should stay inert after failed load")
	}

	src.mu.Lock()
	src.err = nil
	src.ctx = testContext()
	src.mu.Unlock()
	if _, err := reg.Get(context.Background(), user, event); err != nil {
		t.Fatalf("retry Get: %v", err)
	}
	if !s.Loaded() {
		t.Error("session should load on retry")
	}
}

type perEventSource struct {
	known map[uuid.UUID]Context
}

func (p perEventSource) LoadContext(_ context.Context, eventID uuid.UUID) (Context, error) {
	if c, ok := p.known[eventID]; ok {
		return c, nil
	}
	return Context{}, ErrUnknownEvent
}

func TestRegistry_UnknownEventsDoNotEvictLiveSessions(t *testing.T) {
	event := uuid.New()
	src := perEventSource{known: map[uuid.UUID]Context{event: testContext()}}
	reg, _ := NewRegistry(NewEngine(0, nil), src, nil, nil, 2, nil)
	user := uuid.New()
	now := eventStart.Add(time.Hour)

	live, err := reg.Get(context.Background(), user, event)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	live.UpdateLocation(north(venue, 10), PermissionGranted, now)
	if live.Status() != StatusInput {
		t.Fatalf("setup: expected input, got %s", live.Status())
	}

	for i := 0; i < 2; i++ {
		if _, err := reg.Get(context.Background(), user, uuid.New()); !errors.Is(err, ErrUnknownEvent) {
			t.Fatalf("expected ErrUnknownEvent, got %v", err)
		}
	}
	if reg.Len() != 1 {
		t.Errorf("unknown events should not be cached, have %d sessions", reg.Len())
	}

	again, _ := reg.Get(context.Background(), user, event)
	if again != live {
		t.Fatal("live session was evicted by unknown event lookups")
	}
	if again.Status() != StatusInput {
		t.Errorf("expected input to survive, got %s", again.Status())
	}
}

func TestRegistry_RestoresPastSuccess(t *testing.T) {
	event := uuid.New()
	hist := fakeHistory{event: eventStart.Add(10 * time.Minute)}
	reg, _ := NewRegistry(NewEngine(0, nil), &fakeSource{ctx: testContext()}, hist, nil, 0, nil)

	s, err := reg.Get(context.Background(), uuid.New(), event)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	snap := s.Snapshot()
	if snap.Status != StatusSuccess || snap.CheckedInAt == nil {
		t.Errorf("expected restored success, got %+v", snap)
	}
}

func TestRegistry_EvictsLeastRecentlyUsed(t *testing.T) {
	reg, _ := NewRegistry(NewEngine(0, nil), &fakeSource{ctx: testContext()}, nil, nil, 2, nil)
	for i := 0; i < 5; i++ {
		reg.Get(context.Background(), uuid.New(), uuid.New())
	}
	if reg.Len() != 2 {
		t.Errorf("expected 2 sessions after eviction, got %d", reg.Len())
	}
}

func TestRegistry_NotifierReceivesChanges(t *testing.T) {
	reg, _ := NewRegistry(NewEngine(0, nil), &fakeSource{ctx: testContext()}, nil, nil, 0, nil)
	var got []Snapshot
	reg.SetNotifier(func(s Snapshot) { got = append(got, s) })

	s, _ := reg.Get(context.Background(), uuid.New(), uuid.New())
	s.UpdateLocation(north(venue, 10), PermissionGranted, eventStart.Add(time.Minute))
	if len(got) == 0 || got[len(got)-1].Status != StatusInput {
		t.Errorf("expected an input notification, got %+v", got)
	}
}
