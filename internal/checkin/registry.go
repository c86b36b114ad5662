package checkin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// DefaultMaxSessions bounds the number of sessions kept in memory.
const DefaultMaxSessions = 10000

// ContextSource loads the check-in context of an event (the one-time load on mount).
type ContextSource interface {
	LoadContext(ctx context.Context, eventID uuid.UUID) (Context, error)
}

// History reports a previously recorded check-in, or nil when there is none.
type History interface {
	CheckedInAt(ctx context.Context, eventID, userID uuid.UUID) (*time.Time, error)
}

// Registry holds sessions per user and event (thread-safe). Least recently used
// sessions are evicted; a recreated session restores success from History.
type Registry struct {
	mu       sync.Mutex
	sessions *lru.Cache
	engine   *Engine
	source   ContextSource
	history  History
	recorder Recorder
	notify   func(Snapshot)
	now      func() time.Time
	logger   *zap.Logger
}

// NewRegistry creates a session registry.
func NewRegistry(engine *Engine, source ContextSource, history History, recorder Recorder, maxSessions int, logger *zap.Logger) (*Registry, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New(maxSessions)
	if err != nil {
		return nil, fmt.Errorf("session cache: %w", err)
	}
	return &Registry{
		sessions: cache,
		engine:   engine,
		source:   source,
		history:  history,
		recorder: recorder,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// SetNotifier sets the callback for session changes (e.g. websocket push). Call before serving.
func (r *Registry) SetNotifier(fn func(Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notify = fn
}

// Engine returns the registry's eligibility engine.
func (r *Registry) Engine() *Engine { return r.engine }

// Get returns the session for userID and eventID, creating and loading it on first use.
// A failed load leaves the session inert and is retried on the next Get. Sessions
// for unknown events are not kept.
func (r *Registry) Get(ctx context.Context, userID, eventID uuid.UUID) (*Session, error) {
	key := userID.String() + ":" + eventID.String()
	r.mu.Lock()
	var s *Session
	if v, ok := r.sessions.Get(key); ok {
		s = v.(*Session)
	} else {
		s = NewSession(eventID, userID, r.engine, r.recorder, r.notify, r.logger)
		r.sessions.Add(key, s)
	}
	r.mu.Unlock()

	if err := r.load(ctx, s); err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			r.mu.Lock()
			if v, ok := r.sessions.Peek(key); ok && v.(*Session) == s {
				r.sessions.Remove(key)
			}
			r.mu.Unlock()
		}
		return s, err
	}
	return s, nil
}

// Len returns the number of sessions in memory.
func (r *Registry) Len() int { return r.sessions.Len() }

func (r *Registry) load(ctx context.Context, s *Session) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.Loaded() {
		return nil
	}
	if r.history != nil {
		at, err := r.history.CheckedInAt(ctx, s.eventID, s.userID)
		if err != nil {
			return fmt.Errorf("load check-in history: %w", err)
		}
		if at != nil {
			s.RestoreSuccess(*at)
		}
	}
	c, err := r.source.LoadContext(ctx, s.eventID)
	if err != nil {
		return fmt.Errorf("load event context: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.SetContext(c, r.now())
	return nil
}
