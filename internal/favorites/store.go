// Package favorites owns each user's set of favorite events and tells
// subscribers when it changes.
package favorites

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Persister loads and saves a user's favorites.
type Persister interface {
	Load(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	Save(ctx context.Context, userID uuid.UUID, eventIDs []uuid.UUID) error
}

// Change describes one mutation of a user's favorites.
type Change struct {
	UserID    uuid.UUID   `json:"user_id"`
	EventID   uuid.UUID   `json:"event_id"`
	Favorite  bool        `json:"favorite"`
	Favorites []uuid.UUID `json:"favorites"`
}

// Listener is called after a change has been persisted.
type Listener func(Change)

type set map[uuid.UUID]struct{}

func (s set) sorted() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Store is the process-wide favorites container. A user's set is loaded
// from the Persister on first use and saved on every mutation.
type Store struct {
	persister Persister
	logger    *zap.Logger

	mu     sync.Mutex
	users  map[uuid.UUID]set
	nextID int
	subs   map[int]Listener
}

// NewStore creates a favorites store.
func NewStore(p Persister, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{persister: p, logger: logger, users: make(map[uuid.UUID]set), subs: make(map[int]Listener)}
}

// Subscribe registers l for every future change and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// loadLocked returns the user's set, loading it if needed. Caller holds s.mu.
func (s *Store) loadLocked(ctx context.Context, userID uuid.UUID) (set, error) {
	if fav, ok := s.users[userID]; ok {
		return fav, nil
	}
	ids, err := s.persister.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load favorites for %s: %w", userID, err)
	}
	fav := make(set, len(ids))
	for _, id := range ids {
		fav[id] = struct{}{}
	}
	s.users[userID] = fav
	return fav, nil
}

// List returns the user's favorite event IDs.
func (s *Store) List(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fav, err := s.loadLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	return fav.sorted(), nil
}

// IsFavorite reports whether the event is in the user's favorites.
func (s *Store) IsFavorite(ctx context.Context, userID, eventID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fav, err := s.loadLocked(ctx, userID)
	if err != nil {
		return false, err
	}
	_, ok := fav[eventID]
	return ok, nil
}

// Add marks the event as a favorite. Adding an existing favorite is a no-op.
func (s *Store) Add(ctx context.Context, userID, eventID uuid.UUID) ([]uuid.UUID, error) {
	return s.set(ctx, userID, eventID, true)
}

// Remove unmarks the event. Removing a missing favorite is a no-op.
func (s *Store) Remove(ctx context.Context, userID, eventID uuid.UUID) ([]uuid.UUID, error) {
	return s.set(ctx, userID, eventID, false)
}

func (s *Store) set(ctx context.Context, userID, eventID uuid.UUID, favorite bool) ([]uuid.UUID, error) {
	s.mu.Lock()
	fav, err := s.loadLocked(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if _, ok := fav[eventID]; ok == favorite {
		ids := fav.sorted()
		s.mu.Unlock()
		return ids, nil
	}

	next := make(set, len(fav)+1)
	for id := range fav {
		next[id] = struct{}{}
	}
	if favorite {
		next[eventID] = struct{}{}
	} else {
		delete(next, eventID)
	}
	ids := next.sorted()
	if err := s.persister.Save(ctx, userID, ids); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("save favorites for %s: %w", userID, err)
	}
	s.users[userID] = next
	listeners := make([]Listener, 0, len(s.subs))
	for _, l := range s.subs {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	change := Change{UserID: userID, EventID: eventID, Favorite: favorite, Favorites: ids}
	for _, l := range listeners {
		l(change)
	}
	s.logger.Debug("favorites changed", zap.String("user_id", userID.String()), zap.String("event_id", eventID.String()), zap.Bool("favorite", favorite))
	return ids, nil
}
