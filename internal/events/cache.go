package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/sampleday/backend/internal/models"
)

// DefaultCacheSize is the number of events kept by CachedStore.
const DefaultCacheSize = 1024

// CachedStore keeps recently read events in memory in front of another Store.
// Writes go through to the underlying store and invalidate the entry.
type CachedStore struct {
	next  Store
	cache *lru.Cache
}

// NewCachedStore wraps next with an LRU cache of size entries.
func NewCachedStore(next Store, size int) (*CachedStore, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create event cache: %w", err)
	}
	return &CachedStore{next: next, cache: cache}, nil
}

func (s *CachedStore) Create(ctx context.Context, e *models.Event) error {
	if err := s.next.Create(ctx, e); err != nil {
		return err
	}
	cp := *e
	s.cache.Add(e.ID, &cp)
	return nil
}

// GetByID returns a copy of the cached event, loading it on a miss.
func (s *CachedStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	if v, ok := s.cache.Get(id); ok {
		cp := *v.(*models.Event)
		return &cp, nil
	}
	e, err := s.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := *e
	s.cache.Add(id, &cp)
	return e, nil
}

func (s *CachedStore) List(ctx context.Context, f ListFilter) ([]models.Event, error) {
	return s.next.List(ctx, f)
}

func (s *CachedStore) SetImage(ctx context.Context, id uuid.UUID, key string) error {
	s.cache.Remove(id)
	return s.next.SetImage(ctx, id, key)
}

func (s *CachedStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.cache.Remove(id)
	return s.next.Delete(ctx, id)
}
