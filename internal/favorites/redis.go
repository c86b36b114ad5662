package favorites

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "favorites:"

// RedisPersister stores each user's favorites as a Redis set.
type RedisPersister struct {
	rdb redis.UniversalClient
}

// NewRedisPersister creates a Redis-backed persister.
func NewRedisPersister(rdb redis.UniversalClient) *RedisPersister {
	return &RedisPersister{rdb: rdb}
}

func (p *RedisPersister) Load(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	members, err := p.rdb.SMembers(ctx, keyPrefix+userID.String()).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			return nil, fmt.Errorf("corrupt favorite %q: %w", m, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Save replaces the stored set atomically.
func (p *RedisPersister) Save(ctx context.Context, userID uuid.UUID, eventIDs []uuid.UUID) error {
	key := keyPrefix + userID.String()
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(eventIDs) == 0 {
			return nil
		}
		members := make([]any, len(eventIDs))
		for i, id := range eventIDs {
			members[i] = id.String()
		}
		pipe.SAdd(ctx, key, members...)
		return nil
	})
	return err
}
