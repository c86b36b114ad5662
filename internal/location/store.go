// Package location keeps each user's most recent location sample in Redis.
package location

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sampleday/backend/internal/checkin"
)

// DefaultSampleTTL is how long a sample stays usable after it was reported.
const DefaultSampleTTL = 5 * time.Minute

const keyPrefix = "location:"

// Store implements checkin.LocationProvider and checkin.LocationSink.
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewStore creates a location store. ttl <= 0 uses DefaultSampleTTL.
func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultSampleTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func key(userID uuid.UUID) string { return keyPrefix + userID.String() }

// Save records the user's latest sample and permission.
func (s *Store) Save(ctx context.Context, userID uuid.UUID, loc checkin.Location, perm checkin.Permission, at time.Time) error {
	k := key(userID)
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k, encode(loc, perm, at))
	pipe.Expire(ctx, k, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save location for %s: %w", userID, err)
	}
	return nil
}

// Latest returns the user's latest sample and the time it was reported. A
// missing or expired sample yields checkin.ErrNoSample.
func (s *Store) Latest(ctx context.Context, userID uuid.UUID) (checkin.Location, checkin.Permission, time.Time, error) {
	fields, err := s.rdb.HGetAll(ctx, key(userID)).Result()
	if err != nil {
		return checkin.Location{}, checkin.PermissionUndetermined, time.Time{}, fmt.Errorf("read location for %s: %w", userID, err)
	}
	return decode(fields)
}

func encode(loc checkin.Location, perm checkin.Permission, at time.Time) map[string]any {
	m := map[string]any{
		"perm": string(perm),
		"at":   at.UTC().Format(time.RFC3339Nano),
	}
	if perm == checkin.PermissionGranted {
		m["lat"] = strconv.FormatFloat(loc.Latitude, 'f', -1, 64)
		m["lon"] = strconv.FormatFloat(loc.Longitude, 'f', -1, 64)
	}
	return m
}

func decode(fields map[string]string) (checkin.Location, checkin.Permission, time.Time, error) {
	var loc checkin.Location
	if len(fields) == 0 {
		return loc, checkin.PermissionUndetermined, time.Time{}, checkin.ErrNoSample
	}
	perm, err := checkin.ParsePermission(fields["perm"])
	if err != nil {
		return loc, checkin.PermissionUndetermined, time.Time{}, err
	}
	at, _ := time.Parse(time.RFC3339Nano, fields["at"])
	if perm != checkin.PermissionGranted {
		return loc, perm, at, nil
	}
	if loc.Latitude, err = strconv.ParseFloat(fields["lat"], 64); err != nil {
		return loc, perm, at, fmt.Errorf("parse latitude: %w", err)
	}
	if loc.Longitude, err = strconv.ParseFloat(fields["lon"], 64); err != nil {
		return loc, perm, at, fmt.Errorf("parse longitude: %w", err)
	}
	return loc, perm, at, nil
}
