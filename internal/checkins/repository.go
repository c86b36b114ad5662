// Package checkins keeps the record of successful check-ins.
package checkins

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sampleday/backend/internal/checkin"
	"github.com/sampleday/backend/internal/models"
)

// Repository handles check-in persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a check-in repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record stores a check-in. A user checks in to an event at most once;
// repeated records are ignored and report inserted=false.
func (r *Repository) Record(ctx context.Context, rec checkin.Record) (inserted bool, err error) {
	var lat, lon *float64
	if rec.Location != nil {
		lat, lon = &rec.Location.Latitude, &rec.Location.Longitude
	}
	const q = `INSERT INTO checkins (event_id, user_id, checked_in_at, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id, user_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, q, rec.EventID, rec.UserID, rec.CheckedInAt, lat, lon)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CheckedInAt returns when the user checked in to the event, or nil if they have not.
func (r *Repository) CheckedInAt(ctx context.Context, eventID, userID uuid.UUID) (*time.Time, error) {
	var at time.Time
	err := r.pool.QueryRow(ctx, `SELECT checked_in_at FROM checkins WHERE event_id = $1 AND user_id = $2`, eventID, userID).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &at, nil
}

// ListByEvent returns the event's check-ins, earliest first.
func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.CheckIn, error) {
	const q = `SELECT id, event_id, user_id, checked_in_at, latitude, longitude, created_at
		FROM checkins WHERE event_id = $1 ORDER BY checked_in_at ASC`
	rows, err := r.pool.Query(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.CheckIn{}
	for rows.Next() {
		var ci models.CheckIn
		if err := rows.Scan(&ci.ID, &ci.EventID, &ci.UserID, &ci.CheckedInAt, &ci.Latitude, &ci.Longitude, &ci.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, ci)
	}
	return list, rows.Err()
}

// CountByEvent returns how many users checked in to the event.
func (r *Repository) CountByEvent(ctx context.Context, eventID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM checkins WHERE event_id = $1`, eventID).Scan(&n)
	return n, err
}

// CountByUser returns how many events the user checked in to.
func (r *Repository) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM checkins WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}
