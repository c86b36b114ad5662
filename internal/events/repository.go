package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sampleday/backend/internal/models"
)

// ErrNotFound is returned when an event does not exist.
var ErrNotFound = errors.New("event not found")

// ListFilter narrows List. A nil EndsAfter lists every event.
type ListFilter struct {
	EndsAfter *time.Time
	CreatedBy *uuid.UUID
}

// Store is the event persistence used by handlers and the check-in source.
type Store interface {
	Create(ctx context.Context, e *models.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	List(ctx context.Context, f ListFilter) ([]models.Event, error)
	SetImage(ctx context.Context, id uuid.UUID, key string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

const eventColumns = `id, title, description, venue, latitude, longitude, starts_at, ends_at, check_in_code, COALESCE(image_key,''), created_by, created_at, updated_at`

// Repository handles event persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an event repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanEvent(row pgx.Row, e *models.Event) error {
	return row.Scan(&e.ID, &e.Title, &e.Description, &e.Venue, &e.Latitude, &e.Longitude, &e.StartsAt, &e.EndsAt,
		&e.CheckInCode, &e.ImageKey, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
}

// Create inserts a new event.
func (r *Repository) Create(ctx context.Context, e *models.Event) error {
	const q = `INSERT INTO events (title, description, venue, latitude, longitude, starts_at, ends_at, check_in_code, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, e.Title, e.Description, e.Venue, e.Latitude, e.Longitude, e.StartsAt, e.EndsAt, e.CheckInCode, e.CreatedBy).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// GetByID returns an event by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var e models.Event
	err := scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id), &e)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns events ordered by start time.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]models.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE ($1::timestamptz IS NULL OR ends_at >= $1)
		AND ($2::uuid IS NULL OR created_by = $2) ORDER BY starts_at ASC`
	rows, err := r.pool.Query(ctx, q, f.EndsAfter, f.CreatedBy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Event
	for rows.Next() {
		var e models.Event
		if err := scanEvent(rows, &e); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// SetImage stores the S3 key of the event image.
func (r *Repository) SetImage(ctx context.Context, id uuid.UUID, key string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE events SET image_key = $1, updated_at = NOW() WHERE id = $2`, key, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an event by ID. Check-ins cascade.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
