package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sampleday/backend/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

const userColumns = `id, email, password_hash, display_name, role, COALESCE(avatar_key,''), created_at, updated_at`

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Password, &u.DisplayName, &u.Role, &u.AvatarKey, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail returns a user by email (case-insensitive).
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
}

// Create inserts a new user. Returns ErrEmailTaken on a duplicate email.
func (r *Repository) Create(ctx context.Context, email, passwordHash, displayName string, role models.Role) (*models.User, error) {
	const q = `INSERT INTO users (email, password_hash, display_name, role)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, q, strings.ToLower(email), passwordHash, displayName, string(role)))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, ErrEmailTaken
	}
	return u, err
}

// UpdateProfile changes the display name and avatar key; empty values keep the current ones.
func (r *Repository) UpdateProfile(ctx context.Context, id uuid.UUID, displayName, avatarKey string) (*models.User, error) {
	const q = `UPDATE users SET display_name = COALESCE(NULLIF($1,''), display_name),
		avatar_key = COALESCE(NULLIF($2,''), avatar_key), updated_at = NOW()
		WHERE id = $3 RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, q, displayName, avatarKey, id))
}
