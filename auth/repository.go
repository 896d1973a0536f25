package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

var (
	// ErrUserExists is returned when the username is already taken.
	ErrUserExists = errors.New("username already taken")
	// ErrUserNotFound is returned when no account matches the lookup.
	ErrUserNotFound = errors.New("user not found")
)

// User is a registered account. The password hash never leaves this package.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Language  string    `json:"language,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	passwordHash string
}

// UserStore is the durable collaborator behind the identity gate.
type UserStore interface {
	Create(ctx context.Context, username, passwordHash, language string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
}

// Repository implements UserStore on postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a user repository sharing the passed in pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new account row.
func (r *Repository) Create(ctx context.Context, username, passwordHash, language string) (*User, error) {
	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		Language:     language,
		CreatedAt:    time.Now().UTC(),
		passwordHash: passwordHash,
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, language, created_at) VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Username, user.passwordHash, user.Language, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, errors.Wrap(err, "user insert failed")
	}
	return user, nil
}

// FindByUsername fetches the account with the given username.
func (r *Repository) FindByUsername(ctx context.Context, username string) (*User, error) {
	user := &User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, language, created_at FROM users WHERE username = $1`, username).
		Scan(&user.ID, &user.Username, &user.passwordHash, &user.Language, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "user fetch failed")
	}
	return user, nil
}

// isUniqueViolation checks whether err is a postgres unique violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
