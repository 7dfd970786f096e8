package users

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-accounts/internal/platform/db"
)

// Repository is the credential store consumed by the auth flows.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, email, passwordHash string) (*User, error)
	// The setters below write a single column so that concurrent flows on
	// the same user never overwrite each other's changes.
	MarkEmailVerified(ctx context.Context, id int64) error
	SetPasswordHash(ctx context.Context, id int64, passwordHash string) error
	SetActive(ctx context.Context, id int64, active bool) error
}

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectUser = `SELECT id, email, password_hash, is_email_verified, is_active, created_at, updated_at FROM users`

// FindByEmail fetches a user by normalized email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanOne(ctx, selectUser+` WHERE email = $1`, NormalizeEmail(email))
}

// FindByID fetches a user by primary key.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	return r.scanOne(ctx, selectUser+` WHERE id = $1`, id)
}

// Create inserts an unverified user. The unique index on email is the
// serialization point for concurrent registrations.
func (r *PGRepository) Create(ctx context.Context, email, passwordHash string) (*User, error) {
	now := time.Now().UTC()
	user := &User{
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, is_email_verified, is_active, created_at, updated_at)
		VALUES ($1, $2, FALSE, TRUE, $3, $3)
		RETURNING id`, user.Email, user.PasswordHash, now).Scan(&user.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return user, nil
}

// MarkEmailVerified flags the email of user id as verified.
func (r *PGRepository) MarkEmailVerified(ctx context.Context, id int64) error {
	return r.update(ctx, `UPDATE users SET is_email_verified = TRUE, updated_at = $2 WHERE id = $1`, id)
}

// SetPasswordHash replaces the password credential of user id.
func (r *PGRepository) SetPasswordHash(ctx context.Context, id int64, passwordHash string) error {
	return r.update(ctx, `UPDATE users SET password_hash = $3, updated_at = $2 WHERE id = $1`, id, passwordHash)
}

// SetActive enables or disables user id.
func (r *PGRepository) SetActive(ctx context.Context, id int64, active bool) error {
	return r.update(ctx, `UPDATE users SET is_active = $3, updated_at = $2 WHERE id = $1`, id, active)
}

func (r *PGRepository) update(ctx context.Context, query string, id int64, args ...any) error {
	cmd, err := r.pool.Exec(ctx, query, append([]any{id, time.Now().UTC()}, args...)...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) scanOne(ctx context.Context, query string, arg any) (*User, error) {
	var user User
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.EmailVerified,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

var _ Repository = (*PGRepository)(nil)
