package auth

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRecord describes a login session kept for auditing and revocation.
type SessionRecord struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
	IP        string
	UserAgent string
}

// SessionRepository persists login session records.
type SessionRepository interface {
	CreateSession(ctx context.Context, rec SessionRecord) error
	DeleteSession(ctx context.Context, id string) error
	// DeleteUserSessions removes every record of userID and returns their ids.
	DeleteUserSessions(ctx context.Context, userID int64) ([]string, error)
}

// PGSessionRepository implements SessionRepository using PostgreSQL.
type PGSessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository constructs a PostgreSQL session repository.
func NewSessionRepository(pool *pgxpool.Pool) *PGSessionRepository {
	return &PGSessionRepository{pool: pool}
}

// CreateSession persists a new login session.
func (r *PGSessionRepository) CreateSession(ctx context.Context, rec SessionRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_sessions (id, user_id, created_at, expires_at, ip, ua)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.UserID, time.Now().UTC(), rec.ExpiresAt.UTC(),
		pgtype.Text{String: rec.IP, Valid: rec.IP != ""},
		pgtype.Text{String: rec.UserAgent, Valid: rec.UserAgent != ""},
	)
	return err
}

// DeleteSession removes a session record. Missing records are not an error.
func (r *PGSessionRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_sessions WHERE id = $1`, id)
	return err
}

// DeleteUserSessions removes every session of userID.
func (r *PGSessionRepository) DeleteUserSessions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `DELETE FROM user_sessions WHERE user_id = $1 RETURNING id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MemorySessionRepository keeps session records in process memory.
type MemorySessionRepository struct {
	mu      sync.Mutex
	records map[string]SessionRecord
}

// NewMemorySessionRepository constructs an empty repository.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{records: make(map[string]SessionRecord)}
}

func (r *MemorySessionRepository) CreateSession(ctx context.Context, rec SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = rec
	return nil
}

func (r *MemorySessionRepository) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}

func (r *MemorySessionRepository) DeleteUserSessions(ctx context.Context, userID int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, rec := range r.records {
		if rec.UserID == userID {
			ids = append(ids, id)
			delete(r.records, id)
		}
	}
	return ids, nil
}

// Records returns a snapshot of the stored records.
func (r *MemorySessionRepository) Records() []SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SessionRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}

var (
	_ SessionRepository = (*PGSessionRepository)(nil)
	_ SessionRepository = (*MemorySessionRepository)(nil)
)
