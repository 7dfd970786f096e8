package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-accounts/internal/platform/db"
)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PostgreSQL token store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// FindByDigest fetches a token by digest and kind.
func (s *PGStore) FindByDigest(ctx context.Context, digest string, kind Kind) (*Token, error) {
	var (
		t    Token
		kstr string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, kind, digest, created_at, used, used_at
		FROM account_tokens
		WHERE digest = $1 AND kind = $2`, digest, string(kind)).Scan(
		&t.ID, &t.UserID, &kstr, &t.Digest, &t.CreatedAt, &t.Used, &t.UsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	t.Kind = Kind(kstr)
	return &t, nil
}

// MarkUsedIfUnused is a conditional update; the row update is the
// serialization point between concurrent consumers.
func (s *PGStore) MarkUsedIfUnused(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	cmd, err := s.pool.Exec(ctx, `
		UPDATE account_tokens
		SET used = TRUE, used_at = $2
		WHERE id = $1 AND used = FALSE`, id, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// WithIssueLock runs fn in a read-committed transaction holding a
// transaction-scoped advisory lock on (userID, kind). Read committed lets the
// second of two racing issuers see the first one's insert once it acquires
// the lock.
func (s *PGStore) WithIssueLock(ctx context.Context, userID int64, kind Kind, fn func(ctx context.Context, tx IssueTx) error) error {
	return db.WithTxOptions(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		key := fmt.Sprintf("account_tokens:%s:%d", kind, userID)
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
		return fn(ctx, &pgIssueTx{tx: tx})
	})
}

type pgIssueTx struct {
	tx pgx.Tx
}

func (t *pgIssueTx) InvalidateAllActive(ctx context.Context, userID int64, kind Kind, at time.Time) (int64, error) {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE account_tokens
		SET used = TRUE, used_at = $3
		WHERE user_id = $1 AND kind = $2 AND used = FALSE`, userID, string(kind), at)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (t *pgIssueTx) Create(ctx context.Context, token *Token) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO account_tokens (id, user_id, kind, digest, created_at, used)
		VALUES ($1, $2, $3, $4, $5, FALSE)`,
		token.ID, token.UserID, string(token.Kind), token.Digest, token.CreatedAt)
	return err
}

var _ Store = (*PGStore)(nil)
