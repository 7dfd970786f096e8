package tokens

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists token records.
type Store interface {
	// FindByDigest returns ErrTokenNotFound when no token of kind has digest.
	FindByDigest(ctx context.Context, digest string, kind Kind) (*Token, error)
	// MarkUsedIfUnused flips used to true only if it is still false and
	// reports whether this call performed the flip.
	MarkUsedIfUnused(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// WithIssueLock runs fn while holding exclusive issuance rights for
	// (userID, kind). Writes made through tx commit together.
	WithIssueLock(ctx context.Context, userID int64, kind Kind, fn func(ctx context.Context, tx IssueTx) error) error
}

// IssueTx exposes the writes performed while issuing a token.
type IssueTx interface {
	// InvalidateAllActive marks every unused token of kind owned by userID as used.
	InvalidateAllActive(ctx context.Context, userID int64, kind Kind, at time.Time) (int64, error)
	Create(ctx context.Context, token *Token) error
}
