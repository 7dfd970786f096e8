package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Engine issues, validates and consumes tokens. It holds no state between
// calls; everything lives in the Store.
type Engine struct {
	store    Store
	ttls     map[Kind]time.Duration
	now      func() time.Time
	generate func() (string, error)
	logger   *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithTTL overrides the lifetime of kind.
func WithTTL(kind Kind, ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttls[kind] = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithGenerator replaces GenerateValue.
func WithGenerator(fn func() (string, error)) Option {
	return func(e *Engine) {
		if fn != nil {
			e.generate = fn
		}
	}
}

// WithLogger sets the logger used for issuance diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine constructs an Engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		ttls: map[Kind]time.Duration{
			KindEmailVerification: DefaultVerificationTTL,
			KindPasswordReset:     DefaultResetTTL,
		},
		now:      time.Now,
		generate: GenerateValue,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TTL returns the lifetime configured for kind.
func (e *Engine) TTL(kind Kind) time.Duration {
	return e.ttls[kind]
}

// IssueToken invalidates every active token of kind owned by userID and
// creates a fresh one. Both steps run under the store's issue lock, so at most
// one token per (userID, kind) is active once it returns.
func (e *Engine) IssueToken(ctx context.Context, userID int64, kind Kind) (*Token, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	value, err := e.generate()
	if err != nil {
		return nil, fmt.Errorf("tokens: generate value: %w", err)
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("tokens: generate id: %w", err)
	}

	now := e.now().UTC()
	token := &Token{
		ID:        id,
		UserID:    userID,
		Kind:      kind,
		Digest:    Digest(value),
		CreatedAt: now,
	}

	var invalidated int64
	err = e.store.WithIssueLock(ctx, userID, kind, func(ctx context.Context, tx IssueTx) error {
		n, err := tx.InvalidateAllActive(ctx, userID, kind, now)
		if err != nil {
			return err
		}
		invalidated = n
		return tx.Create(ctx, token)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: issue %s: %w", ErrStoreUnavailable, kind, err)
	}

	if invalidated > 0 {
		e.logger.Debug("invalidated previous tokens",
			slog.Int64("user_id", userID),
			slog.String("kind", string(kind)),
			slog.Int64("count", invalidated))
	}

	token.Value = value
	return token, nil
}

// ValidateAndConsume resolves value to a token of kind and consumes it.
// Failures are ErrTokenNotFound, ErrTokenAlreadyUsed (checked before expiry),
// ErrTokenExpired, or a wrapped ErrStoreUnavailable. When concurrent callers
// race on the same token exactly one succeeds; the rest get ErrTokenAlreadyUsed.
func (e *Engine) ValidateAndConsume(ctx context.Context, value string, kind Kind) (*Token, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if value == "" {
		return nil, ErrTokenNotFound
	}

	token, err := e.store.FindByDigest(ctx, Digest(value), kind)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: find: %w", ErrStoreUnavailable, err)
	}

	now := e.now().UTC()
	switch token.StateAt(e.ttls[kind], now) {
	case StateConsumed:
		return nil, ErrTokenAlreadyUsed
	case StateExpired:
		return nil, ErrTokenExpired
	}

	ok, err := e.store.MarkUsedIfUnused(ctx, token.ID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: consume: %w", ErrStoreUnavailable, err)
	}
	if !ok {
		return nil, ErrTokenAlreadyUsed
	}

	token.Used = true
	token.UsedAt = &now
	return token, nil
}

// IsExpired reports whether token has outlived its kind's TTL at the engine's
// current time. It has no side effects.
func (e *Engine) IsExpired(token *Token) bool {
	return token.Expired(e.ttls[token.Kind], e.now())
}

// State reports the lifecycle state of token at the engine's current time.
func (e *Engine) State(token *Token) State {
	return token.StateAt(e.ttls[token.Kind], e.now())
}
