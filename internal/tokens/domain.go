// Package tokens implements the lifecycle of single-use, time-bounded account
// tokens: issuance with invalidation of earlier tokens, lazy expiry, and
// atomic consumption.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes what a token proves and how long it lives.
type Kind string

const (
	// KindEmailVerification proves ownership of the registered address.
	KindEmailVerification Kind = "email_verification"
	// KindPasswordReset authorizes replacing the password.
	KindPasswordReset Kind = "password_reset"
)

// Default lifetimes per kind.
const (
	DefaultVerificationTTL = 24 * time.Hour
	DefaultResetTTL        = time.Hour
)

var (
	// ErrTokenNotFound indicates no token of the requested kind has that value.
	ErrTokenNotFound = errors.New("tokens: not found")
	// ErrTokenAlreadyUsed indicates the token was consumed or invalidated.
	ErrTokenAlreadyUsed = errors.New("tokens: already used")
	// ErrTokenExpired indicates the token outlived its kind's TTL.
	ErrTokenExpired = errors.New("tokens: expired")
	// ErrStoreUnavailable wraps any failure of the backing store.
	ErrStoreUnavailable = errors.New("tokens: store unavailable")
	// ErrUnknownKind indicates a kind without a configured lifetime.
	ErrUnknownKind = errors.New("tokens: unknown kind")
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindEmailVerification || k == KindPasswordReset
}

// State is the position of a token in its lifecycle.
type State int

const (
	// StateActive tokens are unused and unexpired.
	StateActive State = iota
	// StateExpired tokens are unused but past their TTL. Terminal.
	StateExpired
	// StateConsumed tokens were used or invalidated. Terminal.
	StateConsumed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateExpired:
		return "EXPIRED"
	case StateConsumed:
		return "CONSUMED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Token is a persisted token record. Value is only populated on the token
// returned by issuance; the store keeps Digest.
type Token struct {
	ID        uuid.UUID
	UserID    int64
	Kind      Kind
	Digest    string
	Value     string
	CreatedAt time.Time
	Used      bool
	UsedAt    *time.Time
}

// Expired reports whether more than ttl has elapsed between creation and now.
func (t *Token) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(t.CreatedAt) > ttl
}

// StateAt derives the lifecycle state. Used takes precedence over expiry.
func (t *Token) StateAt(ttl time.Duration, now time.Time) State {
	switch {
	case t.Used:
		return StateConsumed
	case t.Expired(ttl, now):
		return StateExpired
	default:
		return StateActive
	}
}
