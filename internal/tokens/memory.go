package tokens

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps tokens in process memory. It backs tests and local runs
// without Postgres and honours the same atomicity contract as PGStore.
type MemoryStore struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*Token
	byDigest map[string]uuid.UUID

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[uuid.UUID]*Token),
		byDigest: make(map[string]uuid.UUID),
		locks:    make(map[string]*sync.Mutex),
	}
}

// FindByDigest returns a copy of the matching token.
func (s *MemoryStore) FindByDigest(ctx context.Context, digest string, kind Kind) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byDigest[digest]
	if !ok {
		return nil, ErrTokenNotFound
	}
	t := s.byID[id]
	if t.Kind != kind {
		return nil, ErrTokenNotFound
	}
	return copyToken(t), nil
}

// MarkUsedIfUnused flips the used flag under the store mutex.
func (s *MemoryStore) MarkUsedIfUnused(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok || t.Used {
		return false, nil
	}
	t.Used = true
	t.UsedAt = &at
	return true, nil
}

// WithIssueLock serializes issuers of the same (userID, kind).
func (s *MemoryStore) WithIssueLock(ctx context.Context, userID int64, kind Kind, fn func(ctx context.Context, tx IssueTx) error) error {
	lock := s.issueLock(fmt.Sprintf("%s:%d", kind, userID))
	lock.Lock()
	defer lock.Unlock()
	return fn(ctx, memoryIssueTx{s: s})
}

// Tokens lists every token of kind owned by userID, oldest first.
func (s *MemoryStore) Tokens(userID int64, kind Kind) []Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Token
	for _, t := range s.byID {
		if t.UserID == userID && t.Kind == kind {
			out = append(out, *copyToken(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) issueLock(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

type memoryIssueTx struct {
	s *MemoryStore
}

func (tx memoryIssueTx) InvalidateAllActive(ctx context.Context, userID int64, kind Kind, at time.Time) (int64, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	var n int64
	for _, t := range tx.s.byID {
		if t.UserID == userID && t.Kind == kind && !t.Used {
			t.Used = true
			usedAt := at
			t.UsedAt = &usedAt
			n++
		}
	}
	return n, nil
}

func (tx memoryIssueTx) Create(ctx context.Context, token *Token) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if _, exists := tx.s.byDigest[token.Digest]; exists {
		return fmt.Errorf("tokens: duplicate digest")
	}
	stored := copyToken(token)
	stored.Value = ""
	tx.s.byID[stored.ID] = stored
	tx.s.byDigest[stored.Digest] = stored.ID
	return nil
}

func copyToken(t *Token) *Token {
	out := *t
	if t.UsedAt != nil {
		at := *t.UsedAt
		out.UsedAt = &at
	}
	return &out
}

var _ Store = (*MemoryStore)(nil)
