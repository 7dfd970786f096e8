package users

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps users in process memory. It backs tests and local
// runs without Postgres.
type MemoryRepository struct {
	mu      sync.Mutex
	nextID  int64
	byID    map[int64]*User
	byEmail map[string]int64
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		nextID:  1,
		byID:    make(map[int64]*User),
		byEmail: make(map[string]int64),
	}
}

// FindByEmail returns a copy of the user registered under email.
func (r *MemoryRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	u := *r.byID[id]
	return &u, nil
}

// FindByID returns a copy of the user with id.
func (r *MemoryRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	u := *stored
	return &u, nil
}

// Create registers a new unverified user.
func (r *MemoryRepository) Create(ctx context.Context, email, passwordHash string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email = NormalizeEmail(email)
	if _, exists := r.byEmail[email]; exists {
		return nil, ErrDuplicateEmail
	}
	now := time.Now().UTC()
	user := &User{
		ID:           r.nextID,
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.nextID++
	r.byID[user.ID] = user
	r.byEmail[email] = user.ID
	out := *user
	return &out, nil
}

// MarkEmailVerified flags the email of user id as verified.
func (r *MemoryRepository) MarkEmailVerified(ctx context.Context, id int64) error {
	return r.update(id, func(u *User) { u.EmailVerified = true })
}

// SetPasswordHash replaces the password credential of user id.
func (r *MemoryRepository) SetPasswordHash(ctx context.Context, id int64, passwordHash string) error {
	return r.update(id, func(u *User) { u.PasswordHash = passwordHash })
}

// SetActive enables or disables user id.
func (r *MemoryRepository) SetActive(ctx context.Context, id int64, active bool) error {
	return r.update(id, func(u *User) { u.IsActive = active })
}

func (r *MemoryRepository) update(id int64, fn func(*User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(stored)
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
