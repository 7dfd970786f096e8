package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-accounts/internal/auth"
	"github.com/odyssey-erp/odyssey-accounts/internal/testing/pgtest"
	"github.com/odyssey-erp/odyssey-accounts/internal/users"
)

func TestPGSessionRepository(t *testing.T) {
	pool := pgtest.Pool(t)
	ctx := context.Background()
	user, err := users.NewRepository(pool).Create(ctx, pgtest.Email(), "hash")
	require.NoError(t, err)

	repo := auth.NewSessionRepository(pool)
	first, second := uuid.NewString(), uuid.NewString()
	expires := time.Now().Add(time.Hour)
	require.NoError(t, repo.CreateSession(ctx, auth.SessionRecord{ID: first, UserID: user.ID, ExpiresAt: expires, IP: "10.0.0.1"}))
	require.NoError(t, repo.CreateSession(ctx, auth.SessionRecord{ID: second, UserID: user.ID, ExpiresAt: expires}))

	require.NoError(t, repo.DeleteSession(ctx, first))
	require.NoError(t, repo.DeleteSession(ctx, first), "deleting twice is not an error")

	ids, err := repo.DeleteUserSessions(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{second}, ids)

	ids, err = repo.DeleteUserSessions(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
