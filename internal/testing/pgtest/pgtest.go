// Package pgtest connects tests to a real PostgreSQL when PG_DSN is set.
package pgtest

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-accounts/internal/platform/db"
)

// Pool opens a migrated pool on PG_DSN and closes it on cleanup. The test is
// skipped when PG_DSN is unset.
func Pool(t testing.TB) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.New(ctx, dsn, 20)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

// Email returns an address no other run has registered.
func Email() string {
	return "it-" + uuid.NewString() + "@accounts.test"
}
