// Package testdb opens throwaway databases for tests.
package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// New returns a bun.DB for a single test. By default it is an in-memory
// SQLite database with foreign keys enforced. When TEST_PG_DSN is set the
// test runs against that Postgres database instead, in a fresh schema.
// The second return value is a table prefix unique to the test.
func New(t testing.TB) (*bun.DB, string) {
	t.Helper()
	ctx := context.Background()

	if dsn := os.Getenv("TEST_PG_DSN"); dsn != "" {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		db := bun.NewDB(sqldb, pgdialect.New())
		t.Cleanup(func() { _ = db.Close() })
		prefix := fmt.Sprintf("t%s_", uuid.NewString()[:8])
		t.Cleanup(func() {
			for _, name := range []string{"user_roles", "user_permissions", "role_permissions", "roles", "permissions"} {
				_, _ = db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS "%s%s" CASCADE`, prefix, name))
			}
		})
		return db, prefix
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// every connection to :memory: is its own database
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	return db, "authz_"
}
