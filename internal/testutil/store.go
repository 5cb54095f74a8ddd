package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/ayo6706/crypto-ledger/internal/db"
	"github.com/ayo6706/crypto-ledger/internal/repository"
	"github.com/google/uuid"
)

// testSuiteLockKey is the pg_advisory_lock key shared by every package's
// Postgres tests.
const testSuiteLockKey int64 = 0x6c656467

// NewSQLiteStore returns a migrated store over a private in-memory database.
func NewSQLiteStore(t *testing.T) *repository.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:ledger-%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	conn, err := db.Connect(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.Migrate(conn, db.DriverSQLite); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return repository.NewStore(conn, repository.DialectSQLite)
}

// NewPostgresStore connects to DATABASE_URL, migrates and truncates the
// ledger tables. The test is skipped when DATABASE_URL is unset.
func NewPostgresStore(t *testing.T) *repository.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	ctx := context.Background()
	conn, err := db.Connect(ctx, db.DriverPostgres, dsn)
	if err != nil {
		t.Fatalf("Failed to connect to DB: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Package test binaries run in parallel against the same database; the
	// advisory lock lives on one pinned connection until the test ends.
	session, err := conn.Conn(ctx)
	if err != nil {
		t.Fatalf("pin lock connection: %v", err)
	}
	if _, err := session.ExecContext(ctx, "SELECT pg_advisory_lock($1)", testSuiteLockKey); err != nil {
		session.Close()
		t.Fatalf("acquire test advisory lock: %v", err)
	}
	t.Cleanup(func() {
		_, _ = session.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", testSuiteLockKey)
		session.Close()
	})

	if err := db.Migrate(conn, db.DriverPostgres); err != nil {
		t.Fatalf("failed to migrate postgres: %v", err)
	}
	stmt := "TRUNCATE TABLE transaction_history, transactions, balances, wallets, idempotency_keys"
	if _, err := conn.Exec(stmt); err != nil {
		t.Fatalf("Failed to truncate ledger tables: %v", err)
	}
	return repository.NewStore(conn, repository.DialectPostgres)
}
