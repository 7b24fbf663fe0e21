package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"PoolIndexer/internal/persistence"

	"github.com/rs/zerolog"
)

// TestPostgresDSN returns the Postgres DSN for integration tests, or ""
// when none is configured.
func TestPostgresDSN() string {
	return os.Getenv("TEST_POSTGRES_DSN")
}

// TestNATSURL returns the NATS URL for integration tests.
func TestNATSURL() string {
	if url := os.Getenv("TEST_NATS_URL"); url != "" {
		return url
	}
	return "nats://localhost:4223"
}

// SetupSQLiteStore opens a migrated SQLite database in a temp dir.
func SetupSQLiteStore(t *testing.T) (*persistence.SQLStore, *sql.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "poolindexer.db")
	return setup(t, persistence.DialectSQLite, "file:"+path+"?_foreign_keys=on")
}

// SetupPostgresStore opens and migrates the integration Postgres, skipping
// the test when TEST_POSTGRES_DSN is unset or unreachable. Tables are
// truncated on cleanup.
func SetupPostgresStore(t *testing.T) (*persistence.SQLStore, *sql.DB) {
	t.Helper()

	dsn := TestPostgresDSN()
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	store, db := setup(t, persistence.DialectPostgres, dsn)
	t.Cleanup(func() {
		db.Exec("TRUNCATE entities, event_log")
	})
	return store, db
}

func setup(t *testing.T, dialect persistence.Dialect, dsn string) (*persistence.SQLStore, *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := persistence.Open(ctx, dialect, dsn)
	if err != nil {
		if dialect == persistence.DialectPostgres {
			t.Skipf("test postgres not available: %v", err)
		}
		t.Fatalf("open %s: %v", dialect, err)
	}
	t.Cleanup(func() { db.Close() })

	m, err := persistence.NewMigrator(db, dialect, zerolog.Nop())
	if err != nil {
		t.Fatalf("migrator: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	return persistence.NewSQLStore(db, dialect, "test"), db
}

// RequireIntegration skips the test if not running integration tests.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") == "" {
		t.Skip("skipping integration test (set INTEGRATION_TEST=1 to run)")
	}
}
