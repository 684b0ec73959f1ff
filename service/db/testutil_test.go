package db

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schemaPath locates schema.sql at the repository root relative to this file.
func schemaPath(t *testing.T) string {
	t.Helper()
	_, currentFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(currentFile), "..", "..", "schema.sql")
}

// newTestStore returns a Store backed by a freshly initialized schema.
// It uses TEST_DATABASE_URL when set and otherwise starts a disposable
// Postgres container. Set SKIP_DB_TESTS to skip database tests entirely.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("SKIP_DB_TESTS") != "" {
		t.Skip("Skipping database test (SKIP_DB_TESTS is set)")
	}

	ctx := context.Background()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		if testing.Short() {
			t.Skip("Skipping container-backed database test in short mode")
		}

		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("flowledger_test"),
			tcpostgres.WithUsername("test"),
			tcpostgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			t.Skipf("Skipping database test: cannot start postgres container: %v", err)
		}
		t.Cleanup(func() {
			_ = container.Terminate(context.Background())
		})

		dbURL, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	pool, err := Connect(ctx, dbURL)
	if err != nil {
		t.Skipf("Skipping database test: %v", err)
	}
	t.Cleanup(pool.Close)

	require.NoError(t, InitSchema(ctx, pool, schemaPath(t)))

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE raw_transfers;
		UPDATE net_flows SET cumulative_in = '0', cumulative_out = '0', net_flow = '0', last_updated = 0;`)
	require.NoError(t, err)

	return NewStore(pool, nil)
}
