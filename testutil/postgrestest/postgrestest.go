// Package postgrestest creates stores on a real PostgreSQL database for tests.
//
// Tests are skipped unless LENDING_TEST_POSTGRES_DSN is set. ADAPTER_TYPE picks the
// database handle: pgx.pool (default), sql.db or sqlx.db.
package postgrestest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/schoollibrary/lendingengine/internal/config"
	"github.com/schoollibrary/lendingengine/lending/sqlengine"
)

// Environment variables read by NewStore.
const (
	EnvDSN         = "LENDING_TEST_POSTGRES_DSN"
	EnvAdapterType = "ADAPTER_TYPE"
)

// Adapter types.
const (
	TypePGXPool = "pgx.pool"
	TypeSQLDB   = "sql.db"
	TypeSQLXDB  = "sqlx.db"
)

const truncateAll = `TRUNCATE materials, devices, loans, device_loans, waitlist_entries,
	borrower_status, blacklist_log, settings, lending_events RESTART IDENTITY`

// NewStore creates a migrated store on an emptied database and closes it when the test ends.
// Tests using it share one database and must not run in parallel.
func NewStore(t testing.TB, options ...sqlengine.Option) *sqlengine.Store {
	t.Helper()

	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skipf("%s is not set", EnvDSN)
	}

	cfg := config.Config{
		Driver:        driverFor(os.Getenv(EnvAdapterType)),
		DSN:           dsn,
		MaxConns:      20,
		SweepInterval: time.Minute,
		LogLevel:      "info",
	}

	ctx := context.Background()

	store, closeStore, err := config.OpenStore(ctx, cfg, options...)
	require.NoError(t, err, "error connecting to postgres in test setup")
	t.Cleanup(closeStore)

	require.NoError(t, store.Migrate(ctx), "error migrating schema")
	truncate(ctx, t, dsn)
	require.NoError(t, store.Migrate(ctx), "error seeding settings")

	return store
}

func truncate(ctx context.Context, t testing.TB, dsn string) {
	t.Helper()

	conn, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err, "error connecting for cleanup")
	defer func() { _ = conn.Close(ctx) }()

	_, err = conn.Exec(ctx, truncateAll)
	require.NoError(t, err, "error truncating tables")
}

func driverFor(adapterType string) config.Driver {
	switch strings.ToLower(adapterType) {
	case TypePGXPool, "":
		return config.DriverPGX
	case TypeSQLDB:
		return config.DriverPQ
	case TypeSQLXDB:
		return config.DriverSQLX
	default:
		panic(fmt.Sprintf("unsupported adapter type from env: %s", adapterType))
	}
}
