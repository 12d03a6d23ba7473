// Package sqlitetest creates migrated SQLite stores on temporary files for tests.
package sqlitetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/schoollibrary/lendingengine/internal/config"
	"github.com/schoollibrary/lendingengine/lending/sqlengine"
)

// NewStore creates a migrated store on a fresh database file below t.TempDir().
// The handle is closed when the test ends.
func NewStore(t testing.TB, options ...sqlengine.Option) *sqlengine.Store {
	t.Helper()

	store, _ := NewStoreWithDB(t, options...)

	return store
}

// NewStoreWithDB is NewStore that also hands out the raw handle, for tests that need to
// look behind the store or break the schema on purpose.
func NewStoreWithDB(t testing.TB, options ...sqlengine.Option) (*sqlengine.Store, *sql.DB) {
	t.Helper()

	ctx := context.Background()

	db, err := config.OpenSQLite(ctx, filepath.Join(t.TempDir(), "lending.db"))
	require.NoError(t, err, "error opening sqlite in test setup")
	t.Cleanup(func() { _ = db.Close() })

	store, err := sqlengine.NewStoreFromSQLite(db, options...)
	require.NoError(t, err, "error creating store")
	require.NoError(t, store.Migrate(ctx), "error migrating schema")

	return store, db
}
