// Package sqlengine provides the SQL storage engine of the lending engine.
//
// A Store persists materials, devices, loans, device loans, the waitlist, borrower sanctions,
// settings and the event journal in PostgreSQL or SQLite. All SQL is built with goqu and sent
// as prepared statements through one of the adapters for pgxpool.Pool, sql.DB or sqlx.DB.
//
// Every multi-step change runs inside Store.RunInTx. Mutable rows carry a version column and
// are written with compare-and-set updates:
//
//	UPDATE materials SET copies_available = ?, version = ? WHERE id = ? AND version = ?
//
// An update that affects no rows returns lending.ErrConcurrencyConflict. Serialization
// failures and deadlocks reported by PostgreSQL as well as SQLite busy errors are joined
// with the same sentinel, so callers retry the whole unit of work on one signal.
//
// Usage:
//
//	store, err := sqlengine.NewStoreFromPGXPool(pool, sqlengine.WithLogger(logger))
//	if err != nil {
//		// handle error
//	}
//
//	err = store.RunInTx(ctx, "reserve", func(ctx context.Context, tx *sqlengine.Tx) error {
//		material, err := tx.Material(ctx, materialID)
//		...
//		_, err = tx.SaveMaterial(ctx, material, updated)
//		return err
//	})
package sqlengine
