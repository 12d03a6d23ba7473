// Package adapters provide database adapter implementations for the lending store.
//
// The adapters support pgxpool.Pool, sql.DB (lib/pq for Postgres, modernc.org/sqlite for SQLite)
// and sqlx.DB behind a common DBAdapter interface. Every adapter can open a transaction;
// the transaction handle offers the same query and exec methods plus commit and rollback.
package adapters
