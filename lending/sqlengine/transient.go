package sqlengine

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/schoollibrary/lendingengine/lending"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// markTransient joins err with lending.ErrConcurrencyConflict when the database reports a
// condition that goes away when the transaction is run again.
func markTransient(err error) error {
	if isTransient(err) {
		return errors.Join(lending.ErrConcurrencyConflict, err)
	}

	return err
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == sqlStateSerializationFailure || string(pqErr.Code) == sqlStateDeadlockDetected
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		primary := sqliteErr.Code() & 0xff
		return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
	}

	return false
}

// errorType labels an error for metrics.
func errorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, lending.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case lending.IsCancellation(err):
		return "canceled"
	case errors.Is(err, ErrBuildingQueryFailed):
		return "build_query"
	case errors.Is(err, ErrScanFailed), errors.Is(err, ErrDecodingFailed):
		return "scan"
	case errors.Is(err, ErrBeginTxFailed), errors.Is(err, ErrCommitFailed):
		return "transaction"
	case lending.KindOf(err) != lending.KindInternal:
		return "business_rule"
	default:
		return "database"
	}
}
