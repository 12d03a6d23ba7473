package sqlengine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine/internal/adapters"
)

// Dialect selects the SQL flavor the store speaks.
type Dialect string

// Supported dialects.
const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

var (
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")
	ErrUnsupportedDialect    = errors.New("unsupported sql dialect")
	ErrBuildingQueryFailed   = errors.New("building the sql query failed")
	ErrQueryFailed           = errors.New("database query failed")
	ErrScanFailed            = errors.New("scanning a database row failed")
	ErrExecFailed            = errors.New("database statement failed")
	ErrRowsAffectedFailed    = errors.New("reading rows affected failed")
	ErrBeginTxFailed         = errors.New("starting the transaction failed")
	ErrCommitFailed          = errors.New("committing the transaction failed")
	ErrEncodingFailed        = errors.New("encoding a json column failed")
	ErrDecodingFailed        = errors.New("decoding a json column failed")
)

// Store is the SQL storage engine. It is safe for concurrent use; each RunInTx call
// gets its own transaction.
type Store struct {
	db               adapters.DBAdapter
	dialect          Dialect
	builder          goqu.DialectWrapper
	logger           lending.Logger
	contextualLogger lending.ContextualLogger
	metricsCollector lending.MetricsCollector
	tracingCollector lending.TracingCollector
}

// NewStoreFromPGXPool creates a Postgres store on a pgx pool.
func NewStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewPGXAdapter(db), DialectPostgres, options)
}

// NewStoreFromSQLDB creates a Postgres store on a sql.DB, typically opened with lib/pq.
func NewStoreFromSQLDB(db *sql.DB, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLAdapter(db), DialectPostgres, options)
}

// NewStoreFromSQLX creates a Postgres store on a sqlx.DB.
func NewStoreFromSQLX(db *sqlx.DB, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLXAdapter(db), DialectPostgres, options)
}

// NewStoreFromSQLite creates a SQLite store on a sql.DB opened with modernc.org/sqlite.
// SQLite allows a single writer, so the handle should be limited to one open connection.
func NewStoreFromSQLite(db *sql.DB, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLAdapter(db), DialectSQLite, options)
}

func newStore(db adapters.DBAdapter, dialect Dialect, options []Option) (*Store, error) {
	s := &Store{db: db, dialect: dialect}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	s.builder = goqu.Dialect(string(s.dialect))

	return s, nil
}

// Dialect returns the SQL dialect of the store.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// RunInTx runs fn inside one database transaction. The transaction commits when fn returns nil
// and rolls back on any error or panic. Errors returned by fn are passed through unchanged.
func (s *Store) RunInTx(ctx context.Context, operation string, fn func(ctx context.Context, tx *Tx) error) (err error) {
	observer, ctx := s.startTxObservation(ctx, operation)

	dbTx, beginErr := s.db.BeginTx(ctx)
	if beginErr != nil {
		s.logError(ctx, logMsgBeginTxFailed, beginErr, logAttrOperation, operation)
		err = markTransient(errors.Join(ErrBeginTxFailed, beginErr))
		observer.finish(err)

		return err
	}

	committed := false
	defer func() {
		if committed {
			return
		}

		// the caller's context may already be done; the rollback must still reach the server
		if rollbackErr := dbTx.Rollback(context.WithoutCancel(ctx)); rollbackErr != nil && !isTxDone(rollbackErr) {
			s.logWarn(ctx, logMsgRollbackFailed, logAttrError, rollbackErr.Error(), logAttrOperation, operation)
		}

		if p := recover(); p != nil {
			observer.finish(errPanic)
			panic(p)
		}

		observer.finish(err)
	}()

	if err = fn(ctx, &Tx{store: s, db: dbTx}); err != nil {
		return err
	}

	if commitErr := dbTx.Commit(ctx); commitErr != nil {
		s.logError(ctx, logMsgCommitFailed, commitErr, logAttrOperation, operation)
		err = markTransient(errors.Join(ErrCommitFailed, commitErr))

		return err
	}

	committed = true
	observer.finish(nil)

	return nil
}

var errPanic = errors.New("panic inside transaction")

func isTxDone(err error) bool {
	return errors.Is(err, sql.ErrTxDone) || errors.Is(err, pgx.ErrTxClosed)
}

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

// query runs a select and hands every row to scanRow. Rows are always closed before returning,
// so the querier is free for the next statement.
func (s *Store) query(
	ctx context.Context,
	q adapters.Querier,
	action string,
	stmt sqlBuilder,
	scanRow func(rows adapters.DBRows) error,
) error {

	sqlQuery, args, buildErr := stmt.ToSQL()
	if buildErr != nil {
		s.logError(ctx, logMsgBuildQueryFailed, buildErr, logAttrAction, action)
		return errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	start := time.Now()
	rows, queryErr := q.Query(ctx, sqlQuery, args...)
	if queryErr != nil {
		s.observeStatement(ctx, sqlQuery, action, time.Since(start), queryErr)
		return markTransient(errors.Join(ErrQueryFailed, queryErr))
	}
	defer s.closeRows(ctx, rows)

	for rows.Next() {
		if scanErr := scanRow(rows); scanErr != nil {
			s.logError(ctx, logMsgScanRowFailed, scanErr, logAttrAction, action)
			return errors.Join(ErrScanFailed, scanErr)
		}
	}

	rowsErr := rows.Err()
	s.observeStatement(ctx, sqlQuery, action, time.Since(start), rowsErr)

	if rowsErr != nil {
		return markTransient(errors.Join(ErrQueryFailed, rowsErr))
	}

	return nil
}

// exec runs a write statement and returns the number of affected rows.
func (s *Store) exec(ctx context.Context, q adapters.Querier, action string, stmt sqlBuilder) (int64, error) {
	sqlQuery, args, buildErr := stmt.ToSQL()
	if buildErr != nil {
		s.logError(ctx, logMsgBuildQueryFailed, buildErr, logAttrAction, action)
		return 0, errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	start := time.Now()
	result, execErr := q.Exec(ctx, sqlQuery, args...)
	s.observeStatement(ctx, sqlQuery, action, time.Since(start), execErr)

	if execErr != nil {
		return 0, markTransient(errors.Join(ErrExecFailed, execErr))
	}

	rowsAffected, rowsAffectedErr := result.RowsAffected()
	if rowsAffectedErr != nil {
		s.logError(ctx, logMsgRowsAffectedFailed, rowsAffectedErr, logAttrAction, action)
		return 0, errors.Join(ErrRowsAffectedFailed, rowsAffectedErr)
	}

	return rowsAffected, nil
}

// execCAS runs a conditional update or delete that must hit exactly one row.
func (s *Store) execCAS(ctx context.Context, q adapters.Querier, action, table string, stmt sqlBuilder) error {
	rowsAffected, err := s.exec(ctx, q, action, stmt)
	if err != nil {
		return err
	}

	if rowsAffected != 1 {
		s.logOperation(ctx, logMsgConcurrencyConflict, logAttrAction, action, logAttrTable, table, logAttrRowsAffected, rowsAffected)
		s.recordConcurrencyConflict(ctx, table)

		return lending.ErrConcurrencyConflict
	}

	return nil
}

// collect returns a row callback that appends every scanned row to into.
func collect[T any](scan func(rows adapters.DBRows) (T, error), into *[]T) func(rows adapters.DBRows) error {
	return func(rows adapters.DBRows) error {
		item, err := scan(rows)
		if err != nil {
			return err
		}

		*into = append(*into, item)

		return nil
	}
}

func (s *Store) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		s.logWarn(ctx, logMsgCloseRowsFailed, logAttrError, closeErr.Error())
	}
}

// Tx is the scoped handle of one transaction. It is only valid inside the RunInTx callback.
type Tx struct {
	store *Store
	db    adapters.DBTx
}

func (tx *Tx) query(ctx context.Context, action string, stmt sqlBuilder, scanRow func(rows adapters.DBRows) error) error {
	return tx.store.query(ctx, tx.db, action, stmt, scanRow)
}

func (tx *Tx) exec(ctx context.Context, action string, stmt sqlBuilder) (int64, error) {
	return tx.store.exec(ctx, tx.db, action, stmt)
}

func (tx *Tx) execCAS(ctx context.Context, action, table string, stmt sqlBuilder) error {
	return tx.store.execCAS(ctx, tx.db, action, table, stmt)
}

func (tx *Tx) builder() goqu.DialectWrapper {
	return tx.store.builder
}
