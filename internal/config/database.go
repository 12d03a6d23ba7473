package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/schoollibrary/lendingengine/lending/sqlengine"
)

const (
	defaultMinConns          = int32(2)
	defaultMaxIdleConns      = 2
	defaultMaxConnLifetime   = time.Hour
	defaultMaxConnIdleTime   = time.Minute * 5
	defaultHealthCheckPeriod = time.Minute
	defaultConnectTimeout    = time.Second * 5
	sqliteBusyTimeoutMS      = 5000
)

// ErrOpenDatabaseFailed wraps every failure to open or reach the database.
var ErrOpenDatabaseFailed = errors.New("opening the database failed")

// OpenStore opens the database handle for the configured driver and creates a store on it.
// The returned close function releases the handle.
func OpenStore(ctx context.Context, cfg Config, options ...sqlengine.Option) (*sqlengine.Store, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	switch cfg.Driver {
	case DriverPGX:
		pool, err := openPGXPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}

		store, err := sqlengine.NewStoreFromPGXPool(pool, options...)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}

		return store, pool.Close, nil

	case DriverPQ:
		db, err := openPostgresSQLDB(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}

		store, err := sqlengine.NewStoreFromSQLDB(db, options...)

		return withCloser(store, err, db.Close)

	case DriverSQLX:
		db, err := openPostgresSQLX(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}

		store, err := sqlengine.NewStoreFromSQLX(db, options...)

		return withCloser(store, err, db.Close)

	default:
		db, err := OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}

		store, err := sqlengine.NewStoreFromSQLite(db, options...)

		return withCloser(store, err, db.Close)
	}
}

func withCloser(store *sqlengine.Store, err error, closeFn func() error) (*sqlengine.Store, func(), error) {
	release := func() { _ = closeFn() }

	if err != nil {
		release()
		return nil, nil, err
	}

	return store, release, nil
}

func openPGXPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Join(ErrOpenDatabaseFailed, err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns) //nolint:gosec // validated positive
	poolConfig.MinConns = min(defaultMinConns, poolConfig.MaxConns)
	poolConfig.MaxConnLifetime = defaultMaxConnLifetime
	poolConfig.MaxConnIdleTime = defaultMaxConnIdleTime
	poolConfig.HealthCheckPeriod = defaultHealthCheckPeriod
	poolConfig.ConnConfig.ConnectTimeout = defaultConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Join(ErrOpenDatabaseFailed, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Join(ErrOpenDatabaseFailed, err)
	}

	return pool, nil
}

func openPostgresSQLDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, errors.Join(ErrOpenDatabaseFailed, err)
	}

	configurePool(db, cfg.MaxConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Join(ErrOpenDatabaseFailed, err)
	}

	return db, nil
}

func openPostgresSQLX(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, errors.Join(ErrOpenDatabaseFailed, err)
	}

	configurePool(db.DB, cfg.MaxConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Join(ErrOpenDatabaseFailed, err)
	}

	return db, nil
}

func configurePool(db *sql.DB, maxConns int) {
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(min(defaultMaxIdleConns, maxConns))
	db.SetConnMaxLifetime(defaultMaxConnLifetime)
	db.SetConnMaxIdleTime(defaultMaxConnIdleTime)
}

// OpenSQLite opens a SQLite database file with the pragmas the store relies on.
// The handle is limited to one connection because SQLite serializes writers anyway.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, errors.Join(ErrOpenDatabaseFailed, err)
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Join(ErrOpenDatabaseFailed, err)
	}

	return db, nil
}

// SQLiteDSN turns a file path into a modernc.org/sqlite DSN. Values that already are
// a file: URI are returned unchanged.
func SQLiteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}

	query := url.Values{}
	query.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", sqliteBusyTimeoutMS))
	query.Add("_pragma", "foreign_keys(1)")
	query.Add("_pragma", "journal_mode(WAL)")
	query.Set("_time_format", "sqlite")

	return "file:" + path + "?" + query.Encode()
}
