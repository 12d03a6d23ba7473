// Package config provides the runtime configuration of the lending binaries.
//
// Settings come from command line flags with environment variables as defaults:
//
//	LENDING_DB_DRIVER       pgx | pq | sqlx | sqlite (default sqlite)
//	LENDING_DB_DSN          Postgres DSN or SQLite file path (default lending.db)
//	LENDING_DB_MAX_CONNS    pool limit for Postgres drivers (default 20)
//	LENDING_SWEEP_INTERVAL  period of the maintenance sweeps (default 1h)
//	LENDING_METRICS_ADDR    listen address of the /metrics endpoint, empty disables it
//	LENDING_LOG_LEVEL       debug | info | warn | error (default info)
//	LENDING_OTEL            true routes logs, metrics and traces through OpenTelemetry
//
// The package also opens the database handle for the chosen driver and wraps it in a sqlengine.Store.
package config
