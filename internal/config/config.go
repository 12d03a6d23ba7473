package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Driver selects the database handle the store runs on.
type Driver string

// Supported drivers.
const (
	DriverPGX    Driver = "pgx"
	DriverPQ     Driver = "pq"
	DriverSQLX   Driver = "sqlx"
	DriverSQLite Driver = "sqlite"
)

// Environment variables read as flag defaults.
const (
	EnvDriver        = "LENDING_DB_DRIVER"
	EnvDSN           = "LENDING_DB_DSN"
	EnvMaxConns      = "LENDING_DB_MAX_CONNS"
	EnvSweepInterval = "LENDING_SWEEP_INTERVAL"
	EnvMetricsAddr   = "LENDING_METRICS_ADDR"
	EnvLogLevel      = "LENDING_LOG_LEVEL"
	EnvOTel          = "LENDING_OTEL"
)

const (
	defaultDSN           = "lending.db"
	defaultMaxConns      = 20
	defaultSweepInterval = time.Hour
)

var (
	ErrUnknownDriver   = errors.New("unknown database driver")
	ErrMissingDSN      = errors.New("database dsn must not be empty")
	ErrInvalidMaxConns = errors.New("max connections must be positive")
	ErrInvalidInterval = errors.New("sweep interval must be positive")
	ErrInvalidLogLevel = errors.New("unknown log level")
)

// Config is the runtime configuration shared by lendingd and lendingctl.
type Config struct {
	Driver        Driver
	DSN           string
	MaxConns      int
	SweepInterval time.Duration
	MetricsAddr   string
	LogLevel      string
	OTel          bool
}

// Default returns the configuration with environment overrides applied.
// Unparsable environment values are ignored here and keep the built-in default.
func Default() Config {
	cfg := Config{
		Driver:        Driver(envString(EnvDriver, string(DriverSQLite))),
		DSN:           envString(EnvDSN, defaultDSN),
		MaxConns:      defaultMaxConns,
		SweepInterval: defaultSweepInterval,
		MetricsAddr:   envString(EnvMetricsAddr, ""),
		LogLevel:      envString(EnvLogLevel, "info"),
	}

	if v, err := strconv.Atoi(os.Getenv(EnvMaxConns)); err == nil {
		cfg.MaxConns = v
	}

	if v, err := time.ParseDuration(os.Getenv(EnvSweepInterval)); err == nil {
		cfg.SweepInterval = v
	}

	if v, err := strconv.ParseBool(os.Getenv(EnvOTel)); err == nil {
		cfg.OTel = v
	}

	return cfg
}

// RegisterDatabaseFlags binds the database settings to fs, defaulting to the current values.
func (c *Config) RegisterDatabaseFlags(fs *pflag.FlagSet) {
	fs.StringVar((*string)(&c.Driver), "db-driver", string(c.Driver), "database driver: pgx, pq, sqlx or sqlite ($"+EnvDriver+")")
	fs.StringVar(&c.DSN, "db-dsn", c.DSN, "Postgres DSN or SQLite file path ($"+EnvDSN+")")
	fs.IntVar(&c.MaxConns, "db-max-conns", c.MaxConns, "connection pool limit for Postgres ($"+EnvMaxConns+")")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error ($"+EnvLogLevel+")")
}

// RegisterServerFlags binds the daemon settings to fs.
func (c *Config) RegisterServerFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "period of the overdue and expiry sweeps ($"+EnvSweepInterval+")")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "listen address for /metrics, empty disables it ($"+EnvMetricsAddr+")")
	fs.BoolVar(&c.OTel, "otel", c.OTel, "export logs, metrics and traces through OpenTelemetry ($"+EnvOTel+")")
}

// Validate checks the configuration before any connection is opened.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverPGX, DriverPQ, DriverSQLX, DriverSQLite:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}

	if strings.TrimSpace(c.DSN) == "" {
		return ErrMissingDSN
	}

	if c.MaxConns <= 0 {
		return ErrInvalidMaxConns
	}

	if c.SweepInterval <= 0 {
		return ErrInvalidInterval
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}

	return level, nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}

	return fallback
}
