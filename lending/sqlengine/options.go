package sqlengine

import "github.com/schoollibrary/lendingengine/lending"

// Option defines a functional option for configuring the Store.
type Option func(*Store) error

// WithDialect overrides the SQL dialect chosen by the constructor, for example to run
// a sqlx.DB handle against SQLite.
func WithDialect(dialect Dialect) Option {
	return func(s *Store) error {
		switch dialect {
		case DialectPostgres, DialectSQLite:
			s.dialect = dialect
			return nil
		default:
			return ErrUnsupportedDialect
		}
	}
}

// WithLogger sets the logger for the Store.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL statements with execution timing (development use)
// Info level: concurrency conflicts and schema migrations (production-safe)
// Warn level: non-critical issues like rollback or cleanup failures
// Error level: failures that abort an operation.
func WithLogger(logger lending.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger. It takes precedence over WithLogger.
func WithContextualLogger(logger lending.ContextualLogger) Option {
	return func(s *Store) error {
		s.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Store.
// It receives statement and transaction durations, concurrency conflicts and database errors.
func WithMetrics(collector lending.MetricsCollector) Option {
	return func(s *Store) error {
		s.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Store. Every transaction becomes a span.
func WithTracing(collector lending.TracingCollector) Option {
	return func(s *Store) error {
		s.tracingCollector = collector
		return nil
	}
}
