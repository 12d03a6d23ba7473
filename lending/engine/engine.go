package engine

import (
	"context"
	"errors"
	"time"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine"
)

// ErrNilStore is returned by New when no store is given.
var ErrNilStore = errors.New("store must not be nil")

// Engine is the loan and reservation engine. Every state-changing operation runs as one
// transaction and is retried as a whole when a concurrent writer got there first.
// An Engine holds no locks and is safe for concurrent use.
type Engine struct {
	store            *sqlengine.Store
	clock            func() time.Time
	retryOptions     []RetryOption
	logger           lending.Logger
	contextualLogger lending.ContextualLogger
	metricsCollector lending.MetricsCollector
	tracingCollector lending.TracingCollector
}

// Option configures an Engine.
type Option func(*Engine) error

// WithClock replaces time.Now, mostly for tests that need to travel in time.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) error {
		e.clock = clock
		return nil
	}
}

// WithRetryOptions sets a custom retry configuration. The options are validated up front.
func WithRetryOptions(options ...RetryOption) Option {
	return func(e *Engine) error {
		if _, err := newRetryConfig(options...); err != nil {
			return err
		}

		e.retryOptions = options

		return nil
	}
}

// WithLogger sets the logger for operation start, completion and failure messages.
func WithLogger(logger lending.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger. It takes precedence over WithLogger.
func WithContextualLogger(logger lending.ContextualLogger) Option {
	return func(e *Engine) error {
		e.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the collector for operation and retry metrics.
func WithMetrics(collector lending.MetricsCollector) Option {
	return func(e *Engine) error {
		e.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the collector for operation spans.
func WithTracing(collector lending.TracingCollector) Option {
	return func(e *Engine) error {
		e.tracingCollector = collector
		return nil
	}
}

// New creates an Engine on top of a store.
func New(store *sqlengine.Store, options ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	e := &Engine{store: store, clock: time.Now}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Execution reports the retry metadata of an operation.
type Execution struct {
	Attempts         int
	TotalRetryDelay  time.Duration
	LastErrorType    string
	RetriesExhausted bool
}

func executionFrom(metrics RetryMetrics) Execution {
	return Execution{
		Attempts:         metrics.Attempts,
		TotalRetryDelay:  metrics.TotalDelay,
		LastErrorType:    metrics.LastErrorType,
		RetriesExhausted: metrics.RetriesExhausted,
	}
}

func (x Execution) add(other Execution) Execution {
	x.Attempts += other.Attempts
	x.TotalRetryDelay += other.TotalRetryDelay
	x.LastErrorType = other.LastErrorType
	x.RetriesExhausted = x.RetriesExhausted || other.RetriesExhausted

	return x
}

func (e *Engine) now() time.Time {
	return lending.ToStoredTime(e.clock())
}

// txFunc is one read-decide-write unit. It runs again from scratch on every retry,
// so it must not keep state from an earlier attempt.
type txFunc func(ctx context.Context, tx *sqlengine.Tx, now time.Time) (lending.Outcome, error)

// execute runs fn in a transaction with retry and converts infrastructure failures into
// lending.InternalError. Business errors are returned unchanged.
func (e *Engine) execute(ctx context.Context, operation string, fn txFunc) (Execution, error) {
	obs, ctx := e.startObservation(ctx, operation)

	options := e.retryOptions
	if e.metricsCollector != nil {
		options = append(options[:len(options):len(options)], WithRetryMetrics(e.metricsCollector, operation))
	}

	var outcome lending.Outcome

	metrics, err := RetryWithExponentialBackoff(ctx, func(ctx context.Context) error {
		return e.store.RunInTx(ctx, operation, func(ctx context.Context, tx *sqlengine.Tx) error {
			var fnErr error
			outcome, fnErr = fn(ctx, tx, e.now())

			return fnErr
		})
	}, options...)

	err = classify(operation, metrics, err)
	obs.finish(outcome, err)

	return executionFrom(metrics), err
}

// read runs a query outside of any transaction.
func (e *Engine) read(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	obs, ctx := e.startObservation(ctx, operation)

	err := classify(operation, RetryMetrics{}, fn(ctx))
	obs.finish(lending.OutcomeCompleted, err)

	return err
}

// reject reports an operation refused before it reached the store.
func (e *Engine) reject(ctx context.Context, operation string, err error) error {
	obs, _ := e.startObservation(ctx, operation)
	obs.finish("", err)

	return err
}

func classify(operation string, metrics RetryMetrics, err error) error {
	switch {
	case err == nil:
		return nil
	case metrics.RetriesExhausted:
		return errors.Join(lending.ErrRetriesExhausted, lending.NewInternalError(operation, err))
	case lending.KindOf(err) != lending.KindInternal:
		return err
	default:
		return lending.NewInternalError(operation, err)
	}
}
