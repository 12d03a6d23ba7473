package sqlengine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/schoollibrary/lendingengine/lending"
)

const (
	logMsgBeginTxFailed       = "failed to begin transaction"
	logMsgRollbackFailed      = "failed to roll back transaction"
	logMsgCommitFailed        = "failed to commit transaction"
	logMsgBuildQueryFailed    = "failed to build sql query"
	logMsgScanRowFailed       = "failed to scan database row"
	logMsgCloseRowsFailed     = "failed to close database rows"
	logMsgRowsAffectedFailed  = "failed to get rows affected count"
	logMsgConcurrencyConflict = "concurrency conflict detected"
	logMsgStatementFailed     = "sql statement failed"
	logMsgSQLExecuted         = "executed sql for: "
	logMsgSchemaMigrated      = "schema migrated"
	logAttrError              = "error"
	logAttrQuery              = "query"
	logAttrAction             = "action"
	logAttrOperation          = "operation"
	logAttrTable              = "table"
	logAttrRowsAffected       = "rows_affected"
	logAttrDurationMS         = "duration_ms"
	logAttrDialect            = "dialect"
	logAttrStatements         = "statements"
)

const (
	metricStatementDuration   = "lending_store_statement_duration_seconds"
	metricTxDuration          = "lending_store_tx_duration_seconds"
	metricConcurrencyConflict = "lending_store_concurrency_conflicts_total"
	metricDatabaseErrors      = "lending_store_errors_total"

	spanNameTx        = "lending.store.tx"
	spanAttrOperation = "operation"
	spanAttrDialect   = "db.system"
	spanAttrErrorType = "error_type"
	spanAttrDuration  = "duration_ms"

	statusSuccess = "success"
	statusError   = "error"
)

// logQueryWithDuration logs SQL statements with execution time at debug level.
func (s *Store) logQueryWithDuration(ctx context.Context, sqlQuery, action string, duration time.Duration) {
	switch {
	case s.contextualLogger != nil:
		s.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action, logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery)
	case s.logger != nil:
		s.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// logOperation logs operational information at info level.
func (s *Store) logOperation(ctx context.Context, msg string, args ...any) {
	switch {
	case s.contextualLogger != nil:
		s.contextualLogger.InfoContext(ctx, msg, args...)
	case s.logger != nil:
		s.logger.Info(msg, args...)
	}
}

func (s *Store) logWarn(ctx context.Context, msg string, args ...any) {
	switch {
	case s.contextualLogger != nil:
		s.contextualLogger.WarnContext(ctx, msg, args...)
	case s.logger != nil:
		s.logger.Warn(msg, args...)
	}
}

// logError logs error information at the error level.
func (s *Store) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	switch {
	case s.contextualLogger != nil:
		s.contextualLogger.ErrorContext(ctx, msg, allArgs...)
	case s.logger != nil:
		s.logger.Error(msg, allArgs...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// observeStatement logs a finished statement and records its duration.
// Failed statements are logged at error level, except for cancellations, which are the caller's doing.
func (s *Store) observeStatement(ctx context.Context, sqlQuery, action string, duration time.Duration, err error) {
	status := statusSuccess

	if err != nil {
		status = statusError
		if !lending.IsCancellation(err) {
			s.logError(ctx, logMsgStatementFailed, err, logAttrAction, action, logAttrQuery, sqlQuery)
		}

		lending.IncrementCounter(ctx, s.metricsCollector, metricDatabaseErrors, map[string]string{
			logAttrAction:     action,
			spanAttrErrorType: errorType(markTransient(err)),
		})
	} else {
		s.logQueryWithDuration(ctx, sqlQuery, action, duration)
	}

	lending.RecordDuration(ctx, s.metricsCollector, metricStatementDuration, duration, map[string]string{
		logAttrAction: action,
		"status":      status,
	})
}

func (s *Store) recordConcurrencyConflict(ctx context.Context, table string) {
	lending.IncrementCounter(ctx, s.metricsCollector, metricConcurrencyConflict, map[string]string{
		logAttrTable:    table,
		"conflict_type": "version",
	})
}

// txObserver measures one transaction and owns its tracing span.
type txObserver struct {
	store     *Store
	ctx       context.Context
	operation string
	start     time.Time
	span      lending.SpanContext
	finished  bool
}

func (s *Store) startTxObservation(ctx context.Context, operation string) (*txObserver, context.Context) {
	observer := &txObserver{store: s, operation: operation, start: time.Now()}

	if s.tracingCollector != nil {
		ctx, observer.span = s.tracingCollector.StartSpan(ctx, spanNameTx, map[string]string{
			spanAttrOperation: operation,
			spanAttrDialect:   string(s.dialect),
		})
	}

	observer.ctx = ctx

	return observer, ctx
}

// finish records the outcome once; later calls are ignored.
func (o *txObserver) finish(err error) {
	if o.finished {
		return
	}
	o.finished = true

	duration := time.Since(o.start)
	status := statusSuccess
	attrs := map[string]string{spanAttrDuration: fmt.Sprintf("%.2f", toMilliseconds(duration))}

	if err != nil {
		status = statusError
		attrs[spanAttrErrorType] = errorType(err)
	}

	lending.RecordDuration(o.ctx, o.store.metricsCollector, metricTxDuration, duration, map[string]string{
		spanAttrOperation: o.operation,
		"status":          status,
	})

	if o.store.tracingCollector != nil && o.span != nil {
		o.store.tracingCollector.FinishSpan(o.span, status, attrs)
	}
}
