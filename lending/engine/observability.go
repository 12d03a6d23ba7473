package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schoollibrary/lendingengine/lending"
)

const (
	// metricOperationDuration tracks operation duration including retries.
	//
	// Labels:
	//   - operation: e.g. "reserve", "confirm_return"
	//   - status: "success", "error"
	//   - outcome: "granted", "queued", "already_queued", "completed" or the error kind
	metricOperationDuration = "lending_engine_operation_duration_seconds"
	metricOperationCalls    = "lending_engine_operation_calls_total"

	metricRetries           = "lending_engine_retries_total"
	metricRetryDelay        = "lending_engine_retry_delay_seconds"
	metricMaxRetriesReached = "lending_engine_max_retries_reached_total"

	statusSuccess = "success"
	statusError   = "error"

	logMsgOperationStarted   = "lending operation started"
	logMsgOperationCompleted = "lending operation completed"
	logMsgOperationRejected  = "lending operation rejected"
	logMsgOperationFailed    = "lending operation failed"

	logAttrOperation  = "operation"
	logAttrStatus     = "status"
	logAttrOutcome    = "outcome"
	logAttrErrorKind  = "error_kind"
	logAttrError      = "error"
	logAttrDurationMS = "duration_ms"

	spanNameOperation = "lending.engine.operation"
)

type observation struct {
	engine    *Engine
	ctx       context.Context
	operation string
	start     time.Time
	span      lending.SpanContext
}

func (e *Engine) startObservation(ctx context.Context, operation string) (*observation, context.Context) {
	obs := &observation{engine: e, operation: operation, start: time.Now()}

	if e.tracingCollector != nil {
		ctx, obs.span = e.tracingCollector.StartSpan(ctx, spanNameOperation, map[string]string{logAttrOperation: operation})
	}

	obs.ctx = ctx
	e.logDebug(ctx, logMsgOperationStarted, logAttrOperation, operation)

	return obs, ctx
}

// finish logs, measures and closes the span of the operation.
// Business rejections are logged at info level, infrastructure failures at error level.
func (o *observation) finish(outcome lending.Outcome, err error) {
	e := o.engine
	duration := time.Since(o.start)
	status := statusSuccess
	label := string(outcome)

	switch {
	case err == nil:
		e.logInfo(o.ctx, logMsgOperationCompleted,
			logAttrOperation, o.operation,
			logAttrOutcome, label,
			logAttrDurationMS, toMilliseconds(duration))

	case lending.KindOf(err) == lending.KindInternal:
		status = statusError
		label = lending.KindInternal.String()
		e.logError(o.ctx, logMsgOperationFailed,
			logAttrOperation, o.operation,
			logAttrError, unwrapForLog(err),
			logAttrDurationMS, toMilliseconds(duration))

	default:
		status = statusError
		label = lending.KindOf(err).String()
		e.logInfo(o.ctx, logMsgOperationRejected,
			logAttrOperation, o.operation,
			logAttrErrorKind, label,
			logAttrError, err.Error())
	}

	labels := map[string]string{
		logAttrOperation: o.operation,
		logAttrStatus:    status,
		logAttrOutcome:   label,
	}

	lending.RecordDuration(o.ctx, e.metricsCollector, metricOperationDuration, duration, labels)
	lending.IncrementCounter(o.ctx, e.metricsCollector, metricOperationCalls, labels)

	if e.tracingCollector != nil && o.span != nil {
		e.tracingCollector.FinishSpan(o.span, status, map[string]string{
			logAttrOutcome:    label,
			logAttrDurationMS: fmt.Sprintf("%.2f", toMilliseconds(duration)),
		})
	}
}

// unwrapForLog returns the full error chain. Internal details are logged, never returned.
func unwrapForLog(err error) string {
	var internal *lending.InternalError
	if errors.As(err, &internal) {
		causes := internal.Unwrap()
		if len(causes) > 1 && causes[1] != nil {
			return internal.Error() + ": " + causes[1].Error()
		}
	}

	return err.Error()
}

func toMilliseconds(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}

func (e *Engine) logDebug(ctx context.Context, msg string, args ...any) {
	switch {
	case e.contextualLogger != nil:
		e.contextualLogger.DebugContext(ctx, msg, args...)
	case e.logger != nil:
		e.logger.Debug(msg, args...)
	}
}

func (e *Engine) logInfo(ctx context.Context, msg string, args ...any) {
	switch {
	case e.contextualLogger != nil:
		e.contextualLogger.InfoContext(ctx, msg, args...)
	case e.logger != nil:
		e.logger.Info(msg, args...)
	}
}

func (e *Engine) logError(ctx context.Context, msg string, args ...any) {
	switch {
	case e.contextualLogger != nil:
		e.contextualLogger.ErrorContext(ctx, msg, args...)
	case e.logger != nil:
		e.logger.Error(msg, args...)
	}
}
