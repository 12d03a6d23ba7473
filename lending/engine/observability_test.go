package engine_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/engine"
	"github.com/schoollibrary/lendingengine/testutil/fixtures"
	"github.com/schoollibrary/lendingengine/testutil/spies"
)

func Test_Engine_ObservesSuccessfulOperations(t *testing.T) {
	// setup
	logSpy := spies.NewLogHandlerSpy(false)
	metricsSpy := spies.NewMetricsCollectorSpy(true)
	tracingSpy := spies.NewTracingCollectorSpy(true)
	tb := newTestbed(t,
		engine.WithLogger(slog.New(logSpy)),
		engine.WithMetrics(metricsSpy),
		engine.WithTracing(tracingSpy),
	)
	material := fixtures.GivenMaterial(t, tb.store, 1)

	// act
	tb.reservePersonal(t, fixtures.Student(), material.ID)

	// assert
	assert.True(t, logSpy.HasDebugLogWithMessage("lending operation started").
		WithAttr("operation", "reserve").
		Assert())
	assert.True(t, logSpy.HasInfoLogWithMessage("lending operation completed").
		WithAttr("operation", "reserve").
		WithAttr("outcome", "granted").
		WithDurationMS().
		Assert())

	assert.True(t, metricsSpy.HasDurationRecordForMetric("lending_engine_operation_duration_seconds").
		WithOperation("reserve").
		WithStatus("success").
		WithLabel("outcome", "granted").
		Assert())
	assert.Equal(t, 1, metricsSpy.HasCounterRecordForMetric("lending_engine_operation_calls_total").
		WithOperation("reserve").
		Count())

	assert.True(t, tracingSpy.HasSpanRecordForName("lending.engine.operation").
		WithStartAttribute("operation", "reserve").
		WithStatus("success").
		WithEndAttribute("outcome", "granted").
		Assert())
}

func Test_Engine_ObservesRejections(t *testing.T) {
	// setup
	logSpy := spies.NewLogHandlerSpy(false)
	metricsSpy := spies.NewMetricsCollectorSpy(true)
	tb := newTestbed(t, engine.WithLogger(slog.New(logSpy)), engine.WithMetrics(metricsSpy))
	student := fixtures.Student()
	fixtures.GivenBan(t, tb.store, student.UserID, schoolDayStart.Add(day))

	// act
	_, err := tb.engine.Reserve(context.Background(), student, reserveCommand(uuid.New()))

	// assert
	require.ErrorIs(t, err, lending.ErrBorrowerBlacklisted)
	assert.True(t, logSpy.HasInfoLogWithMessage("lending operation rejected").
		WithAttr("operation", "reserve").
		WithAttr("error_kind", "forbidden").
		Assert())
	assert.False(t, logSpy.HasErrorLogWithMessage("lending operation failed").Assert())
	assert.True(t, metricsSpy.HasCounterRecordForMetric("lending_engine_operation_calls_total").
		WithOperation("reserve").
		WithStatus("error").
		WithLabel("outcome", "forbidden").
		Assert())
	assert.Zero(t, metricsSpy.HasCounterRecordForMetric("lending_engine_retries_total").Count(),
		"business rejections are never retried")
}

func Test_Engine_CapabilityRejectionsAreObservedWithoutTouchingTheStore(t *testing.T) {
	logSpy := spies.NewLogHandlerSpy(false)
	tracingSpy := spies.NewTracingCollectorSpy(true)
	tb := newTestbed(t, engine.WithLogger(slog.New(logSpy)), engine.WithTracing(tracingSpy))

	_, err := tb.engine.UpdateSetting(context.Background(), fixtures.Student(), lending.SettingBlacklistDays, 10)

	require.ErrorIs(t, err, lending.ErrMissingCapability)
	assert.True(t, logSpy.HasInfoLogWithMessage("lending operation rejected").
		WithAttr("operation", "update_setting").
		Assert())
	assert.True(t, tracingSpy.HasSpanRecordForName("lending.engine.operation").
		WithStartAttribute("operation", "update_setting").
		WithStatus("error").
		WithEndAttribute("outcome", "forbidden").
		Assert())
}
