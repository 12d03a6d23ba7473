package oteladapters_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/schoollibrary/lendingengine/lending/oteladapters"
)

func newManualCollector() (*oteladapters.MetricsCollector, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	return oteladapters.NewMetricsCollector(provider.Meter("test")), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var resourceMetrics metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &resourceMetrics))

	return resourceMetrics
}

func findMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				return m
			}
		}
	}

	require.Failf(t, "metric not found", "%s", name)

	return metricdata.Metrics{}
}

func Test_MetricsCollector_RecordDuration(t *testing.T) {
	collector, reader := newManualCollector()

	collector.RecordDuration("lending_engine_operation_duration_seconds", 150*time.Millisecond, map[string]string{
		"operation": "reserve",
		"status":    "success",
	})

	m := findMetric(t, collect(t, reader), "lending_engine_operation_duration_seconds")
	histogram, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, histogram.DataPoints, 1)

	point := histogram.DataPoints[0]
	expectedAttrs := attribute.NewSet(
		attribute.String("operation", "reserve"),
		attribute.String("status", "success"),
	)

	assert.Equal(t, uint64(1), point.Count)
	assert.InDelta(t, 0.15, point.Sum, 0.001)
	assert.True(t, point.Attributes.Equals(&expectedAttrs))
	assert.Equal(t, "s", m.Unit)
	assert.Equal(t, "lending engine operation duration", m.Description)
}

func Test_MetricsCollector_IncrementCounter(t *testing.T) {
	collector, reader := newManualCollector()
	labels := map[string]string{"operation": "reserve", "status": "success", "outcome": "queued"}
	ctx := context.Background()

	collector.IncrementCounter("lending_engine_operation_calls_total", labels)
	collector.IncrementCounterContext(ctx, "lending_engine_operation_calls_total", labels)

	m := findMetric(t, collect(t, reader), "lending_engine_operation_calls_total")
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
	assert.True(t, sum.IsMonotonic)
}

func Test_MetricsCollector_RecordValue(t *testing.T) {
	collector, reader := newManualCollector()

	collector.RecordValue("lending_sweep_candidates", 4, map[string]string{"sweep": "overdue"})
	collector.RecordValueContext(context.Background(), "lending_sweep_candidates", 2, map[string]string{"sweep": "overdue"})

	m := findMetric(t, collect(t, reader), "lending_sweep_candidates")
	gauge, ok := m.Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.InDelta(t, 2.0, gauge.DataPoints[0].Value, 0.0001)
}

func Test_MetricsCollector_ConcurrentUse(t *testing.T) {
	collector, reader := newManualCollector()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			collector.IncrementCounter("lending_store_concurrency_conflicts_total", map[string]string{"table": "materials"})
			collector.RecordDuration("lending_store_tx_duration_seconds", time.Millisecond, nil)
		}()
	}

	wg.Wait()

	m := findMetric(t, collect(t, reader), "lending_store_concurrency_conflicts_total")
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(20), sum.DataPoints[0].Value)
}
