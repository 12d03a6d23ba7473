package promadapters_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoollibrary/lendingengine/lending/promadapters"
)

func Test_MetricsCollector_IncrementCounter(t *testing.T) {
	// arrange
	registry := prometheus.NewRegistry()
	collector := promadapters.NewMetricsCollector(registry)

	// act
	collector.IncrementCounter("lending_engine_operation_calls_total", map[string]string{"operation": "reserve", "status": "success"})
	collector.IncrementCounter("lending_engine_operation_calls_total", map[string]string{"operation": "reserve", "status": "success"})
	collector.IncrementCounter("lending_engine_operation_calls_total", map[string]string{"operation": "cancel", "status": "error"})

	// assert
	expected := `
# HELP lending_engine_operation_calls_total lending engine operation calls
# TYPE lending_engine_operation_calls_total counter
lending_engine_operation_calls_total{operation="cancel",status="error"} 1
lending_engine_operation_calls_total{operation="reserve",status="success"} 2
`
	err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "lending_engine_operation_calls_total")
	assert.NoError(t, err)
}

func Test_MetricsCollector_RecordDuration(t *testing.T) {
	// arrange
	registry := prometheus.NewRegistry()
	collector := promadapters.NewMetricsCollector(registry, promadapters.WithBuckets([]float64{0.01, 0.1, 1}))

	// act
	collector.RecordDuration("lending_store_tx_duration_seconds", 5*time.Millisecond, map[string]string{"operation": "reserve"})
	collector.RecordDuration("lending_store_tx_duration_seconds", 50*time.Millisecond, map[string]string{"operation": "reserve"})
	collector.RecordDuration("lending_store_tx_duration_seconds", 2*time.Second, map[string]string{"operation": "cancel"})

	// assert
	count, err := testutil.GatherAndCount(registry, "lending_store_tx_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per operation")

	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)

	for _, series := range families[0].GetMetric() {
		if series.GetLabel()[0].GetValue() == "reserve" {
			assert.Equal(t, uint64(2), series.GetHistogram().GetSampleCount())
			assert.InDelta(t, 0.055, series.GetHistogram().GetSampleSum(), 0.0001)
		}
	}
}

func Test_MetricsCollector_RecordValue(t *testing.T) {
	// arrange
	registry := prometheus.NewRegistry()
	collector := promadapters.NewMetricsCollector(registry, promadapters.WithConstLabels(prometheus.Labels{"school": "north"}))

	// act
	collector.RecordValue("lending_engine_sweep_affected", 4, map[string]string{"sweep": "overdue"})
	collector.RecordValue("lending_engine_sweep_affected", 1, map[string]string{"sweep": "overdue"})

	// assert
	expected := `
# HELP lending_engine_sweep_affected lending engine sweep affected
# TYPE lending_engine_sweep_affected gauge
lending_engine_sweep_affected{school="north",sweep="overdue"} 1
`
	err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "lending_engine_sweep_affected")
	assert.NoError(t, err)
}

func Test_MetricsCollector_LabelNamesAreFixedByFirstUse(t *testing.T) {
	// arrange
	registry := prometheus.NewRegistry()
	collector := promadapters.NewMetricsCollector(registry)

	// act
	collector.IncrementCounter("lending_store_errors_total", map[string]string{"action": "select_loan", "table": "loans"})
	collector.IncrementCounter("lending_store_errors_total", map[string]string{"action": "update_loan"})
	collector.IncrementCounter("lending_store_errors_total", map[string]string{"action": "update_loan", "table": "loans", "extra": "dropped"})

	// assert
	expected := `
# HELP lending_store_errors_total lending store errors
# TYPE lending_store_errors_total counter
lending_store_errors_total{action="select_loan",table="loans"} 1
lending_store_errors_total{action="update_loan",table=""} 1
lending_store_errors_total{action="update_loan",table="loans"} 1
`
	err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "lending_store_errors_total")
	assert.NoError(t, err)
}

func Test_MetricsCollector_SharesAlreadyRegisteredVectors(t *testing.T) {
	// arrange
	registry := prometheus.NewRegistry()
	first := promadapters.NewMetricsCollector(registry)
	second := promadapters.NewMetricsCollector(registry)
	labels := map[string]string{"table": "materials"}

	// act
	first.IncrementCounter("lending_store_concurrency_conflicts_total", labels)
	second.IncrementCounter("lending_store_concurrency_conflicts_total", labels)

	// assert
	count, err := testutil.GatherAndCount(registry, "lending_store_concurrency_conflicts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.Equal(t, 2.0, families[0].GetMetric()[0].GetCounter().GetValue())
}

func Test_MetricsCollector_ConcurrentUse(t *testing.T) {
	// arrange
	registry := prometheus.NewRegistry()
	collector := promadapters.NewMetricsCollector(registry)
	wg := sync.WaitGroup{}

	// act
	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			collector.IncrementCounter("lending_engine_retries_total", map[string]string{"attempt_number": "1"})
			collector.RecordDuration("lending_engine_retry_delay_seconds", time.Millisecond, map[string]string{"attempt_number": "1"})
		}()
	}

	wg.Wait()

	// assert
	families, err := registry.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 2)

	for _, family := range families {
		if family.GetName() == "lending_engine_retries_total" {
			assert.Equal(t, 20.0, family.GetMetric()[0].GetCounter().GetValue())
		}
	}
}
