// Package promadapters provides a Prometheus implementation of lending.MetricsCollector.
//
// Metric vectors are created and registered on first use. The label names of a metric are
// fixed by its first observation; later observations fill missing labels with "" and drop
// labels the vector does not know.
package promadapters

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/schoollibrary/lendingengine/lending"
)

// MetricsCollector implements lending.MetricsCollector with client_golang vectors:
//   - RecordDuration -> HistogramVec in seconds
//   - IncrementCounter -> CounterVec
//   - RecordValue -> GaugeVec
type MetricsCollector struct {
	registerer  prometheus.Registerer
	buckets     []float64
	constLabels prometheus.Labels

	mu         sync.Mutex
	histograms map[string]*prometheus.HistogramVec
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	labelNames map[string][]string
}

// Option configures a MetricsCollector.
type Option func(*MetricsCollector)

// WithBuckets replaces the histogram buckets. The default is prometheus.DefBuckets.
func WithBuckets(buckets []float64) Option {
	return func(m *MetricsCollector) {
		m.buckets = buckets
	}
}

// WithConstLabels adds labels to every metric, e.g. the school or the deployment.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(m *MetricsCollector) {
		m.constLabels = labels
	}
}

// NewMetricsCollector creates a collector registering its vectors with registerer.
// A nil registerer means prometheus.DefaultRegisterer.
func NewMetricsCollector(registerer prometheus.Registerer, options ...Option) *MetricsCollector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &MetricsCollector{
		registerer: registerer,
		buckets:    prometheus.DefBuckets,
		histograms: make(map[string]*prometheus.HistogramVec),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		labelNames: make(map[string][]string),
	}

	for _, option := range options {
		option(m)
	}

	return m
}

// RecordDuration observes a duration in seconds.
func (m *MetricsCollector) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	histogram, names := m.histogram(metric, labels)
	if histogram == nil {
		return
	}

	histogram.WithLabelValues(valuesFor(names, labels)...).Observe(duration.Seconds())
}

// IncrementCounter adds one to a counter.
func (m *MetricsCollector) IncrementCounter(metric string, labels map[string]string) {
	counter, names := m.counter(metric, labels)
	if counter == nil {
		return
	}

	counter.WithLabelValues(valuesFor(names, labels)...).Inc()
}

// RecordValue sets a gauge.
func (m *MetricsCollector) RecordValue(metric string, value float64, labels map[string]string) {
	gauge, names := m.gauge(metric, labels)
	if gauge == nil {
		return
	}

	gauge.WithLabelValues(valuesFor(names, labels)...).Set(value)
}

func (m *MetricsCollector) histogram(name string, labels map[string]string) (*prometheus.HistogramVec, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if vec, ok := m.histograms[name]; ok {
		return vec, m.labelNames[name]
	}

	names := labelNamesOf(labels)
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        name,
		Help:        describe(name),
		Buckets:     m.buckets,
		ConstLabels: m.constLabels,
	}, names)

	registered, ok := register(m.registerer, vec)
	if !ok {
		return nil, nil
	}

	m.histograms[name] = registered
	m.labelNames[name] = names

	return registered, names
}

func (m *MetricsCollector) counter(name string, labels map[string]string) (*prometheus.CounterVec, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if vec, ok := m.counters[name]; ok {
		return vec, m.labelNames[name]
	}

	names := labelNamesOf(labels)
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        name,
		Help:        describe(name),
		ConstLabels: m.constLabels,
	}, names)

	registered, ok := register(m.registerer, vec)
	if !ok {
		return nil, nil
	}

	m.counters[name] = registered
	m.labelNames[name] = names

	return registered, names
}

func (m *MetricsCollector) gauge(name string, labels map[string]string) (*prometheus.GaugeVec, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if vec, ok := m.gauges[name]; ok {
		return vec, m.labelNames[name]
	}

	names := labelNamesOf(labels)
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        name,
		Help:        describe(name),
		ConstLabels: m.constLabels,
	}, names)

	registered, ok := register(m.registerer, vec)
	if !ok {
		return nil, nil
	}

	m.gauges[name] = registered
	m.labelNames[name] = names

	return registered, names
}

// register returns the vector that ends up registered, which is the existing one when another
// collector registered the same metric first. Metrics that cannot be registered are dropped.
func register[V prometheus.Collector](registerer prometheus.Registerer, vec V) (V, bool) {
	err := registerer.Register(vec)
	if err == nil {
		return vec, true
	}

	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		existing, ok := already.ExistingCollector.(V)
		return existing, ok
	}

	var zero V

	return zero, false
}

func labelNamesOf(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

func valuesFor(names []string, labels map[string]string) []string {
	values := make([]string, len(names))
	for i, name := range names {
		values[i] = labels[name]
	}

	return values
}

// describe derives the help text, e.g. "lending engine retries" for lending_engine_retries_total.
func describe(name string) string {
	name = strings.TrimSuffix(name, "_total")
	name = strings.TrimSuffix(name, "_seconds")

	return strings.ReplaceAll(name, "_", " ")
}

var _ lending.MetricsCollector = (*MetricsCollector)(nil)
