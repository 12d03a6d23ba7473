package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schoollibrary/lendingengine/internal/config"
	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/engine"
	"github.com/schoollibrary/lendingengine/lending/oteladapters"
	"github.com/schoollibrary/lendingengine/lending/promadapters"
	"github.com/schoollibrary/lendingengine/lending/sqlengine"
)

// observability bundles what the store and the engine report to.
// Without --otel metrics go to the Prometheus registry; with it everything goes through OTLP
// and the registry only carries the process metrics.
type observability struct {
	contextualLogger lending.ContextualLogger
	metricsCollector lending.MetricsCollector
	tracingCollector lending.TracingCollector
	registry         *prometheus.Registry
	telemetry        *config.Telemetry
}

func newObservability(ctx context.Context, cfg config.Config, logger *slog.Logger) (*observability, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if !cfg.OTel {
		return &observability{
			contextualLogger: logger,
			metricsCollector: promadapters.NewMetricsCollector(registry),
			registry:         registry,
		}, nil
	}

	telemetry, err := config.NewTelemetry(ctx, serviceName, version)
	if err != nil {
		return nil, err
	}

	return &observability{
		contextualLogger: oteladapters.NewSlogBridgeLoggerWithProvider(serviceName, telemetry.LoggerProvider),
		metricsCollector: oteladapters.NewMetricsCollector(telemetry.MeterProvider.Meter(serviceName)),
		tracingCollector: oteladapters.NewTracingCollector(telemetry.TracerProvider.Tracer(serviceName)),
		registry:         registry,
		telemetry:        telemetry,
	}, nil
}

func (o *observability) storeOptions() []sqlengine.Option {
	var options []sqlengine.Option

	if o.contextualLogger != nil {
		options = append(options, sqlengine.WithContextualLogger(o.contextualLogger))
	}

	if o.metricsCollector != nil {
		options = append(options, sqlengine.WithMetrics(o.metricsCollector))
	}

	if o.tracingCollector != nil {
		options = append(options, sqlengine.WithTracing(o.tracingCollector))
	}

	return options
}

func (o *observability) engineOptions() []engine.Option {
	var options []engine.Option

	if o.contextualLogger != nil {
		options = append(options, engine.WithContextualLogger(o.contextualLogger))
	}

	if o.metricsCollector != nil {
		options = append(options, engine.WithMetrics(o.metricsCollector))
	}

	if o.tracingCollector != nil {
		options = append(options, engine.WithTracing(o.tracingCollector))
	}

	return options
}

func (o *observability) metricsHandler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{Registry: o.registry})
}

func (o *observability) shutdown() error {
	if o.telemetry == nil {
		return nil
	}

	return o.telemetry.Shutdown()
}
