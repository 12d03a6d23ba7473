package config

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	metricExportInterval = 15 * time.Second
	telemetryShutdown    = 5 * time.Second
)

// ErrTelemetrySetupFailed wraps failures to create an exporter or the resource.
var ErrTelemetrySetupFailed = errors.New("setting up opentelemetry failed")

// Telemetry holds the OpenTelemetry providers of a binary.
// Exporters send to the collector named by the standard OTEL_EXPORTER_OTLP_* variables.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
}

// NewTelemetry creates OTLP gRPC exporters and providers and installs the tracer and meter
// providers globally.
func NewTelemetry(ctx context.Context, serviceName, serviceVersion string) (*Telemetry, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, errors.Join(ErrTelemetrySetupFailed, err)
	}

	traceExporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, errors.Join(ErrTelemetrySetupFailed, err)
	}

	metricExporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, errors.Join(ErrTelemetrySetupFailed, err)
	}

	logExporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, errors.Join(ErrTelemetrySetupFailed, err)
	}

	t := &Telemetry{
		TracerProvider: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
		),
		MeterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
				sdkmetric.WithInterval(metricExportInterval))),
			sdkmetric.WithResource(res),
		),
		LoggerProvider: sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
			sdklog.WithResource(res),
		),
	}

	otel.SetTracerProvider(t.TracerProvider)
	otel.SetMeterProvider(t.MeterProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return t, nil
}

// Shutdown flushes and stops all providers. It keeps going after a failure and joins the errors.
func (t *Telemetry) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdown)
	defer cancel()

	return errors.Join(
		t.TracerProvider.Shutdown(ctx),
		t.MeterProvider.Shutdown(ctx),
		t.LoggerProvider.Shutdown(ctx),
	)
}
