package oteladapters_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/schoollibrary/lendingengine/lending/oteladapters"
	"github.com/schoollibrary/lendingengine/testutil/spies"
)

func newRecordingTracer() (*oteladapters.TracingCollector, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))

	return oteladapters.NewTracingCollector(provider.Tracer("test")), exporter
}

func Test_TracingCollector_StartAndFinishSpan(t *testing.T) {
	collector, exporter := newRecordingTracer()

	ctx, spanCtx := collector.StartSpan(context.Background(), "lending.engine.operation", map[string]string{
		"operation": "reserve",
	})
	collector.FinishSpan(spanCtx, "success", map[string]string{"outcome": "granted"})

	require.NotNil(t, ctx)
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	span := spans[0]
	assert.Equal(t, "lending.engine.operation", span.Name)
	assert.Equal(t, codes.Ok, span.Status.Code)
	assert.Contains(t, span.Attributes, attribute.String("operation", "reserve"))
	assert.Contains(t, span.Attributes, attribute.String("outcome", "granted"))
}

func Test_TracingCollector_StatusMapping(t *testing.T) {
	testCases := []struct {
		status   string
		expected codes.Code
	}{
		{"success", codes.Ok},
		{"completed", codes.Ok},
		{"error", codes.Error},
		{"canceled", codes.Error},
		{"conflict", codes.Error},
		{"skipped", codes.Unset},
	}

	for _, tc := range testCases {
		t.Run(tc.status, func(t *testing.T) {
			collector, exporter := newRecordingTracer()

			_, spanCtx := collector.StartSpan(context.Background(), "lending.store.tx", nil)
			collector.FinishSpan(spanCtx, tc.status, nil)

			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			assert.Equal(t, tc.expected, spans[0].Status.Code)
		})
	}
}

func Test_TracingCollector_NestedSpansShareTrace(t *testing.T) {
	collector, exporter := newRecordingTracer()

	ctx, parent := collector.StartSpan(context.Background(), "lending.engine.operation", nil)
	_, child := collector.StartSpan(ctx, "lending.store.tx", nil)
	child.AddAttribute("db.system", "sqlite3")
	collector.FinishSpan(child, "success", nil)
	collector.FinishSpan(parent, "success", nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[1].SpanContext.TraceID(), spans[0].SpanContext.TraceID())
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
	assert.Contains(t, spans[0].Attributes, attribute.String("db.system", "sqlite3"))
}

func Test_TracingCollector_IgnoresForeignSpanContexts(t *testing.T) {
	collector, exporter := newRecordingTracer()

	assert.NotPanics(t, func() {
		collector.FinishSpan(&spies.SpanContextSpy{}, "success", nil)
	})
	assert.Empty(t, exporter.GetSpans())
}
