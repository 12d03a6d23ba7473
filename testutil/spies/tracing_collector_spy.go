package spies

import (
	"context"
	"maps"
	"sync"

	"github.com/schoollibrary/lendingengine/lending"
)

// SpanContextSpy records the status and attributes set on a span.
type SpanContextSpy struct {
	status     string
	attributes map[string]string
	mu         sync.Mutex
}

// SetStatus implements lending.SpanContext.
func (c *SpanContextSpy) SetStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// AddAttribute implements lending.SpanContext.
func (c *SpanContextSpy) AddAttribute(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attributes == nil {
		c.attributes = make(map[string]string)
	}

	c.attributes[key] = value
}

// TracingCollectorSpy is a lending.TracingCollector that captures every span.
type TracingCollectorSpy struct {
	spanRecords []SpanRecord
	mu          sync.Mutex
	recordCalls bool
}

// SpanRecord represents a recorded span.
type SpanRecord struct {
	Name            string
	StartAttributes map[string]string
	Status          string
	EndAttributes   map[string]string
	SpanContext     *SpanContextSpy
}

// NewTracingCollectorSpy creates a new TracingCollectorSpy.
func NewTracingCollectorSpy(recordCalls bool) *TracingCollectorSpy {
	return &TracingCollectorSpy{recordCalls: recordCalls}
}

// StartSpan implements lending.TracingCollector.
func (s *TracingCollectorSpy) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, lending.SpanContext) {
	if !s.recordCalls {
		return ctx, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	spanCtx := &SpanContextSpy{}
	s.spanRecords = append(s.spanRecords, SpanRecord{
		Name:            name,
		StartAttributes: maps.Clone(attrs),
		SpanContext:     spanCtx,
	})

	return ctx, spanCtx
}

// FinishSpan implements lending.TracingCollector.
func (s *TracingCollectorSpy) FinishSpan(spanCtx lending.SpanContext, status string, attrs map[string]string) {
	spy, ok := spanCtx.(*SpanContextSpy)
	if !s.recordCalls || !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.spanRecords {
		if s.spanRecords[i].SpanContext == spy {
			s.spanRecords[i].Status = status
			s.spanRecords[i].EndAttributes = maps.Clone(attrs)

			break
		}
	}
}

// SpanRecords returns a copy of all captured spans.
func (s *TracingCollectorSpy) SpanRecords() []SpanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]SpanRecord, len(s.spanRecords))
	copy(records, s.spanRecords)

	return records
}

// Reset clears all captured spans.
func (s *TracingCollectorSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spanRecords = s.spanRecords[:0]
}

// SpanRecordMatcher provides a fluent interface for checking span records.
type SpanRecordMatcher struct {
	candidates []SpanRecord
}

// HasSpanRecordForName starts a fluent chain to check the finished spans with the name.
func (s *TracingCollectorSpy) HasSpanRecordForName(name string) *SpanRecordMatcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := &SpanRecordMatcher{}
	for _, record := range s.spanRecords {
		if record.Name == name {
			m.candidates = append(m.candidates, record)
		}
	}

	return m
}

// WithStatus keeps the spans finished with the status.
func (m *SpanRecordMatcher) WithStatus(status string) *SpanRecordMatcher {
	return m.keep(func(r SpanRecord) bool { return r.Status == status })
}

// WithStartAttribute keeps the spans started with the attribute.
func (m *SpanRecordMatcher) WithStartAttribute(key, value string) *SpanRecordMatcher {
	return m.keep(func(r SpanRecord) bool { return r.StartAttributes[key] == value })
}

// WithEndAttribute keeps the spans finished with the attribute.
func (m *SpanRecordMatcher) WithEndAttribute(key, value string) *SpanRecordMatcher {
	return m.keep(func(r SpanRecord) bool { return r.EndAttributes[key] == value })
}

func (m *SpanRecordMatcher) keep(accept func(SpanRecord) bool) *SpanRecordMatcher {
	kept := m.candidates[:0]
	for _, record := range m.candidates {
		if accept(record) {
			kept = append(kept, record)
		}
	}

	m.candidates = kept

	return m
}

// Assert returns true if all conditions in the fluent chain were met.
func (m *SpanRecordMatcher) Assert() bool {
	return len(m.candidates) > 0
}
