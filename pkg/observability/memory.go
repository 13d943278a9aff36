package observability

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) Counter(context.Context, string, int64, map[string]string)                {}
func (NoopMetrics) Gauge(context.Context, string, float64, map[string]string)                {}
func (NoopMetrics) Histogram(context.Context, string, float64, map[string]string)            {}
func (NoopMetrics) RecordDuration(context.Context, string, time.Duration, map[string]string) {}

// NoopTracer creates spans that record nothing.
type NoopTracer struct{}

// StartSpan implements Tracer.
func (NoopTracer) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, Span) {
	return ctx, noopSpan{}
}

// Shutdown implements Tracer.
func (NoopTracer) Shutdown(context.Context) error { return nil }

type noopSpan struct{}

func (noopSpan) End(error)                       {}
func (noopSpan) SetAttribute(string, any)        {}
func (noopSpan) AddEvent(string, map[string]any) {}
func (noopSpan) SpanContext() SpanContext        { return SpanContext{} }

// InMemoryMetrics keeps metrics in maps so tests can assert on them.
//
// Example:
//
//	metrics := observability.NewInMemoryMetrics()
//	p := pipeline.New(deps, cfg, pipeline.WithMetrics(metrics))
//	...
//	if metrics.CounterValue(observability.QueriesTotal, observability.Labels{"path": "cache"}) != 1 { ... }
type InMemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewInMemoryMetrics creates an empty recorder.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

// Counter implements Metrics.
func (m *InMemoryMetrics) Counter(_ context.Context, name string, value int64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metricKey(name, labels)] += value
}

// Gauge implements Metrics.
func (m *InMemoryMetrics) Gauge(_ context.Context, name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metricKey(name, labels)] += value
}

// Histogram implements Metrics.
func (m *InMemoryMetrics) Histogram(_ context.Context, name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metricKey(name, labels)
	m.histograms[key] = append(m.histograms[key], value)
}

// RecordDuration implements Metrics.
func (m *InMemoryMetrics) RecordDuration(ctx context.Context, name string, duration time.Duration, labels map[string]string) {
	m.Histogram(ctx, name, duration.Seconds(), labels)
}

// CounterValue returns the counter for name and labels.
func (m *InMemoryMetrics) CounterValue(name string, labels map[string]string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[metricKey(name, labels)]
}

// GaugeValue returns the gauge for name and labels.
func (m *InMemoryMetrics) GaugeValue(name string, labels map[string]string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[metricKey(name, labels)]
}

// Observations returns a copy of the histogram samples for name and labels.
func (m *InMemoryMetrics) Observations(name string, labels map[string]string) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]float64(nil), m.histograms[metricKey(name, labels)]...)
}

// metricKey is order independent so label maps compare by content.
func metricKey(name string, labels map[string]string) string {
	names := labelNames(labels)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range names {
		b.WriteString("|" + k + "=" + labels[k])
	}
	return b.String()
}

// InMemoryTracer records finished spans for tests.
type InMemoryTracer struct {
	mu    sync.Mutex
	spans []*RecordedSpan
	seq   atomic.Int64
}

// RecordedSpan is a finished span.
type RecordedSpan struct {
	Name       string
	Kind       SpanKind
	Attributes map[string]any
	Events     []string
	Err        error
	Start, End time.Time
}

// NewInMemoryTracer creates an empty recorder.
func NewInMemoryTracer() *InMemoryTracer {
	return &InMemoryTracer{}
}

// StartSpan implements Tracer.
func (t *InMemoryTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	cfg := newSpanConfig(opts)
	span := &RecordedSpan{Name: name, Kind: cfg.kind, Attributes: cfg.attributes, Start: time.Now()}
	return ctx, &memorySpan{tracer: t, span: span, id: t.seq.Add(1)}
}

// Shutdown implements Tracer.
func (t *InMemoryTracer) Shutdown(context.Context) error { return nil }

// Spans returns the finished spans in end order.
func (t *InMemoryTracer) Spans() []*RecordedSpan {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*RecordedSpan(nil), t.spans...)
}

// Names returns the names of finished spans in end order.
func (t *InMemoryTracer) Names() []string {
	spans := t.Spans()
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name
	}
	return names
}

type memorySpan struct {
	tracer *InMemoryTracer
	span   *RecordedSpan
	id     int64
}

func (s *memorySpan) End(err error) {
	s.span.End = time.Now()
	s.span.Err = err
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.spans = append(s.tracer.spans, s.span)
}

func (s *memorySpan) SetAttribute(key string, value any) { s.span.Attributes[key] = value }

func (s *memorySpan) AddEvent(name string, _ map[string]any) {
	s.span.Events = append(s.span.Events, name)
}

func (s *memorySpan) SpanContext() SpanContext {
	return SpanContext{TraceID: "memory", SpanID: strconv.FormatInt(s.id, 10)}
}
