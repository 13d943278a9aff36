// Package observability carries eventscout's metrics, tracing and readiness checks.
//
// Metrics go through the Metrics interface (Prometheus in production, in-memory in tests),
// spans through Tracer (OpenTelemetry OTLP or no-op) and dependency checks through the
// HealthRegistry served on /health/ready.
package observability

import (
	"context"
	"time"
)

// Metric names recorded by eventscout. All carry the Namespace prefix.
const (
	Namespace = "eventscout"

	QueriesTotal      = Namespace + "_queries_total"          // labels: path
	QueryDuration     = Namespace + "_query_duration_seconds" // labels: path
	QueryErrorsTotal  = Namespace + "_query_errors_total"     // labels: stage
	CrawlEventsTotal  = Namespace + "_crawl_events_total"     // labels: stage
	CrawlRunsTotal    = Namespace + "_crawl_runs_total"       // labels: status
	CrawlDuration     = Namespace + "_crawl_duration_seconds"
	BackgroundTasks   = Namespace + "_background_tasks_total"        // labels: task, status
	HTTPRequestsTotal = Namespace + "_http_requests_total"           // labels: route, method, status
	HTTPDuration      = Namespace + "_http_request_duration_seconds" // labels: route
)

// Metrics records counters, gauges and histograms.
type Metrics interface {
	// Counter adds value to a monotonically increasing counter.
	Counter(ctx context.Context, name string, value int64, labels map[string]string)

	// Gauge adds value (negative to decrease) to a gauge.
	Gauge(ctx context.Context, name string, value float64, labels map[string]string)

	// Histogram observes value.
	Histogram(ctx context.Context, name string, value float64, labels map[string]string)

	// RecordDuration observes duration in seconds.
	RecordDuration(ctx context.Context, name string, duration time.Duration, labels map[string]string)
}

// Tracer starts spans.
type Tracer interface {
	// StartSpan returns a context carrying the new span, for child spans.
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)

	// Shutdown flushes pending spans.
	Shutdown(ctx context.Context) error
}

// Span is one traced operation. End must be called exactly once.
type Span interface {
	End(err error)
	SetAttribute(key string, value any)
	AddEvent(name string, attrs map[string]any)
	SpanContext() SpanContext
}

// SpanContext identifies a span for log correlation.
type SpanContext struct {
	TraceID string
	SpanID  string
}

// SpanKind mirrors the OpenTelemetry span kinds eventscout uses.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
)

// SpanOption configures span creation.
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind       SpanKind
	attributes map[string]any
}

func newSpanConfig(opts []SpanOption) *spanConfig {
	cfg := &spanConfig{kind: SpanKindInternal, attributes: make(map[string]any)}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithSpanKind sets the kind of span.
func WithSpanKind(kind SpanKind) SpanOption {
	return func(cfg *spanConfig) { cfg.kind = kind }
}

// WithAttributes sets initial attributes on the span.
func WithAttributes(attrs map[string]any) SpanOption {
	return func(cfg *spanConfig) {
		for k, v := range attrs {
			cfg.attributes[k] = v
		}
	}
}

// Labels is a metric label set.
type Labels map[string]string

// Merge returns a new set with other's values taking precedence.
func (l Labels) Merge(other Labels) Labels {
	result := make(Labels, len(l)+len(other))
	for k, v := range l {
		result[k] = v
	}
	for k, v := range other {
		result[k] = v
	}
	return result
}
