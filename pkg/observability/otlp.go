package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// OTLPConfig configures the OTLP tracer.
type OTLPConfig struct {
	ServiceName    string
	ServiceVersion string

	// Endpoint is the collector address, e.g. "localhost:4317" (gRPC) or "localhost:4318"
	// (HTTP).
	Endpoint string

	// UseHTTP exports over HTTP instead of gRPC.
	UseHTTP bool

	// Insecure disables TLS. Default: true.
	Insecure bool

	Headers map[string]string

	// SampleRate is the fraction of traces recorded, 0 to 1. Default: 1.
	SampleRate float64

	// BatchTimeout is the export interval. Default: 5s.
	BatchTimeout time.Duration
}

// DefaultOTLPConfig returns the defaults for serviceName exporting to endpoint.
func DefaultOTLPConfig(serviceName, endpoint string) OTLPConfig {
	return OTLPConfig{
		ServiceName:    serviceName,
		ServiceVersion: "unknown",
		Endpoint:       endpoint,
		Insecure:       true,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}

// OTLPOption configures the OTLP tracer.
type OTLPOption func(*OTLPConfig)

// WithServiceVersion sets the service version resource attribute.
func WithServiceVersion(version string) OTLPOption {
	return func(cfg *OTLPConfig) { cfg.ServiceVersion = version }
}

// WithHTTPExporter exports over HTTP.
func WithHTTPExporter() OTLPOption {
	return func(cfg *OTLPConfig) { cfg.UseHTTP = true }
}

// WithSecure enables TLS.
func WithSecure() OTLPOption {
	return func(cfg *OTLPConfig) { cfg.Insecure = false }
}

// WithHeaders sets headers sent with every export.
func WithHeaders(headers map[string]string) OTLPOption {
	return func(cfg *OTLPConfig) { cfg.Headers = headers }
}

// WithSampleRate sets the sampling ratio.
func WithSampleRate(rate float64) OTLPOption {
	return func(cfg *OTLPConfig) { cfg.SampleRate = rate }
}

// OTLPTracer implements Tracer with the OpenTelemetry SDK.
type OTLPTracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewOTLPTracer creates a tracer exporting to endpoint and installs it as the global
// OpenTelemetry provider. Call Shutdown before exit to flush.
func NewOTLPTracer(ctx context.Context, serviceName, endpoint string, opts ...OTLPOption) (*OTLPTracer, error) {
	cfg := DefaultOTLPConfig(serviceName, endpoint)
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("otlp endpoint is required")
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &OTLPTracer{provider: provider, tracer: provider.Tracer(cfg.ServiceName)}, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func newExporter(ctx context.Context, cfg OTLPConfig) (*otlptrace.Exporter, error) {
	if cfg.UseHTTP {
		options := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			options = append(options, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			options = append(options, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.New(ctx, options...)
	}

	options := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		options = append(options, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		options = append(options, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, options...)
}

// StartSpan implements Tracer.
func (t *OTLPTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	cfg := newSpanConfig(opts)

	kind := trace.SpanKindInternal
	switch cfg.kind {
	case SpanKindServer:
		kind = trace.SpanKindServer
	case SpanKindClient:
		kind = trace.SpanKindClient
	}

	ctx, span := t.tracer.Start(ctx, name, trace.WithSpanKind(kind))
	for k, v := range cfg.attributes {
		span.SetAttributes(toAttribute(k, v))
	}
	return ctx, &otlpSpan{span: span}
}

// Shutdown flushes and stops the exporter.
func (t *OTLPTracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

type otlpSpan struct {
	span trace.Span
}

func (s *otlpSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

func (s *otlpSpan) SetAttribute(key string, value any) {
	s.span.SetAttributes(toAttribute(key, value))
}

func (s *otlpSpan) AddEvent(name string, attrs map[string]any) {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, toAttribute(k, v))
	}
	s.span.AddEvent(name, trace.WithAttributes(kvs...))
}

func (s *otlpSpan) SpanContext() SpanContext {
	sc := s.span.SpanContext()
	return SpanContext{TraceID: sc.TraceID().String(), SpanID: sc.SpanID().String()}
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case time.Duration:
		return attribute.String(key, v.String())
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
