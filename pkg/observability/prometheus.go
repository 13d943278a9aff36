package observability

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusProvider implements Metrics with the Prometheus client library. Vectors are
// created on first use; a name keeps the label names it was first recorded with.
type PrometheusProvider struct {
	mu         sync.RWMutex
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec

	durationBuckets []float64
}

// PrometheusOption configures the Prometheus provider.
type PrometheusOption func(*PrometheusProvider)

// WithDurationBuckets sets the histogram buckets.
func WithDurationBuckets(buckets []float64) PrometheusOption {
	return func(p *PrometheusProvider) {
		p.durationBuckets = buckets
	}
}

// WithPrometheusRegistry uses registry instead of a fresh one.
func WithPrometheusRegistry(registry *prometheus.Registry) PrometheusOption {
	return func(p *PrometheusProvider) {
		p.registry = registry
	}
}

// NewPrometheusProvider creates a provider with Go runtime and process collectors.
//
// Example:
//
//	metrics := observability.NewPrometheusProvider()
//	router.Handle("/metrics", metrics.Handler())
func NewPrometheusProvider(opts ...PrometheusOption) *PrometheusProvider {
	p := &PrometheusProvider{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		// LLM turns dominate, so the buckets reach further than the client default
		durationBuckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}
	for _, opt := range opts {
		opt(p)
	}

	p.registry.MustRegister(collectors.NewGoCollector())
	p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return p
}

// Counter implements Metrics.
func (p *PrometheusProvider) Counter(_ context.Context, name string, value int64, labels map[string]string) {
	vec := getOrCreate(p, p.counters, name, labels, func(names []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help(name)}, names)
	})
	vec.With(labels).Add(float64(value))
}

// Gauge implements Metrics.
func (p *PrometheusProvider) Gauge(_ context.Context, name string, value float64, labels map[string]string) {
	vec := getOrCreate(p, p.gauges, name, labels, func(names []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help(name)}, names)
	})
	vec.With(labels).Add(value)
}

// Histogram implements Metrics.
func (p *PrometheusProvider) Histogram(_ context.Context, name string, value float64, labels map[string]string) {
	p.histogram(name, labels).With(labels).Observe(value)
}

// RecordDuration implements Metrics.
func (p *PrometheusProvider) RecordDuration(_ context.Context, name string, duration time.Duration, labels map[string]string) {
	p.histogram(name, labels).With(labels).Observe(duration.Seconds())
}

func (p *PrometheusProvider) histogram(name string, labels map[string]string) *prometheus.HistogramVec {
	return getOrCreate(p, p.histograms, name, labels, func(names []string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    help(name),
			Buckets: p.durationBuckets,
		}, names)
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry.
func (p *PrometheusProvider) Registry() *prometheus.Registry {
	return p.registry
}

func getOrCreate[V prometheus.Collector](p *PrometheusProvider, vecs map[string]V, name string, labels map[string]string, create func([]string) V) V {
	p.mu.RLock()
	vec, ok := vecs[name]
	p.mu.RUnlock()
	if ok {
		return vec
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok = vecs[name]; ok {
		return vec
	}
	vec = create(labelNames(labels))
	p.registry.MustRegister(vec)
	vecs[name] = vec
	return vec
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func help(name string) string {
	return strings.ReplaceAll(strings.TrimPrefix(name, Namespace+"_"), "_", " ")
}
