// Package pipeline answers a free-text query through the tiered retrieval state machine:
//
//	cache → embed → high-confidence search → low-confidence search → live discovery
//
// Each tier runs only when the previous one did not produce enough results. Confident
// matches go to the formatter; weak ones fall through to discovery, whose findings are
// stored in the background so the next similar query is answered from the index.
//
// Answers are cached whichever tier produced them, except when no event was found: an
// empty answer is not cached, so a later query can see events stored in the meantime.
//
// The pipeline calls its Embedder once per query. Retrying transient embedding failures is
// the embedder's job (see embedding.Resilient), so the Retry policy covers index reads only.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/calque-ai/eventscout/pkg/background"
	"github.com/calque-ai/eventscout/pkg/cache"
	"github.com/calque-ai/eventscout/pkg/ctrl"
	"github.com/calque-ai/eventscout/pkg/discovery"
	"github.com/calque-ai/eventscout/pkg/embedding"
	"github.com/calque-ai/eventscout/pkg/event"
	"github.com/calque-ai/eventscout/pkg/formatter"
	"github.com/calque-ai/eventscout/pkg/index"
	"github.com/calque-ai/eventscout/pkg/observability"
	"github.com/calque-ai/eventscout/pkg/scout"
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("query is required")

// Path names the tier that produced a result.
type Path string

const (
	PathCache     Path = "cache"
	PathHigh      Path = "high"
	PathLow       Path = "low"
	PathDiscovery Path = "discovery"
)

// SourceCache marks results served from the result cache.
const SourceCache = "cache"

// PersistTask is the background task name for storing discovered events.
const PersistTask = "persist-discovered"

// Thresholds are the similarity cut-offs of the two search tiers.
type Thresholds struct {
	High float64 `yaml:"high"`
	Low  float64 `yaml:"low"`
}

// Config holds the tier thresholds, limits and count gates.
type Config struct {
	Thresholds Thresholds `yaml:"thresholds"`

	// HighLimit and LowLimit cap the number of matches per tier.
	HighLimit int `yaml:"high_limit"`
	LowLimit  int `yaml:"low_limit"`

	// MinHigh is the number of high-confidence matches needed to skip the low tier.
	// MinLow is the number of merged matches needed to skip discovery.
	MinHigh int `yaml:"min_high"`
	MinLow  int `yaml:"min_low"`

	// Retry applies to index reads. Embedding retries belong to the Embedder.
	Retry ctrl.RetryPolicy `yaml:"-"`
}

// DefaultConfig returns the production tiers.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{High: 0.72, Low: 0.50},
		HighLimit:  10,
		LowLimit:   6,
		MinHigh:    3,
		MinLow:     2,
		Retry:      ctrl.DefaultRetryPolicy(),
	}
}

// Deps are the collaborators of a Pipeline. Cache and Queue are optional: without a cache
// every query is computed, without a queue discovered events are not stored.
type Deps struct {
	Cache     *cache.Cache
	Embedder  embedding.Client
	Index     index.Index
	Formatter *formatter.Formatter
	Discovery *discovery.Discovery
	Queue     *background.Queue
}

// Result is the answer to a query.
type Result struct {
	Text   string            `json:"text"`
	Events []event.Candidate `json:"events"`
	Source string            `json:"source,omitempty"`
	Path   Path              `json:"-"`
}

// Pipeline is safe for concurrent use; each Query runs its steps sequentially.
type Pipeline struct {
	deps    Deps
	config  Config
	now     func() time.Time
	metrics observability.Metrics
	tracer  observability.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithMetrics records per-path counters and durations.
func WithMetrics(m observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracer traces every step.
func WithTracer(t observability.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// New creates a Pipeline.
func New(deps Deps, config Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		deps:    deps,
		config:  config,
		now:     time.Now,
		metrics: observability.NoopMetrics{},
		tracer:  observability.NoopTracer{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the active configuration.
func (p *Pipeline) Config() Config { return p.config }

// Query answers query. Provider failures that survive the retry policy are returned; the
// formatter and discovery tiers never fail.
func (p *Pipeline) Query(ctx context.Context, query string) (res *Result, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	start := time.Now()
	ctx, span := p.tracer.StartSpan(ctx, "pipeline.query", observability.WithSpanKind(observability.SpanKindServer))
	defer func() {
		if res != nil {
			labels := observability.Labels{"path": string(res.Path)}
			span.SetAttribute("path", string(res.Path))
			span.SetAttribute("events", len(res.Events))
			p.metrics.Counter(ctx, observability.QueriesTotal, 1, labels)
			p.metrics.RecordDuration(ctx, observability.QueryDuration, time.Since(start), labels)
			scout.LogInfo(ctx, "query answered", "path", res.Path, "events", len(res.Events), "duration", time.Since(start))
		}
		span.End(err)
	}()

	if cached := p.fromCache(ctx, query); cached != nil {
		return cached, nil
	}

	vec, err := p.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, path, err := p.search(ctx, vec)
	if err != nil {
		return nil, err
	}

	now := p.now()
	if path == PathDiscovery {
		res = p.discover(ctx, query, now)
	} else {
		res = p.format(ctx, query, matches, now)
	}
	res.Path = path

	p.store(ctx, query, res)
	return res, nil
}

// fromCache returns the cached answer, or nil on a miss. Cache failures count as misses.
func (p *Pipeline) fromCache(ctx context.Context, query string) *Result {
	if p.deps.Cache == nil {
		return nil
	}
	entry, ok, err := p.deps.Cache.Get(ctx, query)
	if err != nil {
		scout.LogWarn(ctx, "cache lookup failed, treating as miss", "error", err)
		p.metrics.Counter(ctx, observability.QueryErrorsTotal, 1, observability.Labels{"stage": "cache"})
		return nil
	}
	if !ok {
		return nil
	}

	events, err := ctrl.RetryValue(ctx, p.config.Retry, "fetch cached events", func(ctx context.Context) ([]event.Event, error) {
		return p.deps.Index.FetchByIDs(ctx, entry.EventIDs)
	})
	if err != nil {
		scout.LogWarn(ctx, "cached events unavailable, recomputing", "error", err)
		return nil
	}

	ordered := index.Order(entry.EventIDs, events)
	return &Result{
		Text:   entry.Text,
		Events: event.Candidates(ordered),
		Source: SourceCache,
		Path:   PathCache,
	}
}

func (p *Pipeline) embed(ctx context.Context, query string) ([]float32, error) {
	ctx, span := p.tracer.StartSpan(ctx, "pipeline.embed", observability.WithSpanKind(observability.SpanKindClient))
	vec, err := embedding.EmbedOne(ctx, p.deps.Embedder, query, embedding.Query)
	span.End(err)
	if err != nil {
		p.metrics.Counter(ctx, observability.QueryErrorsTotal, 1, observability.Labels{"stage": "embed"})
		return nil, scout.WrapErr(ctx, err, "embed query failed").Tag(slog.String("embedder", p.deps.Embedder.Name()))
	}
	return vec, nil
}

// search runs the confidence tiers and picks the path.
func (p *Pipeline) search(ctx context.Context, vec []float32) ([]index.Match, Path, error) {
	cfg := p.config

	high, err := p.similar(ctx, vec, cfg.Thresholds.High, cfg.HighLimit)
	if err != nil {
		return nil, "", err
	}
	if len(high) >= cfg.MinHigh {
		return high, PathHigh, nil
	}

	low, err := p.similar(ctx, vec, cfg.Thresholds.Low, cfg.LowLimit)
	if err != nil {
		return nil, "", err
	}
	merged := Merge(high, low)
	scout.LogDebug(ctx, "confidence tiers", "high", len(high), "low", len(low), "merged", len(merged))
	if len(merged) >= cfg.MinLow {
		return merged, PathLow, nil
	}
	return nil, PathDiscovery, nil
}

func (p *Pipeline) similar(ctx context.Context, vec []float32, threshold float64, limit int) ([]index.Match, error) {
	ctx, span := p.tracer.StartSpan(ctx, "pipeline.search", observability.WithAttributes(map[string]any{
		"threshold": threshold,
		"limit":     limit,
	}))
	matches, err := ctrl.RetryValue(ctx, p.config.Retry, "similarity search", func(ctx context.Context) ([]index.Match, error) {
		return p.deps.Index.SimilaritySearch(ctx, vec, threshold, limit)
	})
	span.SetAttribute("matches", len(matches))
	span.End(err)
	if err != nil {
		p.metrics.Counter(ctx, observability.QueryErrorsTotal, 1, observability.Labels{"stage": "search"})
		return nil, scout.WrapErr(ctx, err, "similarity search failed").Tag(slog.Float64("threshold", threshold))
	}
	return matches, nil
}

// Merge keeps floor first and appends the matches of extra it does not already hold.
func Merge(floor, extra []index.Match) []index.Match {
	out := make([]index.Match, 0, len(floor)+len(extra))
	seen := make(map[string]bool, len(floor)+len(extra))
	for _, group := range [][]index.Match{floor, extra} {
		for _, m := range group {
			if seen[m.Event.ID] {
				continue
			}
			seen[m.Event.ID] = true
			out = append(out, m)
		}
	}
	return out
}

func (p *Pipeline) format(ctx context.Context, query string, matches []index.Match, now time.Time) *Result {
	ctx, span := p.tracer.StartSpan(ctx, "pipeline.format")
	defer span.End(nil)

	candidates := make([]event.Candidate, len(matches))
	for i := range matches {
		candidates[i] = matches[i].Event.Candidate()
	}
	out := p.deps.Formatter.Format(ctx, query, candidates, now)
	span.SetAttribute("fallback", out.Fallback)
	return &Result{Text: out.Text, Events: out.Events}
}

func (p *Pipeline) discover(ctx context.Context, query string, now time.Time) *Result {
	ctx, span := p.tracer.StartSpan(ctx, "pipeline.discover")
	defer span.End(nil)

	found := p.deps.Discovery.Run(ctx, query, now)
	span.SetAttribute("turns", found.Turns)
	span.SetAttribute("events", len(found.Events))

	if len(found.Events) > 0 {
		p.persist(ctx, found.Events)
	}
	return &Result{Text: found.Text, Events: event.Candidates(found.Events)}
}

// persist stores discovered events off the request path.
func (p *Pipeline) persist(ctx context.Context, events []event.Event) {
	if p.deps.Queue == nil {
		scout.LogDebug(ctx, "no background queue, discovered events not stored", "events", len(events))
		return
	}
	events = append([]event.Event(nil), events...)
	p.deps.Queue.Enqueue(ctx, PersistTask, func(ctx context.Context) error {
		_, err := discovery.Persist(ctx, p.deps.Embedder, p.deps.Index, events)
		return err
	})
}

// store writes the answer to the cache. Empty answers are not cached so a later query can
// pick up newly stored events.
func (p *Pipeline) store(ctx context.Context, query string, res *Result) {
	if p.deps.Cache == nil || len(res.Events) == 0 {
		return
	}
	ids := make([]string, len(res.Events))
	for i, c := range res.Events {
		ids[i] = c.ID
	}
	if err := p.deps.Cache.Put(ctx, query, ids, res.Text); err != nil {
		scout.LogWarn(ctx, "cache write failed", "error", err)
		p.metrics.Counter(ctx, observability.QueryErrorsTotal, 1, observability.Labels{"stage": "cache_write"})
	}
}
