// Package crawler fills the event index in batch: one LLM web-search conversation per
// category target, deduplicated across the run, filtered to a rolling window of days,
// embedded in chunks and upserted. It also hosts the seed backfill and the cron scheduler.
//
// A run is sequential and tolerant: a failing target marks its job failed, a failing event
// is counted, and the run carries on. Zero qualifying events is a successful empty run.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/calque-ai/eventscout/pkg/cache"
	"github.com/calque-ai/eventscout/pkg/ctrl"
	"github.com/calque-ai/eventscout/pkg/discovery"
	"github.com/calque-ai/eventscout/pkg/embedding"
	"github.com/calque-ai/eventscout/pkg/event"
	"github.com/calque-ai/eventscout/pkg/extract"
	"github.com/calque-ai/eventscout/pkg/index"
	"github.com/calque-ai/eventscout/pkg/llm"
	"github.com/calque-ai/eventscout/pkg/observability"
	"github.com/calque-ai/eventscout/pkg/scout"
	"github.com/calque-ai/eventscout/pkg/tools"
)

// Config tunes a crawl.
type Config struct {
	Targets []Target `yaml:"targets"`

	// WindowDays is the number of days after today kept by the window filter.
	WindowDays int `yaml:"window_days"`

	// EmbedBatchSize is the number of events per embedding call.
	EmbedBatchSize int `yaml:"embed_batch_size"`

	// SearchesPerMinute rate limits category searches.
	SearchesPerMinute int `yaml:"searches_per_minute"`

	// MaxTurns bounds each category conversation.
	MaxTurns int `yaml:"max_turns"`

	Area     string         `yaml:"area"`
	Location *time.Location `yaml:"-"`
}

// DefaultConfig returns the defaults for area.
func DefaultConfig(area string) Config {
	return Config{
		Targets:           DefaultTargets(area),
		WindowDays:        7,
		EmbedBatchSize:    100,
		SearchesPerMinute: 6,
		MaxTurns:          discovery.DefaultMaxTurns,
		Area:              area,
		Location:          time.UTC,
	}
}

// Deps are the collaborators of a Crawler. Cache is optional.
type Deps struct {
	LLM      llm.Client
	Tools    *tools.Registry
	Embedder embedding.Client
	Index    index.Index
	Cache    *cache.Cache
}

// Crawler runs batch crawls. Runs must not overlap; Scheduler enforces that.
type Crawler struct {
	deps    Deps
	config  Config
	search  *discovery.Discovery
	limiter *ctrl.RateLimiter
	now     func() time.Time
	metrics observability.Metrics
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Crawler) { c.now = now }
}

// WithMetrics records per-stage counters.
func WithMetrics(m observability.Metrics) Option {
	return func(c *Crawler) { c.metrics = m }
}

// New creates a Crawler.
func New(deps Deps, config Config, opts ...Option) (*Crawler, error) {
	if deps.LLM == nil || deps.Embedder == nil || deps.Index == nil {
		return nil, errors.New("crawler requires an LLM, an embedder and an index")
	}
	if config.WindowDays <= 0 {
		config.WindowDays = 7
	}
	if config.EmbedBatchSize <= 0 {
		config.EmbedBatchSize = 100
	}
	if config.SearchesPerMinute <= 0 {
		config.SearchesPerMinute = 6
	}
	if config.Location == nil {
		config.Location = time.UTC
	}

	limiter, err := ctrl.NewRateLimiter(config.SearchesPerMinute, time.Minute)
	if err != nil {
		return nil, err
	}

	c := &Crawler{
		deps:    deps,
		config:  config,
		limiter: limiter,
		now:     time.Now,
		metrics: observability.NoopMetrics{},
		search: discovery.New(deps.LLM, deps.Tools, discovery.Config{
			MaxTurns: config.MaxTurns,
			Area:     config.Area,
			Location: config.Location,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// candidate is a unique, window-accepted event and the job that found it.
type candidate struct {
	ev  event.Event
	job *Job
}

// Run performs one crawl. The error is non-nil only when ctx ends the run early; the
// summary then covers the work done so far.
func (c *Crawler) Run(ctx context.Context) (*Summary, error) {
	started := c.now()
	window := NewWindow(started, c.config.WindowDays, c.config.Location)
	summary := &Summary{
		Window:    window,
		Reasons:   make(map[string]int),
		StartedAt: started,
	}
	scout.LogInfo(ctx, "crawl started", "targets", len(c.config.Targets),
		"window_start", window.Start.Format(time.DateOnly), "window_end", window.End.Format(time.DateOnly))

	seen := make(map[string]bool)
	var kept []candidate
	var runErr error

	for _, target := range c.config.Targets {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if err := c.limiter.Wait(ctx); err != nil {
			runErr = err
			break
		}

		job := newJob(target, c.now())
		summary.Jobs = append(summary.Jobs, job)

		raws, err := c.searchTarget(ctx, target)
		if err != nil {
			job.fail(err, c.now())
			summary.Failed++
			scout.LogError(ctx, "category search failed", err, "target", target.Label)
			continue
		}

		job.Found = len(raws)
		for _, raw := range raws {
			if raw.Category == "" {
				raw.Category = string(target.Category)
			}
			ev := raw.Normalize(event.OriginCrawl, started, c.config.Location)
			if ev.Title == "" {
				continue
			}
			key := ev.DedupKey()
			if seen[key] {
				summary.Reasons[ReasonDuplicate]++
				continue
			}
			seen[key] = true
			job.Unique++

			keep, reason := window.Check(&ev)
			summary.Reasons[reason]++
			if !keep {
				job.Filtered++
				continue
			}
			ev.ExpiresAt = window.Expiry()
			kept = append(kept, candidate{ev: ev, job: job})
		}
		scout.LogInfo(ctx, "category searched", "target", target.Label, "found", job.Found, "unique", job.Unique, "filtered", job.Filtered)
	}

	if runErr == nil {
		runErr = c.store(ctx, kept)
	}

	for _, job := range summary.Jobs {
		job.complete(c.now())
		summary.Found += job.Found
		summary.Unique += job.Unique
		summary.Filtered += job.Filtered
		summary.Stored += job.Stored
		summary.Duplicate += job.Duplicate
		summary.Errors += job.Errors
	}
	for _, k := range kept {
		if len(k.ev.Embedding) > 0 {
			summary.Embedded++
		}
	}

	if runErr == nil {
		summary.Swept = c.sweep(ctx)
	}
	summary.Duration = c.now().Sub(started)
	c.record(ctx, summary, runErr)

	scout.LogInfo(ctx, "crawl finished",
		"found", summary.Found, "unique", summary.Unique, "filtered", summary.Filtered,
		"stored", summary.Stored, "duplicate", summary.Duplicate, "errors", summary.Errors,
		"failed_jobs", summary.Failed, "duration", summary.Duration)
	return summary, runErr
}

type searchAnswer struct {
	Events []event.Raw `json:"events"`
}

func (c *Crawler) searchTarget(ctx context.Context, target Target) ([]event.Raw, error) {
	state, err := c.search.Converse(ctx, target.Label, c.now())
	if err != nil {
		return nil, err
	}
	var a searchAnswer
	if err := extract.Decode(state.Final, &a); err != nil {
		return nil, fmt.Errorf("parse search answer: %w", err)
	}
	return a.Events, nil
}

// store embeds kept events chunk by chunk and upserts the embedded ones. A failed chunk
// counts its events as errors. Only a done ctx stops it early.
func (c *Crawler) store(ctx context.Context, kept []candidate) error {
	size := c.config.EmbedBatchSize
	for start := 0; start < len(kept); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := kept[start:min(start+size, len(kept))]

		texts := make([]string, len(chunk))
		for i := range chunk {
			texts[i] = chunk[i].ev.EmbeddingText()
		}
		vecs, err := embedding.EmbedChunked(ctx, c.deps.Embedder, texts, embedding.Document, size)
		if err != nil {
			scout.LogError(ctx, "embedding batch failed", err, "offset", start, "size", len(chunk))
			for i := range chunk {
				chunk[i].job.Errors++
			}
			continue
		}

		for i := range chunk {
			chunk[i].ev.Embedding = vecs[i]
			c.upsert(ctx, &chunk[i])
		}
	}
	return nil
}

func (c *Crawler) upsert(ctx context.Context, k *candidate) {
	result, err := c.deps.Index.Upsert(ctx, k.ev)
	switch {
	case err != nil:
		k.job.Errors++
		scout.LogError(ctx, "store event failed", err, "event_id", k.ev.ID, "title", k.ev.Title)
	case result == index.Created:
		k.job.Stored++
	default:
		k.job.Duplicate++
	}
}

func (c *Crawler) sweep(ctx context.Context) int {
	if c.deps.Cache == nil {
		return 0
	}
	n, err := c.deps.Cache.Sweep(ctx)
	if err != nil {
		scout.LogError(ctx, "cache sweep failed", err)
		return 0
	}
	return n
}

func (c *Crawler) record(ctx context.Context, s *Summary, runErr error) {
	status := "completed"
	if runErr != nil {
		status = "aborted"
	}
	c.metrics.Counter(ctx, observability.CrawlRunsTotal, 1, observability.Labels{"status": status})
	c.metrics.RecordDuration(ctx, observability.CrawlDuration, s.Duration, nil)
	for stage, n := range map[string]int{
		"found":     s.Found,
		"unique":    s.Unique,
		"filtered":  s.Filtered,
		"stored":    s.Stored,
		"duplicate": s.Duplicate,
		"error":     s.Errors,
	} {
		c.metrics.Counter(ctx, observability.CrawlEventsTotal, int64(n), observability.Labels{"stage": stage})
	}
}
