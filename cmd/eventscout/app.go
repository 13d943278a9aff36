package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/calque-ai/eventscout/pkg/background"
	"github.com/calque-ai/eventscout/pkg/cache"
	"github.com/calque-ai/eventscout/pkg/cache/badger"
	cachemem "github.com/calque-ai/eventscout/pkg/cache/memory"
	cachepg "github.com/calque-ai/eventscout/pkg/cache/postgres"
	cachesqlite "github.com/calque-ai/eventscout/pkg/cache/sqlite"
	"github.com/calque-ai/eventscout/pkg/config"
	"github.com/calque-ai/eventscout/pkg/crawler"
	"github.com/calque-ai/eventscout/pkg/ctrl"
	"github.com/calque-ai/eventscout/pkg/discovery"
	"github.com/calque-ai/eventscout/pkg/embedding"
	embedgemini "github.com/calque-ai/eventscout/pkg/embedding/gemini"
	embedollama "github.com/calque-ai/eventscout/pkg/embedding/ollama"
	embedopenai "github.com/calque-ai/eventscout/pkg/embedding/openai"
	"github.com/calque-ai/eventscout/pkg/formatter"
	"github.com/calque-ai/eventscout/pkg/helpers"
	"github.com/calque-ai/eventscout/pkg/index"
	"github.com/calque-ai/eventscout/pkg/index/memory"
	"github.com/calque-ai/eventscout/pkg/index/pgvector"
	"github.com/calque-ai/eventscout/pkg/index/qdrant"
	indexsqlite "github.com/calque-ai/eventscout/pkg/index/sqlite"
	"github.com/calque-ai/eventscout/pkg/llm"
	"github.com/calque-ai/eventscout/pkg/llm/gemini"
	"github.com/calque-ai/eventscout/pkg/llm/openai"
	"github.com/calque-ai/eventscout/pkg/observability"
	"github.com/calque-ai/eventscout/pkg/pipeline"
	"github.com/calque-ai/eventscout/pkg/scout"
	"github.com/calque-ai/eventscout/pkg/tools"
)

// app holds the long-lived clients of one process. Backend-dependent fields are nil when
// no backend is configured.
type app struct {
	cfg *config.Config

	prom   *observability.PrometheusProvider
	tracer observability.Tracer
	health *observability.HealthRegistry
	queue  *background.Queue

	index     index.Index
	cache     *cache.Cache
	embedder  embedding.Client
	chat      llm.Client
	pipeline  *pipeline.Pipeline
	crawler   *crawler.Crawler
	scheduler *crawler.Scheduler

	closers []func(context.Context) error
}

type healthChecker interface {
	Health(ctx context.Context) error
}

// newApp constructs every client. Providers are only required when a backend is set.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{
		cfg:    cfg,
		prom:   observability.NewPrometheusProvider(),
		tracer: observability.NoopTracer{},
		health: observability.NewHealthRegistry(5 * time.Second),
		queue:  background.New(background.Config{Workers: 4, Buffer: 256}),
	}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	if cfg.OTLPEndpoint != "" {
		tracer, err := observability.NewOTLPTracer(ctx, "eventscout", cfg.OTLPEndpoint, observability.WithServiceVersion(version))
		if err != nil {
			return nil, err
		}
		a.tracer = tracer
		a.closers = append(a.closers, tracer.Shutdown)
	}

	if !cfg.HasBackend() {
		scout.LogWarn(ctx, "no datastore configured, serving health checks only")
		return a, nil
	}

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}
	if err := a.openProviders(); err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(tools.NewWebSearch(tools.WebSearchConfig{BraveAPIKey: cfg.BraveAPIKey}))

	find := discovery.New(a.chat, registry, discovery.Config{Area: cfg.Area, Location: cfg.Location})
	format := formatter.New(a.chat, formatter.WithLocation(cfg.Location))

	a.pipeline = pipeline.New(pipeline.Deps{
		Cache:     a.cache,
		Embedder:  a.embedder,
		Index:     a.index,
		Formatter: format,
		Discovery: find,
		Queue:     a.queue,
	}, cfg.Pipeline, pipeline.WithMetrics(a.prom), pipeline.WithTracer(a.tracer))

	a.crawler, err = crawler.New(crawler.Deps{
		LLM:      a.chat,
		Tools:    registry,
		Embedder: a.embedder,
		Index:    a.index,
		Cache:    a.cache,
	}, cfg.Crawl, crawler.WithMetrics(a.prom))
	if err != nil {
		return nil, err
	}

	a.scheduler, err = crawler.NewScheduler(a.crawler, crawler.SchedulerConfig{
		Spec:     cfg.CrawlSchedule,
		Location: cfg.Location,
		Timeout:  cfg.CrawlTimeout,
	})
	if err != nil {
		return nil, err
	}

	scout.LogInfo(ctx, "backend ready",
		"index", cfg.Store.IndexBackend, "cache", cfg.Store.CacheBackend,
		"llm", cfg.LLM.Provider+"/"+cfg.LLM.Model, "embedding", cfg.Embedding.Provider+"/"+cfg.Embedding.Model,
		"web_search", registry.Names())
	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	cfg := a.cfg
	dims := cfg.Embedding.Dimensions

	var err error
	switch cfg.Store.IndexBackend {
	case config.IndexPGVector:
		a.index, err = pgvector.New(ctx, pgvector.Config{ConnectionString: cfg.Store.DatabaseURL, VectorDimension: dims})
	case config.IndexQdrant:
		a.index, err = qdrant.New(ctx, qdrant.Config{URL: cfg.Store.QdrantURL, APIKey: cfg.Store.QdrantAPIKey, VectorDimension: dims})
	case config.IndexSQLite:
		a.index, err = indexsqlite.Open(cfg.Store.SQLitePath)
	default:
		a.index = memory.New()
	}
	if err != nil {
		return fmt.Errorf("open %s index: %w", cfg.Store.IndexBackend, err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.index.Close() })
	if h, ok := a.index.(healthChecker); ok {
		a.health.RegisterFunc("index", h.Health)
	}

	var store cache.Store
	switch cfg.Store.CacheBackend {
	case config.CachePostgres:
		if pg, ok := a.index.(*pgvector.Index); ok {
			store, err = cachepg.New(ctx, pg.Pool(), cachepg.DefaultTable)
		} else {
			store, err = cachepg.Open(ctx, cfg.Store.DatabaseURL)
		}
	case config.CacheSQLite:
		if lite, ok := a.index.(*indexsqlite.Index); ok {
			store, err = cachesqlite.New(lite.DB())
		} else {
			store, err = cachesqlite.Open(cfg.Store.SQLitePath)
		}
	case config.CacheBadger:
		store, err = badger.Open(cfg.Store.BadgerPath)
	default:
		store = cachemem.New()
	}
	if err != nil {
		return fmt.Errorf("open %s cache: %w", cfg.Store.CacheBackend, err)
	}
	a.cache = cache.New(store, cache.WithTTL(cfg.Store.CacheTTL))
	// the cache closes before the index so a shared database outlives its borrower
	a.closers = append(a.closers, func(context.Context) error { return a.cache.Close() })
	if h, ok := store.(healthChecker); ok {
		a.health.RegisterFunc("cache", h.Health)
	}
	return nil
}

func (a *app) openProviders() error {
	cfg := a.cfg
	retry := ctrl.DefaultRetryPolicy()

	var chat llm.Client
	var err error
	switch cfg.LLM.Provider {
	case "gemini":
		chat, err = gemini.New(cfg.LLM.Model, gemini.WithConfig(&gemini.Config{APIKey: cfg.LLM.GoogleKey}))
	default:
		chat, err = openai.New(cfg.LLM.Model, openai.WithConfig(&openai.Config{
			APIKey:     cfg.LLM.OpenAIKey,
			BaseURL:    cfg.LLM.BaseURL,
			MaxRetries: helpers.PtrOf(0),
		}))
	}
	if err != nil {
		return fmt.Errorf("create %s chat client: %w", cfg.LLM.Provider, err)
	}
	a.chat = llm.NewResilient(chat, retry, cfg.RequestTimeout)

	var embedder embedding.Client
	switch cfg.Embedding.Provider {
	case "gemini":
		embedder, err = embedgemini.New(cfg.Embedding.Model,
			embedgemini.WithAPIKey(cfg.Embedding.APIKey), embedgemini.WithDimensions(cfg.Embedding.Dimensions))
	case "ollama":
		opts := []embedollama.Option{embedollama.WithDimensions(cfg.Embedding.Dimensions)}
		if cfg.Embedding.OllamaHost != "" {
			opts = append(opts, embedollama.WithHost(cfg.Embedding.OllamaHost))
		}
		embedder, err = embedollama.New(cfg.Embedding.Model, opts...)
	default:
		embedder, err = embedopenai.New(cfg.Embedding.Model,
			embedopenai.WithAPIKey(cfg.Embedding.APIKey), embedopenai.WithDimensions(cfg.Embedding.Dimensions))
	}
	if err != nil {
		return fmt.Errorf("create %s embedding client: %w", cfg.Embedding.Provider, err)
	}
	a.embedder = embedding.NewResilient(embedder, retry, cfg.RequestTimeout)
	return nil
}

// backfill embeds every unembedded event.
func (a *app) backfill(ctx context.Context) (crawler.BackfillReport, error) {
	if a.index == nil {
		return crawler.BackfillReport{}, config.ErrNoBackend
	}
	return crawler.Backfill(ctx, a.embedder, a.index, crawler.DefaultBackfillPage)
}

// close drains background work, then releases clients in reverse order of creation.
func (a *app) close(ctx context.Context) {
	var errs []error
	if err := a.queue.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain background queue: %w", err))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		scout.LogError(ctx, "shutdown incomplete", err)
	}
}
