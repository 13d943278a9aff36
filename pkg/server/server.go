// Package server exposes the HTTP API:
//
//	POST /api/chat         answer a query through the pipeline
//	POST /api/crawl        run one crawl now (bearer secret)
//	POST /api/seed         embed seeded events in the background (bearer secret)
//	POST /api/auth/google  verify a Google ID token
//	GET  /health           liveness
//	GET  /health/ready     dependency checks
//	GET  /metrics          Prometheus exposition
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/calque-ai/eventscout/pkg/auth"
	"github.com/calque-ai/eventscout/pkg/background"
	"github.com/calque-ai/eventscout/pkg/crawler"
	"github.com/calque-ai/eventscout/pkg/observability"
	"github.com/calque-ai/eventscout/pkg/pipeline"
	"github.com/calque-ai/eventscout/pkg/scout"
)

// Querier answers chat queries. *pipeline.Pipeline implements it.
type Querier interface {
	Query(ctx context.Context, query string) (*pipeline.Result, error)
}

// CrawlTrigger runs a crawl on demand. *crawler.Scheduler implements it.
type CrawlTrigger interface {
	Trigger(ctx context.Context) (*crawler.Summary, error)
}

// SeedFunc embeds seeded events. It runs on the background queue.
type SeedFunc func(ctx context.Context) (crawler.BackfillReport, error)

// SeedTask is the background task name of /api/seed.
const SeedTask = "seed-backfill"

// Deps are the collaborators of the server. Pipeline, Crawl and Seed are nil when no
// backend is configured.
type Deps struct {
	Pipeline Querier
	Crawl    CrawlTrigger
	Seed     SeedFunc
	Queue    *background.Queue

	// Verifier is nil when Google sign-in is not configured.
	Verifier auth.Verifier
	Secret   *auth.SharedSecret

	Health         *observability.HealthRegistry
	Metrics        observability.Metrics
	MetricsHandler http.Handler
}

// Config tunes the HTTP surface.
type Config struct {
	// CrawlTimeout bounds /api/crawl. Default 5 minutes.
	CrawlTimeout time.Duration

	// AllowedOrigins are the CORS origins; "*" allows any.
	AllowedOrigins []string

	// MaxBodyBytes caps request bodies. Default 64 KiB.
	MaxBodyBytes int64
}

// Server routes requests to the handlers.
type Server struct {
	deps   Deps
	config Config
	router *chi.Mux
	now    func() time.Time
}

// New builds the router.
func New(deps Deps, config Config) *Server {
	if config.CrawlTimeout <= 0 {
		config.CrawlTimeout = 5 * time.Minute
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 64 << 10
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NoopMetrics{}
	}
	if deps.Secret == nil {
		deps.Secret = auth.NewSharedSecret("")
	}
	if deps.Health == nil {
		deps.Health = observability.NewHealthRegistry(5 * time.Second)
	}

	s := &Server{deps: deps, config: config, router: chi.NewRouter(), now: time.Now}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RealIP)
	s.router.Use(requestID)
	s.router.Use(s.accessLog)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors(s.config.AllowedOrigins))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/health/ready", s.handleReady)
	if s.deps.MetricsHandler != nil {
		s.router.Method(http.MethodGet, "/metrics", s.deps.MetricsHandler)
	}

	s.router.Post("/api/chat", s.handleChat)
	s.router.Post("/api/auth/google", s.handleGoogleAuth)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireSecret)
		r.Post("/api/crawl", s.handleCrawl)
		r.Post("/api/seed", s.handleSeed)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully within
// shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		scout.LogInfo(ctx, "http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	scout.LogInfo(ctx, "http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
