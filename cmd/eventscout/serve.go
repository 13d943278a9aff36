package main

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/calque-ai/eventscout/pkg/auth"
	"github.com/calque-ai/eventscout/pkg/config"
	"github.com/calque-ai/eventscout/pkg/scout"
	"github.com/calque-ai/eventscout/pkg/server"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(loaded func() *config.Config) *cobra.Command {
	var schedule bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := loaded()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				a.close(closeCtx)
			}()

			srv, err := newServer(a, cfg)
			if err != nil {
				return err
			}

			if a.scheduler != nil && (schedule || cfg.CrawlSchedule != "") {
				a.scheduler.Start(ctx)
				scout.LogInfo(ctx, "crawl scheduled", "next", a.scheduler.Next())
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
					defer cancel()
					if err := a.scheduler.Stop(stopCtx); err != nil {
						scout.LogError(ctx, "scheduler stop", err)
					}
				}()
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			var crawls sync.WaitGroup
			if a.scheduler != nil && cfg.CrawlOnStart {
				crawls.Go(func() { startupCrawl(ctx, a, cfg.CrawlTimeout) })
			}

			err = srv.ListenAndServe(ctx, net.JoinHostPort("", cfg.Port), shutdownTimeout)
			cancel()
			crawls.Wait()
			return err
		},
	}
	cmd.Flags().BoolVar(&schedule, "schedule", false, "run the crawl schedule even when CRAWL_SCHEDULE is unset")
	return cmd
}

func newServer(a *app, cfg *config.Config) (*server.Server, error) {
	deps := server.Deps{
		Queue:          a.queue,
		Secret:         auth.NewSharedSecret(cfg.CronSecret),
		Health:         a.health,
		Metrics:        a.prom,
		MetricsHandler: a.prom.Handler(),
	}
	if a.pipeline != nil {
		deps.Pipeline = a.pipeline
		deps.Crawl = a.scheduler
		deps.Seed = a.backfill
	}
	if cfg.GoogleClientID != "" {
		verifier, err := auth.NewGoogleVerifier(cfg.GoogleClientID)
		if err != nil {
			return nil, err
		}
		deps.Verifier = verifier
	}

	return server.New(deps, server.Config{
		CrawlTimeout:   cfg.CrawlTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
	}), nil
}

func startupCrawl(ctx context.Context, a *app, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := a.scheduler.Trigger(ctx); err != nil {
		scout.LogError(ctx, "startup crawl", err)
	}
}
