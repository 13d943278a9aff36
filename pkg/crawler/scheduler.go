package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/calque-ai/eventscout/pkg/scout"
)

// DefaultSchedule runs the crawl daily at 06:00.
const DefaultSchedule = "0 6 * * *"

// ErrRunning is returned by Trigger while another crawl is in progress.
var ErrRunning = errors.New("crawl already running")

// Runner performs one crawl. *Crawler implements it.
type Runner interface {
	Run(ctx context.Context) (*Summary, error)
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Spec is a five-field cron expression or a descriptor such as "@daily".
	Spec string

	// Location is the zone Spec is evaluated in. Default: UTC.
	Location *time.Location

	// Timeout bounds each scheduled run. Zero means no deadline.
	Timeout time.Duration
}

// Scheduler runs a Runner on a cron schedule and serializes every run, scheduled or
// triggered, so two crawls never overlap.
type Scheduler struct {
	runner  Runner
	config  SchedulerConfig
	cron    *cron.Cron
	running atomic.Bool

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	last   *Summary
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewScheduler validates the schedule and creates a stopped Scheduler.
func NewScheduler(runner Runner, config SchedulerConfig) (*Scheduler, error) {
	if config.Spec == "" {
		config.Spec = DefaultSchedule
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if _, err := parser.Parse(config.Spec); err != nil {
		return nil, fmt.Errorf("invalid crawl schedule %q: %w", config.Spec, err)
	}

	s := &Scheduler{
		runner: runner,
		config: config,
		cron:   cron.New(cron.WithParser(parser), cron.WithLocation(config.Location)),
	}
	if _, err := s.cron.AddFunc(config.Spec, s.scheduled); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins firing on schedule. Scheduled runs inherit the logger and values of ctx and
// stop when it is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	scout.LogInfo(ctx, "crawl scheduler started", "schedule", s.config.Spec, "next", s.Next())
}

// Stop halts the schedule, cancels a scheduled run in progress and waits for it to return
// or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	select {
	case <-done.Done():
		scout.LogInfo(ctx, "crawl scheduler stopped")
		return nil
	case <-ctx.Done():
		scout.LogWarn(ctx, "crawl scheduler stop timed out")
		return ctx.Err()
	}
}

// Next is the time of the next scheduled run, or zero when stopped.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Last returns the summary of the most recent completed run, if any.
func (s *Scheduler) Last() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Running reports whether a crawl is in progress.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Trigger runs a crawl now under ctx, or returns ErrRunning if one is in progress.
func (s *Scheduler) Trigger(ctx context.Context) (*Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunning
	}
	defer s.running.Store(false)

	summary, err := s.runner.Run(ctx)
	if summary != nil {
		s.mu.Lock()
		s.last = summary
		s.mu.Unlock()
	}
	return summary, err
}

func (s *Scheduler) scheduled() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	if _, err := s.Trigger(ctx); err != nil {
		if errors.Is(err, ErrRunning) {
			scout.LogWarn(ctx, "scheduled crawl skipped, previous run still in progress")
			return
		}
		scout.LogError(ctx, "scheduled crawl aborted", err)
	}
}
