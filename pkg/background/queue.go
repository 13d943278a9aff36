// Package background runs fire-and-forget work off the request path.
//
// Tasks are isolated: a task that fails or panics is logged and counted and never affects
// the others. Enqueue never blocks; when the buffer is full the task is dropped with a
// warning. Drain waits for everything queued so far, which tests and shutdown rely on.
package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/calque-ai/eventscout/pkg/scout"
)

// Config sizes the queue.
type Config struct {
	Workers int // default 4
	Buffer  int // default 256
}

// Task is one unit of background work.
type Task func(ctx context.Context) error

type job struct {
	name string
	ctx  context.Context
	run  Task
}

// Stats counts task outcomes since the queue was created.
type Stats struct {
	Completed int64
	Failed    int64
	Panicked  int64
	Dropped   int64
}

// Queue is a bounded worker pool.
type Queue struct {
	jobs chan job
	wg   sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	pending int
	idle    chan struct{}

	completed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
	dropped   atomic.Int64

	// OnDone, when set, observes every finished task. err is nil on success.
	OnDone func(name string, err error)
}

// New starts a queue with cfg.Workers workers.
func New(cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	idle := make(chan struct{})
	close(idle)

	q := &Queue{
		jobs: make(chan job, cfg.Buffer),
		idle: idle,
	}
	q.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go q.worker()
	}
	return q
}

// Enqueue schedules fn under name and reports whether it was accepted. The task runs with
// a context detached from ctx's cancellation that keeps its logger and request ids.
func (q *Queue) Enqueue(ctx context.Context, name string, fn Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.dropped.Add(1)
		scout.LogWarn(ctx, "background task dropped: queue closed", "task", name)
		return false
	}

	select {
	case q.jobs <- job{name: name, ctx: scout.Detach(ctx), run: fn}:
		if q.pending == 0 {
			q.idle = make(chan struct{})
		}
		q.pending++
		return true
	default:
		q.dropped.Add(1)
		scout.LogWarn(ctx, "background task dropped: queue full", "task", name)
		return false
	}
}

// Drain blocks until every accepted task has finished or ctx is done.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks, drains what is queued and stops the workers.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Panicked:  q.panicked.Load(),
		Dropped:   q.dropped.Load(),
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.run(j)
	}
}

func (q *Queue) run(j job) {
	defer q.finish()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				q.panicked.Add(1)
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return j.run(j.ctx)
	}()

	if err != nil {
		q.failed.Add(1)
		scout.LogError(j.ctx, "background task failed", err, slog.String("task", j.name))
	} else {
		q.completed.Add(1)
		scout.LogDebug(j.ctx, "background task completed", slog.String("task", j.name))
	}
	if q.OnDone != nil {
		q.OnDone(j.name, err)
	}
}

func (q *Queue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
}
