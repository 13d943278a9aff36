package crawler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calque-ai/eventscout/pkg/cache"
	cachemem "github.com/calque-ai/eventscout/pkg/cache/memory"
	"github.com/calque-ai/eventscout/pkg/embedding"
	"github.com/calque-ai/eventscout/pkg/event"
	"github.com/calque-ai/eventscout/pkg/index"
	"github.com/calque-ai/eventscout/pkg/index/memory"
	"github.com/calque-ai/eventscout/pkg/llm"
	"github.com/calque-ai/eventscout/pkg/observability"
)

var now = time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

const musicAnswer = `Here is what I found:
{"events": [
	{"title": "Jazz Night", "category": "music", "date": "2025-11-05 20:00", "venue": "Hot Clube"},
	{"title": "Late Gig", "category": "music", "date": "2025-11-09"},
	{"title": "Open Mic", "category": "music", "date": "See Website"},
	{"title": "Old Show", "category": "music", "date": "2025-10-30"},
	{"title": "Edge Show", "category": "music", "date": "2025-11-08 23:00"}
]}`

const artAnswer = `{"events": [
	{"title": "jazz night ", "category": "music", "date": "2025-11-05 20:00"},
	{"title": "Gallery Walk", "date": "2025-11-02"}
]}`

var targets = []Target{
	{Label: "live music in Lisbon", Category: event.Music},
	{Label: "food markets in Lisbon", Category: event.Food},
	{Label: "art openings in Lisbon", Category: event.Art},
}

func newCrawler(t *testing.T, client llm.Client, embedder embedding.Client, idx index.Index, opts ...Option) *Crawler {
	t.Helper()
	cfg := DefaultConfig("Lisbon")
	cfg.Targets = targets
	cfg.WindowDays = 7
	c, err := New(Deps{LLM: client, Embedder: embedder, Index: idx}, cfg, append([]Option{WithClock(clock)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func date(y int, m time.Month, d, h, min int) *time.Time {
	t := time.Date(y, m, d, h, min, 0, 0, time.UTC)
	return &t
}

func TestRunWindowDedupAndFailures(t *testing.T) {
	client := llm.NewMockClient().
		Reply(musicAnswer).
		Fail(errors.New("provider unavailable")).
		Reply(artAnswer)
	idx := memory.New(index.WithClock(clock))
	metrics := observability.NewInMemoryMetrics()

	c := newCrawler(t, client, embedding.NewMockClient(8), idx, WithMetrics(metrics))
	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !summary.Window.Start.Equal(time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)) ||
		!summary.Window.End.Equal(time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("window = %v..%v", summary.Window.Start, summary.Window.End)
	}

	checks := []struct {
		name      string
		got, want int
	}{
		{"found", summary.Found, 7},
		{"unique", summary.Unique, 6},
		{"filtered", summary.Filtered, 2},
		{"embedded", summary.Embedded, 4},
		{"stored", summary.Stored, 4},
		{"duplicate", summary.Duplicate, 0},
		{"errors", summary.Errors, 0},
		{"failed jobs", summary.Failed, 1},
		{"reason in window", summary.Reasons[ReasonInWindow], 3},
		{"reason undated", summary.Reasons[ReasonUndated], 1},
		{"reason past", summary.Reasons[ReasonPast], 1},
		{"reason beyond", summary.Reasons[ReasonBeyond], 1},
		{"reason duplicate", summary.Reasons[ReasonDuplicate], 1},
		{"index size", idx.Len(), 4},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}

	food, ok := summary.Job("food markets in Lisbon")
	if !ok || food.Status != StatusFailed || food.Error == "" {
		t.Errorf("food job = %+v, want failed with error", food)
	}
	art, _ := summary.Job("art openings in Lisbon")
	if art.Status != StatusCompleted || art.Found != 2 || art.Unique != 1 || art.Stored != 1 {
		t.Errorf("art job = %+v", art)
	}

	ids := []string{
		event.IDFor("Jazz Night", date(2025, 11, 5, 20, 0)),
		event.IDFor("Open Mic", nil),
		event.IDFor("Edge Show", date(2025, 11, 8, 23, 0)),
		event.IDFor("Gallery Walk", date(2025, 11, 2, 0, 0)),
	}
	stored, err := idx.FetchByIDs(context.Background(), ids)
	if err != nil {
		t.Fatalf("FetchByIDs: %v", err)
	}
	if len(stored) != 4 {
		t.Fatalf("fetched %d events, want 4", len(stored))
	}
	expiry := time.Date(2025, 11, 9, 0, 0, 0, 0, time.UTC)
	for _, ev := range stored {
		if !ev.ExpiresAt.Equal(expiry) {
			t.Errorf("%s ExpiresAt = %v, want %v", ev.Title, ev.ExpiresAt, expiry)
		}
		if ev.Origin != event.OriginCrawl || !ev.Indexed() {
			t.Errorf("%s origin = %s, indexed = %v", ev.Title, ev.Origin, ev.Indexed())
		}
	}
	if gallery := stored[3]; gallery.Category != event.Art {
		t.Errorf("gallery category = %s, want the target's %s", gallery.Category, event.Art)
	}

	if got := metrics.CounterValue(observability.CrawlEventsTotal, observability.Labels{"stage": "stored"}); got != 4 {
		t.Errorf("stored counter = %d, want 4", got)
	}
	if got := metrics.CounterValue(observability.CrawlRunsTotal, observability.Labels{"status": "completed"}); got != 1 {
		t.Errorf("runs counter = %d, want 1", got)
	}
}

func TestRunCountsDuplicatesAcrossRuns(t *testing.T) {
	idx := memory.New(index.WithClock(clock))
	embedder := embedding.NewMockClient(8)

	first := newCrawler(t, llm.NewMockClient(musicAnswer, `{"events": []}`, artAnswer), embedder, idx)
	if _, err := first.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	second := newCrawler(t, llm.NewMockClient(musicAnswer, `{"events": []}`, `{"events": []}`), embedder, idx)
	summary, err := second.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Stored != 0 || summary.Duplicate != 3 {
		t.Errorf("stored = %d, duplicate = %d, want 0 and 3", summary.Stored, summary.Duplicate)
	}
	if idx.Len() != 4 {
		t.Errorf("index size = %d, want 4", idx.Len())
	}
}

func TestRunEmpty(t *testing.T) {
	client := llm.NewMockClient(`{"events": []}`, `no events this week`, `{"events": []}`)
	idx := memory.New(index.WithClock(clock))

	summary, err := newCrawler(t, client, embedding.NewMockClient(8), idx).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Stored != 0 || summary.Found != 0 {
		t.Errorf("summary = %+v, want empty", summary)
	}
	// an answer without JSON fails that target only
	if summary.Failed != 1 {
		t.Errorf("failed jobs = %d, want 1", summary.Failed)
	}
}

func TestRunEmbeddingFailureCountsErrors(t *testing.T) {
	client := llm.NewMockClient(musicAnswer, `{"events": []}`, `{"events": []}`)
	embedder := embedding.NewMockClient(8)
	embedder.Err = errors.New("quota exceeded")
	idx := memory.New(index.WithClock(clock))

	summary, err := newCrawler(t, client, embedder, idx).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Errors != 3 || summary.Stored != 0 || summary.Embedded != 0 {
		t.Errorf("errors = %d, stored = %d, embedded = %d; want 3, 0, 0", summary.Errors, summary.Stored, summary.Embedded)
	}
	if idx.Len() != 0 {
		t.Errorf("index size = %d, want 0", idx.Len())
	}
}

func TestRunEmbedsInBatches(t *testing.T) {
	client := llm.NewMockClient(musicAnswer, `{"events": []}`, artAnswer)
	embedder := embedding.NewMockClient(8)
	idx := memory.New(index.WithClock(clock))

	cfg := DefaultConfig("Lisbon")
	cfg.Targets = targets
	cfg.EmbedBatchSize = 3
	c, err := New(Deps{LLM: client, Embedder: embedder, Index: idx}, cfg, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	calls := embedder.Calls()
	if len(calls) != 2 || len(calls[0].Texts) != 3 || len(calls[1].Texts) != 1 {
		t.Fatalf("embed calls = %+v, want batches of 3 and 1", calls)
	}
	for _, call := range calls {
		if call.Mode != embedding.Document {
			t.Errorf("mode = %v, want document", call.Mode)
		}
	}
}

func TestRunSweepsCache(t *testing.T) {
	cacheNow := now.Add(-2 * time.Hour)
	rc := cache.New(cachemem.New(), cache.WithTTL(time.Hour), cache.WithClock(func() time.Time { return cacheNow }))
	if err := rc.Put(context.Background(), "old query", []string{"x"}, "old"); err != nil {
		t.Fatal(err)
	}
	cacheNow = now

	client := llm.NewMockClient(`{"events": []}`, `{"events": []}`, `{"events": []}`)
	cfg := DefaultConfig("")
	cfg.Targets = targets
	c, err := New(Deps{LLM: client, Embedder: embedding.NewMockClient(8), Index: memory.New(), Cache: rc}, cfg, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Swept != 1 {
		t.Errorf("Swept = %d, want 1", summary.Swept)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newCrawler(t, llm.NewMockClient(), embedding.NewMockClient(8), memory.New())
	summary, err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if summary == nil || len(summary.Jobs) != 0 {
		t.Errorf("summary = %+v, want no jobs", summary)
	}
}

func TestWindowCheck(t *testing.T) {
	w := NewWindow(now, 7, time.UTC)
	tests := []struct {
		name   string
		start  *time.Time
		keep   bool
		reason string
	}{
		{"undated", nil, true, ReasonUndated},
		{"today earlier", date(2025, 11, 1, 0, 30), true, ReasonInWindow},
		{"yesterday", date(2025, 10, 31, 23, 59), false, ReasonPast},
		{"last day late", date(2025, 11, 8, 23, 59), true, ReasonInWindow},
		{"day after", date(2025, 11, 9, 0, 0), false, ReasonBeyond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := event.Event{Title: "x", Start: tt.start}
			keep, reason := w.Check(&ev)
			if keep != tt.keep || reason != tt.reason {
				t.Errorf("Check = %v, %q; want %v, %q", keep, reason, tt.keep, tt.reason)
			}
		})
	}
}

func TestWindowLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	// 20:00 UTC on Nov 7 is already Nov 8 in loc, while 13:00 UTC is still Nov 7
	w := NewWindow(time.Date(2025, 11, 7, 20, 0, 0, 0, time.UTC), 0, loc)
	ev := event.Event{Start: date(2025, 11, 7, 13, 0)}
	if keep, reason := w.Check(&ev); keep || reason != ReasonPast {
		t.Errorf("Check = %v, %q; want past", keep, reason)
	}
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()
	idx := memory.New()
	events := []event.Event{
		{ID: "a", Title: "Seeded A"},
		{ID: "b", Title: "Seeded B"},
		{ID: "c", Title: "Seeded C"},
		{ID: "", Title: "No id"},
	}
	stored, err := Seed(ctx, idx, events)
	if stored != 3 || err == nil {
		t.Fatalf("Seed = %d, %v; want 3 and a validation error", stored, err)
	}

	embedder := embedding.NewMockClient(4)
	broken := events[1]
	embedder.FailOn(broken.EmbeddingText(), errors.New("bad input"))

	report, err := Backfill(ctx, embedder, idx, 2)
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	// b fails alone; a shares its page and is embedded one by one
	if report.Embedded != 2 || report.Failed != 1 {
		t.Errorf("report = %+v, want 2 embedded and b failed", report)
	}

	left, err := idx.Unembedded(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0].ID != "b" {
		t.Errorf("unembedded = %+v, want only b", left)
	}
}

// emptyVectors records calls but answers every text with an empty vector.
type emptyVectors struct {
	*embedding.MockClient
}

func (e emptyVectors) Embed(ctx context.Context, texts []string, mode embedding.Mode) ([][]float32, error) {
	if _, err := e.MockClient.Embed(ctx, texts, mode); err != nil {
		return nil, err
	}
	return make([][]float32, len(texts)), nil
}

// forgetfulIndex accepts vectors without storing them.
type forgetfulIndex struct {
	*memory.Index
}

func (forgetfulIndex) SetEmbedding(context.Context, string, []float32) error { return nil }

func TestBackfillTerminates(t *testing.T) {
	seeded := []event.Event{{ID: "a", Title: "Seeded A"}, {ID: "b", Title: "Seeded B"}}

	tests := []struct {
		name      string
		wrap      func(*embedding.MockClient) embedding.Client
		index     func(*memory.Index) index.Index
		wantCalls int
	}{
		{
			name:      "empty vectors",
			wrap:      func(m *embedding.MockClient) embedding.Client { return emptyVectors{m} },
			index:     func(m *memory.Index) index.Index { return m },
			wantCalls: 3, // the page, then each event alone
		},
		{
			name:      "vectors that do not persist",
			wrap:      func(m *embedding.MockClient) embedding.Client { return m },
			index:     func(m *memory.Index) index.Index { return forgetfulIndex{m} },
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			mem := memory.New()
			if _, err := Seed(ctx, mem, seeded); err != nil {
				t.Fatal(err)
			}
			mock := embedding.NewMockClient(4)

			report, err := Backfill(ctx, tt.wrap(mock), tt.index(mem), 10)
			if err != nil {
				t.Fatalf("Backfill: %v", err)
			}
			if report.Embedded != 0 || report.Failed != 2 {
				t.Errorf("report = %+v, want both events failed", report)
			}
			if got := len(mock.Calls()); got != tt.wantCalls {
				t.Errorf("embedder called %d times, want %d", got, tt.wantCalls)
			}
		})
	}
}

type fakeRunner struct {
	runs    atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context) (*Summary, error) {
	f.runs.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	return &Summary{Stored: 1}, nil
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	if _, err := NewScheduler(&fakeRunner{}, SchedulerConfig{Spec: "every day"}); err == nil {
		t.Fatal("expected an error for an invalid spec")
	}
}

func TestSchedulerTriggerSerializesRuns(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{}), release: make(chan struct{})}
	s, err := NewScheduler(runner, SchedulerConfig{})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Trigger(context.Background())
		done <- err
	}()
	<-runner.started

	if !s.Running() {
		t.Error("Running = false during a run")
	}
	if _, err := s.Trigger(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("second Trigger err = %v, want ErrRunning", err)
	}

	close(runner.release)
	if err := <-done; err != nil {
		t.Fatalf("first Trigger: %v", err)
	}
	if s.Running() {
		t.Error("Running = true after the run")
	}
	if last := s.Last(); last == nil || last.Stored != 1 {
		t.Errorf("Last = %+v", last)
	}
	if runner.runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runner.runs.Load())
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s, err := NewScheduler(&fakeRunner{}, SchedulerConfig{Spec: "@hourly"})
	if err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	if s.Next().IsZero() {
		t.Error("Next is zero after Start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
