// Package indextest is a conformance suite run against every index.Index backend.
package indextest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/calque-ai/eventscout/pkg/event"
	"github.com/calque-ai/eventscout/pkg/index"
)

// Dimensions is the vector length used by the suite.
const Dimensions = 3

// Now is the fixed clock backends under test must be built with.
var Now = time.Date(2025, 11, 9, 12, 0, 0, 0, time.UTC)

// Clock returns Now.
func Clock() time.Time { return Now }

// Factory builds an empty index whose clock returns Now.
type Factory func(t *testing.T) index.Index

// Event builds a live test event.
func Event(id, title string, vec []float32) event.Event {
	start := Now.Add(48 * time.Hour)
	return event.Event{
		ID:        id,
		Title:     title,
		Category:  event.Music,
		Start:     &start,
		Location:  "Lisbon",
		Tags:      []string{"techno"},
		Origin:    event.OriginCrawl,
		Embedding: vec,
		ExpiresAt: Now.Add(72 * time.Hour),
		CrawledAt: Now,
		UpdatedAt: Now,
	}
}

// Run executes the suite.
func Run(t *testing.T, newIndex Factory) {
	t.Run("upsert is idempotent", func(t *testing.T) { testUpsert(t, newIndex(t)) })
	t.Run("search threshold and order", func(t *testing.T) { testSearch(t, newIndex(t)) })
	t.Run("expired and unembedded", func(t *testing.T) { testVisibility(t, newIndex(t)) })
	t.Run("fetch by ids", func(t *testing.T) { testFetch(t, newIndex(t)) })
	t.Run("backfill", func(t *testing.T) { testBackfill(t, newIndex(t)) })
}

func testUpsert(t *testing.T, idx index.Index) {
	ctx := context.Background()
	ev := Event("e1", "Warehouse rave", []float32{1, 0, 0})

	res, err := idx.Upsert(ctx, ev)
	if err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}
	if res != index.Created {
		t.Errorf("first Upsert = %v, want created", res)
	}

	ev.Title = "Warehouse rave (sold out)"
	res, err = idx.Upsert(ctx, ev)
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if res != index.Updated {
		t.Errorf("second Upsert = %v, want updated", res)
	}

	got, err := idx.FetchByIDs(ctx, []string{"e1"})
	if err != nil {
		t.Fatalf("FetchByIDs failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("FetchByIDs returned %d events, want 1", len(got))
	}
	if got[0].Title != "Warehouse rave (sold out)" {
		t.Errorf("Title = %q, last write should win", got[0].Title)
	}
	if got[0].Category != event.Music || got[0].Location != "Lisbon" {
		t.Errorf("fields not preserved: %+v", got[0])
	}
	if got[0].Start == nil || !got[0].Start.Equal(*ev.Start) {
		t.Errorf("Start = %v, want %v", got[0].Start, ev.Start)
	}

	if _, err := idx.Upsert(ctx, event.Event{Title: "no id"}); err == nil {
		t.Error("Upsert without id should fail")
	}
}

func testSearch(t *testing.T, idx index.Index) {
	ctx := context.Background()
	events := []event.Event{
		Event("a", "exact", []float32{1, 0, 0}),
		Event("b", "close", []float32{0.8, 0.6, 0}),
		Event("c", "loose", []float32{0.6, 0.8, 0}),
		Event("d", "orthogonal", []float32{0, 1, 0}),
		Event("e", "opposite", []float32{-1, 0, 0}),
	}
	for _, ev := range events {
		if _, err := idx.Upsert(ctx, ev); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", ev.ID, err)
		}
	}
	query := []float32{1, 0, 0}

	tests := []struct {
		name      string
		threshold float64
		limit     int
		want      []string
	}{
		{"zero threshold is strict", 0, 10, []string{"a", "b", "c"}},
		{"limit caps", 0, 2, []string{"a", "b"}},
		{"high threshold", 0.7, 10, []string{"a", "b"}},
		{"only exact match", 0.999999, 10, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches, err := idx.SimilaritySearch(ctx, query, tt.threshold, tt.limit)
			if err != nil {
				t.Fatalf("SimilaritySearch failed: %v", err)
			}
			if got := ids(matches); !equal(got, tt.want) {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
			for i, m := range matches {
				if m.Score <= tt.threshold {
					t.Errorf("match %s score %v not above %v", m.Event.ID, m.Score, tt.threshold)
				}
				if i > 0 && m.Score > matches[i-1].Score {
					t.Errorf("matches not in descending order at %d", i)
				}
			}
		})
	}
}

func testVisibility(t *testing.T, idx index.Index) {
	ctx := context.Background()

	live := Event("live", "live", []float32{1, 0, 0})
	expired := Event("expired", "expired", []float32{1, 0, 0})
	expired.ExpiresAt = Now.Add(-time.Hour)
	bare := Event("bare", "no vector yet", nil)

	for _, ev := range []event.Event{live, expired, bare} {
		if _, err := idx.Upsert(ctx, ev); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", ev.ID, err)
		}
	}

	matches, err := idx.SimilaritySearch(ctx, []float32{1, 0, 0}, 0, 10)
	if err != nil {
		t.Fatalf("SimilaritySearch failed: %v", err)
	}
	if got := ids(matches); !equal(got, []string{"live"}) {
		t.Errorf("search ids = %v, want [live]", got)
	}

	got, err := idx.FetchByIDs(ctx, []string{"live", "expired", "bare"})
	if err != nil {
		t.Fatalf("FetchByIDs failed: %v", err)
	}
	if ids := eventIDs(got); !equal(ids, []string{"live", "bare"}) {
		t.Errorf("fetched ids = %v, want [live bare]", ids)
	}
}

func testFetch(t *testing.T, idx index.Index) {
	ctx := context.Background()
	for _, id := range []string{"x", "y", "z"} {
		if _, err := idx.Upsert(ctx, Event(id, "event "+id, []float32{0, 0, 1})); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", id, err)
		}
	}

	got, err := idx.FetchByIDs(ctx, []string{"z", "missing", "x", "z"})
	if err != nil {
		t.Fatalf("FetchByIDs failed: %v", err)
	}
	if ids := eventIDs(got); !equal(ids, []string{"z", "x"}) {
		t.Errorf("ids = %v, want [z x]", ids)
	}

	got, err = idx.FetchByIDs(ctx, nil)
	if err != nil || len(got) != 0 {
		t.Errorf("FetchByIDs(nil) = %v, %v", got, err)
	}
}

func testBackfill(t *testing.T, idx index.Index) {
	ctx := context.Background()
	for _, id := range []string{"p", "q"} {
		if _, err := idx.Upsert(ctx, Event(id, "seed "+id, nil)); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", id, err)
		}
	}
	if _, err := idx.Upsert(ctx, Event("r", "embedded", []float32{0, 1, 0})); err != nil {
		t.Fatalf("Upsert(r) failed: %v", err)
	}

	pending, err := idx.Unembedded(ctx, 10)
	if err != nil {
		t.Fatalf("Unembedded failed: %v", err)
	}
	if ids := eventIDs(pending); len(ids) != 2 {
		t.Fatalf("Unembedded = %v, want p and q", ids)
	}

	if err := idx.SetEmbedding(ctx, "p", []float32{0, 0, 1}); err != nil {
		t.Fatalf("SetEmbedding failed: %v", err)
	}
	if err := idx.SetEmbedding(ctx, "nope", []float32{0, 0, 1}); !errors.Is(err, index.ErrNotFound) {
		t.Errorf("SetEmbedding(unknown) = %v, want ErrNotFound", err)
	}

	pending, _ = idx.Unembedded(ctx, 10)
	if ids := eventIDs(pending); !equal(ids, []string{"q"}) {
		t.Errorf("Unembedded after SetEmbedding = %v, want [q]", ids)
	}

	matches, err := idx.SimilaritySearch(ctx, []float32{0, 0, 1}, 0.5, 10)
	if err != nil {
		t.Fatalf("SimilaritySearch failed: %v", err)
	}
	if got := ids(matches); !equal(got, []string{"p"}) {
		t.Errorf("search after SetEmbedding = %v, want [p]", got)
	}
}

func ids(matches []index.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Event.ID
	}
	return out
}

func eventIDs(events []event.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
