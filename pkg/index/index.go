// Package index defines the event index: a store of events that answers similarity
// queries over their embeddings.
//
// Backends live in subpackages. memory and sqlite score with Cosine in process; pgvector
// and qdrant push the search down to the database.
//
// Every backend honours the same contract:
//   - Upsert is idempotent by event id and the last write wins.
//   - Only events with an embedding that have not expired are searchable.
//   - SimilaritySearch keeps scores strictly above the threshold, best first, at most limit.
//   - FetchByIDs resolves ids in request order and silently drops unknown or expired ids.
package index

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/calque-ai/eventscout/pkg/event"
)

// ErrNotFound is returned when an operation targets an id the index does not hold.
var ErrNotFound = errors.New("event not found")

// UpsertResult tells whether an upsert inserted a new row or replaced one.
type UpsertResult int

const (
	Created UpsertResult = iota + 1
	Updated
)

func (r UpsertResult) String() string {
	switch r {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// Match is one similarity hit.
type Match struct {
	Event event.Event
	Score float64
}

// Index is the event store used by the pipeline, discovery and the crawler.
type Index interface {
	// Upsert inserts or replaces ev by ID.
	Upsert(ctx context.Context, ev event.Event) (UpsertResult, error)

	// FetchByIDs returns the live events among ids, in the order requested.
	FetchByIDs(ctx context.Context, ids []string) ([]event.Event, error)

	// SimilaritySearch returns up to limit embedded, live events scoring strictly above
	// threshold, in descending score order.
	SimilaritySearch(ctx context.Context, vec []float32, threshold float64, limit int) ([]Match, error)

	// Unembedded lists up to limit live events that have no embedding yet.
	Unembedded(ctx context.Context, limit int) ([]event.Event, error)

	// SetEmbedding attaches vec to the event with the given id, or returns ErrNotFound.
	SetEmbedding(ctx context.Context, id string, vec []float32) error

	Close() error
}

// Options are shared by the backends.
type Options struct {
	// Now is the clock used for expiry checks.
	Now func() time.Time
}

// Option configures a backend.
type Option func(*Options)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{Now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Cosine returns the cosine similarity of a and b. Mismatched lengths and zero vectors
// score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Rank drops matches at or below threshold, sorts the rest best first (ties by id) and
// truncates to limit. A limit <= 0 keeps everything.
func Rank(matches []Match, threshold float64, limit int) []Match {
	kept := matches[:0]
	for _, m := range matches {
		if m.Score > threshold {
			kept = append(kept, m)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].Event.ID < kept[j].Event.ID
	})
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

// Order arranges events to follow ids, dropping ids with no event and repeated ids.
func Order(ids []string, events []event.Event) []event.Event {
	byID := make(map[string]event.Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}
	out := make([]event.Event, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if ev, ok := byID[id]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// Validate rejects events that cannot be stored.
func Validate(ev event.Event) error {
	if ev.ID == "" {
		return errors.New("event id is required")
	}
	if ev.Title == "" {
		return errors.New("event title is required")
	}
	return nil
}
