// Package memory is an in-process index.Index used by tests and the no-database mode.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/calque-ai/eventscout/pkg/event"
	"github.com/calque-ai/eventscout/pkg/index"
)

// Index keeps events in a map and scores them with index.Cosine.
type Index struct {
	mu     sync.RWMutex
	events map[string]event.Event
	opts   index.Options
}

var _ index.Index = (*Index)(nil)

// New creates an empty index.
func New(opts ...index.Option) *Index {
	return &Index{
		events: make(map[string]event.Event),
		opts:   index.NewOptions(opts...),
	}
}

// Upsert implements index.Index.
func (m *Index) Upsert(_ context.Context, ev event.Event) (index.UpsertResult, error) {
	if err := index.Validate(ev); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.events[ev.ID]
	m.events[ev.ID] = clone(ev)
	if exists {
		return index.Updated, nil
	}
	return index.Created, nil
}

// FetchByIDs implements index.Index.
func (m *Index) FetchByIDs(_ context.Context, ids []string) ([]event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.opts.Now()
	found := make([]event.Event, 0, len(ids))
	for _, id := range ids {
		if ev, ok := m.events[id]; ok && !ev.Expired(now) {
			found = append(found, clone(ev))
		}
	}
	return index.Order(ids, found), nil
}

// SimilaritySearch implements index.Index.
func (m *Index) SimilaritySearch(ctx context.Context, vec []float32, threshold float64, limit int) ([]index.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.opts.Now()
	var matches []index.Match
	for _, ev := range m.events {
		if !ev.Indexed() || ev.Expired(now) {
			continue
		}
		matches = append(matches, index.Match{Event: clone(ev), Score: index.Cosine(vec, ev.Embedding)})
	}
	return index.Rank(matches, threshold, limit), nil
}

// Unembedded implements index.Index. Events come back in id order.
func (m *Index) Unembedded(_ context.Context, limit int) ([]event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.opts.Now()
	var out []event.Event
	for _, ev := range m.events {
		if !ev.Indexed() && !ev.Expired(now) {
			out = append(out, clone(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetEmbedding implements index.Index.
func (m *Index) SetEmbedding(_ context.Context, id string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[id]
	if !ok {
		return index.ErrNotFound
	}
	ev.Embedding = append([]float32(nil), vec...)
	m.events[id] = ev
	return nil
}

// Len returns the number of stored events, expired ones included.
func (m *Index) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Health implements the readiness check.
func (m *Index) Health(context.Context) error { return nil }

// Close implements index.Index.
func (m *Index) Close() error { return nil }

func clone(ev event.Event) event.Event {
	ev.Embedding = append([]float32(nil), ev.Embedding...)
	ev.Tags = append([]string(nil), ev.Tags...)
	if len(ev.Embedding) == 0 {
		ev.Embedding = nil
	}
	if len(ev.Tags) == 0 {
		ev.Tags = nil
	}
	return ev
}
