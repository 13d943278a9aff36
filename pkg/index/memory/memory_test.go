package memory

import (
	"context"
	"testing"

	"github.com/calque-ai/eventscout/pkg/index"
	"github.com/calque-ai/eventscout/pkg/index/indextest"
)

func TestConformance(t *testing.T) {
	indextest.Run(t, func(*testing.T) index.Index {
		return New(index.WithClock(indextest.Clock))
	})
}

func TestStoredEventsAreCopies(t *testing.T) {
	ctx := context.Background()
	idx := New(index.WithClock(indextest.Clock))

	ev := indextest.Event("e1", "rave", []float32{1, 0, 0})
	if _, err := idx.Upsert(ctx, ev); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	ev.Embedding[0] = -1
	ev.Tags[0] = "mutated"

	got, _ := idx.FetchByIDs(ctx, []string{"e1"})
	if got[0].Embedding[0] != 1 || got[0].Tags[0] != "techno" {
		t.Errorf("stored event shares memory with caller: %+v", got[0])
	}

	got[0].Tags[0] = "mutated again"
	again, _ := idx.FetchByIDs(ctx, []string{"e1"})
	if again[0].Tags[0] != "techno" {
		t.Error("fetched event shares memory with the index")
	}
	if idx.Len() != 1 {
		t.Errorf("Len = %d, want 1", idx.Len())
	}
}
