package crawler

import (
	"context"
	"errors"

	"github.com/calque-ai/eventscout/pkg/embedding"
	"github.com/calque-ai/eventscout/pkg/event"
	"github.com/calque-ai/eventscout/pkg/index"
	"github.com/calque-ai/eventscout/pkg/scout"
)

// DefaultBackfillPage is the number of events loaded per backfill page.
const DefaultBackfillPage = 50

// BackfillReport counts the outcome of a backfill.
type BackfillReport struct {
	Embedded int `json:"embedded"`
	Failed   int `json:"failed"`
}

// Backfill embeds every live event that has no vector yet, such as seeded rows inserted
// without one. Pages are loaded with Unembedded until none are left; an event that fails
// is skipped for the rest of the backfill so each page makes progress. A malformed vector
// counts as a failure, as does an event still reported unembedded after its vector was
// stored.
func Backfill(ctx context.Context, embedder embedding.Client, idx index.Index, pageSize int) (BackfillReport, error) {
	if pageSize <= 0 {
		pageSize = DefaultBackfillPage
	}

	var report BackfillReport
	failed := make(map[string]bool)
	done := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		page, err := idx.Unembedded(ctx, pageSize+len(failed))
		if err != nil {
			return report, scout.WrapErr(ctx, err, "load unembedded events")
		}

		pending := page[:0]
		for _, ev := range page {
			switch {
			case failed[ev.ID]:
			case done[ev.ID]:
				scout.LogWarn(ctx, "backfill vector did not persist", "event_id", ev.ID)
				failed[ev.ID] = true
				report.Embedded--
				report.Failed++
			default:
				pending = append(pending, ev)
			}
		}
		if len(pending) == 0 {
			break
		}

		texts := make([]string, len(pending))
		for i := range pending {
			texts[i] = pending[i].EmbeddingText()
		}
		vecs, err := embedding.EmbedChunked(ctx, embedder, texts, embedding.Document, pageSize)
		if err != nil {
			scout.LogWarn(ctx, "backfill page embedding failed, embedding one by one", "size", len(pending), "error", err)
		}

		for i := range pending {
			id := pending[i].ID
			var vec []float32
			if i < len(vecs) {
				vec = vecs[i]
			} else {
				vec, err = embedding.EmbedOne(ctx, embedder, texts[i], embedding.Document)
				if err != nil {
					if ctx.Err() != nil {
						return report, ctx.Err()
					}
					scout.LogError(ctx, "backfill embedding failed", err, "event_id", id)
					failed[id] = true
					report.Failed++
					continue
				}
			}
			if err := idx.SetEmbedding(ctx, id, vec); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return report, err
				}
				scout.LogError(ctx, "backfill store failed", err, "event_id", id)
				failed[id] = true
				report.Failed++
				continue
			}
			done[id] = true
			report.Embedded++
		}
	}

	scout.LogInfo(ctx, "backfill finished", "embedded", report.Embedded, "failed", report.Failed)
	return report, nil
}

// Seed upserts events without embeddings, for loading a fixture set before Backfill.
func Seed(ctx context.Context, idx index.Index, events []event.Event) (int, error) {
	var stored int
	var errs []error
	for _, ev := range events {
		ev.Embedding = nil
		if err := index.Validate(ev); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := idx.Upsert(ctx, ev); err != nil {
			errs = append(errs, err)
			continue
		}
		stored++
	}
	return stored, errors.Join(errs...)
}
