package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/calque-ai/eventscout/pkg/embedding"
	"github.com/calque-ai/eventscout/pkg/event"
	"github.com/calque-ai/eventscout/pkg/index"
	"github.com/calque-ai/eventscout/pkg/scout"
)

// PersistReport counts the outcome of Persist.
type PersistReport struct {
	Created int
	Updated int
	Failed  int
}

// Persist embeds each event in document mode and upserts it. Events are independent: a
// failure is logged and counted and the rest continue. The returned error joins the
// per-event failures and is nil when all succeeded.
func Persist(ctx context.Context, embedder embedding.Client, idx index.Index, events []event.Event) (PersistReport, error) {
	var (
		report PersistReport
		errs   []error
	)
	for i := range events {
		ev := events[i]
		result, err := persistOne(ctx, embedder, idx, &ev)
		if err != nil {
			report.Failed++
			errs = append(errs, err)
			scout.LogError(ctx, "persist discovered event failed", err, "event_id", ev.ID, "title", ev.Title)
			continue
		}
		if result == index.Created {
			report.Created++
		} else {
			report.Updated++
		}
	}

	scout.LogInfo(ctx, "persisted discovered events",
		"created", report.Created, "updated", report.Updated, "failed", report.Failed)
	return report, errors.Join(errs...)
}

func persistOne(ctx context.Context, embedder embedding.Client, idx index.Index, ev *event.Event) (index.UpsertResult, error) {
	if err := index.Validate(*ev); err != nil {
		return 0, err
	}
	vec, err := embedding.EmbedOne(ctx, embedder, ev.EmbeddingText(), embedding.Document)
	if err != nil {
		return 0, fmt.Errorf("embed %s: %w", ev.ID, err)
	}
	ev.Embedding = vec
	result, err := idx.Upsert(ctx, *ev)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", ev.ID, err)
	}
	return result, nil
}
