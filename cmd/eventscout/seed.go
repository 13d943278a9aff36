package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/calque-ai/eventscout/pkg/config"
	"github.com/calque-ai/eventscout/pkg/crawler"
	"github.com/calque-ai/eventscout/pkg/event"
	"github.com/calque-ai/eventscout/pkg/scout"
)

func newSeedCmd(loaded func() *config.Config) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load events from a JSON file and embed everything unembedded",
		Long: `Seed optionally loads a JSON array of events (title, date, location, ...)
into the index, then embeds every stored event that has no vector yet.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loaded()
			if err := cfg.RequireBackend(); err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			type result struct {
				Loaded   int `json:"loaded"`
				Embedded int `json:"embedded"`
				Failed   int `json:"failed"`
			}
			var res result

			if file != "" {
				events, err := readEvents(file, cfg)
				if err != nil {
					return err
				}
				res.Loaded, err = crawler.Seed(ctx, a.index, events)
				if err != nil {
					scout.LogWarn(ctx, "some events were not loaded", "error", err)
				}
			}

			report, err := a.backfill(ctx)
			res.Embedded, res.Failed = report.Embedded, report.Failed
			if jsonOutput {
				printJSON(res)
			} else {
				fmt.Printf("loaded %d, embedded %d, failed %d\n", res.Loaded, res.Embedded, res.Failed)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file of events to load before embedding")
	return cmd
}

func readEvents(path string, cfg *config.Config) ([]event.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	var raws []event.Raw
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("parse events %s: %w", path, err)
	}

	now := time.Now()
	events := make([]event.Event, 0, len(raws))
	for _, r := range raws {
		ev := r.Normalize(event.OriginUser, now, cfg.Location)
		if ev.Title == "" {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
