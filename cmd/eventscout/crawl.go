package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/calque-ai/eventscout/pkg/config"
	"github.com/calque-ai/eventscout/pkg/crawler"
)

func newCrawlCmd(loaded func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loaded()
			if err := cfg.RequireBackend(); err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(cmd.Context()))

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.CrawlTimeout)
			defer cancel()

			summary, runErr := a.crawler.Run(ctx)
			if jsonOutput {
				printJSON(summary)
			} else {
				printSummary(summary)
			}
			return runErr
		},
	}
}

func printSummary(s *crawler.Summary) {
	if s == nil {
		return
	}
	for _, j := range s.Jobs {
		line := fmt.Sprintf("%-12s %-9s found=%d unique=%d filtered=%d stored=%d", j.Label, j.Status, j.Found, j.Unique, j.Filtered, j.Stored)
		if j.Error != "" {
			line += " error=" + j.Error
		}
		fmt.Println(line)
	}
	fmt.Printf("\nfound %d, unique %d, filtered %d, embedded %d, stored %d, duplicate %d, errors %d\n",
		s.Found, s.Unique, s.Filtered, s.Embedded, s.Stored, s.Duplicate, s.Errors)

	reasons := make([]string, 0, len(s.Reasons))
	for r := range s.Reasons {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Printf("  %-10s %d\n", r, s.Reasons[r])
	}
	fmt.Printf("took %s\n", s.Duration.Round(time.Millisecond))
}
