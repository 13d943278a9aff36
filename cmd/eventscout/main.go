// Command eventscout serves the event search API and runs crawls and seed backfills.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/calque-ai/eventscout/pkg/config"
	"github.com/calque-ai/eventscout/pkg/logger"
	"github.com/calque-ai/eventscout/pkg/scout"
)

var (
	version    = "dev"
	commit     = "none"
	buildDate  = "unknown"
	jsonOutput bool
	envFile    string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:   "eventscout",
		Short: "Conversational local event search",
		Long: `Eventscout answers natural-language questions about local events from a
vector index of crawled events, falling back to live web discovery when the
index has too little to say.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			var err error
			var files []string
			if envFile != "" {
				files = append(files, envFile)
			}
			cfg, err = config.Load(files...)
			if err != nil {
				return err
			}

			log := logger.New(os.Stderr, logger.Options{
				Level:   logger.ParseLevel(cfg.LogLevel),
				Console: cfg.LogFormat == "console",
				Service: "eventscout",
			})
			slog.SetDefault(log)
			cmd.SetContext(scout.WithLogger(cmd.Context(), log))
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env)")

	loaded := func() *config.Config { return cfg }
	rootCmd.AddCommand(
		newServeCmd(loaded),
		newCrawlCmd(loaded),
		newSeedCmd(loaded),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
				return
			}
			fmt.Printf("eventscout %s (%s, %s)\n", version, commit, buildDate)
		},
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
