package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/ecomm-io/warehouse/internal/config"
	"github.com/ecomm-io/warehouse/internal/warehouse"
)

// Build-time version information, set with -ldflags.
var (
	Version   = "1.0.0-dev"
	GitCommit = "unknown"
)

func newRootCmd() *cobra.Command {
	var runDate string

	root := &cobra.Command{
		Use:     "warehousectl",
		Short:   "E-commerce warehouse pipeline operations",
		Version: Version + " (" + GitCommit + ")",
		Long: `warehousectl drives the daily batch pipeline: extraction into the raw
layer, staging transforms, the data quality gate, star schema loads and the
daily metrics rollup. Each stage is idempotent for a given run date.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&runDate, "run-date", time.Now().UTC().Format(warehouse.RunDateLayout),
		"run date to process (YYYY-MM-DD)")

	root.AddCommand(
		newRunCmd(&runDate),
		newExtractCmd(&runDate),
		newTransformCmd(&runDate),
		newQualityCmd(&runDate),
		newDimensionsCmd(&runDate),
		newFactsCmd(&runDate),
		newMetricsCmd(&runDate),
		newPollCmd(),
		newGenerateCmd(),
	)

	return root
}

// newLogger builds the process logger. LOG_FORMAT=console switches to a
// human-readable handler for local runs; the default is JSON for log
// pipelines.
func newLogger() *slog.Logger {
	level := config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo)

	if config.GetEnvStr("LOG_FORMAT", "json") == "console" {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
