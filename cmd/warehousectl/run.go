package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func newRunCmd(runDate *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute the full pipeline for one run date",
		Long: `Runs extraction, staging transforms, the quality gate, dimension and fact
loads, and the metrics rollup as one DAG. A failed quality check aborts before
anything touches the warehouse. Safe to re-run for the same date.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateRunDate(*runDate); err != nil {
				return err
			}

			logger := newLogger()

			a, err := newApp(logger)
			if err != nil {
				return err
			}
			defer a.Close()

			runner, err := a.runner()
			if err != nil {
				return err
			}

			summary, err := runner.Run(cmd.Context(), *runDate)
			if err != nil {
				return err
			}

			logger.Info("pipeline summary",
				slog.String("run_date", summary.RunDate),
				slog.Int("staged_orders", summary.StagedOrders),
				slog.Int("staged_events", summary.StagedEvents),
				slog.Int("staged_products", summary.StagedProducts),
				slog.Int64("fact_orders", summary.Facts.OrdersInserted),
				slog.Int64("fact_events", summary.Facts.EventsInserted),
				slog.Duration("runtime", summary.Runtime),
			)

			return nil
		},
	}
}
