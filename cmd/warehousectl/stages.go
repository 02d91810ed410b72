package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecomm-io/warehouse/internal/pipeline"
	"github.com/ecomm-io/warehouse/internal/quality"
)

// withApp handles the boilerplate shared by every per-stage subcommand.
func withApp(runDate *string, fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if err := validateRunDate(*runDate); err != nil {
			return err
		}

		a, err := newApp(newLogger())
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(cmd.Context(), a)
	}
}

func newExtractCmd(runDate *string) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract sources into the raw layer",
		RunE: withApp(runDate, func(ctx context.Context, a *app) error {
			stages := a.stages()

			sources := map[string]pipeline.StageFunc{
				"orders":   stages.ExtractOrders,
				"events":   stages.ExtractEvents,
				"products": stages.ExtractProducts,
			}

			names := []string{"orders", "events", "products"}
			if source != "all" {
				if _, ok := sources[source]; !ok {
					return fmt.Errorf("unknown source %q (orders, events, products or all)", source)
				}

				names = []string{source}
			}

			for _, name := range names {
				count, err := sources[name](ctx, *runDate)
				if err != nil {
					return fmt.Errorf("extract %s: %w", name, err)
				}

				a.logger.Info("extraction finished",
					slog.String("source", name),
					slog.String("run_date", *runDate),
					slog.Int("records", count),
				)
			}

			return nil
		}),
	}

	cmd.Flags().StringVar(&source, "source", "all", "source to extract (orders, events, products, all)")

	return cmd
}

func newTransformCmd(runDate *string) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Transform raw records into the staging layer",
		RunE: withApp(runDate, func(ctx context.Context, a *app) error {
			sources := map[string]pipeline.StageFunc{
				"orders":   a.orderTransformer.Run,
				"events":   a.eventTransformer.Run,
				"products": a.productTransformer.Run,
			}

			names := []string{"orders", "events", "products"}
			if source != "all" {
				if _, ok := sources[source]; !ok {
					return fmt.Errorf("unknown source %q (orders, events, products or all)", source)
				}

				names = []string{source}
			}

			for _, name := range names {
				count, err := sources[name](ctx, *runDate)
				if err != nil {
					return fmt.Errorf("transform %s: %w", name, err)
				}

				a.logger.Info("transform finished",
					slog.String("source", name),
					slog.String("run_date", *runDate),
					slog.Int("records", count),
				)
			}

			return nil
		}),
	}

	cmd.Flags().StringVar(&source, "source", "all", "source to transform (orders, events, products, all)")

	return cmd
}

func newQualityCmd(runDate *string) *cobra.Command {
	return &cobra.Command{
		Use:   "quality",
		Short: "Run the data quality gate against staging",
		RunE: withApp(runDate, func(ctx context.Context, a *app) error {
			result, err := a.checker.Run(ctx, *runDate)
			if err != nil {
				return err
			}

			if !result.Passed {
				return fmt.Errorf("%w: %s", quality.ErrGateFailed,
					strings.Join(result.FailedChecks(), ", "))
			}

			return nil
		}),
	}
}

func newDimensionsCmd(runDate *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dimensions",
		Short: "Load dim_product, dim_user and dim_date from staging",
		RunE: withApp(runDate, func(ctx context.Context, a *app) error {
			_, err := a.dimensionLoader.Run(ctx, *runDate)

			return err
		}),
	}
}

func newFactsCmd(runDate *string) *cobra.Command {
	return &cobra.Command{
		Use:   "facts",
		Short: "Replace fact_orders and fact_events for the run date",
		RunE: withApp(runDate, func(ctx context.Context, a *app) error {
			_, err := a.factLoader.Run(ctx, *runDate)

			return err
		}),
	}
}

func newMetricsCmd(runDate *string) *cobra.Command {
	var runtimeSeconds float64

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Publish the daily metrics row for the run date",
		RunE: withApp(runDate, func(ctx context.Context, a *app) error {
			runtime := time.Duration(runtimeSeconds * float64(time.Second))

			_, err := a.metricsPublisher.Publish(ctx, *runDate, runtime)

			return err
		}),
	}

	cmd.Flags().Float64Var(&runtimeSeconds, "runtime-seconds", 0,
		"measured pipeline runtime to record (set by the scheduler)")

	return cmd
}
