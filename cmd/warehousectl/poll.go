package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/ecomm-io/warehouse/internal/config"
	"github.com/ecomm-io/warehouse/internal/warehouse"
)

const defaultPollInterval = 5 * time.Minute

// newPollCmd polls the catalog API on an interval, landing products, orders
// and synthetic events in the raw layer for today's run date. The daily batch
// picks them up on its next transform. Individual poll failures are logged
// and the loop continues.
func newPollCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Continuously poll the catalog API into the raw layer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()

			a, err := newApp(logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			limiter := rate.NewLimiter(rate.Every(interval), 1)

			logger.Info("api polling started", slog.Duration("interval", interval))

			for {
				if err := limiter.Wait(ctx); err != nil {
					if errors.Is(err, context.Canceled) {
						logger.Info("api polling stopped")

						return nil
					}

					return err
				}

				runDate := time.Now().UTC().Format(warehouse.RunDateLayout)
				pollOnce(ctx, a, runDate)
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval",
		config.GetEnvDuration("POLL_INTERVAL", defaultPollInterval),
		"time between catalog API polls")

	return cmd
}

func pollOnce(ctx context.Context, a *app, runDate string) {
	polls := []struct {
		name string
		fn   func(context.Context, string) (int, error)
	}{
		{"products", a.apiExtractor.ExtractProducts},
		{"orders", a.apiExtractor.ExtractOrders},
		{"events", a.apiExtractor.ExtractEvents},
	}

	for _, poll := range polls {
		count, err := poll.fn(ctx, runDate)
		if err != nil {
			a.logger.Error("api poll failed",
				slog.String("source", poll.name),
				slog.String("run_date", runDate),
				slog.String("error", err.Error()),
			)

			continue
		}

		a.logger.Info("api poll finished",
			slog.String("source", poll.name),
			slog.String("run_date", runDate),
			slog.Int("records", count),
		)
	}
}
