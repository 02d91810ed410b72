// Package metrics publishes per-run operational counts to
// warehouse.daily_metrics so one row summarizes each run date.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ecomm-io/warehouse/internal/config"
)

// Sentinel errors for metrics publishing.
var (
	ErrNoStore       = errors.New("metrics store is required")
	ErrPublishFailed = errors.New("metrics publish failed")
)

type (
	// Counts holds the per-layer row counts for one run date. The product
	// counts appear in the published summary log only; daily_metrics persists
	// the order and event columns.
	Counts struct {
		RawOrders       int64
		RawEvents       int64
		RawProducts     int64
		StagingOrders   int64
		StagingEvents   int64
		StagingProducts int64
		FactOrders      int64
		FactEvents      int64
	}

	// Snapshot is one warehouse.daily_metrics row.
	Snapshot struct {
		RunDate        string
		Counts         Counts
		FailedChecks   int64
		RuntimeSeconds float64
	}

	// Store is implemented by storage.MetricsStore.
	Store interface {
		// CollectCounts gathers layer row counts for the run date in one pass.
		CollectCounts(ctx context.Context, runDate string) (Counts, error)

		// FailedCheckCount counts audit.dq_failures rows for the run date.
		FailedCheckCount(ctx context.Context, runDate string) (int64, error)

		// UpsertDailyMetrics writes the snapshot, overwriting any previous
		// row for the run date.
		UpsertDailyMetrics(ctx context.Context, snapshot Snapshot) error
	}

	// Publisher assembles and writes one run date's metrics snapshot.
	Publisher struct {
		store  Store
		logger *slog.Logger
	}
)

// NewPublisher wires a metrics publisher over the metrics store.
func NewPublisher(store Store, logger *slog.Logger) (*Publisher, error) {
	if store == nil {
		return nil, ErrNoStore
	}

	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		}))
	}

	return &Publisher{store: store, logger: logger}, nil
}

// Publish collects counts across the raw, staging and warehouse layers plus
// the audit failure count and upserts the daily_metrics row. runtime is the
// measured wall time of the whole run; the caller owns the measurement.
func (p *Publisher) Publish(ctx context.Context, runDate string, runtime time.Duration) (Snapshot, error) {
	counts, err := p.store.CollectCounts(ctx, runDate)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: collect counts: %w", ErrPublishFailed, err)
	}

	failed, err := p.store.FailedCheckCount(ctx, runDate)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: count quality failures: %w", ErrPublishFailed, err)
	}

	snapshot := Snapshot{
		RunDate:        runDate,
		Counts:         counts,
		FailedChecks:   failed,
		RuntimeSeconds: runtime.Seconds(),
	}

	if err := p.store.UpsertDailyMetrics(ctx, snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("%w: upsert daily metrics: %w", ErrPublishFailed, err)
	}

	p.logger.Info("daily metrics published",
		slog.String("run_date", runDate),
		slog.Int64("raw_orders", counts.RawOrders),
		slog.Int64("staging_orders", counts.StagingOrders),
		slog.Int64("fact_orders", counts.FactOrders),
		slog.Int64("raw_events", counts.RawEvents),
		slog.Int64("staging_events", counts.StagingEvents),
		slog.Int64("fact_events", counts.FactEvents),
		slog.Int64("raw_products", counts.RawProducts),
		slog.Int64("staging_products", counts.StagingProducts),
		slog.Int64("failed_checks", failed),
		slog.Float64("runtime_seconds", snapshot.RuntimeSeconds),
	)

	return snapshot, nil
}
