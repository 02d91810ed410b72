package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ecomm-io/warehouse/internal/config"
	"github.com/ecomm-io/warehouse/internal/metrics"
)

// Sentinel errors for metrics storage operations.
var (
	// ErrMetricsStoreFailed is returned when a metrics read or write fails.
	ErrMetricsStoreFailed = errors.New("metrics storage operation failed")

	// MetricsStore implements metrics.Store.
	_ metrics.Store = (*MetricsStore)(nil)
)

// MetricsStore reads layer counts across every schema and writes
// warehouse.daily_metrics.
type MetricsStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewMetricsStore creates a metrics store over the shared connection.
func NewMetricsStore(conn *Connection) (*MetricsStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &MetricsStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// CollectCounts gathers per-layer row counts for the run date in one query.
func (s *MetricsStore) CollectCounts(ctx context.Context, runDate string) (metrics.Counts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM raw.orders_json WHERE run_date = $1),
			(SELECT COUNT(*) FROM raw.events_csv WHERE run_date = $1),
			(SELECT COUNT(*) FROM raw.products_json WHERE run_date = $1),
			(SELECT COUNT(*) FROM staging.orders_clean WHERE load_date = $1),
			(SELECT COUNT(*) FROM staging.events_clean WHERE load_date = $1),
			(SELECT COUNT(*) FROM staging.products_clean WHERE load_date = $1),
			(SELECT COUNT(*) FROM warehouse.fact_orders WHERE load_date = $1),
			(SELECT COUNT(*) FROM warehouse.fact_events WHERE load_date = $1)`

	var counts metrics.Counts

	err := s.conn.QueryRowContext(ctx, query, runDate).Scan(
		&counts.RawOrders, &counts.RawEvents, &counts.RawProducts,
		&counts.StagingOrders, &counts.StagingEvents, &counts.StagingProducts,
		&counts.FactOrders, &counts.FactEvents,
	)
	if err != nil {
		return metrics.Counts{}, fmt.Errorf("%w: collect counts: %w", ErrMetricsStoreFailed, err)
	}

	return counts, nil
}

// FailedCheckCount counts quality failures recorded for the run date.
func (s *MetricsStore) FailedCheckCount(ctx context.Context, runDate string) (int64, error) {
	var count int64
	if err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit.dq_failures WHERE run_date = $1", runDate,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count failures: %w", ErrMetricsStoreFailed, err)
	}

	return count, nil
}

// UpsertDailyMetrics writes the run date's snapshot, overwriting any earlier one.
func (s *MetricsStore) UpsertDailyMetrics(ctx context.Context, snapshot metrics.Snapshot) error {
	query := `
		INSERT INTO warehouse.daily_metrics
			(run_date, raw_orders_count, staging_orders_count, fact_orders_count,
			 raw_events_count, staging_events_count, fact_events_count,
			 dq_failed_count, runtime_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_date) DO UPDATE SET
			raw_orders_count = EXCLUDED.raw_orders_count,
			staging_orders_count = EXCLUDED.staging_orders_count,
			fact_orders_count = EXCLUDED.fact_orders_count,
			raw_events_count = EXCLUDED.raw_events_count,
			staging_events_count = EXCLUDED.staging_events_count,
			fact_events_count = EXCLUDED.fact_events_count,
			dq_failed_count = EXCLUDED.dq_failed_count,
			runtime_seconds = EXCLUDED.runtime_seconds,
			updated_at = NOW()`

	_, err := s.conn.ExecContext(ctx, query,
		snapshot.RunDate,
		snapshot.Counts.RawOrders, snapshot.Counts.StagingOrders, snapshot.Counts.FactOrders,
		snapshot.Counts.RawEvents, snapshot.Counts.StagingEvents, snapshot.Counts.FactEvents,
		snapshot.FailedChecks, snapshot.RuntimeSeconds)
	if err != nil {
		return fmt.Errorf("%w: upsert daily metrics: %w", ErrMetricsStoreFailed, err)
	}

	s.logger.Debug("daily metrics upserted", slog.String("run_date", snapshot.RunDate))

	return nil
}
