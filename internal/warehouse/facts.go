package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ecomm-io/warehouse/internal/config"
)

// FactLoader replaces fact_orders and fact_events for one run date.
//
// Loads are INSERT..SELECT from staging with dimension guards: a staged row
// referencing a missing dimension key is dropped, never errors. Re-running the
// load after the dimension gap closes picks the dropped rows back up.
type FactLoader struct {
	store  Store
	logger *slog.Logger
}

// NewFactLoader wires a fact loader over the warehouse store.
func NewFactLoader(store Store, logger *slog.Logger) (*FactLoader, error) {
	if store == nil {
		return nil, ErrNoStore
	}

	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		}))
	}

	return &FactLoader{store: store, logger: logger}, nil
}

// Run replaces both fact partitions for the run date and reports affected and
// dropped counts. Dropped rows are logged at warn so guard losses are visible
// without failing the run.
func (l *FactLoader) Run(ctx context.Context, runDate string) (FactCounts, error) {
	if _, err := ParseRunDate(runDate); err != nil {
		return FactCounts{}, err
	}

	var counts FactCounts

	stagedOrders, err := l.store.StagedOrderCount(ctx, runDate)
	if err != nil {
		return FactCounts{}, fmt.Errorf("%w: count staged orders: %w", ErrLoadFailed, err)
	}

	counts.OrdersDeleted, counts.OrdersInserted, err = l.store.ReplaceOrderFacts(ctx, runDate)
	if err != nil {
		return FactCounts{}, fmt.Errorf("%w: fact_orders: %w", ErrLoadFailed, err)
	}

	counts.OrdersDropped = int64(stagedOrders) - counts.OrdersInserted

	stagedEvents, err := l.store.StagedEventCount(ctx, runDate)
	if err != nil {
		return FactCounts{}, fmt.Errorf("%w: count staged events: %w", ErrLoadFailed, err)
	}

	counts.EventsDeleted, counts.EventsInserted, err = l.store.ReplaceEventFacts(ctx, runDate)
	if err != nil {
		return FactCounts{}, fmt.Errorf("%w: fact_events: %w", ErrLoadFailed, err)
	}

	counts.EventsDropped = int64(stagedEvents) - counts.EventsInserted

	l.logger.Info("facts loaded",
		slog.String("run_date", runDate),
		slog.Int64("orders_inserted", counts.OrdersInserted),
		slog.Int64("events_inserted", counts.EventsInserted),
	)

	if counts.OrdersDropped > 0 || counts.EventsDropped > 0 {
		l.logger.Warn("staged rows dropped by dimension guards",
			slog.String("run_date", runDate),
			slog.Int64("orders_dropped", counts.OrdersDropped),
			slog.Int64("events_dropped", counts.EventsDropped),
		)
	}

	return counts, nil
}
