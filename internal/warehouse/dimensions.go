package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ecomm-io/warehouse/internal/config"
)

// DimensionLoader loads dim_product, dim_user and dim_date for one run date.
// The three loads are independent of each other; each is idempotent.
type DimensionLoader struct {
	store  Store
	logger *slog.Logger
}

// NewDimensionLoader wires a dimension loader over the warehouse store.
func NewDimensionLoader(store Store, logger *slog.Logger) (*DimensionLoader, error) {
	if store == nil {
		return nil, ErrNoStore
	}

	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		}))
	}

	return &DimensionLoader{store: store, logger: logger}, nil
}

// Run loads all three dimensions for the run date.
//
// dim_product: type-1 upsert from staged products (attributes overwritten,
// effective_from kept from the first insert). dim_user: user ids from staged
// orders, last_seen_date touched on conflict. dim_date: the run date's row
// inserted only if absent.
func (l *DimensionLoader) Run(ctx context.Context, runDate string) (DimensionCounts, error) {
	date, err := ParseRunDate(runDate)
	if err != nil {
		return DimensionCounts{}, err
	}

	var counts DimensionCounts

	counts.Products, err = l.store.UpsertProductDim(ctx, runDate)
	if err != nil {
		return DimensionCounts{}, fmt.Errorf("%w: dim_product: %w", ErrLoadFailed, err)
	}

	counts.Users, err = l.store.UpsertUserDim(ctx, runDate)
	if err != nil {
		return DimensionCounts{}, fmt.Errorf("%w: dim_user: %w", ErrLoadFailed, err)
	}

	counts.Dates, err = l.store.InsertDateDim(ctx, DeriveDateAttributes(date))
	if err != nil {
		return DimensionCounts{}, fmt.Errorf("%w: dim_date: %w", ErrLoadFailed, err)
	}

	l.logger.Info("dimensions loaded",
		slog.String("run_date", runDate),
		slog.Int64("products", counts.Products),
		slog.Int64("users", counts.Users),
		slog.Int64("dates", counts.Dates),
	)

	return counts, nil
}
