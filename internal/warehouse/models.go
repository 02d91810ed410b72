// Package warehouse loads the star schema: dimension upserts from staging and
// guarded fact loads, one run date at a time.
package warehouse

import (
	"context"
	"errors"
)

// Sentinel errors for warehouse loading.
var (
	ErrNoStore        = errors.New("warehouse store is required")
	ErrInvalidRunDate = errors.New("run date must be formatted YYYY-MM-DD")
	ErrLoadFailed     = errors.New("warehouse load failed")
)

type (
	// Store is the warehouse persistence layer. Implemented by
	// storage.WarehouseStore; all SQL lives there.
	Store interface {
		// UpsertProductDim applies the run date's staged product snapshots to
		// dim_product (type-1: overwrite attributes, keep effective_from).
		UpsertProductDim(ctx context.Context, loadDate string) (int64, error)

		// UpsertUserDim inserts user ids seen in the run date's staged orders
		// and touches last_seen_date for the rest.
		UpsertUserDim(ctx context.Context, loadDate string) (int64, error)

		// InsertDateDim inserts the date row if absent. Existing rows are
		// never overwritten. Returns 1 when inserted, 0 when already present.
		InsertDateDim(ctx context.Context, attrs DateAttributes) (int64, error)

		// ReplaceOrderFacts deletes the run date's fact_orders partition and
		// reloads it from staging, dropping rows whose dimension keys do not
		// resolve. Returns (deleted, inserted).
		ReplaceOrderFacts(ctx context.Context, loadDate string) (int64, int64, error)

		// ReplaceEventFacts is ReplaceOrderFacts for fact_events. Events with
		// a NULL product_id are kept; the product guard applies only when a
		// product id is present.
		ReplaceEventFacts(ctx context.Context, loadDate string) (int64, int64, error)

		// StagedOrderCount and StagedEventCount report staging volume so fact
		// loads can log how many source rows were dropped by the guards.
		StagedOrderCount(ctx context.Context, loadDate string) (int, error)
		StagedEventCount(ctx context.Context, loadDate string) (int, error)
	}

	// DimensionCounts reports rows affected by one dimension load pass.
	DimensionCounts struct {
		Products int64
		Users    int64
		Dates    int64
	}

	// FactCounts reports rows affected by one fact load pass. Dropped counts
	// are staged rows excluded by the referential guards.
	FactCounts struct {
		OrdersDeleted  int64
		OrdersInserted int64
		OrdersDropped  int64
		EventsDeleted  int64
		EventsInserted int64
		EventsDropped  int64
	}
)
