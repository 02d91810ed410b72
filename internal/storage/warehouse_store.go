package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ecomm-io/warehouse/internal/config"
	"github.com/ecomm-io/warehouse/internal/warehouse"
)

// Sentinel errors for warehouse storage operations.
var (
	// ErrWarehouseStoreFailed is returned when a dimension or fact load fails.
	ErrWarehouseStoreFailed = errors.New("warehouse storage operation failed")

	// WarehouseStore implements warehouse.Store.
	_ warehouse.Store = (*WarehouseStore)(nil)
)

// WarehouseStore loads the star schema from staging. Fact loads run inside a
// transaction so a re-run never leaves a half-replaced partition.
type WarehouseStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewWarehouseStore creates a warehouse store over the shared connection.
func NewWarehouseStore(conn *Connection) (*WarehouseStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &WarehouseStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// UpsertProductDim applies the load date's staged product snapshots to
// dim_product. Type-1: attributes are overwritten, effective_from keeps its
// original value from the first insert.
func (s *WarehouseStore) UpsertProductDim(ctx context.Context, loadDate string) (int64, error) {
	query := `
		INSERT INTO warehouse.dim_product
			(product_id, product_name, category, brand, current_price, effective_from)
		SELECT product_id, product_name, category, brand, current_price, load_date
		FROM staging.products_clean
		WHERE load_date = $1
		ON CONFLICT (product_id) DO UPDATE SET
			product_name = EXCLUDED.product_name,
			category = EXCLUDED.category,
			brand = EXCLUDED.brand,
			current_price = EXCLUDED.current_price,
			updated_at = NOW()`

	result, err := s.conn.ExecContext(ctx, query, loadDate)
	if err != nil {
		return 0, fmt.Errorf("%w: upsert dim_product: %w", ErrWarehouseStoreFailed, err)
	}

	return rowsAffected(result)
}

// UpsertUserDim inserts user ids seen in the load date's staged orders and
// touches last_seen_date for users already present.
func (s *WarehouseStore) UpsertUserDim(ctx context.Context, loadDate string) (int64, error) {
	query := `
		INSERT INTO warehouse.dim_user (user_id, first_seen_date, last_seen_date)
		SELECT DISTINCT user_id, load_date, load_date
		FROM staging.orders_clean
		WHERE load_date = $1
		ON CONFLICT (user_id) DO UPDATE SET
			last_seen_date = GREATEST(warehouse.dim_user.last_seen_date, EXCLUDED.last_seen_date)`

	result, err := s.conn.ExecContext(ctx, query, loadDate)
	if err != nil {
		return 0, fmt.Errorf("%w: upsert dim_user: %w", ErrWarehouseStoreFailed, err)
	}

	return rowsAffected(result)
}

// InsertDateDim inserts the date row if absent. DO NOTHING keeps existing
// rows untouched: calendar attributes never change once written.
func (s *WarehouseStore) InsertDateDim(ctx context.Context, attrs warehouse.DateAttributes) (int64, error) {
	query := `
		INSERT INTO warehouse.dim_date
			(date_id, date, day, week, month, quarter, year, day_of_week, day_name, is_weekend)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (date_id) DO NOTHING`

	result, err := s.conn.ExecContext(ctx, query,
		attrs.DateID, attrs.Date, attrs.Day, attrs.Week, attrs.Month,
		attrs.Quarter, attrs.Year, attrs.DayOfWeek, attrs.DayName, attrs.IsWeekend)
	if err != nil {
		return 0, fmt.Errorf("%w: insert dim_date: %w", ErrWarehouseStoreFailed, err)
	}

	return rowsAffected(result)
}

// ReplaceOrderFacts deletes and reloads the load date's fact_orders
// partition in one transaction. Staged rows whose date, product or user keys
// do not resolve against the dimensions are dropped, not errored.
func (s *WarehouseStore) ReplaceOrderFacts(ctx context.Context, loadDate string) (int64, int64, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: begin: %w", ErrWarehouseStoreFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	delResult, err := tx.ExecContext(ctx,
		"DELETE FROM warehouse.fact_orders WHERE load_date = $1", loadDate)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: delete fact_orders: %w", ErrWarehouseStoreFailed, err)
	}

	deleted, err := rowsAffected(delResult)
	if err != nil {
		return 0, 0, err
	}

	insQuery := `
		INSERT INTO warehouse.fact_orders
			(order_id, user_id, product_id, date_id, quantity, unit_price, revenue, order_ts, status, load_date)
		SELECT o.order_id, o.user_id, o.product_id,
		       (EXTRACT(YEAR FROM o.order_ts)::int * 10000
		        + EXTRACT(MONTH FROM o.order_ts)::int * 100
		        + EXTRACT(DAY FROM o.order_ts)::int),
		       o.quantity, o.unit_price, o.revenue, o.order_ts, o.status, o.load_date
		FROM staging.orders_clean o
		WHERE o.load_date = $1
		  AND EXISTS (
		      SELECT 1 FROM warehouse.dim_date d
		      WHERE d.date_id = (EXTRACT(YEAR FROM o.order_ts)::int * 10000
		                         + EXTRACT(MONTH FROM o.order_ts)::int * 100
		                         + EXTRACT(DAY FROM o.order_ts)::int))
		  AND EXISTS (SELECT 1 FROM warehouse.dim_user u WHERE u.user_id = o.user_id)
		  AND EXISTS (SELECT 1 FROM warehouse.dim_product p WHERE p.product_id = o.product_id)`

	insResult, err := tx.ExecContext(ctx, insQuery, loadDate)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: insert fact_orders: %w", ErrWarehouseStoreFailed, err)
	}

	inserted, err := rowsAffected(insResult)
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("%w: commit: %w", ErrWarehouseStoreFailed, err)
	}

	return deleted, inserted, nil
}

// ReplaceEventFacts is ReplaceOrderFacts for fact_events. The product guard
// applies only when a product id is present; anonymous product-less events
// are legitimate.
func (s *WarehouseStore) ReplaceEventFacts(ctx context.Context, loadDate string) (int64, int64, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: begin: %w", ErrWarehouseStoreFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	delResult, err := tx.ExecContext(ctx,
		"DELETE FROM warehouse.fact_events WHERE load_date = $1", loadDate)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: delete fact_events: %w", ErrWarehouseStoreFailed, err)
	}

	deleted, err := rowsAffected(delResult)
	if err != nil {
		return 0, 0, err
	}

	insQuery := `
		INSERT INTO warehouse.fact_events
			(event_id, user_id, product_id, date_id, event_type, event_ts, load_date)
		SELECT e.event_id, e.user_id, e.product_id,
		       (EXTRACT(YEAR FROM e.event_ts)::int * 10000
		        + EXTRACT(MONTH FROM e.event_ts)::int * 100
		        + EXTRACT(DAY FROM e.event_ts)::int),
		       e.event_type, e.event_ts, e.load_date
		FROM staging.events_clean e
		WHERE e.load_date = $1
		  AND EXISTS (
		      SELECT 1 FROM warehouse.dim_date d
		      WHERE d.date_id = (EXTRACT(YEAR FROM e.event_ts)::int * 10000
		                         + EXTRACT(MONTH FROM e.event_ts)::int * 100
		                         + EXTRACT(DAY FROM e.event_ts)::int))
		  AND EXISTS (SELECT 1 FROM warehouse.dim_user u WHERE u.user_id = e.user_id)
		  AND (e.product_id IS NULL OR EXISTS (
		      SELECT 1 FROM warehouse.dim_product p WHERE p.product_id = e.product_id))`

	insResult, err := tx.ExecContext(ctx, insQuery, loadDate)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: insert fact_events: %w", ErrWarehouseStoreFailed, err)
	}

	inserted, err := rowsAffected(insResult)
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("%w: commit: %w", ErrWarehouseStoreFailed, err)
	}

	return deleted, inserted, nil
}

// StagedOrderCount counts staged orders for the load date, for drop accounting.
func (s *WarehouseStore) StagedOrderCount(ctx context.Context, loadDate string) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM staging.orders_clean WHERE load_date = $1", loadDate,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count staged orders: %w", ErrWarehouseStoreFailed, err)
	}

	return count, nil
}

// StagedEventCount counts staged events for the load date, for drop accounting.
func (s *WarehouseStore) StagedEventCount(ctx context.Context, loadDate string) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM staging.events_clean WHERE load_date = $1", loadDate,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count staged events: %w", ErrWarehouseStoreFailed, err)
	}

	return count, nil
}

func rowsAffected(result interface{ RowsAffected() (int64, error) }) (int64, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %w", ErrWarehouseStoreFailed, err)
	}

	return affected, nil
}
