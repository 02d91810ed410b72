package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ecomm-io/warehouse/internal/config"
	"github.com/ecomm-io/warehouse/internal/quality"
	"github.com/ecomm-io/warehouse/internal/transform"
)

// upsertChunkSize bounds multi-row VALUES statements; Postgres caps bind
// parameters at 65535 and the widest staging upsert binds 9 per row.
const upsertChunkSize = 500

// Sentinel errors for staging storage operations.
var (
	// ErrStagingStoreFailed is returned when a staging write or read fails.
	ErrStagingStoreFailed = errors.New("staging storage operation failed")

	// StagingStore implements transform.StagingStore (replace-per-load-date writes).
	_ transform.StagingStore = (*StagingStore)(nil)

	// StagingStore implements quality.Source (check queries).
	_ quality.Source = (*StagingStore)(nil)
)

// StagingStore persists the cleaned staging tables and answers the quality
// gate's queries over them.
type StagingStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewStagingStore creates a staging store over the shared connection.
func NewStagingStore(conn *Connection) (*StagingStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &StagingStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// DeleteStagedOrders clears the load date's orders partition.
func (s *StagingStore) DeleteStagedOrders(ctx context.Context, loadDate string) (int64, error) {
	return s.deletePartition(ctx, "staging.orders_clean", loadDate)
}

// DeleteStagedEvents clears the load date's events partition.
func (s *StagingStore) DeleteStagedEvents(ctx context.Context, loadDate string) (int64, error) {
	return s.deletePartition(ctx, "staging.events_clean", loadDate)
}

// DeleteStagedProducts clears the load date's products partition.
func (s *StagingStore) DeleteStagedProducts(ctx context.Context, loadDate string) (int64, error) {
	return s.deletePartition(ctx, "staging.products_clean", loadDate)
}

func (s *StagingStore) deletePartition(ctx context.Context, table, loadDate string) (int64, error) {
	//nolint:gosec // table names come from the fixed set above, never user input
	query := "DELETE FROM " + table + " WHERE load_date = $1"

	result, err := s.conn.ExecContext(ctx, query, loadDate)
	if err != nil {
		return 0, fmt.Errorf("%w: delete from %s: %w", ErrStagingStoreFailed, table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %w", ErrStagingStoreFailed, err)
	}

	return deleted, nil
}

// UpsertStagedOrders writes cleaned orders in chunked multi-row upserts.
// Conflict on (order_id, load_date) overwrites every non-key column.
func (s *StagingStore) UpsertStagedOrders(ctx context.Context, rows []transform.StagedOrder) (int, error) {
	total := 0

	for start := 0; start < len(rows); start += upsertChunkSize {
		chunk := rows[start:min(start+upsertChunkSize, len(rows))]

		const cols = 9

		placeholders := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*cols)

		for i, row := range chunk {
			placeholders = append(placeholders, valuesTuple(i*cols, cols))
			args = append(args,
				row.OrderID, row.UserID, row.ProductID, row.Quantity,
				row.UnitPrice, row.Revenue, row.OrderTS, row.Status, row.LoadDate)
		}

		query := `
			INSERT INTO staging.orders_clean
				(order_id, user_id, product_id, quantity, unit_price, revenue, order_ts, status, load_date)
			VALUES ` + strings.Join(placeholders, ", ") + `
			ON CONFLICT (order_id, load_date) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				product_id = EXCLUDED.product_id,
				quantity = EXCLUDED.quantity,
				unit_price = EXCLUDED.unit_price,
				revenue = EXCLUDED.revenue,
				order_ts = EXCLUDED.order_ts,
				status = EXCLUDED.status,
				updated_at = NOW()`

		if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("%w: upsert staged orders: %w", ErrStagingStoreFailed, err)
		}

		total += len(chunk)
	}

	return total, nil
}

// UpsertStagedEvents writes cleaned events in chunked multi-row upserts.
func (s *StagingStore) UpsertStagedEvents(ctx context.Context, rows []transform.StagedEvent) (int, error) {
	total := 0

	for start := 0; start < len(rows); start += upsertChunkSize {
		chunk := rows[start:min(start+upsertChunkSize, len(rows))]

		const cols = 6

		placeholders := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*cols)

		for i, row := range chunk {
			placeholders = append(placeholders, valuesTuple(i*cols, cols))
			args = append(args,
				row.EventID, row.UserID, row.ProductID, row.EventType, row.EventTS, row.LoadDate)
		}

		query := `
			INSERT INTO staging.events_clean
				(event_id, user_id, product_id, event_type, event_ts, load_date)
			VALUES ` + strings.Join(placeholders, ", ") + `
			ON CONFLICT (event_id, load_date) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				product_id = EXCLUDED.product_id,
				event_type = EXCLUDED.event_type,
				event_ts = EXCLUDED.event_ts,
				updated_at = NOW()`

		if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("%w: upsert staged events: %w", ErrStagingStoreFailed, err)
		}

		total += len(chunk)
	}

	return total, nil
}

// UpsertStagedProducts writes cleaned product snapshots in chunked multi-row upserts.
func (s *StagingStore) UpsertStagedProducts(ctx context.Context, rows []transform.StagedProduct) (int, error) {
	total := 0

	for start := 0; start < len(rows); start += upsertChunkSize {
		chunk := rows[start:min(start+upsertChunkSize, len(rows))]

		const cols = 6

		placeholders := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*cols)

		for i, row := range chunk {
			placeholders = append(placeholders, valuesTuple(i*cols, cols))
			args = append(args,
				row.ProductID, row.Name, row.Category, row.Brand, row.CurrentPrice, row.LoadDate)
		}

		query := `
			INSERT INTO staging.products_clean
				(product_id, product_name, category, brand, current_price, load_date)
			VALUES ` + strings.Join(placeholders, ", ") + `
			ON CONFLICT (product_id, load_date) DO UPDATE SET
				product_name = EXCLUDED.product_name,
				category = EXCLUDED.category,
				brand = EXCLUDED.brand,
				current_price = EXCLUDED.current_price,
				updated_at = NOW()`

		if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("%w: upsert staged products: %w", ErrStagingStoreFailed, err)
		}

		total += len(chunk)
	}

	return total, nil
}

// StagedOrderCount counts the load date's staged orders.
func (s *StagingStore) StagedOrderCount(ctx context.Context, loadDate string) (int, error) {
	return s.countQuery(ctx,
		"SELECT COUNT(*) FROM staging.orders_clean WHERE load_date = $1", loadDate)
}

// StagedEventCount counts the load date's staged events.
func (s *StagingStore) StagedEventCount(ctx context.Context, loadDate string) (int, error) {
	return s.countQuery(ctx,
		"SELECT COUNT(*) FROM staging.events_clean WHERE load_date = $1", loadDate)
}

// DuplicateOrderKeys counts order ids appearing more than once for the load
// date. The unique constraint makes this structurally zero; the check guards
// against schema drift.
func (s *StagingStore) DuplicateOrderKeys(ctx context.Context, loadDate string) (int, error) {
	return s.countQuery(ctx, `
		SELECT COUNT(*) FROM (
			SELECT order_id
			FROM staging.orders_clean
			WHERE load_date = $1
			GROUP BY order_id
			HAVING COUNT(*) > 1
		) dup`, loadDate)
}

// DuplicateEventKeys counts event ids appearing more than once for the load date.
func (s *StagingStore) DuplicateEventKeys(ctx context.Context, loadDate string) (int, error) {
	return s.countQuery(ctx, `
		SELECT COUNT(*) FROM (
			SELECT event_id
			FROM staging.events_clean
			WHERE load_date = $1
			GROUP BY event_id
			HAVING COUNT(*) > 1
		) dup`, loadDate)
}

// NegativeRevenueOrders counts staged orders with revenue below zero.
func (s *StagingStore) NegativeRevenueOrders(ctx context.Context, loadDate string) (int, error) {
	return s.countQuery(ctx,
		"SELECT COUNT(*) FROM staging.orders_clean WHERE load_date = $1 AND revenue < 0",
		loadDate)
}

// FutureOrderTimestamps counts staged orders timestamped after now.
func (s *StagingStore) FutureOrderTimestamps(ctx context.Context, loadDate string, now time.Time) (int, error) {
	return s.countQuery(ctx,
		"SELECT COUNT(*) FROM staging.orders_clean WHERE load_date = $1 AND order_ts > $2",
		loadDate, now)
}

// FutureEventTimestamps counts staged events timestamped after now.
func (s *StagingStore) FutureEventTimestamps(ctx context.Context, loadDate string, now time.Time) (int, error) {
	return s.countQuery(ctx,
		"SELECT COUNT(*) FROM staging.events_clean WHERE load_date = $1 AND event_ts > $2",
		loadDate, now)
}

func (s *StagingStore) countQuery(ctx context.Context, query string, args ...any) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count query: %w", ErrStagingStoreFailed, err)
	}

	return count, nil
}

// valuesTuple renders one placeholder tuple, e.g. ($1, $2, $3).
func valuesTuple(offset, cols int) string {
	parts := make([]string, cols)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", offset+i+1)
	}

	return "(" + strings.Join(parts, ", ") + ")"
}
