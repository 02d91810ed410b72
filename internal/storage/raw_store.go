package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/lib/pq"

	"github.com/ecomm-io/warehouse/internal/config"
	"github.com/ecomm-io/warehouse/internal/extract"
	"github.com/ecomm-io/warehouse/internal/transform"
)

// Sentinel errors for raw layer storage operations.
var (
	// ErrRawStoreFailed is returned when a raw insert or read fails.
	ErrRawStoreFailed = errors.New("raw storage operation failed")

	// RawStore implements extract.Sink (append-only ingestion writes).
	_ extract.Sink = (*RawStore)(nil)

	// RawStore implements transform.RawSource (per-run-date reads).
	_ transform.RawSource = (*RawStore)(nil)
)

// RawStore persists the raw landing tables. Inserts are append-only: the same
// payload extracted twice lands twice, and the transform's dedup handles it.
type RawStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewRawStore creates a raw landing store over the shared connection.
func NewRawStore(conn *Connection) (*RawStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &RawStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// InsertRawOrders appends order payloads via COPY inside one transaction.
func (s *RawStore) InsertRawOrders(ctx context.Context, rows []extract.RawOrder) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %w", ErrRawStoreFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema("raw", "orders_json",
		"run_date", "source_file", "ingested_at", "batch_id", "payload"))
	if err != nil {
		return 0, fmt.Errorf("%w: prepare copy: %w", ErrRawStoreFailed, err)
	}

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.RunDate, row.SourceFile, row.IngestedAt, row.BatchID, string(row.Payload),
		); err != nil {
			_ = stmt.Close()

			return 0, fmt.Errorf("%w: copy orders: %w", ErrRawStoreFailed, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()

		return 0, fmt.Errorf("%w: flush copy: %w", ErrRawStoreFailed, err)
	}

	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("%w: close copy: %w", ErrRawStoreFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", ErrRawStoreFailed, err)
	}

	s.logger.Debug("raw orders inserted", slog.Int("rows", len(rows)))

	return len(rows), nil
}

// InsertRawEvents appends flattened event rows via COPY inside one transaction.
func (s *RawStore) InsertRawEvents(ctx context.Context, rows []extract.RawEvent) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %w", ErrRawStoreFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema("raw", "events_csv",
		"run_date", "source_file", "ingested_at", "batch_id",
		"event_id", "user_id", "product_id", "event_type", "event_ts", "raw_line"))
	if err != nil {
		return 0, fmt.Errorf("%w: prepare copy: %w", ErrRawStoreFailed, err)
	}

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.RunDate, row.SourceFile, row.IngestedAt, row.BatchID,
			row.EventID, row.UserID, row.ProductID, row.EventType, row.EventTS, row.RawLine,
		); err != nil {
			_ = stmt.Close()

			return 0, fmt.Errorf("%w: copy events: %w", ErrRawStoreFailed, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()

		return 0, fmt.Errorf("%w: flush copy: %w", ErrRawStoreFailed, err)
	}

	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("%w: close copy: %w", ErrRawStoreFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", ErrRawStoreFailed, err)
	}

	s.logger.Debug("raw events inserted", slog.Int("rows", len(rows)))

	return len(rows), nil
}

// InsertRawProducts appends product payloads via COPY inside one transaction.
func (s *RawStore) InsertRawProducts(ctx context.Context, rows []extract.RawProduct) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %w", ErrRawStoreFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema("raw", "products_json",
		"run_date", "source_file", "ingested_at", "batch_id", "payload"))
	if err != nil {
		return 0, fmt.Errorf("%w: prepare copy: %w", ErrRawStoreFailed, err)
	}

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.RunDate, row.SourceFile, row.IngestedAt, row.BatchID, string(row.Payload),
		); err != nil {
			_ = stmt.Close()

			return 0, fmt.Errorf("%w: copy products: %w", ErrRawStoreFailed, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()

		return 0, fmt.Errorf("%w: flush copy: %w", ErrRawStoreFailed, err)
	}

	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("%w: close copy: %w", ErrRawStoreFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", ErrRawStoreFailed, err)
	}

	s.logger.Debug("raw products inserted", slog.Int("rows", len(rows)))

	return len(rows), nil
}

// RawOrders reads the run date's raw order payloads in ingestion order.
func (s *RawStore) RawOrders(ctx context.Context, runDate string) ([]extract.RawOrder, error) {
	query := `
		SELECT id, run_date::text, source_file, ingested_at, batch_id, payload::text
		FROM raw.orders_json
		WHERE run_date = $1
		ORDER BY id`

	rows, err := s.conn.QueryContext(ctx, query, runDate)
	if err != nil {
		return nil, fmt.Errorf("%w: query raw orders: %w", ErrRawStoreFailed, err)
	}
	defer rows.Close() //nolint:errcheck

	var out []extract.RawOrder

	for rows.Next() {
		var (
			row     extract.RawOrder
			payload string
		)

		if err := rows.Scan(&row.Seq, &row.RunDate, &row.SourceFile,
			&row.IngestedAt, &row.BatchID, &payload); err != nil {
			return nil, fmt.Errorf("%w: scan raw order: %w", ErrRawStoreFailed, err)
		}

		row.Payload = []byte(payload)
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate raw orders: %w", ErrRawStoreFailed, err)
	}

	return out, nil
}

// RawEvents reads the run date's raw event rows in ingestion order.
func (s *RawStore) RawEvents(ctx context.Context, runDate string) ([]extract.RawEvent, error) {
	query := `
		SELECT id, run_date::text, source_file, ingested_at, batch_id,
		       event_id, user_id, product_id, event_type, event_ts, raw_line
		FROM raw.events_csv
		WHERE run_date = $1
		ORDER BY id`

	rows, err := s.conn.QueryContext(ctx, query, runDate)
	if err != nil {
		return nil, fmt.Errorf("%w: query raw events: %w", ErrRawStoreFailed, err)
	}
	defer rows.Close() //nolint:errcheck

	var out []extract.RawEvent

	for rows.Next() {
		var row extract.RawEvent

		if err := rows.Scan(&row.Seq, &row.RunDate, &row.SourceFile,
			&row.IngestedAt, &row.BatchID,
			&row.EventID, &row.UserID, &row.ProductID, &row.EventType,
			&row.EventTS, &row.RawLine); err != nil {
			return nil, fmt.Errorf("%w: scan raw event: %w", ErrRawStoreFailed, err)
		}

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate raw events: %w", ErrRawStoreFailed, err)
	}

	return out, nil
}

// RawProducts reads the run date's raw product payloads in ingestion order.
func (s *RawStore) RawProducts(ctx context.Context, runDate string) ([]extract.RawProduct, error) {
	query := `
		SELECT id, run_date::text, source_file, ingested_at, batch_id, payload::text
		FROM raw.products_json
		WHERE run_date = $1
		ORDER BY id`

	rows, err := s.conn.QueryContext(ctx, query, runDate)
	if err != nil {
		return nil, fmt.Errorf("%w: query raw products: %w", ErrRawStoreFailed, err)
	}
	defer rows.Close() //nolint:errcheck

	var out []extract.RawProduct

	for rows.Next() {
		var (
			row     extract.RawProduct
			payload string
		)

		if err := rows.Scan(&row.Seq, &row.RunDate, &row.SourceFile,
			&row.IngestedAt, &row.BatchID, &payload); err != nil {
			return nil, fmt.Errorf("%w: scan raw product: %w", ErrRawStoreFailed, err)
		}

		row.Payload = []byte(payload)
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate raw products: %w", ErrRawStoreFailed, err)
	}

	return out, nil
}
