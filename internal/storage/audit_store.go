package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ecomm-io/warehouse/internal/config"
	"github.com/ecomm-io/warehouse/internal/quality"
)

// Sentinel errors for audit storage operations.
var (
	// ErrAuditStoreFailed is returned when an audit write or read fails.
	ErrAuditStoreFailed = errors.New("audit storage operation failed")

	// AuditStore implements quality.Recorder.
	_ quality.Recorder = (*AuditStore)(nil)
)

// AuditStore persists the append-only quality failure log. Rows are never
// updated or deleted; re-running the gate for a date appends fresh rows.
type AuditStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewAuditStore creates an audit store over the shared connection.
func NewAuditStore(conn *Connection) (*AuditStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &AuditStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// RecordFailure appends one quality failure to audit.dq_failures.
func (s *AuditStore) RecordFailure(ctx context.Context, failure quality.Failure) error {
	details, err := json.Marshal(failure.Details)
	if err != nil {
		return fmt.Errorf("%w: marshal details: %w", ErrAuditStoreFailed, err)
	}

	query := `
		INSERT INTO audit.dq_failures
			(run_date, check_name, check_type, failure_message, details)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.conn.ExecContext(ctx, query,
		failure.RunDate, failure.CheckName, failure.Category,
		failure.Message, string(details)); err != nil {
		return fmt.Errorf("%w: insert failure: %w", ErrAuditStoreFailed, err)
	}

	s.logger.Debug("quality failure recorded",
		slog.String("run_date", failure.RunDate),
		slog.String("check", failure.CheckName),
	)

	return nil
}

// FailuresForDate reads the run date's recorded failures, newest first.
// Used by the CLI to show why a gate failed.
func (s *AuditStore) FailuresForDate(ctx context.Context, runDate string) ([]quality.Failure, error) {
	query := `
		SELECT run_date::text, check_name, check_type, failure_message, details::text, created_at
		FROM audit.dq_failures
		WHERE run_date = $1
		ORDER BY created_at DESC, id DESC`

	rows, err := s.conn.QueryContext(ctx, query, runDate)
	if err != nil {
		return nil, fmt.Errorf("%w: query failures: %w", ErrAuditStoreFailed, err)
	}
	defer rows.Close() //nolint:errcheck

	var out []quality.Failure

	for rows.Next() {
		var (
			failure   quality.Failure
			details   string
			createdAt time.Time
		)

		if err := rows.Scan(&failure.RunDate, &failure.CheckName, &failure.Category,
			&failure.Message, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan failure: %w", ErrAuditStoreFailed, err)
		}

		if details != "" {
			if err := json.Unmarshal([]byte(details), &failure.Details); err != nil {
				return nil, fmt.Errorf("%w: decode details: %w", ErrAuditStoreFailed, err)
			}
		}

		out = append(out, failure)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate failures: %w", ErrAuditStoreFailed, err)
	}

	return out, nil
}
