package extract

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ecomm-io/warehouse/internal/config"
)

// Sentinel errors for file extraction.
var (
	// ErrMalformedOrdersFile is returned when an orders drop file is not a
	// JSON array or object.
	ErrMalformedOrdersFile = errors.New("orders file is not valid JSON")

	// ErrMalformedEventsFile is returned when an events drop file cannot be
	// parsed as delimited text.
	ErrMalformedEventsFile = errors.New("events file is not valid CSV")

	// ErrNoSink is returned when an extractor is constructed without a sink.
	ErrNoSink = errors.New("raw sink is required")
)

// FileExtractor pulls daily drop files into the raw ingestion sink.
//
// Expected layout under the data directory:
//
//	incoming/orders/<run-date>/orders.json     JSON array of order objects
//	incoming/events/<run-date>/events.csv      header + comma-delimited rows
//	incoming/products/products_<run-date>.json JSON array of product objects
//
// A missing file is a valid condition (no drop arrived for that date): the
// extractor logs it and reports zero records.
type FileExtractor struct {
	dataDir string
	sink    Sink
	clock   clockwork.Clock
	logger  *slog.Logger
}

// FileExtractorOption configures optional FileExtractor behavior.
type FileExtractorOption func(*FileExtractor)

// WithFileClock sets the clock used for ingestion timestamps. Defaults to the
// real clock; tests inject a fake.
func WithFileClock(clock clockwork.Clock) FileExtractorOption {
	return func(e *FileExtractor) {
		e.clock = clock
	}
}

// WithFileLogger sets the logger. Defaults to a JSON slog handler on stdout.
func WithFileLogger(logger *slog.Logger) FileExtractorOption {
	return func(e *FileExtractor) {
		e.logger = logger
	}
}

// NewFileExtractor creates a file-drop extractor rooted at dataDir.
func NewFileExtractor(dataDir string, sink Sink, opts ...FileExtractorOption) (*FileExtractor, error) {
	if sink == nil {
		return nil, ErrNoSink
	}

	e := &FileExtractor{
		dataDir: dataDir,
		sink:    sink,
		clock:   clockwork.NewRealClock(),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// ExtractOrders ingests the orders drop file for runDate into raw.orders_json.
// Returns the number of raw rows inserted; (0, nil) when no file exists.
func (e *FileExtractor) ExtractOrders(ctx context.Context, runDate string) (int, error) {
	path := filepath.Join(e.dataDir, "incoming", "orders", runDate, "orders.json")

	data, err := os.ReadFile(path) //nolint:gosec // path is built from the configured drop directory
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("orders file not found, nothing to extract",
				slog.String("path", path),
				slog.String("run_date", runDate),
			)

			return 0, nil
		}

		return 0, fmt.Errorf("read orders file: %w", err)
	}

	payloads, err := splitJSONPayloads(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrMalformedOrdersFile, path)
	}

	now := e.clock.Now().UTC()
	batchID := uuid.New()
	rows := make([]RawOrder, 0, len(payloads))

	for _, payload := range payloads {
		rows = append(rows, RawOrder{
			RunDate:    runDate,
			SourceFile: path,
			IngestedAt: now,
			BatchID:    batchID,
			Payload:    payload,
		})
	}

	inserted, err := e.sink.InsertRawOrders(ctx, rows)
	if err != nil {
		return 0, err
	}

	e.logger.Info("orders extracted",
		slog.String("run_date", runDate),
		slog.String("source", path),
		slog.Int("records", inserted),
	)

	return inserted, nil
}

// ExtractEvents ingests the events drop file for runDate into raw.events_csv.
// Events missing an event_id get a content hash of the raw line so downstream
// dedup always has a business key. Returns (0, nil) when no file exists.
func (e *FileExtractor) ExtractEvents(ctx context.Context, runDate string) (int, error) {
	path := filepath.Join(e.dataDir, "incoming", "events", runDate, "events.csv")

	f, err := os.Open(path) //nolint:gosec // path is built from the configured drop directory
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("events file not found, nothing to extract",
				slog.String("path", path),
				slog.String("run_date", runDate),
			)

			return 0, nil
		}

		return 0, fmt.Errorf("open events file: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // rows may carry trailing empty fields

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			e.logger.Warn("events file is empty", slog.String("path", path))

			return 0, nil
		}

		return 0, fmt.Errorf("%w: %s", ErrMalformedEventsFile, path)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}

	now := e.clock.Now().UTC()
	batchID := uuid.New()

	var rows []RawEvent

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrMalformedEventsFile, path)
		}

		rawLine := strings.Join(record, ",")

		eventID := fieldAt(record, columns, "event_id")
		if eventID == "" {
			eventID = ContentHash(rawLine)
		}

		rows = append(rows, RawEvent{
			RunDate:    runDate,
			SourceFile: path,
			IngestedAt: now,
			BatchID:    batchID,
			RawLine:    rawLine,
			EventID:    eventID,
			UserID:     fieldAt(record, columns, "user_id"),
			ProductID:  fieldAt(record, columns, "product_id"),
			EventType:  fieldAt(record, columns, "event_type"),
			EventTS:    fieldAt(record, columns, "event_ts"),
		})
	}

	if len(rows) == 0 {
		e.logger.Warn("no events found in file", slog.String("path", path))

		return 0, nil
	}

	inserted, err := e.sink.InsertRawEvents(ctx, rows)
	if err != nil {
		return 0, err
	}

	e.logger.Info("events extracted",
		slog.String("run_date", runDate),
		slog.String("source", path),
		slog.Int("records", inserted),
	)

	return inserted, nil
}

// ExtractProducts ingests the weekly products file for runDate into
// raw.products_json. Returns (0, nil) when no file exists; callers that want
// the catalog API as a fallback compose with Fallback.
func (e *FileExtractor) ExtractProducts(ctx context.Context, runDate string) (int, error) {
	path := filepath.Join(e.dataDir, "incoming", "products", "products_"+runDate+".json")

	data, err := os.ReadFile(path) //nolint:gosec // path is built from the configured drop directory
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("products file not found, nothing to extract",
				slog.String("path", path),
				slog.String("run_date", runDate),
			)

			return 0, nil
		}

		return 0, fmt.Errorf("read products file: %w", err)
	}

	payloads, err := splitJSONPayloads(data)
	if err != nil {
		return 0, fmt.Errorf("products file is not valid JSON: %s", path)
	}

	now := e.clock.Now().UTC()
	batchID := uuid.New()
	rows := make([]RawProduct, 0, len(payloads))

	for _, payload := range payloads {
		rows = append(rows, RawProduct{
			RunDate:    runDate,
			SourceFile: path,
			IngestedAt: now,
			BatchID:    batchID,
			Payload:    payload,
		})
	}

	inserted, err := e.sink.InsertRawProducts(ctx, rows)
	if err != nil {
		return 0, err
	}

	e.logger.Info("products extracted",
		slog.String("run_date", runDate),
		slog.String("source", path),
		slog.Int("records", inserted),
	)

	return inserted, nil
}

// splitJSONPayloads splits a drop file into one opaque payload per record.
// A top-level array yields one payload per element; a single object yields
// one payload. No field-level validation happens here.
func splitJSONPayloads(data []byte) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var elements []json.RawMessage
		if err := json.Unmarshal(data, &elements); err != nil {
			return nil, err
		}

		return elements, nil
	}

	var single json.RawMessage
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}

	return []json.RawMessage{single}, nil
}

// fieldAt returns the trimmed value of a named column, or "" when the column
// is absent or the row is short.
func fieldAt(record []string, columns map[string]int, name string) string {
	idx, ok := columns[name]
	if !ok || idx >= len(record) {
		return ""
	}

	return strings.TrimSpace(record[idx])
}
