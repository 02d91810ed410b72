// Package transform turns one run date's raw rows into canonical staging
// rows: parse, validate, normalize, deduplicate by business key, then replace
// the run date's staging partition. Re-running a transform for the same run
// date with unchanged raw input yields identical staging content.
package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ecomm-io/warehouse/internal/extract"
)

// Sentinel errors for staging transforms.
var (
	// ErrNoRawSource is returned when a transformer is built without a raw source.
	ErrNoRawSource = errors.New("raw source is required")

	// ErrNoStagingStore is returned when a transformer is built without a staging store.
	ErrNoStagingStore = errors.New("staging store is required")

	// ErrTransformFailed wraps persistence failures during a transform. The
	// run date must be treated as not yet transformed and is safe to retry.
	ErrTransformFailed = errors.New("staging transform failed")
)

type (
	// StagedOrder is one cleaned, typed, deduplicated order row, unique per
	// (order_id, load_date). Optional fields are nil when the source omitted
	// them (API cart orders have no single product line).
	StagedOrder struct {
		OrderID   string
		UserID    string
		ProductID *string
		Quantity  *int64
		UnitPrice *float64
		Revenue   *float64
		OrderTS   time.Time
		Status    string
		LoadDate  string
	}

	// StagedEvent is one cleaned clickstream event row, unique per
	// (event_id, load_date). ProductID is nil when the event had no product
	// reference (empty string in the source).
	StagedEvent struct {
		EventID   string
		UserID    string
		ProductID *string
		EventType string
		EventTS   time.Time
		LoadDate  string
	}

	// StagedProduct is one product snapshot row, unique per
	// (product_id, load_date).
	StagedProduct struct {
		ProductID    string
		Name         string
		Category     string
		Brand        string
		CurrentPrice *float64
		LoadDate     string
	}

	// RawSource reads back one run date's raw rows. Implemented by
	// storage.RawStore.
	RawSource interface {
		RawOrders(ctx context.Context, runDate string) ([]extract.RawOrder, error)
		RawEvents(ctx context.Context, runDate string) ([]extract.RawEvent, error)
		RawProducts(ctx context.Context, runDate string) ([]extract.RawProduct, error)
	}

	// StagingStore writes staging partitions. Upserts overwrite all non-key
	// fields and stamp updated_at on a residual key collision (guards
	// concurrent retries; step-1 deletes make collisions unexpected).
	// Implemented by storage.StagingStore.
	StagingStore interface {
		DeleteStagedOrders(ctx context.Context, loadDate string) (int64, error)
		UpsertStagedOrders(ctx context.Context, rows []StagedOrder) (int, error)
		DeleteStagedEvents(ctx context.Context, loadDate string) (int64, error)
		UpsertStagedEvents(ctx context.Context, rows []StagedEvent) (int, error)
		DeleteStagedProducts(ctx context.Context, loadDate string) (int64, error)
		UpsertStagedProducts(ctx context.Context, rows []StagedProduct) (int, error)
	}
)

// flexString unmarshals a JSON string or number into a string. Sources are
// inconsistent about quoting identifiers (file drops quote user ids, the
// catalog API does not).
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""

		return nil
	}

	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		*f = flexString(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}

	*f = flexString(n.String())

	return nil
}

// timestampLayouts are accepted source timestamp formats, most specific first.
// Drop files use bare ISO-8601 without zone; the API emits RFC3339.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp parses a source timestamp. Zone-less values are taken as UTC.
func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// parseOptionalFloat parses a numeric field, returning nil for absent values.
func parseOptionalFloat(n json.Number) (*float64, error) {
	if n.String() == "" {
		return nil, nil //nolint:nilnil // absent value, not an error
	}

	v, err := n.Float64()
	if err != nil {
		return nil, err
	}

	return &v, nil
}

// parseOptionalInt parses an integer field, returning nil for absent values.
// Values like "3.0" are rejected rather than truncated.
func parseOptionalInt(n json.Number) (*int64, error) {
	if n.String() == "" {
		return nil, nil //nolint:nilnil // absent value, not an error
	}

	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return nil, err
	}

	return &v, nil
}

// nullableID coerces an empty identifier to nil (empty-string-to-null rule
// for optional foreign keys).
func nullableID(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	return &value
}
