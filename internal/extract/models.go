// Package extract moves externally sourced records into the raw ingestion
// sink. Extractors never touch business fields: payloads are stored opaque,
// tagged with the run date, the source identifier and an ingestion timestamp.
// The only synthesis allowed is filling in a missing identifier (an event
// without an event_id gets a content hash).
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

type (
	// RawOrder is one row of raw.orders_json: an opaque order payload plus
	// ingestion metadata. Seq is assigned by the database and only populated
	// when rows are read back for transformation.
	RawOrder struct {
		Seq        int64
		RunDate    string
		SourceFile string
		IngestedAt time.Time
		BatchID    uuid.UUID
		Payload    []byte
	}

	// RawEvent is one row of raw.events_csv. Fields are flattened from the
	// source line but kept as text; typing happens in the staging transform.
	// RawLine preserves the original line for auditing and hashing.
	RawEvent struct {
		Seq        int64
		RunDate    string
		SourceFile string
		IngestedAt time.Time
		BatchID    uuid.UUID
		RawLine    string
		EventID    string
		UserID     string
		ProductID  string
		EventType  string
		EventTS    string
	}

	// RawProduct is one row of raw.products_json.
	RawProduct struct {
		Seq        int64
		RunDate    string
		SourceFile string
		IngestedAt time.Time
		BatchID    uuid.UUID
		Payload    []byte
	}

	// Sink is the raw ingestion sink: append-only batch inserts per source.
	// Implemented by storage.RawStore.
	Sink interface {
		InsertRawOrders(ctx context.Context, rows []RawOrder) (int, error)
		InsertRawEvents(ctx context.Context, rows []RawEvent) (int, error)
		InsertRawProducts(ctx context.Context, rows []RawProduct) (int, error)
	}

	// Func is a single-source extraction operation, parameterized by run date.
	// The returned count drives the scheduler's skip convention: 0 means
	// "nothing to do", not a failure.
	Func func(ctx context.Context, runDate string) (int, error)
)

// Fallback returns an extraction func that tries primary first and falls back
// to secondary only when primary yields zero records without error. Used for
// products, where a weekly drop file takes precedence over the catalog API.
func Fallback(primary, secondary Func) Func {
	return func(ctx context.Context, runDate string) (int, error) {
		count, err := primary(ctx, runDate)
		if err != nil || count > 0 {
			return count, err
		}

		return secondary(ctx, runDate)
	}
}

// ContentHash derives a deterministic identifier for a source record that
// carries none.
func ContentHash(line string) string {
	sum := sha256.Sum256([]byte(line))

	return hex.EncodeToString(sum[:])
}
