package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySink collects inserted raw rows for assertions.
type memorySink struct {
	orders   []RawOrder
	events   []RawEvent
	products []RawProduct
}

func (s *memorySink) InsertRawOrders(_ context.Context, rows []RawOrder) (int, error) {
	s.orders = append(s.orders, rows...)

	return len(rows), nil
}

func (s *memorySink) InsertRawEvents(_ context.Context, rows []RawEvent) (int, error) {
	s.events = append(s.events, rows...)

	return len(rows), nil
}

func (s *memorySink) InsertRawProducts(_ context.Context, rows []RawProduct) (int, error) {
	s.products = append(s.products, rows...)

	return len(rows), nil
}

func writeDropFile(t *testing.T, dir, rel, content string) {
	t.Helper()

	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestFileExtractorOrders(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	runDate := "2024-06-15"

	t.Run("extracts every element of a JSON array", func(t *testing.T) {
		dir := t.TempDir()
		writeDropFile(t, dir, "incoming/orders/2024-06-15/orders.json",
			`[{"order_id":"ORD_1","user_id":"U1"},{"order_id":"ORD_2","user_id":"U2"}]`)

		sink := &memorySink{}
		clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))

		extractor, err := NewFileExtractor(dir, sink, WithFileClock(clock))
		require.NoError(t, err)

		count, err := extractor.ExtractOrders(ctx, runDate)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		require.Len(t, sink.orders, 2)

		assert.Equal(t, runDate, sink.orders[0].RunDate)
		assert.Equal(t, clock.Now().UTC(), sink.orders[0].IngestedAt)
		assert.Contains(t, sink.orders[0].SourceFile, "orders.json")
		assert.Equal(t, sink.orders[0].BatchID, sink.orders[1].BatchID)
		assert.JSONEq(t, `{"order_id":"ORD_1","user_id":"U1"}`, string(sink.orders[0].Payload))
	})

	t.Run("missing file reports zero without error", func(t *testing.T) {
		sink := &memorySink{}

		extractor, err := NewFileExtractor(t.TempDir(), sink)
		require.NoError(t, err)

		count, err := extractor.ExtractOrders(ctx, runDate)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Empty(t, sink.orders)
	})

	t.Run("malformed file returns sentinel error", func(t *testing.T) {
		dir := t.TempDir()
		writeDropFile(t, dir, "incoming/orders/2024-06-15/orders.json", "{not json")

		extractor, err := NewFileExtractor(dir, &memorySink{})
		require.NoError(t, err)

		_, err = extractor.ExtractOrders(ctx, runDate)
		require.ErrorIs(t, err, ErrMalformedOrdersFile)
	})

	t.Run("nil sink is rejected at construction", func(t *testing.T) {
		_, err := NewFileExtractor(t.TempDir(), nil)
		require.ErrorIs(t, err, ErrNoSink)
	})
}

func TestFileExtractorEvents(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	runDate := "2024-06-15"

	t.Run("maps columns by header name", func(t *testing.T) {
		dir := t.TempDir()
		writeDropFile(t, dir, "incoming/events/2024-06-15/events.csv",
			"event_id,user_id,event_type,product_id,event_ts\n"+
				"EVT_1,U1,view_product,P1,2024-06-15T10:00:00Z\n"+
				"EVT_2,U2,add_to_cart,,2024-06-15T11:00:00Z\n")

		sink := &memorySink{}

		extractor, err := NewFileExtractor(dir, sink)
		require.NoError(t, err)

		count, err := extractor.ExtractEvents(ctx, runDate)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		require.Len(t, sink.events, 2)

		assert.Equal(t, "EVT_1", sink.events[0].EventID)
		assert.Equal(t, "view_product", sink.events[0].EventType)
		assert.Equal(t, "P1", sink.events[0].ProductID)
		assert.Empty(t, sink.events[1].ProductID)
	})

	t.Run("synthesizes a content hash when event_id is missing", func(t *testing.T) {
		dir := t.TempDir()
		writeDropFile(t, dir, "incoming/events/2024-06-15/events.csv",
			"event_id,user_id,event_type,product_id,event_ts\n"+
				",U1,view_product,P1,2024-06-15T10:00:00Z\n")

		sink := &memorySink{}

		extractor, err := NewFileExtractor(dir, sink)
		require.NoError(t, err)

		count, err := extractor.ExtractEvents(ctx, runDate)
		require.NoError(t, err)
		require.Equal(t, 1, count)

		want := ContentHash(sink.events[0].RawLine)
		assert.Equal(t, want, sink.events[0].EventID)
		assert.Len(t, sink.events[0].EventID, 64) // sha256 hex
	})

	t.Run("missing file reports zero without error", func(t *testing.T) {
		extractor, err := NewFileExtractor(t.TempDir(), &memorySink{})
		require.NoError(t, err)

		count, err := extractor.ExtractEvents(ctx, runDate)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("header-only file reports zero", func(t *testing.T) {
		dir := t.TempDir()
		writeDropFile(t, dir, "incoming/events/2024-06-15/events.csv",
			"event_id,user_id,event_type,product_id,event_ts\n")

		extractor, err := NewFileExtractor(dir, &memorySink{})
		require.NoError(t, err)

		count, err := extractor.ExtractEvents(ctx, runDate)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestFileExtractorProducts(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()

	t.Run("reads the weekly snapshot by date-stamped name", func(t *testing.T) {
		dir := t.TempDir()
		writeDropFile(t, dir, "incoming/products/products_2024-06-15.json",
			`[{"product_id":"P1","product_name":"Widget"}]`)

		sink := &memorySink{}

		extractor, err := NewFileExtractor(dir, sink)
		require.NoError(t, err)

		count, err := extractor.ExtractProducts(ctx, "2024-06-15")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("missing snapshot reports zero for fallback composition", func(t *testing.T) {
		extractor, err := NewFileExtractor(t.TempDir(), &memorySink{})
		require.NoError(t, err)

		count, err := extractor.ExtractProducts(ctx, "2024-06-15")
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestFallback(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()

	stage := func(count int, err error) Func {
		return func(context.Context, string) (int, error) {
			return count, err
		}
	}

	t.Run("primary result wins when it yields records", func(t *testing.T) {
		count, err := Fallback(stage(5, nil), stage(99, nil))(ctx, "2024-06-15")
		require.NoError(t, err)
		assert.Equal(t, 5, count)
	})

	t.Run("secondary runs when primary yields zero", func(t *testing.T) {
		count, err := Fallback(stage(0, nil), stage(7, nil))(ctx, "2024-06-15")
		require.NoError(t, err)
		assert.Equal(t, 7, count)
	})

	t.Run("primary error is not masked by secondary", func(t *testing.T) {
		_, err := Fallback(stage(0, ErrNoSink), stage(7, nil))(ctx, "2024-06-15")
		require.ErrorIs(t, err, ErrNoSink)
	})
}
