package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubMetricsStore serves canned counts and captures the upserted snapshot.
type stubMetricsStore struct {
	counts     Counts
	failed     int64
	upserted   *Snapshot
	collectErr error
	failedErr  error
	upsertErr  error
}

func (s *stubMetricsStore) CollectCounts(_ context.Context, _ string) (Counts, error) {
	return s.counts, s.collectErr
}

func (s *stubMetricsStore) FailedCheckCount(_ context.Context, _ string) (int64, error) {
	return s.failed, s.failedErr
}

func (s *stubMetricsStore) UpsertDailyMetrics(_ context.Context, snapshot Snapshot) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}

	s.upserted = &snapshot

	return nil
}

func TestPublisherPublish(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	t.Run("assembles and upserts the snapshot", func(t *testing.T) {
		store := &stubMetricsStore{
			counts: Counts{
				RawOrders:     120,
				RawEvents:     3000,
				StagingOrders: 100,
				StagingEvents: 2950,
				FactOrders:    97,
				FactEvents:    2950,
			},
			failed: 2,
		}

		publisher, err := NewPublisher(store, logger)
		require.NoError(t, err)

		snapshot, err := publisher.Publish(ctx, "2024-06-15", 90*time.Second)
		require.NoError(t, err)

		assert.Equal(t, "2024-06-15", snapshot.RunDate)
		assert.Equal(t, store.counts, snapshot.Counts)
		assert.Equal(t, int64(2), snapshot.FailedChecks)
		assert.InDelta(t, 90.0, snapshot.RuntimeSeconds, 0.001)

		require.NotNil(t, store.upserted)
		assert.Equal(t, snapshot, *store.upserted)
	})

	t.Run("summary log carries the product layer counts", func(t *testing.T) {
		store := &stubMetricsStore{
			counts: Counts{RawProducts: 30, StagingProducts: 28},
		}

		var buf bytes.Buffer

		publisher, err := NewPublisher(store, slog.New(slog.NewJSONHandler(&buf, nil)))
		require.NoError(t, err)

		_, err = publisher.Publish(ctx, "2024-06-15", time.Second)
		require.NoError(t, err)

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

		assert.Equal(t, float64(30), record["raw_products"])
		assert.Equal(t, float64(28), record["staging_products"])
	})

	t.Run("store failures carry the failing step", func(t *testing.T) {
		cases := []struct {
			name    string
			store   *stubMetricsStore
			message string
		}{
			{"collect", &stubMetricsStore{collectErr: errors.New("boom")}, "collect counts"},
			{"failed checks", &stubMetricsStore{failedErr: errors.New("boom")}, "count quality failures"},
			{"upsert", &stubMetricsStore{upsertErr: errors.New("boom")}, "upsert daily metrics"},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				publisher, err := NewPublisher(tc.store, logger)
				require.NoError(t, err)

				_, err = publisher.Publish(ctx, "2024-06-15", time.Second)
				require.ErrorIs(t, err, ErrPublishFailed)
				assert.ErrorContains(t, err, tc.message)
			})
		}
	})

	t.Run("requires a store", func(t *testing.T) {
		_, err := NewPublisher(nil, logger)
		require.ErrorIs(t, err, ErrNoStore)
	})
}
