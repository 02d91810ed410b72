package quality

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource serves fixed staging counts.
type stubSource struct {
	orders          int
	events          int
	duplicateOrders int
	duplicateEvents int
	negativeRevenue int
	futureOrders    int
	futureEvents    int

	futureNow time.Time
	err       error
}

func (s *stubSource) StagedOrderCount(_ context.Context, _ string) (int, error) {
	return s.orders, s.err
}

func (s *stubSource) StagedEventCount(_ context.Context, _ string) (int, error) {
	return s.events, s.err
}

func (s *stubSource) DuplicateOrderKeys(_ context.Context, _ string) (int, error) {
	return s.duplicateOrders, s.err
}

func (s *stubSource) DuplicateEventKeys(_ context.Context, _ string) (int, error) {
	return s.duplicateEvents, s.err
}

func (s *stubSource) NegativeRevenueOrders(_ context.Context, _ string) (int, error) {
	return s.negativeRevenue, s.err
}

func (s *stubSource) FutureOrderTimestamps(_ context.Context, _ string, now time.Time) (int, error) {
	s.futureNow = now

	return s.futureOrders, s.err
}

func (s *stubSource) FutureEventTimestamps(_ context.Context, _ string, _ time.Time) (int, error) {
	return s.futureEvents, s.err
}

// stubRecorder captures recorded failures.
type stubRecorder struct {
	failures []Failure
	err      error
}

func (r *stubRecorder) RecordFailure(_ context.Context, failure Failure) error {
	if r.err != nil {
		return r.err
	}

	r.failures = append(r.failures, failure)

	return nil
}

// stubPublisher captures published failures.
type stubPublisher struct {
	published []Failure
	err       error
}

func (p *stubPublisher) Publish(_ context.Context, failure Failure) error {
	if p.err != nil {
		return p.err
	}

	p.published = append(p.published, failure)

	return nil
}

// healthySource passes every check under default thresholds.
func healthySource() *stubSource {
	return &stubSource{orders: 1000, events: 5000}
}

func TestCheckerRun(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	runDate := "2024-06-15"

	t.Run("healthy staging passes the gate", func(t *testing.T) {
		recorder := &stubRecorder{}

		checker, err := NewChecker(healthySource(), recorder, DefaultThresholds())
		require.NoError(t, err)

		result, err := checker.Run(ctx, runDate)
		require.NoError(t, err)
		assert.True(t, result.Passed)
		assert.Empty(t, result.Failures)
		assert.Empty(t, recorder.failures)
	})

	t.Run("volume bounds are inclusive", func(t *testing.T) {
		thresholds := DefaultThresholds()
		thresholds.OrdersVolumeMin = 100

		cases := []struct {
			name   string
			orders int
			passed bool
		}{
			{"one below min fails", 99, false},
			{"exactly min passes", 100, true},
			{"exactly max passes", thresholds.OrdersVolumeMax, true},
			{"one above max fails", thresholds.OrdersVolumeMax + 1, false},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				source := healthySource()
				source.orders = tc.orders

				checker, err := NewChecker(source, &stubRecorder{}, thresholds)
				require.NoError(t, err)

				result, err := checker.Run(ctx, runDate)
				require.NoError(t, err)
				assert.Equal(t, tc.passed, result.Passed)

				if !tc.passed {
					require.Len(t, result.Failures, 1)
					assert.Equal(t, CheckOrdersVolume, result.Failures[0].CheckName)
					assert.Equal(t, CategoryVolume, result.Failures[0].Category)
				}
			})
		}
	})

	t.Run("every failed check is recorded in the audit log", func(t *testing.T) {
		source := &stubSource{
			orders:          10, // below min
			events:          5000,
			duplicateOrders: 2,
			negativeRevenue: 3,
		}
		recorder := &stubRecorder{}

		checker, err := NewChecker(source, recorder, DefaultThresholds())
		require.NoError(t, err)

		result, err := checker.Run(ctx, runDate)
		require.NoError(t, err)
		assert.False(t, result.Passed)

		assert.Equal(t,
			[]string{CheckOrdersVolume, CheckOrdersNoDuplicates, CheckOrdersRevenueValid},
			result.FailedChecks())
		require.Len(t, recorder.failures, 3)
		assert.Equal(t, runDate, recorder.failures[0].RunDate)
		assert.Equal(t, 10, recorder.failures[0].Details["count"])
	})

	t.Run("future timestamps sum orders and events", func(t *testing.T) {
		source := healthySource()
		source.futureOrders = 2
		source.futureEvents = 3

		now := time.Date(2024, 6, 15, 23, 0, 0, 0, time.UTC)
		checker, err := NewChecker(source, &stubRecorder{}, DefaultThresholds(),
			WithClock(clockwork.NewFakeClockAt(now)))
		require.NoError(t, err)

		result, err := checker.Run(ctx, runDate)
		require.NoError(t, err)

		require.Len(t, result.Failures, 1)
		failure := result.Failures[0]
		assert.Equal(t, CheckTimestampsNotFuture, failure.CheckName)
		assert.Equal(t, "found 5 records with future timestamps", failure.Message)
		assert.Equal(t, 2, failure.Details["orders"])
		assert.Equal(t, 3, failure.Details["events"])
		assert.Equal(t, now, source.futureNow)
	})

	t.Run("source error aborts without a verdict", func(t *testing.T) {
		source := healthySource()
		source.err = errors.New("connection reset")

		checker, err := NewChecker(source, &stubRecorder{}, DefaultThresholds())
		require.NoError(t, err)

		_, err = checker.Run(ctx, runDate)
		require.Error(t, err)
	})

	t.Run("recorder error aborts without a verdict", func(t *testing.T) {
		source := healthySource()
		source.duplicateOrders = 1
		recorder := &stubRecorder{err: errors.New("insert failed")}

		checker, err := NewChecker(source, recorder, DefaultThresholds())
		require.NoError(t, err)

		_, err = checker.Run(ctx, runDate)
		require.ErrorContains(t, err, "record quality failure")
	})

	t.Run("failures are published when a publisher is attached", func(t *testing.T) {
		source := healthySource()
		source.duplicateEvents = 4
		publisher := &stubPublisher{}

		checker, err := NewChecker(source, &stubRecorder{}, DefaultThresholds(),
			WithPublisher(publisher))
		require.NoError(t, err)

		result, err := checker.Run(ctx, runDate)
		require.NoError(t, err)
		assert.False(t, result.Passed)

		require.Len(t, publisher.published, 1)
		assert.Equal(t, CheckEventsNoDuplicates, publisher.published[0].CheckName)
	})

	t.Run("publish errors do not fail the gate", func(t *testing.T) {
		source := healthySource()
		source.duplicateEvents = 4
		recorder := &stubRecorder{}

		checker, err := NewChecker(source, recorder, DefaultThresholds(),
			WithPublisher(&stubPublisher{err: errors.New("broker down")}))
		require.NoError(t, err)

		result, err := checker.Run(ctx, runDate)
		require.NoError(t, err)
		assert.False(t, result.Passed)
		assert.Len(t, recorder.failures, 1)
	})
}

func TestNewChecker(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("requires a source", func(t *testing.T) {
		_, err := NewChecker(nil, &stubRecorder{}, DefaultThresholds())
		require.ErrorIs(t, err, ErrNoSource)
	})

	t.Run("requires a recorder", func(t *testing.T) {
		_, err := NewChecker(healthySource(), nil, DefaultThresholds())
		require.ErrorIs(t, err, ErrNoRecorder)
	})

	t.Run("rejects inconsistent thresholds", func(t *testing.T) {
		bad := Thresholds{OrdersVolumeMin: 10, OrdersVolumeMax: 5, EventsVolumeMin: 1, EventsVolumeMax: 2}

		_, err := NewChecker(healthySource(), &stubRecorder{}, bad)
		require.Error(t, err)
	})
}
