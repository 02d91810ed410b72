package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecomm-io/warehouse/internal/metrics"
	"github.com/ecomm-io/warehouse/internal/quality"
	"github.com/ecomm-io/warehouse/internal/warehouse"
)

// stageRecorder builds Stages from canned results and records which stages ran.
type stageRecorder struct {
	mu  sync.Mutex
	ran []string

	extractCounts map[string]int
	extractErr    error
	transformErr  error
	qualityResult quality.Result
	qualityErr    error
	dimErr        error
	factErr       error
	metricsErr    error

	metricsRuntime time.Duration
}

func newStageRecorder() *stageRecorder {
	return &stageRecorder{
		extractCounts: map[string]int{"orders": 10, "events": 20, "products": 5},
		qualityResult: quality.Result{RunDate: "2024-06-15", Passed: true},
	}
}

func (s *stageRecorder) record(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ran = append(s.ran, name)
}

func (s *stageRecorder) didRun(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.ran {
		if r == name {
			return true
		}
	}

	return false
}

func (s *stageRecorder) extract(name string) StageFunc {
	return func(_ context.Context, _ string) (int, error) {
		s.record("extract_" + name)

		return s.extractCounts[name], s.extractErr
	}
}

func (s *stageRecorder) transform(name string) StageFunc {
	return func(_ context.Context, _ string) (int, error) {
		s.record("transform_" + name)

		return s.extractCounts[name], s.transformErr
	}
}

func (s *stageRecorder) stages() Stages {
	return Stages{
		ExtractOrders:   s.extract("orders"),
		ExtractEvents:   s.extract("events"),
		ExtractProducts: s.extract("products"),

		TransformOrders:   s.transform("orders"),
		TransformEvents:   s.transform("events"),
		TransformProducts: s.transform("products"),

		Quality: func(_ context.Context, _ string) (quality.Result, error) {
			s.record("quality")

			return s.qualityResult, s.qualityErr
		},
		Dimensions: func(_ context.Context, _ string) (warehouse.DimensionCounts, error) {
			s.record("dimensions")

			return warehouse.DimensionCounts{Products: 5, Users: 3, Dates: 1}, s.dimErr
		},
		Facts: func(_ context.Context, _ string) (warehouse.FactCounts, error) {
			s.record("facts")

			return warehouse.FactCounts{OrdersInserted: 10, EventsInserted: 20}, s.factErr
		},
		Metrics: func(_ context.Context, _ string, runtime time.Duration) (metrics.Snapshot, error) {
			s.record("metrics")
			s.metricsRuntime = runtime

			return metrics.Snapshot{RunDate: "2024-06-15", RuntimeSeconds: runtime.Seconds()}, s.metricsErr
		},
	}
}

func quietRunner(t *testing.T, stages Stages, opts ...RunnerOption) *Runner {
	t.Helper()

	opts = append(opts, WithLogger(slog.New(slog.DiscardHandler)))

	runner, err := NewRunner(stages, opts...)
	require.NoError(t, err)

	return runner
}

func TestStagesValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("fully wired stages pass", func(t *testing.T) {
		_, err := NewRunner(newStageRecorder().stages())
		require.NoError(t, err)
	})

	t.Run("missing stages are named in the error", func(t *testing.T) {
		stages := newStageRecorder().stages()
		stages.TransformEvents = nil
		stages.Metrics = nil

		_, err := NewRunner(stages)
		require.ErrorIs(t, err, ErrMissingStage)
		assert.ErrorContains(t, err, "transform_events")
		assert.ErrorContains(t, err, "metrics")
	})
}

func TestRunnerRun(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()

	t.Run("full run populates the summary", func(t *testing.T) {
		recorder := newStageRecorder()
		clock := clockwork.NewFakeClock()

		runner := quietRunner(t, recorder.stages(), WithClock(clock))

		summary, err := runner.Run(ctx, "2024-06-15")
		require.NoError(t, err)

		assert.Equal(t, "2024-06-15", summary.RunDate)
		assert.Equal(t, 10, summary.ExtractedOrders)
		assert.Equal(t, 20, summary.ExtractedEvents)
		assert.Equal(t, 5, summary.ExtractedProducts)
		assert.Equal(t, 10, summary.StagedOrders)
		assert.True(t, summary.Quality.Passed)
		assert.Equal(t, int64(10), summary.Facts.OrdersInserted)

		for _, stage := range []string{"quality", "dimensions", "facts", "metrics"} {
			assert.True(t, recorder.didRun(stage), "stage %s did not run", stage)
		}
	})

	t.Run("rejects malformed run dates before running anything", func(t *testing.T) {
		recorder := newStageRecorder()
		runner := quietRunner(t, recorder.stages())

		_, err := runner.Run(ctx, "06/15/2024")
		require.ErrorIs(t, err, warehouse.ErrInvalidRunDate)
		assert.Empty(t, recorder.ran)
	})

	t.Run("zero extracted records skips the transform", func(t *testing.T) {
		recorder := newStageRecorder()
		recorder.extractCounts["events"] = 0

		runner := quietRunner(t, recorder.stages())

		summary, err := runner.Run(ctx, "2024-06-15")
		require.NoError(t, err)

		assert.False(t, recorder.didRun("transform_events"))
		assert.True(t, recorder.didRun("transform_orders"))
		assert.Zero(t, summary.StagedEvents)
	})

	t.Run("extract failure aborts before transforms", func(t *testing.T) {
		recorder := newStageRecorder()
		recorder.extractErr = errors.New("disk full")

		runner := quietRunner(t, recorder.stages())

		_, err := runner.Run(ctx, "2024-06-15")
		require.ErrorIs(t, err, ErrStageFailed)
		assert.False(t, recorder.didRun("transform_orders"))
		assert.False(t, recorder.didRun("quality"))
	})

	t.Run("failed quality gate blocks the warehouse load", func(t *testing.T) {
		recorder := newStageRecorder()
		recorder.qualityResult = quality.Result{
			RunDate: "2024-06-15",
			Passed:  false,
			Failures: []quality.Failure{
				{CheckName: quality.CheckOrdersVolume},
				{CheckName: quality.CheckOrdersNoDuplicates},
			},
		}

		runner := quietRunner(t, recorder.stages())

		_, err := runner.Run(ctx, "2024-06-15")
		require.ErrorIs(t, err, quality.ErrGateFailed)
		assert.ErrorContains(t, err, quality.CheckOrdersVolume)

		assert.False(t, recorder.didRun("dimensions"))
		assert.False(t, recorder.didRun("facts"))
		assert.False(t, recorder.didRun("metrics"))
	})

	t.Run("quality evaluation error is a stage failure, not a verdict", func(t *testing.T) {
		recorder := newStageRecorder()
		recorder.qualityErr = errors.New("connection refused")

		runner := quietRunner(t, recorder.stages())

		_, err := runner.Run(ctx, "2024-06-15")
		require.ErrorIs(t, err, ErrStageFailed)
		assert.NotErrorIs(t, err, quality.ErrGateFailed)
	})

	t.Run("dimension failure blocks facts", func(t *testing.T) {
		recorder := newStageRecorder()
		recorder.dimErr = errors.New("deadlock")

		runner := quietRunner(t, recorder.stages())

		_, err := runner.Run(ctx, "2024-06-15")
		require.ErrorIs(t, err, ErrStageFailed)
		assert.False(t, recorder.didRun("facts"))
	})

	t.Run("metrics receive the measured runtime", func(t *testing.T) {
		recorder := newStageRecorder()
		clock := clockwork.NewFakeClock()

		stages := recorder.stages()
		inner := stages.Quality
		stages.Quality = func(ctx context.Context, runDate string) (quality.Result, error) {
			clock.Advance(42 * time.Second)

			return inner(ctx, runDate)
		}

		runner := quietRunner(t, stages, WithClock(clock))

		summary, err := runner.Run(ctx, "2024-06-15")
		require.NoError(t, err)
		assert.Equal(t, 42*time.Second, summary.Runtime)
		assert.Equal(t, 42*time.Second, recorder.metricsRuntime)
	})
}
