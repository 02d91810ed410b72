// Package pipeline sequences the daily batch run: extract, transform, quality
// gate, dimension load, fact load, metrics. Scheduling, retries and
// single-flight locking belong to the external scheduler; every stage here is
// idempotently re-invocable for the same run date.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/ecomm-io/warehouse/internal/config"
	"github.com/ecomm-io/warehouse/internal/metrics"
	"github.com/ecomm-io/warehouse/internal/quality"
	"github.com/ecomm-io/warehouse/internal/warehouse"
)

// Sentinel errors for pipeline runs.
var (
	ErrMissingStage = errors.New("pipeline stage is not wired")
	ErrStageFailed  = errors.New("pipeline stage failed")
)

type (
	// StageFunc is the shape shared by extract and transform stages: process
	// one run date, report how many records were handled. Zero with a nil
	// error means the source had nothing for the date, which is not a
	// failure.
	StageFunc func(ctx context.Context, runDate string) (int, error)

	// Stages wires the pipeline's stage functions. All fields are required.
	Stages struct {
		ExtractOrders   StageFunc
		ExtractEvents   StageFunc
		ExtractProducts StageFunc

		TransformOrders   StageFunc
		TransformEvents   StageFunc
		TransformProducts StageFunc

		Quality    func(ctx context.Context, runDate string) (quality.Result, error)
		Dimensions func(ctx context.Context, runDate string) (warehouse.DimensionCounts, error)
		Facts      func(ctx context.Context, runDate string) (warehouse.FactCounts, error)
		Metrics    func(ctx context.Context, runDate string, runtime time.Duration) (metrics.Snapshot, error)
	}

	// Summary reports what one full run did.
	Summary struct {
		RunDate           string
		ExtractedOrders   int
		ExtractedEvents   int
		ExtractedProducts int
		StagedOrders      int
		StagedEvents      int
		StagedProducts    int
		Quality           quality.Result
		Dimensions        warehouse.DimensionCounts
		Facts             warehouse.FactCounts
		Metrics           metrics.Snapshot
		Runtime           time.Duration
	}

	// Runner executes the full DAG for one run date.
	Runner struct {
		stages Stages
		clock  clockwork.Clock
		logger *slog.Logger
	}

	// RunnerOption configures optional Runner behavior.
	RunnerOption func(*Runner)
)

// WithClock sets the clock used to measure run time.
func WithClock(clock clockwork.Clock) RunnerOption {
	return func(r *Runner) {
		r.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a pipeline runner over fully wired stages.
func NewRunner(stages Stages, opts ...RunnerOption) (*Runner, error) {
	if err := stages.validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		stages: stages,
		clock:  clockwork.NewRealClock(),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

func (s Stages) validate() error {
	missing := make([]string, 0)

	for _, stage := range []struct {
		name string
		ok   bool
	}{
		{"extract_orders", s.ExtractOrders != nil},
		{"extract_events", s.ExtractEvents != nil},
		{"extract_products", s.ExtractProducts != nil},
		{"transform_orders", s.TransformOrders != nil},
		{"transform_events", s.TransformEvents != nil},
		{"transform_products", s.TransformProducts != nil},
		{"quality", s.Quality != nil},
		{"dimensions", s.Dimensions != nil},
		{"facts", s.Facts != nil},
		{"metrics", s.Metrics != nil},
	} {
		if !stage.ok {
			missing = append(missing, stage.name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingStage, strings.Join(missing, ", "))
	}

	return nil
}

// Run executes the DAG for the run date.
//
// Extracts run in parallel; so do the transforms that have anything to do
// (an extract that reported zero records skips its transform). The quality
// gate runs after all transforms; a failed verdict aborts the run with
// quality.ErrGateFailed before anything touches the warehouse. Dimensions
// load before facts. Metrics publish last, with the measured wall time.
func (r *Runner) Run(ctx context.Context, runDate string) (Summary, error) {
	if _, err := warehouse.ParseRunDate(runDate); err != nil {
		return Summary{}, err
	}

	started := r.clock.Now()
	summary := Summary{RunDate: runDate}

	r.logger.Info("pipeline run started", slog.String("run_date", runDate))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.runStage(gctx, "extract_orders", runDate, r.stages.ExtractOrders, &summary.ExtractedOrders)
	})
	g.Go(func() error {
		return r.runStage(gctx, "extract_events", runDate, r.stages.ExtractEvents, &summary.ExtractedEvents)
	})
	g.Go(func() error {
		return r.runStage(gctx, "extract_products", runDate, r.stages.ExtractProducts, &summary.ExtractedProducts)
	})

	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		if r.skip("transform_orders", runDate, summary.ExtractedOrders) {
			return nil
		}

		return r.runStage(gctx, "transform_orders", runDate, r.stages.TransformOrders, &summary.StagedOrders)
	})
	g.Go(func() error {
		if r.skip("transform_events", runDate, summary.ExtractedEvents) {
			return nil
		}

		return r.runStage(gctx, "transform_events", runDate, r.stages.TransformEvents, &summary.StagedEvents)
	})
	g.Go(func() error {
		if r.skip("transform_products", runDate, summary.ExtractedProducts) {
			return nil
		}

		return r.runStage(gctx, "transform_products", runDate, r.stages.TransformProducts, &summary.StagedProducts)
	})

	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	result, err := r.stages.Quality(ctx, runDate)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: quality: %w", ErrStageFailed, err)
	}

	summary.Quality = result

	if !result.Passed {
		return Summary{}, fmt.Errorf("%w: %s", quality.ErrGateFailed,
			strings.Join(result.FailedChecks(), ", "))
	}

	summary.Dimensions, err = r.stages.Dimensions(ctx, runDate)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: dimensions: %w", ErrStageFailed, err)
	}

	summary.Facts, err = r.stages.Facts(ctx, runDate)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: facts: %w", ErrStageFailed, err)
	}

	summary.Runtime = r.clock.Since(started)

	summary.Metrics, err = r.stages.Metrics(ctx, runDate, summary.Runtime)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: metrics: %w", ErrStageFailed, err)
	}

	r.logger.Info("pipeline run finished",
		slog.String("run_date", runDate),
		slog.Int("staged_orders", summary.StagedOrders),
		slog.Int("staged_events", summary.StagedEvents),
		slog.Int("staged_products", summary.StagedProducts),
		slog.Int64("fact_orders", summary.Facts.OrdersInserted),
		slog.Int64("fact_events", summary.Facts.EventsInserted),
		slog.Duration("runtime", summary.Runtime),
	)

	return summary, nil
}

func (r *Runner) runStage(ctx context.Context, name, runDate string, stage StageFunc, out *int) error {
	count, err := stage(ctx, runDate)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStageFailed, name, err)
	}

	*out = count

	r.logger.Info("stage finished",
		slog.String("stage", name),
		slog.String("run_date", runDate),
		slog.Int("records", count),
	)

	return nil
}

func (r *Runner) skip(name, runDate string, extracted int) bool {
	if extracted > 0 {
		return false
	}

	r.logger.Info("stage skipped, nothing extracted",
		slog.String("stage", name),
		slog.String("run_date", runDate),
	)

	return true
}
