package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ecomm-io/warehouse/internal/config"
)

// Check categories recorded with every failure.
const (
	CategoryVolume     = "volume"
	CategoryUniqueness = "uniqueness"
	CategoryRange      = "range"
)

// Check names; test assertions and dashboards key off these.
const (
	CheckOrdersVolume        = "orders_volume"
	CheckEventsVolume        = "events_volume"
	CheckOrdersNoDuplicates  = "orders_no_duplicates"
	CheckEventsNoDuplicates  = "events_no_duplicates"
	CheckOrdersRevenueValid  = "orders_revenue_valid"
	CheckTimestampsNotFuture = "timestamps_not_future"
)

// Sentinel errors for the quality gate.
var (
	// ErrGateFailed signals a failed verdict: the pipeline must not load the
	// warehouse for this run date. Distinct from I/O errors, which mean the
	// gate could not be evaluated at all.
	ErrGateFailed = errors.New("data quality gate failed")

	// ErrNoSource is returned when a checker is built without a staging source.
	ErrNoSource = errors.New("staging source is required")

	// ErrNoRecorder is returned when a checker is built without an audit recorder.
	ErrNoRecorder = errors.New("audit recorder is required")
)

type (
	// Failure is one failed check, recorded append-only in audit.dq_failures.
	Failure struct {
		RunDate   string         `json:"run_date"`   //nolint:tagliatelle
		CheckName string         `json:"check_name"` //nolint:tagliatelle
		Category  string         `json:"category"`
		Message   string         `json:"message"`
		Details   map[string]any `json:"details"`
	}

	// Result is the gate verdict for one run date.
	Result struct {
		RunDate  string
		Passed   bool
		Failures []Failure
	}

	// Source exposes the staging counts the checks evaluate. Implemented by
	// storage.StagingStore. Checks are side-effect-free on data.
	Source interface {
		StagedOrderCount(ctx context.Context, loadDate string) (int, error)
		StagedEventCount(ctx context.Context, loadDate string) (int, error)
		DuplicateOrderKeys(ctx context.Context, loadDate string) (int, error)
		DuplicateEventKeys(ctx context.Context, loadDate string) (int, error)
		NegativeRevenueOrders(ctx context.Context, loadDate string) (int, error)
		FutureOrderTimestamps(ctx context.Context, loadDate string, now time.Time) (int, error)
		FutureEventTimestamps(ctx context.Context, loadDate string, now time.Time) (int, error)
	}

	// Recorder appends failures to the audit log. Implemented by
	// storage.AuditStore.
	Recorder interface {
		RecordFailure(ctx context.Context, failure Failure) error
	}

	// Publisher fans failed checks out to an external topic. Optional;
	// publish errors are logged, never fatal to the gate.
	Publisher interface {
		Publish(ctx context.Context, failure Failure) error
	}

	// Checker runs the full battery of checks for a run date.
	Checker struct {
		source     Source
		recorder   Recorder
		publisher  Publisher
		thresholds Thresholds
		clock      clockwork.Clock
		logger     *slog.Logger
	}

	// CheckerOption configures optional Checker behavior.
	CheckerOption func(*Checker)

	// checkFunc evaluates one named check; nil failure means pass.
	checkFunc func(ctx context.Context, runDate string) (*Failure, error)
)

// WithPublisher attaches a failure publisher (e.g. the Kafka audit topic).
func WithPublisher(p Publisher) CheckerOption {
	return func(c *Checker) {
		c.publisher = p
	}
}

// WithClock sets the clock used by the future-timestamp check.
func WithClock(clock clockwork.Clock) CheckerOption {
	return func(c *Checker) {
		c.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CheckerOption {
	return func(c *Checker) {
		c.logger = logger
	}
}

// NewChecker creates a quality gate over the staging source and audit recorder.
func NewChecker(source Source, recorder Recorder, thresholds Thresholds, opts ...CheckerOption) (*Checker, error) {
	if source == nil {
		return nil, ErrNoSource
	}

	if recorder == nil {
		return nil, ErrNoRecorder
	}

	if err := thresholds.Validate(); err != nil {
		return nil, err
	}

	c := &Checker{
		source:     source,
		recorder:   recorder,
		thresholds: thresholds,
		clock:      clockwork.NewRealClock(),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Run evaluates every check for the run date. Each failure is appended to the
// audit log (and published when a publisher is attached) before the verdict
// is returned. The verdict passes iff every check passed. An error means the
// gate could not be evaluated; it carries no verdict.
func (c *Checker) Run(ctx context.Context, runDate string) (Result, error) {
	checks := []checkFunc{
		c.checkOrdersVolume,
		c.checkEventsVolume,
		c.checkOrdersNoDuplicates,
		c.checkEventsNoDuplicates,
		c.checkOrdersRevenueValid,
		c.checkTimestampsNotFuture,
	}

	result := Result{RunDate: runDate, Passed: true}

	for _, check := range checks {
		failure, err := check(ctx, runDate)
		if err != nil {
			return Result{}, err
		}

		if failure == nil {
			continue
		}

		result.Passed = false
		result.Failures = append(result.Failures, *failure)

		if err := c.recorder.RecordFailure(ctx, *failure); err != nil {
			return Result{}, fmt.Errorf("record quality failure: %w", err)
		}

		if c.publisher != nil {
			if err := c.publisher.Publish(ctx, *failure); err != nil {
				c.logger.Warn("failed to publish quality failure",
					slog.String("check", failure.CheckName),
					slog.String("error", err.Error()),
				)
			}
		}

		c.logger.Warn("quality check failed",
			slog.String("run_date", runDate),
			slog.String("check", failure.CheckName),
			slog.String("category", failure.Category),
			slog.String("message", failure.Message),
		)
	}

	if result.Passed {
		c.logger.Info("all quality checks passed", slog.String("run_date", runDate))
	} else {
		c.logger.Warn("quality gate failed",
			slog.String("run_date", runDate),
			slog.Int("failed_checks", len(result.Failures)),
		)
	}

	return result, nil
}

// FailedChecks lists the names of failed checks, for pipeline-level error messages.
func (r Result) FailedChecks() []string {
	names := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		names = append(names, f.CheckName)
	}

	return names
}

func (c *Checker) checkOrdersVolume(ctx context.Context, runDate string) (*Failure, error) {
	count, err := c.source.StagedOrderCount(ctx, runDate)
	if err != nil {
		return nil, err
	}

	minCount, maxCount := c.thresholds.OrdersVolumeMin, c.thresholds.OrdersVolumeMax
	if count < minCount || count > maxCount {
		return &Failure{
			RunDate:   runDate,
			CheckName: CheckOrdersVolume,
			Category:  CategoryVolume,
			Message:   fmt.Sprintf("orders count %d outside range [%d, %d]", count, minCount, maxCount),
			Details:   map[string]any{"count": count, "min": minCount, "max": maxCount},
		}, nil
	}

	return nil, nil //nolint:nilnil // nil failure means the check passed
}

func (c *Checker) checkEventsVolume(ctx context.Context, runDate string) (*Failure, error) {
	count, err := c.source.StagedEventCount(ctx, runDate)
	if err != nil {
		return nil, err
	}

	minCount, maxCount := c.thresholds.EventsVolumeMin, c.thresholds.EventsVolumeMax
	if count < minCount || count > maxCount {
		return &Failure{
			RunDate:   runDate,
			CheckName: CheckEventsVolume,
			Category:  CategoryVolume,
			Message:   fmt.Sprintf("events count %d outside range [%d, %d]", count, minCount, maxCount),
			Details:   map[string]any{"count": count, "min": minCount, "max": maxCount},
		}, nil
	}

	return nil, nil //nolint:nilnil // nil failure means the check passed
}

func (c *Checker) checkOrdersNoDuplicates(ctx context.Context, runDate string) (*Failure, error) {
	duplicates, err := c.source.DuplicateOrderKeys(ctx, runDate)
	if err != nil {
		return nil, err
	}

	if duplicates > 0 {
		return &Failure{
			RunDate:   runDate,
			CheckName: CheckOrdersNoDuplicates,
			Category:  CategoryUniqueness,
			Message:   fmt.Sprintf("found %d duplicate order ids", duplicates),
			Details:   map[string]any{"duplicates": duplicates},
		}, nil
	}

	return nil, nil //nolint:nilnil // nil failure means the check passed
}

func (c *Checker) checkEventsNoDuplicates(ctx context.Context, runDate string) (*Failure, error) {
	duplicates, err := c.source.DuplicateEventKeys(ctx, runDate)
	if err != nil {
		return nil, err
	}

	if duplicates > 0 {
		return &Failure{
			RunDate:   runDate,
			CheckName: CheckEventsNoDuplicates,
			Category:  CategoryUniqueness,
			Message:   fmt.Sprintf("found %d duplicate event ids", duplicates),
			Details:   map[string]any{"duplicates": duplicates},
		}, nil
	}

	return nil, nil //nolint:nilnil // nil failure means the check passed
}

func (c *Checker) checkOrdersRevenueValid(ctx context.Context, runDate string) (*Failure, error) {
	invalid, err := c.source.NegativeRevenueOrders(ctx, runDate)
	if err != nil {
		return nil, err
	}

	if invalid > 0 {
		return &Failure{
			RunDate:   runDate,
			CheckName: CheckOrdersRevenueValid,
			Category:  CategoryRange,
			Message:   fmt.Sprintf("found %d orders with negative revenue", invalid),
			Details:   map[string]any{"invalid_records": invalid},
		}, nil
	}

	return nil, nil //nolint:nilnil // nil failure means the check passed
}

func (c *Checker) checkTimestampsNotFuture(ctx context.Context, runDate string) (*Failure, error) {
	now := c.clock.Now().UTC()

	futureOrders, err := c.source.FutureOrderTimestamps(ctx, runDate, now)
	if err != nil {
		return nil, err
	}

	futureEvents, err := c.source.FutureEventTimestamps(ctx, runDate, now)
	if err != nil {
		return nil, err
	}

	total := futureOrders + futureEvents
	if total > 0 {
		return &Failure{
			RunDate:   runDate,
			CheckName: CheckTimestampsNotFuture,
			Category:  CategoryRange,
			Message:   fmt.Sprintf("found %d records with future timestamps", total),
			Details:   map[string]any{"orders": futureOrders, "events": futureEvents},
		}, nil
	}

	return nil, nil //nolint:nilnil // nil failure means the check passed
}
