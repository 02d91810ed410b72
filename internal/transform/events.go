package transform

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ecomm-io/warehouse/internal/config"
	"github.com/ecomm-io/warehouse/internal/extract"
)

// EventTransformer moves raw.events_csv into staging.events_clean for one
// run date.
type EventTransformer struct {
	raw     RawSource
	staging StagingStore
	logger  *slog.Logger
}

// NewEventTransformer wires an event transformer over the raw and staging stores.
func NewEventTransformer(raw RawSource, staging StagingStore, logger *slog.Logger) (*EventTransformer, error) {
	if raw == nil {
		return nil, ErrNoRawSource
	}

	if staging == nil {
		return nil, ErrNoStagingStore
	}

	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		}))
	}

	return &EventTransformer{raw: raw, staging: staging, logger: logger}, nil
}

// Run replaces the run date's staging.events_clean partition.
//
// Required fields are event_id, user_id, event_type and a parseable event_ts;
// rows missing any are rejected. event_type is lower-cased and an empty
// product_id becomes NULL. Duplicates by event_id keep the latest-ingested
// version.
func (t *EventTransformer) Run(ctx context.Context, runDate string) (int, error) {
	deleted, err := t.staging.DeleteStagedEvents(ctx, runDate)
	if err != nil {
		return 0, fmt.Errorf("%w: clear events partition: %w", ErrTransformFailed, err)
	}

	rawRows, err := t.raw.RawEvents(ctx, runDate)
	if err != nil {
		return 0, fmt.Errorf("%w: read raw events: %w", ErrTransformFailed, err)
	}

	candidates := make([]candidate[StagedEvent], 0, len(rawRows))
	rejected := 0

	for _, raw := range rawRows {
		staged, ok := parseEvent(raw, runDate)
		if !ok {
			rejected++

			continue
		}

		candidates = append(candidates, candidate[StagedEvent]{
			key:        staged.EventID,
			ingestedAt: raw.IngestedAt,
			seq:        raw.Seq,
			row:        staged,
		})
	}

	rows := latestWins(candidates)

	inserted := 0
	if len(rows) > 0 {
		inserted, err = t.staging.UpsertStagedEvents(ctx, rows)
		if err != nil {
			return 0, fmt.Errorf("%w: write staged events: %w", ErrTransformFailed, err)
		}
	}

	t.logger.Info("events transformed to staging",
		slog.String("run_date", runDate),
		slog.Int64("cleared", deleted),
		slog.Int("raw", len(rawRows)),
		slog.Int("rejected", rejected),
		slog.Int("deduplicated", len(candidates)-len(rows)),
		slog.Int("staged", inserted),
	)

	return inserted, nil
}

// parseEvent validates and normalizes one flattened raw event row.
func parseEvent(raw extract.RawEvent, loadDate string) (StagedEvent, bool) {
	eventID := strings.TrimSpace(raw.EventID)
	userID := strings.TrimSpace(raw.UserID)
	eventType := strings.TrimSpace(raw.EventType)

	if eventID == "" || userID == "" || eventType == "" {
		return StagedEvent{}, false
	}

	eventTS, err := parseTimestamp(raw.EventTS)
	if err != nil {
		return StagedEvent{}, false
	}

	return StagedEvent{
		EventID:   eventID,
		UserID:    userID,
		ProductID: nullableID(raw.ProductID),
		EventType: strings.ToLower(eventType),
		EventTS:   eventTS,
		LoadDate:  loadDate,
	}, true
}
