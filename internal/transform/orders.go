package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ecomm-io/warehouse/internal/config"
)

// orderPayload is the raw order envelope as written by the extractors.
// Quantity and price stay json.Number so "3" and 3 both parse.
type orderPayload struct {
	OrderID   flexString  `json:"order_id"`
	UserID    flexString  `json:"user_id"`
	ProductID flexString  `json:"product_id"`
	Quantity  json.Number `json:"quantity"`
	Price     json.Number `json:"price"`
	Timestamp string      `json:"timestamp"`
	Status    string      `json:"status"`
}

// OrderTransformer moves raw.orders_json into staging.orders_clean for one
// run date.
type OrderTransformer struct {
	raw     RawSource
	staging StagingStore
	logger  *slog.Logger
}

// NewOrderTransformer wires an order transformer over the raw and staging stores.
func NewOrderTransformer(raw RawSource, staging StagingStore, logger *slog.Logger) (*OrderTransformer, error) {
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

	return &OrderTransformer{raw: raw, staging: staging, logger: logger}, nil
}

// Run replaces the run date's staging.orders_clean partition.
//
// Steps: delete the partition, read raw rows, parse and validate each payload
// (order_id, user_id and timestamp are required), deduplicate by order_id
// keeping the latest-ingested version, normalize numerics (revenue =
// quantity x unit price when both are present), batch-upsert. Any error
// aborts the whole transform; the caller retries the run date.
func (t *OrderTransformer) Run(ctx context.Context, runDate string) (int, error) {
	deleted, err := t.staging.DeleteStagedOrders(ctx, runDate)
	if err != nil {
		return 0, fmt.Errorf("%w: clear orders partition: %w", ErrTransformFailed, err)
	}

	rawRows, err := t.raw.RawOrders(ctx, runDate)
	if err != nil {
		return 0, fmt.Errorf("%w: read raw orders: %w", ErrTransformFailed, err)
	}

	candidates := make([]candidate[StagedOrder], 0, len(rawRows))
	rejected := 0

	for _, raw := range rawRows {
		staged, ok := parseOrder(raw.Payload, runDate)
		if !ok {
			rejected++

			continue
		}

		candidates = append(candidates, candidate[StagedOrder]{
			key:        staged.OrderID,
			ingestedAt: raw.IngestedAt,
			seq:        raw.Seq,
			row:        staged,
		})
	}

	rows := latestWins(candidates)

	inserted := 0
	if len(rows) > 0 {
		inserted, err = t.staging.UpsertStagedOrders(ctx, rows)
		if err != nil {
			return 0, fmt.Errorf("%w: write staged orders: %w", ErrTransformFailed, err)
		}
	}

	t.logger.Info("orders transformed to staging",
		slog.String("run_date", runDate),
		slog.Int64("cleared", deleted),
		slog.Int("raw", len(rawRows)),
		slog.Int("rejected", rejected),
		slog.Int("deduplicated", len(candidates)-len(rows)),
		slog.Int("staged", inserted),
	)

	return inserted, nil
}

// parseOrder parses and validates one raw order payload. Returns false when
// the payload is unusable: not JSON, or missing order_id, user_id or a
// parseable timestamp.
func parseOrder(payload []byte, loadDate string) (StagedOrder, bool) {
	var p orderPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return StagedOrder{}, false
	}

	orderID := strings.TrimSpace(string(p.OrderID))
	userID := strings.TrimSpace(string(p.UserID))

	if orderID == "" || userID == "" {
		return StagedOrder{}, false
	}

	orderTS, err := parseTimestamp(p.Timestamp)
	if err != nil {
		return StagedOrder{}, false
	}

	quantity, err := parseOptionalInt(p.Quantity)
	if err != nil {
		return StagedOrder{}, false
	}

	unitPrice, err := parseOptionalFloat(p.Price)
	if err != nil {
		return StagedOrder{}, false
	}

	var revenue *float64

	if quantity != nil && unitPrice != nil {
		r := float64(*quantity) * *unitPrice
		revenue = &r
	}

	return StagedOrder{
		OrderID:   orderID,
		UserID:    userID,
		ProductID: nullableID(string(p.ProductID)),
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Revenue:   revenue,
		OrderTS:   orderTS,
		Status:    strings.ToLower(strings.TrimSpace(p.Status)),
		LoadDate:  loadDate,
	}, true
}
