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

// productPayload is the raw product envelope as written by the extractors.
type productPayload struct {
	ProductID    flexString  `json:"product_id"`
	ProductName  string      `json:"product_name"`
	Category     string      `json:"category"`
	Brand        string      `json:"brand"`
	CurrentPrice json.Number `json:"current_price"`
}

// ProductTransformer moves raw.products_json into staging.products_clean for
// one run date.
type ProductTransformer struct {
	raw     RawSource
	staging StagingStore
	logger  *slog.Logger
}

// NewProductTransformer wires a product transformer over the raw and staging stores.
func NewProductTransformer(raw RawSource, staging StagingStore, logger *slog.Logger) (*ProductTransformer, error) {
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

	return &ProductTransformer{raw: raw, staging: staging, logger: logger}, nil
}

// Run replaces the run date's staging.products_clean partition. product_id is
// the only required field; duplicates keep the latest-ingested snapshot.
func (t *ProductTransformer) Run(ctx context.Context, runDate string) (int, error) {
	deleted, err := t.staging.DeleteStagedProducts(ctx, runDate)
	if err != nil {
		return 0, fmt.Errorf("%w: clear products partition: %w", ErrTransformFailed, err)
	}

	rawRows, err := t.raw.RawProducts(ctx, runDate)
	if err != nil {
		return 0, fmt.Errorf("%w: read raw products: %w", ErrTransformFailed, err)
	}

	candidates := make([]candidate[StagedProduct], 0, len(rawRows))
	rejected := 0

	for _, raw := range rawRows {
		staged, ok := parseProduct(raw.Payload, runDate)
		if !ok {
			rejected++

			continue
		}

		candidates = append(candidates, candidate[StagedProduct]{
			key:        staged.ProductID,
			ingestedAt: raw.IngestedAt,
			seq:        raw.Seq,
			row:        staged,
		})
	}

	rows := latestWins(candidates)

	inserted := 0
	if len(rows) > 0 {
		inserted, err = t.staging.UpsertStagedProducts(ctx, rows)
		if err != nil {
			return 0, fmt.Errorf("%w: write staged products: %w", ErrTransformFailed, err)
		}
	}

	t.logger.Info("products transformed to staging",
		slog.String("run_date", runDate),
		slog.Int64("cleared", deleted),
		slog.Int("raw", len(rawRows)),
		slog.Int("rejected", rejected),
		slog.Int("deduplicated", len(candidates)-len(rows)),
		slog.Int("staged", inserted),
	)

	return inserted, nil
}

// parseProduct parses and validates one raw product payload.
func parseProduct(payload []byte, loadDate string) (StagedProduct, bool) {
	var p productPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return StagedProduct{}, false
	}

	productID := strings.TrimSpace(string(p.ProductID))
	if productID == "" {
		return StagedProduct{}, false
	}

	price, err := parseOptionalFloat(p.CurrentPrice)
	if err != nil {
		return StagedProduct{}, false
	}

	return StagedProduct{
		ProductID:    productID,
		Name:         strings.TrimSpace(p.ProductName),
		Category:     strings.TrimSpace(p.Category),
		Brand:        strings.TrimSpace(p.Brand),
		CurrentPrice: price,
		LoadDate:     loadDate,
	}, true
}
