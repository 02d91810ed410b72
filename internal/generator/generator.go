// Package generator writes sample drop files (orders JSON, events CSV,
// product snapshots) so the pipeline can run end to end without upstream
// systems. Output deliberately includes a small share of duplicate and
// malformed records to exercise validation and the quality checks.
package generator

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ecomm-io/warehouse/internal/config"
	"github.com/ecomm-io/warehouse/internal/warehouse"
)

// Sentinel errors for sample data generation.
var (
	ErrInvalidDays = errors.New("days must be at least 1")
	ErrWriteFailed = errors.New("failed to write sample file")
	ErrNoOutputDir = errors.New("output directory is required")
)

// Dirty-data rates, tuned so default volumes still pass the quality gate.
const (
	duplicateRate = 0.02
	negativeRate  = 0.005
)

var (
	eventTypes  = []string{"view_product", "add_to_cart", "purchase", "remove_from_cart"}
	orderStatus = []string{"completed", "pending", "shipped", "cancelled"}
	categories  = []string{"electronics", "clothing", "home", "sports", "books", "beauty"}
	brands      = []string{"Acme", "Globex", "Initech", "Umbrella", "Stark", "Wayne"}
)

type (
	// Config sizes one generation run.
	Config struct {
		OutputDir    string
		Days         int       // number of consecutive run dates
		EndDate      time.Time // last (most recent) run date
		OrdersPerDay int
		EventsPerDay int
		ProductCount int
		Seed         int64
	}

	// Generator writes drop files under OutputDir using the same layout the
	// file extractors read.
	Generator struct {
		cfg    Config
		rng    *rand.Rand
		logger *slog.Logger
	}

	sampleOrder struct {
		OrderID   string  `json:"order_id"`
		UserID    string  `json:"user_id"`
		ProductID string  `json:"product_id"`
		Quantity  int     `json:"quantity"`
		Price     float64 `json:"price"`
		Timestamp string  `json:"timestamp"`
		Status    string  `json:"status"`
	}

	sampleProduct struct {
		ProductID    string  `json:"product_id"`
		ProductName  string  `json:"product_name"`
		Category     string  `json:"category"`
		Brand        string  `json:"brand"`
		CurrentPrice float64 `json:"current_price"`
	}
)

// DefaultConfig returns generation settings that satisfy the default quality
// volume thresholds.
func DefaultConfig(outputDir string) Config {
	return Config{
		OutputDir:    outputDir,
		Days:         7,
		EndDate:      time.Now().UTC(),
		OrdersPerDay: 500,
		EventsPerDay: 3000,
		ProductCount: 100,
		Seed:         time.Now().UnixNano(),
	}
}

// New creates a generator. A fixed Seed makes output reproducible.
func New(cfg Config, logger *slog.Logger) (*Generator, error) {
	if cfg.OutputDir == "" {
		return nil, ErrNoOutputDir
	}

	if cfg.Days < 1 {
		return nil, ErrInvalidDays
	}

	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		}))
	}

	return &Generator{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec // sample data, not security material
		logger: logger,
	}, nil
}

// Run writes orders and events for each day, plus a product snapshot on the
// first day of each 7-day window.
func (g *Generator) Run() error {
	for day := 0; day < g.cfg.Days; day++ {
		date := g.cfg.EndDate.AddDate(0, 0, day-(g.cfg.Days-1))
		runDate := date.Format(warehouse.RunDateLayout)

		if err := g.writeOrders(runDate, date); err != nil {
			return err
		}

		if err := g.writeEvents(runDate, date); err != nil {
			return err
		}

		// product snapshots are weekly, starting with the oldest day
		if day%7 == 0 {
			if err := g.writeProducts(runDate); err != nil {
				return err
			}
		}

		g.logger.Info("sample files written", slog.String("run_date", runDate))
	}

	return nil
}

func (g *Generator) writeOrders(runDate string, date time.Time) error {
	orders := make([]sampleOrder, 0, g.cfg.OrdersPerDay+g.cfg.OrdersPerDay/20)

	for i := 0; i < g.cfg.OrdersPerDay; i++ {
		order := sampleOrder{
			OrderID:   fmt.Sprintf("ORD_%s_%05d", runDate, i),
			UserID:    fmt.Sprintf("USER_%04d", g.rng.Intn(1000)+1),
			ProductID: fmt.Sprintf("PROD_%04d", g.rng.Intn(g.cfg.ProductCount)+1),
			Quantity:  g.rng.Intn(5) + 1,
			Price:     roundCents(5 + g.rng.Float64()*495),
			Timestamp: g.timestampIn(date),
			Status:    orderStatus[g.rng.Intn(len(orderStatus))],
		}

		if g.rng.Float64() < negativeRate {
			order.Price = -order.Price
		}

		orders = append(orders, order)

		if g.rng.Float64() < duplicateRate {
			dup := order
			dup.Timestamp = g.timestampIn(date)
			orders = append(orders, dup)
		}
	}

	dir := filepath.Join(g.cfg.OutputDir, "orders", runDate)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	data, err := json.MarshalIndent(orders, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "orders.json"), data, 0o600); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	return nil
}

func (g *Generator) writeEvents(runDate string, date time.Time) error {
	dir := filepath.Join(g.cfg.OutputDir, "events", runDate)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	f, err := os.Create(filepath.Join(dir, "events.csv")) //nolint:gosec // path built from trusted config
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)

	if err := w.Write([]string{"event_id", "user_id", "event_type", "product_id", "event_ts"}); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	for i := 0; i < g.cfg.EventsPerDay; i++ {
		eventID := fmt.Sprintf("EVT_%s_%06d", runDate, i)
		// a few rows arrive without an event id; extraction hashes the line
		if g.rng.Float64() < 0.01 {
			eventID = ""
		}

		row := []string{
			eventID,
			fmt.Sprintf("USER_%04d", g.rng.Intn(1000)+1),
			eventTypes[g.rng.Intn(len(eventTypes))],
			fmt.Sprintf("PROD_%04d", g.rng.Intn(g.cfg.ProductCount)+1),
			g.timestampIn(date),
		}

		if err := w.Write(row); err != nil {
			return fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}

		if g.rng.Float64() < duplicateRate && eventID != "" {
			if err := w.Write(row); err != nil {
				return fmt.Errorf("%w: %w", ErrWriteFailed, err)
			}
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	return nil
}

func (g *Generator) writeProducts(runDate string) error {
	products := make([]sampleProduct, 0, g.cfg.ProductCount)

	for i := 1; i <= g.cfg.ProductCount; i++ {
		category := categories[g.rng.Intn(len(categories))]
		products = append(products, sampleProduct{
			ProductID:    fmt.Sprintf("PROD_%04d", i),
			ProductName:  fmt.Sprintf("%s item %d", category, i),
			Category:     category,
			Brand:        brands[g.rng.Intn(len(brands))],
			CurrentPrice: roundCents(5 + g.rng.Float64()*495),
		})
	}

	dir := filepath.Join(g.cfg.OutputDir, "products")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	data, err := json.MarshalIndent(products, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	name := "products_" + runDate + ".json"
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	return nil
}

func (g *Generator) timestampIn(date time.Time) string {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	offset := time.Duration(g.rng.Int63n(int64(24 * time.Hour)))

	return day.Add(offset).Format(time.RFC3339)
}

func roundCents(v float64) float64 {
	cents, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)

	return cents
}
