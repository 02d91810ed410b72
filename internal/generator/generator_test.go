package generator

import (
	"encoding/csv"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(dir string) Config {
	return Config{
		OutputDir:    dir,
		Days:         3,
		EndDate:      time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
		OrdersPerDay: 50,
		EventsPerDay: 200,
		ProductCount: 20,
		Seed:         42,
	}
}

func TestNew(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	logger := slog.New(slog.DiscardHandler)

	t.Run("requires an output directory", func(t *testing.T) {
		cfg := testConfig("")

		_, err := New(cfg, logger)
		require.ErrorIs(t, err, ErrNoOutputDir)
	})

	t.Run("requires at least one day", func(t *testing.T) {
		cfg := testConfig(t.TempDir())
		cfg.Days = 0

		_, err := New(cfg, logger)
		require.ErrorIs(t, err, ErrInvalidDays)
	})
}

func TestGeneratorRun(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	logger := slog.New(slog.DiscardHandler)

	t.Run("writes the drop file layout the extractors read", func(t *testing.T) {
		dir := t.TempDir()

		gen, err := New(testConfig(dir), logger)
		require.NoError(t, err)
		require.NoError(t, gen.Run())

		// Days=3 ending 2024-06-15 covers the 13th through the 15th.
		for _, date := range []string{"2024-06-13", "2024-06-14", "2024-06-15"} {
			assert.FileExists(t, filepath.Join(dir, "orders", date, "orders.json"))
			assert.FileExists(t, filepath.Join(dir, "events", date, "events.csv"))
		}

		// One weekly snapshot, stamped with the oldest day.
		assert.FileExists(t, filepath.Join(dir, "products", "products_2024-06-13.json"))
		assert.NoFileExists(t, filepath.Join(dir, "products", "products_2024-06-15.json"))
	})

	t.Run("orders parse and include injected dirty data", func(t *testing.T) {
		dir := t.TempDir()

		cfg := testConfig(dir)
		cfg.Days = 1
		cfg.OrdersPerDay = 2000

		gen, err := New(cfg, logger)
		require.NoError(t, err)
		require.NoError(t, gen.Run())

		data, err := os.ReadFile(filepath.Join(dir, "orders", "2024-06-15", "orders.json"))
		require.NoError(t, err)

		var orders []map[string]any
		require.NoError(t, json.Unmarshal(data, &orders))

		// duplicates push the count above the nominal volume
		assert.GreaterOrEqual(t, len(orders), cfg.OrdersPerDay)

		seen := map[string]int{}
		negatives := 0

		for _, order := range orders {
			id, ok := order["order_id"].(string)
			require.True(t, ok)
			seen[id]++

			price, ok := order["price"].(float64)
			require.True(t, ok)

			if price < 0 {
				negatives++
			}
		}

		duplicates := len(orders) - len(seen)
		assert.Positive(t, duplicates, "expected injected duplicate orders")
		assert.Positive(t, negatives, "expected injected negative prices")
	})

	t.Run("events carry the header and some blank event ids", func(t *testing.T) {
		dir := t.TempDir()

		cfg := testConfig(dir)
		cfg.Days = 1
		cfg.EventsPerDay = 2000

		gen, err := New(cfg, logger)
		require.NoError(t, err)
		require.NoError(t, gen.Run())

		f, err := os.Open(filepath.Join(dir, "events", "2024-06-15", "events.csv"))
		require.NoError(t, err)
		defer f.Close() //nolint:errcheck

		records, err := csv.NewReader(f).ReadAll()
		require.NoError(t, err)
		require.NotEmpty(t, records)

		assert.Equal(t, []string{"event_id", "user_id", "event_type", "product_id", "event_ts"}, records[0])
		assert.GreaterOrEqual(t, len(records)-1, cfg.EventsPerDay)

		blanks := 0

		for _, record := range records[1:] {
			require.Len(t, record, 5)

			if record[0] == "" {
				blanks++
			}

			_, err := time.Parse(time.RFC3339, record[4])
			assert.NoError(t, err)
		}

		assert.Positive(t, blanks, "expected some events without an event id")
	})

	t.Run("fixed seed reproduces identical output", func(t *testing.T) {
		dirA := t.TempDir()
		dirB := t.TempDir()

		for _, dir := range []string{dirA, dirB} {
			gen, err := New(testConfig(dir), logger)
			require.NoError(t, err)
			require.NoError(t, gen.Run())
		}

		a, err := os.ReadFile(filepath.Join(dirA, "orders", "2024-06-15", "orders.json"))
		require.NoError(t, err)

		b, err := os.ReadFile(filepath.Join(dirB, "orders", "2024-06-15", "orders.json"))
		require.NoError(t, err)

		assert.Equal(t, a, b)
	})
}
