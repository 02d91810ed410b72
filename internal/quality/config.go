// Package quality evaluates a fixed battery of data-quality checks against
// one run date's staging data. Every failure is recorded in the audit log;
// the gate's verdict blocks the warehouse load when any check fails.
package quality

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultThresholdsPath is the default location of the threshold overrides
// file. Thresholds are optional; built-in defaults apply when the file is
// absent.
const DefaultThresholdsPath = ".warehouse.yaml"

// ThresholdsPathEnvVar names the environment variable for a custom path.
const ThresholdsPathEnvVar = "WAREHOUSE_QUALITY_CONFIG"

// Built-in volume bounds. Daily feeds outside these ranges indicate wildly
// incomplete or anomalous ingestion.
const (
	defaultOrdersVolumeMin = 100
	defaultOrdersVolumeMax = 500000
	defaultEventsVolumeMin = 500
	defaultEventsVolumeMax = 2000000
)

// Thresholds holds the named, overridable bounds used by the volume checks.
//
//nolint:tagliatelle // snake_case is intentional for YAML config files
type Thresholds struct {
	OrdersVolumeMin int `yaml:"orders_volume_min"`
	OrdersVolumeMax int `yaml:"orders_volume_max"`
	EventsVolumeMin int `yaml:"events_volume_min"`
	EventsVolumeMax int `yaml:"events_volume_max"`
}

// thresholdsFile is the on-disk shape: thresholds nested under a "quality" key
// so the file can grow other pipeline settings later.
type thresholdsFile struct {
	Quality Thresholds `yaml:"quality"`
}

// DefaultThresholds returns the built-in volume bounds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		OrdersVolumeMin: defaultOrdersVolumeMin,
		OrdersVolumeMax: defaultOrdersVolumeMax,
		EventsVolumeMin: defaultEventsVolumeMin,
		EventsVolumeMax: defaultEventsVolumeMax,
	}
}

// LoadThresholds loads threshold overrides from a YAML file.
//
// Behavior:
//   - Missing file returns defaults (not an error) - overrides are optional
//   - Invalid YAML returns defaults and logs a warning (graceful degradation)
//   - Zero-valued fields in the file fall back to the built-in default
func LoadThresholds(path string) (Thresholds, error) {
	defaults := DefaultThresholds()

	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("quality thresholds file not found, using defaults",
				slog.String("path", path))

			return defaults, nil
		}

		slog.Warn("failed to read quality thresholds file, using defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return defaults, nil
	}

	var file thresholdsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		slog.Warn("invalid quality thresholds file, using defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return defaults, nil
	}

	loaded := file.Quality
	if loaded.OrdersVolumeMin == 0 {
		loaded.OrdersVolumeMin = defaults.OrdersVolumeMin
	}

	if loaded.OrdersVolumeMax == 0 {
		loaded.OrdersVolumeMax = defaults.OrdersVolumeMax
	}

	if loaded.EventsVolumeMin == 0 {
		loaded.EventsVolumeMin = defaults.EventsVolumeMin
	}

	if loaded.EventsVolumeMax == 0 {
		loaded.EventsVolumeMax = defaults.EventsVolumeMax
	}

	if err := loaded.Validate(); err != nil {
		slog.Warn("inconsistent quality thresholds file, using defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return defaults, nil
	}

	return loaded, nil
}

// Validate checks threshold consistency.
func (t Thresholds) Validate() error {
	if t.OrdersVolumeMin > t.OrdersVolumeMax {
		return fmt.Errorf("orders volume min %d exceeds max %d", t.OrdersVolumeMin, t.OrdersVolumeMax)
	}

	if t.EventsVolumeMin > t.EventsVolumeMax {
		return fmt.Errorf("events volume min %d exceeds max %d", t.EventsVolumeMin, t.EventsVolumeMax)
	}

	return nil
}
