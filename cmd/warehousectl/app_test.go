package main

import (
	"errors"
	"testing"

	"github.com/ecomm-io/warehouse/internal/pipeline"
	"github.com/ecomm-io/warehouse/internal/warehouse"
)

func TestStagesWireEveryPipelineStage(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Stage functions are method values; the components are never invoked
	// here, so a zero-value app is enough to check the wiring is complete.
	a := &app{}

	if _, err := pipeline.NewRunner(a.stages()); err != nil {
		t.Errorf("NewRunner(app.stages()) error: %v", err)
	}
}

func TestValidateRunDate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	if err := validateRunDate("2024-06-15"); err != nil {
		t.Errorf("validateRunDate() unexpected error: %v", err)
	}

	for _, bad := range []string{"", "15-06-2024", "yesterday"} {
		err := validateRunDate(bad)
		if !errors.Is(err, warehouse.ErrInvalidRunDate) {
			t.Errorf("validateRunDate(%q) error = %v, want %v", bad, err, warehouse.ErrInvalidRunDate)
		}
	}
}
