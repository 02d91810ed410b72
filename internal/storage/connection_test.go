package storage

import (
	"errors"
	"testing"
)

func TestNewConnectionValidation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("rejects empty database URL before dialing", func(t *testing.T) {
		_, err := NewConnection(&Config{databaseURL: ""})
		if !errors.Is(err, ErrDatabaseURLEmpty) {
			t.Errorf("NewConnection() error = %v, want %v", err, ErrDatabaseURLEmpty)
		}
	})

	t.Run("stores require a connection", func(t *testing.T) {
		constructors := []struct {
			name string
			fn   func() error
		}{
			{"raw", func() error { _, err := NewRawStore(nil); return err }},
			{"staging", func() error { _, err := NewStagingStore(nil); return err }},
			{"warehouse", func() error { _, err := NewWarehouseStore(nil); return err }},
			{"audit", func() error { _, err := NewAuditStore(nil); return err }},
			{"metrics", func() error { _, err := NewMetricsStore(nil); return err }},
		}

		for _, tc := range constructors {
			t.Run(tc.name, func(t *testing.T) {
				if err := tc.fn(); !errors.Is(err, ErrNoDatabaseConnection) {
					t.Errorf("constructor error = %v, want %v", err, ErrNoDatabaseConnection)
				}
			})
		}
	})
}
