package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/ecomm-io/warehouse/internal/config"
)

var errDatabaseURLRequired = errors.New("DATABASE_URL is required")

type migratorConfig struct {
	databaseURL    string
	migrationTable string
}

func loadConfig() (*migratorConfig, error) {
	cfg := &migratorConfig{
		databaseURL:    os.Getenv("DATABASE_URL"),
		migrationTable: config.GetEnvStr("MIGRATION_TABLE", "schema_migrations"),
	}

	if cfg.databaseURL == "" {
		return nil, errDatabaseURLRequired
	}

	return cfg, nil
}

// maskedURL hides the password so the connection target can be logged.
func (c *migratorConfig) maskedURL() string {
	parsed, err := url.Parse(c.databaseURL)
	if err != nil {
		return "(unparseable database url)"
	}

	if parsed.User == nil {
		return c.databaseURL
	}

	if _, hasPassword := parsed.User.Password(); !hasPassword {
		return c.databaseURL
	}

	parsed.User = url.UserPassword(parsed.User.Username(), "***")

	return parsed.String()
}

func (c *migratorConfig) String() string {
	return fmt.Sprintf("database=%s table=%s", c.maskedURL(), c.migrationTable)
}
