package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// migrator drives golang-migrate over the embedded migration set.
type migrator struct {
	migrate    *migrate.Migrate
	db         *sql.DB
	migrations *migrationSet
	logger     *slog.Logger
}

// migrateLogger adapts slog to the migrate.Logger interface.
type migrateLogger struct {
	logger *slog.Logger
}

var _ migrate.Logger = (*migrateLogger)(nil)

func newMigrator(cfg *migratorConfig, logger *slog.Logger) (*migrator, error) {
	logger.Info("initializing migrator", slog.String("config", cfg.String()))

	migrations := newMigrationSet(nil)
	if err := migrations.validate(); err != nil {
		return nil, fmt.Errorf("embedded migrations are invalid: %w", err)
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: cfg.migrationTable})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("create postgres driver: %w", err)
	}

	source, err := iofs.New(migrations.fs, ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("create embedded source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{logger: logger}

	return &migrator{migrate: m, db: db, migrations: migrations, logger: logger}, nil
}

// Up applies all pending migrations.
func (m *migrator) Up() error {
	err := m.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("schema already up to date",
			slog.Int("version", m.migrations.maxVersion()))

		return nil
	}

	m.logger.Info("migrations applied",
		slog.Int("version", m.migrations.maxVersion()))

	return nil
}

// Down rolls back the most recent migration only. Full teardown is Drop.
func (m *migrator) Down() error {
	err := m.migrate.Steps(-1)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("roll back migration: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("no migration to roll back")

		return nil
	}

	m.logger.Info("rolled back one migration")

	return nil
}

// Status logs the applied schema version against what this binary carries.
func (m *migrator) Status() error {
	available := m.migrations.maxVersion()

	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		m.logger.Info("schema status",
			slog.Int("applied", 0),
			slog.Int("available", available),
			slog.Int("pending", available),
		)

		return nil
	}

	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	attrs := []any{
		slog.Int("applied", int(version)), // #nosec G115 - versions are three digits
		slog.Int("available", available),
		slog.Int("pending", max(available-int(version), 0)),
	}
	if dirty {
		attrs = append(attrs, slog.Bool("dirty", true))
	}

	m.logger.Info("schema status", attrs...)

	if dirty {
		return errors.New("schema is dirty and needs manual intervention")
	}

	return nil
}

// Drop removes every table, including the migration tracking table.
func (m *migrator) Drop() error {
	if err := m.migrate.Drop(); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}

	m.logger.Warn("all tables dropped")

	return nil
}

// Close releases the migrate instance and the database connection.
func (m *migrator) Close() {
	if m.migrate != nil {
		sourceErr, dbErr := m.migrate.Close()
		if sourceErr != nil {
			m.logger.Warn("failed to close migration source", slog.String("error", sourceErr.Error()))
		}

		if dbErr != nil {
			m.logger.Warn("failed to close migrate database handle", slog.String("error", dbErr.Error()))
		}
	}

	if m.db != nil {
		if err := m.db.Close(); err != nil {
			m.logger.Warn("failed to close database connection", slog.String("error", err.Error()))
		}
	}
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...), slog.String("component", "migrate"))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
