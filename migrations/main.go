// Package main provides the schema migration tool for the warehouse pipeline.
//
// The SQL files are embedded at build time, so the binary is self-contained:
// point DATABASE_URL at a Postgres instance and run `migrator up`.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
)

// Build-time version information, set with -ldflags.
var (
	Version   = "1.0.0-dev"
	GitCommit = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "print version and exit")
		yes         = flag.Bool("yes", false, "skip the confirmation prompt for drop")
	)

	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("migrator %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	m, err := newMigrator(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize migrator", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer m.Close()

	if err := run(m, flag.Arg(0), *yes); err != nil {
		logger.Error("migration command failed",
			slog.String("command", flag.Arg(0)),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
}

func run(m *migrator, command string, confirmed bool) error {
	switch command {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "status":
		return m.Status()
	case "drop":
		if !confirmed && !confirmDrop() {
			fmt.Println("cancelled")

			return nil
		}

		return m.Drop()
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func confirmDrop() bool {
	fmt.Print("this drops every table in the database; type 'drop' to continue: ")

	var answer string

	_, _ = fmt.Scanln(&answer)

	return answer == "drop"
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: migrator [flags] <command>

commands:
  up      apply all pending migrations
  down    roll back the most recent migration
  status  show applied vs available schema versions
  drop    drop all tables (asks for confirmation unless -yes)

flags:
  -yes       skip the drop confirmation prompt
  -version   print version and exit

environment:
  DATABASE_URL     Postgres connection string (required)
  MIGRATION_TABLE  tracking table name (default schema_migrations)
`)
}
