package main

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embeddedMigrations embed.FS

// migrationFileRegex enforces the naming standard:
// 001_migration_name.up.sql / 001_migration_name.down.sql.
var migrationFileRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// migrationSet wraps the embedded SQL files with naming, pairing and sequence
// validation so a malformed build fails before it touches the database.
type migrationSet struct {
	fs fs.FS
}

type migrationFile struct {
	sequence  int
	name      string
	direction string
}

// newMigrationSet wraps a filesystem of migration files. Pass nil for the
// compiled-in set.
func newMigrationSet(filesystem fs.FS) *migrationSet {
	if filesystem == nil {
		filesystem = embeddedMigrations
	}

	return &migrationSet{fs: filesystem}
}

// files lists the embedded migration files that match the naming standard,
// sorted lexicographically (which orders them by sequence).
func (s *migrationSet) files() ([]string, error) {
	entries, err := fs.ReadDir(s.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	var names []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if migrationFileRegex.MatchString(entry.Name()) {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}

// validate checks that every migration parses, every up has a down, and the
// sequence starts at 001 with no gaps.
func (s *migrationSet) validate() error {
	names, err := s.files()
	if err != nil {
		return err
	}

	if len(names) == 0 {
		return fmt.Errorf("no embedded migration files found")
	}

	pairs := make(map[string]map[string]bool)
	sequences := make(map[int]bool)

	for _, name := range names {
		parsed, err := parseMigrationFile(name)
		if err != nil {
			return err
		}

		if _, err := fs.ReadFile(s.fs, name); err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		key := fmt.Sprintf("%03d_%s", parsed.sequence, parsed.name)
		if pairs[key] == nil {
			pairs[key] = make(map[string]bool)
		}

		pairs[key][parsed.direction] = true
		sequences[parsed.sequence] = true
	}

	for key, directions := range pairs {
		if !directions["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !directions["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	ordered := make([]int, 0, len(sequences))
	for seq := range sequences {
		ordered = append(ordered, seq)
	}

	sort.Ints(ordered)

	if ordered[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, found %03d", ordered[0])
	}

	for i := 1; i < len(ordered); i++ {
		if ordered[i] != ordered[i-1]+1 {
			return fmt.Errorf("gap in migration sequence: expected %03d, found %03d",
				ordered[i-1]+1, ordered[i])
		}
	}

	return nil
}

// maxVersion returns the highest sequence number in the embedded set.
func (s *migrationSet) maxVersion() int {
	names, err := s.files()
	if err != nil {
		return 0
	}

	maxSeq := 0

	for _, name := range names {
		if parsed, err := parseMigrationFile(name); err == nil && parsed.sequence > maxSeq {
			maxSeq = parsed.sequence
		}
	}

	return maxSeq
}

func parseMigrationFile(name string) (migrationFile, error) {
	matches := migrationFileRegex.FindStringSubmatch(name)
	if len(matches) != 4 {
		return migrationFile{}, fmt.Errorf(
			"invalid migration filename %s (expected 001_name.up.sql or 001_name.down.sql)", name)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return migrationFile{}, fmt.Errorf("invalid sequence in %s: %w", name, err)
	}

	return migrationFile{sequence: sequence, name: matches[2], direction: matches[3]}, nil
}
