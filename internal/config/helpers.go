// Package config provides configuration and shared test utilities for the station agent.
package config

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file" // used to run migrations using source files
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// TestDatabase encapsulates a migrated, disposable sqlite database file for integration
// tests. Retargeted from the teacher's testcontainers-backed PostgreSQL helper: a single
// local database file (SPEC_FULL.md) needs no container, so this opens a temp-directory
// file instead and runs the same migrations/ tree against it.
type TestDatabase struct {
	Path       string
	Connection *sql.DB
}

// SetupTestDatabase creates a fresh sqlite file under t.TempDir() and runs all migrations.
// Cleanup is automatic via t.Cleanup(); callers don't need to close or remove anything.
//
// Usage:
//
//	func TestMyFeature(t *testing.T) {
//		testDB := config.SetupTestDatabase(t)
//		// ... your test code, testDB.Connection is ready to use
//	}
func SetupTestDatabase(t *testing.T) *TestDatabase {
	t.Helper()

	path := filepath.Join(t.TempDir(), "station.db")

	conn, err := sql.Open("sqlite", path)
	require.NoError(t, err, "failed to open sqlite test database")

	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, RunTestMigrations(conn, "../../migrations"), "failed to run migrations")

	return &TestDatabase{Path: path, Connection: conn}
}

// RunTestMigrations applies every migration under migrationsDir using golang-migrate's
// sqlite3 driver. migrationsDir is relative to the package calling this function:
//   - internal/config: ../../migrations
//   - internal/store:   ../../migrations
//
// This works because both packages sit at the same depth relative to the project root.
func RunTestMigrations(db *sql.DB, migrationsDir string) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("sqlite3 migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://"+migrationsDir,
		"sqlite3",
		driver,
	)
	if err != nil {
		return fmt.Errorf("new migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	return nil
}
