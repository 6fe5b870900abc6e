// Package testing provides testing utilities and helpers for shortwatch.
package testing

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/shortwatch/shortwatch/internal/database"
	_ "github.com/mattn/go-sqlite3"
)

// NewTestDB creates a temporary SQLite database file for testing with
// automatic schema migration, using the production driver and profile
// machinery. Returns the database instance and a cleanup function that
// closes the connection and removes the file. The cleanup function is
// idempotent.
//
// Supported schema names:
//   - "ledger" - applies ledger_schema.sql
//   - "state"  - applies state_schema.sql
//   - "cache"  - applies cache_schema.sql
//   - Unknown names - creates an empty database (no schema applied)
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	// Temporary file per test for isolation
	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	closed := false
	cleanup := func() {
		if closed {
			return
		}
		closed = true
		_ = db.Close()
		_ = os.Remove(tmpPath)
		_ = os.Remove(tmpPath + "-wal")
		_ = os.Remove(tmpPath + "-shm")
	}

	t.Cleanup(cleanup)
	return db, cleanup
}

// NewLedgerDB returns an in-memory database with the ledger schema applied.
func NewLedgerDB(t *testing.T) *sql.DB {
	t.Helper()
	return newMemoryDB(t, "ledger")
}

// NewStateDB returns an in-memory database with the state schema applied.
func NewStateDB(t *testing.T) *sql.DB {
	t.Helper()
	return newMemoryDB(t, "state")
}

// NewCacheDB returns an in-memory database with the cache schema applied.
func NewCacheDB(t *testing.T) *sql.DB {
	t.Helper()
	return newMemoryDB(t, "cache")
}

// newMemoryDB opens an in-memory SQLite database and applies the embedded
// schema for the given name. The pool is pinned to a single connection
// because every new connection to ":memory:" would see a fresh empty
// database.
func newMemoryDB(t *testing.T, name string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	schema, err := database.Schema(name)
	if err != nil {
		_ = db.Close()
		t.Fatalf("Failed to load %s schema: %v", name, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to apply %s schema: %v", name, err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}
