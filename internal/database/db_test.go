package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, name string, profile DatabaseProfile) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestNewAndMigrate tests opening each database and applying its embedded schema
func TestNewAndMigrate(t *testing.T) {
	cases := []struct {
		name    string
		profile DatabaseProfile
		table   string
	}{
		{"ledger", ProfileLedger, "disclosures"},
		{"state", ProfileStandard, "position_state"},
		{"cache", ProfileCache, "cache_entries"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			db := openTestDB(t, c.name, c.profile)
			require.NoError(t, db.Migrate())

			var count int
			err := db.QueryRow(
				"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", c.table,
			).Scan(&count)
			require.NoError(t, err)
			assert.Equal(t, 1, count, "schema should create %s", c.table)

			// Re-running must be harmless
			assert.NoError(t, db.Migrate())
		})
	}
}

// TestMigrateUnknownName tests that databases without a shipped schema are
// left alone
func TestMigrateUnknownName(t *testing.T) {
	db := openTestDB(t, "scratch", ProfileStandard)
	assert.NoError(t, db.Migrate())
}

// TestHealthCheck tests ping plus integrity check
func TestHealthCheck(t *testing.T) {
	db := openTestDB(t, "ledger", ProfileLedger)
	require.NoError(t, db.Migrate())
	assert.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, db.QuickCheck(context.Background()))
}

// TestWithTransactionCommit tests that a successful fn commits
func TestWithTransactionCommit(t *testing.T) {
	db := openTestDB(t, "state", ProfileStandard)
	require.NoError(t, db.Migrate())

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(
			"INSERT INTO countries (code, name, source_mode) VALUES (?, ?, ?)",
			"GB", "United Kingdom", "event_log",
		)
		return err
	})
	require.NoError(t, err)

	var name string
	require.NoError(t, db.QueryRow("SELECT name FROM countries WHERE code = 'GB'").Scan(&name))
	assert.Equal(t, "United Kingdom", name)
}

// TestWithTransactionRollback tests that an fn error rolls everything back
func TestWithTransactionRollback(t *testing.T) {
	db := openTestDB(t, "state", ProfileStandard)
	require.NoError(t, db.Migrate())

	sentinel := errors.New("boom")
	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"INSERT INTO countries (code, name, source_mode) VALUES (?, ?, ?)",
			"DE", "Germany", "snapshot",
		); err != nil {
			return err
		}
		return sentinel
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM countries").Scan(&count))
	assert.Equal(t, 0, count)
}

// TestWithTransactionPanic tests that a panicking fn rolls back and surfaces
// an error instead of crashing the caller
func TestWithTransactionPanic(t *testing.T) {
	db := openTestDB(t, "state", ProfileStandard)
	require.NoError(t, db.Migrate())

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("unexpected")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in transaction")
}

// TestGetStats tests the statistics snapshot
func TestGetStats(t *testing.T) {
	db := openTestDB(t, "ledger", ProfileLedger)
	require.NoError(t, db.Migrate())

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.PageCount, int64(0))
	assert.Greater(t, stats.PageSize, int64(0))
}
