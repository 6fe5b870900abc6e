// Package di provides dependency injection for database connections.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/config"
	"github.com/shortwatch/shortwatch/internal/database"
)

// InitializeDatabases initializes all 3 databases and applies schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. ledger.db - Append-only disclosure ledger, the source of truth
	ledgerDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/ledger.db",
		Profile: database.ProfileLedger, // Maximum safety for the audit trail
		Name:    "ledger",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	container.LedgerDB = ledgerDB

	// 2. state.db - Position state projection, country registry, entities, ingest runs
	stateDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/state.db",
		Profile: database.ProfileStandard,
		Name:    "state",
	})
	if err != nil {
		ledgerDB.Close()
		return nil, fmt.Errorf("failed to initialize state database: %w", err)
	}
	container.StateDB = stateDB

	// 3. cache.db - Result cache, fully rebuildable from the ledger
	cacheDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/cache.db",
		Profile: database.ProfileCache, // Maximum speed for derived data
		Name:    "cache",
	})
	if err != nil {
		ledgerDB.Close()
		stateDB.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	container.CacheDB = cacheDB

	// Apply schemas to all databases (single source of truth)
	for _, db := range []*database.DB{ledgerDB, stateDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			ledgerDB.Close()
			stateDB.Close()
			cacheDB.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().Msg("All databases initialized and schemas applied")

	return container, nil
}
