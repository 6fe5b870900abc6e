// Package di provides dependency injection for repositories.
package di

import (
	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/modules/ingest"
	"github.com/shortwatch/shortwatch/internal/modules/ledger"
	"github.com/shortwatch/shortwatch/internal/modules/rankings"
	"github.com/shortwatch/shortwatch/internal/modules/reconciler"
	"github.com/shortwatch/shortwatch/internal/modules/registry"
)

// InitializeRepositories initializes the data access layer. The ledger
// repository is the only writer on ledger.db; everything else projects into
// state.db.
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	container.LedgerRepo = ledger.NewRepository(container.LedgerDB.Conn(), log)
	container.RegistryRepo = registry.NewRepository(container.StateDB.Conn(), log)
	container.ReconcilerRepo = reconciler.NewRepository(container.StateDB.Conn(), log)
	container.RankingsRepo = rankings.NewRepository(container.StateDB.Conn(), log)
	container.IngestRepo = ingest.NewRepository(container.StateDB.Conn(), log)

	log.Debug().Msg("Repositories initialized")

	return nil
}
