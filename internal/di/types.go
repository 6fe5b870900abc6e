/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * passed to handlers for access to services.
 */
package di

import (
	"github.com/shortwatch/shortwatch/internal/database"
	"github.com/shortwatch/shortwatch/internal/events"
	"github.com/shortwatch/shortwatch/internal/modules/cache"
	"github.com/shortwatch/shortwatch/internal/modules/ingest"
	"github.com/shortwatch/shortwatch/internal/modules/ledger"
	"github.com/shortwatch/shortwatch/internal/modules/rankings"
	"github.com/shortwatch/shortwatch/internal/modules/reconciler"
	"github.com/shortwatch/shortwatch/internal/modules/registry"
	"github.com/shortwatch/shortwatch/internal/modules/timeline"
	"github.com/shortwatch/shortwatch/internal/reliability"
	"github.com/shortwatch/shortwatch/internal/telemetry"
)

/**
 * Container holds all dependencies for the application.
 *
 * This is the single source of truth for all service instances.
 * The container is created by Wire() and passed to handlers for access to services.
 *
 * Architecture:
 * - Databases: 3-database architecture (ledger, state, cache)
 * - Repositories: Data access layer (disclosure ledger, registry, position state, rankings, ingest runs)
 * - Services: Business logic layer (reconciler, timeline, rankings, ingest, registry)
 * - Infrastructure: Event bus, Prometheus metrics, optional S3 backups
 */
type Container struct {
	// Databases
	LedgerDB *database.DB // Append-only disclosure ledger (maximum durability)
	StateDB  *database.DB // Position state projection, registry, ingest runs
	CacheDB  *database.DB // Result cache (derived, rebuildable)

	// Repositories
	LedgerRepo     *ledger.Repository
	RegistryRepo   *registry.Repository
	ReconcilerRepo *reconciler.Repository
	RankingsRepo   *rankings.Repository
	IngestRepo     *ingest.Repository

	// Services
	RegistryService   *registry.Service
	TimelineEngine    *timeline.Engine
	ReconcilerService *reconciler.Service
	RankingsService   *rankings.Service
	IngestService     *ingest.Service
	Cache             *cache.Cache

	// Infrastructure
	EventBus      *events.Bus
	Metrics       *telemetry.Metrics
	BackupService *reliability.BackupService
}

// CloseDatabases closes all database connections. Call during shutdown after
// background jobs have stopped.
func (c *Container) CloseDatabases() {
	if c.LedgerDB != nil {
		c.LedgerDB.Close()
	}
	if c.StateDB != nil {
		c.StateDB.Close()
	}
	if c.CacheDB != nil {
		c.CacheDB.Close()
	}
}
