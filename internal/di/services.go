// Package di provides dependency injection for services.
package di

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/config"
	"github.com/shortwatch/shortwatch/internal/database"
	"github.com/shortwatch/shortwatch/internal/events"
	"github.com/shortwatch/shortwatch/internal/modules/cache"
	"github.com/shortwatch/shortwatch/internal/modules/ingest"
	"github.com/shortwatch/shortwatch/internal/modules/rankings"
	"github.com/shortwatch/shortwatch/internal/modules/reconciler"
	"github.com/shortwatch/shortwatch/internal/modules/registry"
	"github.com/shortwatch/shortwatch/internal/modules/timeline"
	"github.com/shortwatch/shortwatch/internal/reliability"
	"github.com/shortwatch/shortwatch/internal/telemetry"
)

// InitializeServices initializes the business logic layer and cross-wires
// the pieces: the reconciler invalidates the cache, the timeline and
// rankings read through it, and ingest emits events on the bus.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	// Infrastructure first, services depend on it
	container.EventBus = events.NewBus(log)
	container.Metrics = telemetry.New()

	container.Cache = cache.New(container.CacheDB.Conn(), time.Duration(cfg.CacheTTL)*time.Minute, log)
	container.Cache.SetMetrics(container.Metrics)

	// Registry service, synced from the jurisdiction registry file. A
	// missing file keeps previously onboarded countries; a malformed one
	// fails startup.
	container.RegistryService = registry.NewService(container.RegistryRepo, log)
	countries, err := config.LoadCountryRegistry(cfg.RegistryPath)
	switch {
	case err == nil:
		if err := container.RegistryService.Sync(context.Background(), countries); err != nil {
			return fmt.Errorf("failed to sync country registry: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Str("path", cfg.RegistryPath).
			Msg("Country registry file not found, keeping previously onboarded countries")
	default:
		return fmt.Errorf("failed to load country registry: %w", err)
	}

	// Timeline engine reads the ledger directly, caches finished replays
	container.TimelineEngine = timeline.NewEngine(container.LedgerRepo, container.RegistryService, log)
	container.TimelineEngine.SetCache(container.Cache)

	// Reconciler owns the position state projection
	container.ReconcilerService = reconciler.NewService(
		container.ReconcilerRepo,
		container.LedgerRepo,
		container.RegistryService,
		container.TimelineEngine,
		log,
	)
	container.ReconcilerService.SetCacheInvalidator(container.Cache)
	container.ReconcilerService.SetBus(container.EventBus)
	container.ReconcilerService.SetMetrics(container.Metrics)

	// Rankings aggregate the projection, cached until the next commit
	container.RankingsService = rankings.NewService(
		container.RankingsRepo,
		container.RegistryService,
		container.TimelineEngine,
		log,
	)
	container.RankingsService.SetCache(container.Cache)

	// Ingest drives the ledger-then-reconcile pipeline
	container.IngestService = ingest.NewService(
		container.IngestRepo,
		container.LedgerRepo,
		container.ReconcilerService,
		container.RegistryService,
		log,
	)
	container.IngestService.SetBus(container.EventBus)
	container.IngestService.SetMetrics(container.Metrics)

	// Backups cover the ledger and state databases. The cache database is
	// derived state and stays out of the archive.
	var store reliability.ObjectStore
	if cfg.Backup.Bucket != "" {
		s3, err := reliability.NewS3Client(cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to initialize S3 client: %w", err)
		}
		store = s3
	}
	container.BackupService = reliability.NewBackupService(
		cfg.Backup,
		store,
		[]*database.DB{container.LedgerDB, container.StateDB},
		cfg.DataDir,
		log,
	)
	container.BackupService.SetBus(container.EventBus)

	log.Info().Msg("Services initialized")

	return nil
}
