// Package di provides dependency injection for background jobs.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/config"
	"github.com/shortwatch/shortwatch/internal/database"
	"github.com/shortwatch/shortwatch/internal/scheduler"
)

// RegisterJobs builds the scheduler and attaches the background jobs to
// their configured cron schedules. The rebuild job is registered without a
// schedule; it only runs when triggered through the API.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.New(log)

	feedPull := scheduler.NewFeedPullJob(container.IngestService, log)
	if err := sched.AddJob(cfg.Schedules.Ingest, feedPull); err != nil {
		return nil, fmt.Errorf("failed to schedule feed pull job: %w", err)
	}

	cacheSweep := scheduler.NewCacheSweepJob(container.Cache, log)
	if err := sched.AddJob(cfg.Schedules.CacheSweep, cacheSweep); err != nil {
		return nil, fmt.Errorf("failed to schedule cache sweep job: %w", err)
	}

	walCheckpoint := scheduler.NewWALCheckpointJob(
		[]*database.DB{container.LedgerDB, container.StateDB, container.CacheDB},
		log,
	)
	if err := sched.AddJob(cfg.Schedules.WALCheckpoint, walCheckpoint); err != nil {
		return nil, fmt.Errorf("failed to schedule WAL checkpoint job: %w", err)
	}

	if container.BackupService.Enabled() {
		backup := scheduler.NewBackupJob(container.BackupService, log)
		if err := sched.AddJob(cfg.Schedules.Backup, backup); err != nil {
			return nil, fmt.Errorf("failed to schedule backup job: %w", err)
		}
	}

	rebuild := scheduler.NewRebuildJob(container.ReconcilerService, log)
	sched.Register(rebuild)

	log.Info().Strs("jobs", sched.JobNames()).Msg("Background jobs registered")

	return sched, nil
}
