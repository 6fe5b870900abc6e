package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/database"
)

// jobTimeout bounds every background run.
const jobTimeout = 10 * time.Minute

// FeedPullJob pulls every registered country feed through the ingest
// pipeline.
type FeedPullJob struct {
	log    zerolog.Logger
	puller FeedPullerInterface
}

// NewFeedPullJob creates a new FeedPullJob
func NewFeedPullJob(puller FeedPullerInterface, log zerolog.Logger) *FeedPullJob {
	return &FeedPullJob{puller: puller, log: log}
}

// Name returns the job name
func (j *FeedPullJob) Name() string {
	return "feed_pull"
}

// Run executes the feed pull job
func (j *FeedPullJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	return j.puller.PullAll(ctx)
}

// CacheSweepJob removes expired result cache entries.
type CacheSweepJob struct {
	log     zerolog.Logger
	sweeper CacheSweeperInterface
}

// NewCacheSweepJob creates a new CacheSweepJob
func NewCacheSweepJob(sweeper CacheSweeperInterface, log zerolog.Logger) *CacheSweepJob {
	return &CacheSweepJob{sweeper: sweeper, log: log}
}

// Name returns the job name
func (j *CacheSweepJob) Name() string {
	return "cache_sweep"
}

// Run executes the cache sweep job
func (j *CacheSweepJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	removed, err := j.sweeper.DeleteExpired(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		j.log.Info().Int64("removed", removed).Msg("Cache sweep removed expired entries")
	}
	return nil
}

// WALCheckpointJob truncates the write-ahead logs so they cannot grow
// unbounded between restarts.
type WALCheckpointJob struct {
	log       zerolog.Logger
	databases []*database.DB
}

// NewWALCheckpointJob creates a new WALCheckpointJob
func NewWALCheckpointJob(databases []*database.DB, log zerolog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{databases: databases, log: log}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run executes the WAL checkpoint job
func (j *WALCheckpointJob) Run() error {
	checked := 0
	for _, db := range j.databases {
		if db == nil {
			continue
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().
				Err(err).
				Str("database", db.Name()).
				Msg("Failed to checkpoint WAL")
			continue
		}
		checked++
	}

	j.log.Info().Int("checked", checked).Msg("WAL checkpoint completed")
	return nil
}

// RebuildJob replays the whole ledger into a fresh projection. Registered
// on demand only; it never runs on a schedule.
type RebuildJob struct {
	log       zerolog.Logger
	rebuilder RebuilderInterface
}

// NewRebuildJob creates a new RebuildJob
func NewRebuildJob(rebuilder RebuilderInterface, log zerolog.Logger) *RebuildJob {
	return &RebuildJob{rebuilder: rebuilder, log: log}
}

// Name returns the job name
func (j *RebuildJob) Name() string {
	return "rebuild"
}

// Run executes the rebuild job
func (j *RebuildJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := j.rebuilder.Rebuild(ctx)
	if err != nil {
		return err
	}
	j.log.Info().
		Int("batches", result.BatchesApplied).
		Int("positions", result.Positions).
		Int("mismatches", result.Mismatches).
		Int64("duration_ms", result.DurationMS).
		Msg("Projection rebuilt from ledger")
	return nil
}

// BackupJob uploads a consistent database backup. When no bucket is
// configured the run is a no-op.
type BackupJob struct {
	log    zerolog.Logger
	backup BackupServiceInterface
}

// NewBackupJob creates a new BackupJob
func NewBackupJob(backup BackupServiceInterface, log zerolog.Logger) *BackupJob {
	return &BackupJob{backup: backup, log: log}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run executes the backup job
func (j *BackupJob) Run() error {
	if !j.backup.Enabled() {
		j.log.Debug().Msg("Backups disabled, skipping")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := j.backup.Run(ctx)
	if err != nil {
		return err
	}
	j.log.Info().
		Str("key", result.Key).
		Int64("size_bytes", result.SizeBytes).
		Msg("Backup uploaded")
	return nil
}
