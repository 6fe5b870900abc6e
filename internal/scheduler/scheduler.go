// Package scheduler manages background jobs: scheduled feed pulls, cache
// sweeps, WAL checkpoints and backups.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu    sync.RWMutex
	jobs  map[string]Job
	specs map[string]string // cron spec per job name, empty for on-demand jobs
}

// New creates a new scheduler
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithSeconds()),
		jobs:  make(map[string]Job),
		specs: make(map[string]string),
		log:   log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a cron schedule (six fields, seconds first).
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "@hourly"            - Every hour
//   - "0 0 6 * * *"        - 06:00 daily
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		start := time.Now()
		s.log.Debug().Str("job", job.Name()).Msg("Running job")

		if err := job.Run(); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Dur("duration", time.Since(start)).
				Msg("Job failed")
		} else {
			s.log.Debug().
				Str("job", job.Name()).
				Dur("duration", time.Since(start)).
				Msg("Job completed")
		}
	})
	if err != nil {
		return err
	}

	s.register(job)
	s.mu.Lock()
	s.specs[job.Name()] = schedule
	s.mu.Unlock()
	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// Register makes a job available to RunByName without scheduling it. Used
// for jobs that only run on demand, like the projection rebuild.
func (s *Scheduler) Register(job Job) {
	s.register(job)
	s.log.Info().Str("job", job.Name()).Msg("Job registered (on demand only)")
}

func (s *Scheduler) register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name()] = job
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}

// RunByName executes a registered job immediately. Unknown names error.
func (s *Scheduler) RunByName(name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.RunNow(job)
}

// JobNames returns the registered job names, sorted.
func (s *Scheduler) JobNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schedules returns the cron spec per registered job name. On-demand jobs
// map to the empty string.
func (s *Scheduler) Schedules() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.jobs))
	for name := range s.jobs {
		out[name] = s.specs[name]
	}
	return out
}
