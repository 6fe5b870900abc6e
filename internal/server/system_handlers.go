// Package server provides the HTTP server and routing for Shortwatch.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/shortwatch/shortwatch/internal/database"
	"github.com/shortwatch/shortwatch/internal/di"
	"github.com/shortwatch/shortwatch/internal/reliability"
	"github.com/shortwatch/shortwatch/internal/scheduler"
)

// SystemHandlers handles system-wide monitoring and operations endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	container   *di.Container
	scheduler   *scheduler.Scheduler
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	container *di.Container,
	sched *scheduler.Scheduler,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		container:   container,
		scheduler:   sched,
	}
}

// SystemStatusResponse represents the overall system status
type SystemStatusResponse struct {
	Status               string           `json:"status"` // "healthy" or "degraded"
	UptimeSeconds        int64            `json:"uptime_seconds"`
	CPUPercent           float64          `json:"cpu_percent"`
	MemoryPercent        float64          `json:"memory_percent"`
	Goroutines           int              `json:"goroutines"`
	Countries            int              `json:"countries"`
	Companies            int64            `json:"companies"`
	Managers             int64            `json:"managers"`
	TrackedPositions     int64            `json:"tracked_positions"`
	ActivePositions      int64            `json:"active_positions"`
	LedgerBatches        int64            `json:"ledger_batches"`
	LedgerRecords        int64            `json:"ledger_records"`
	AppliedBatches       int64            `json:"applied_batches"`
	LatestDisclosureDate string           `json:"latest_disclosure_date,omitempty"`
	CacheEntries         int64            `json:"cache_entries"`
	CacheExpired         int64            `json:"cache_expired"`
	IngestRuns           map[string]int64 `json:"ingest_runs,omitempty"`
}

// JobsStatusResponse represents scheduler job status
type JobsStatusResponse struct {
	TotalJobs int       `json:"total_jobs"`
	Jobs      []JobInfo `json:"jobs"`
}

// JobInfo represents information about a single job
type JobInfo struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule,omitempty"`
	Status   string `json:"status"` // "scheduled" or "on_demand"
}

// DatabaseStatsResponse represents database statistics
type DatabaseStatsResponse struct {
	Databases   []DBInfo `json:"databases"`
	TotalSizeMB float64  `json:"total_size_mb"`
	LastChecked string   `json:"last_checked"`
}

// DBInfo represents information about a single database
type DBInfo struct {
	Name          string  `json:"name"`
	Path          string  `json:"path"`
	SizeMB        float64 `json:"size_mb"`
	WALSizeMB     float64 `json:"wal_size_mb"`
	PageCount     int64   `json:"page_count"`
	FreelistPages int64   `json:"freelist_pages"`
}

// DiskUsageResponse represents disk usage statistics
type DiskUsageResponse struct {
	DataDirMB   float64 `json:"data_dir_mb"`
	DatabasesMB float64 `json:"databases_mb"`
	StagingMB   float64 `json:"staging_mb"`
}

// GetSystemStatusSnapshot collects counters from every store. Individual
// read failures degrade the status instead of failing the whole snapshot.
func (h *SystemHandlers) GetSystemStatusSnapshot(ctx context.Context) (SystemStatusResponse, error) {
	if h == nil {
		return SystemStatusResponse{}, fmt.Errorf("system handlers not initialized")
	}

	var firstErr error
	recordErr := func(err error) {
		if err != nil && err != sql.ErrNoRows && firstErr == nil {
			firstErr = err
		}
	}

	cpuPercent, memPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
	}

	countries, err := h.container.RegistryService.Countries(ctx)
	recordErr(err)
	response.Countries = len(countries)

	companies, managers, err := h.container.RegistryService.EntityCounts(ctx)
	recordErr(err)
	response.Companies = companies
	response.Managers = managers

	tracked, active, err := h.container.ReconcilerRepo.StateCounts(ctx)
	recordErr(err)
	response.TrackedPositions = tracked
	response.ActivePositions = active

	applied, err := h.container.ReconcilerRepo.AppliedBatches(ctx)
	recordErr(err)
	response.AppliedBatches = applied

	batches, err := h.container.LedgerRepo.CountBatches(ctx)
	recordErr(err)
	response.LedgerBatches = batches

	records, err := h.container.LedgerRepo.CountRecords(ctx)
	recordErr(err)
	response.LedgerRecords = records

	latest, err := h.container.LedgerRepo.LatestDisclosureDate(ctx)
	recordErr(err)
	response.LatestDisclosureDate = latest

	entries, expired, err := h.container.Cache.Stats(ctx)
	recordErr(err)
	response.CacheEntries = entries
	response.CacheExpired = expired

	runs, err := h.container.IngestRepo.CountRuns(ctx)
	recordErr(err)
	response.IngestRuns = runs

	if firstErr != nil {
		response.Status = "degraded"
	}

	return response, firstErr
}

// HandleSystemStatus returns overall system status
// GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	response, err := h.GetSystemStatusSnapshot(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("System status collected with warnings")
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HandleJobsStatus returns the registered background jobs and their schedules
// GET /api/system/jobs
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting jobs status")

	jobs := []JobInfo{}
	if h.scheduler != nil {
		specs := h.scheduler.Schedules()
		for _, name := range h.scheduler.JobNames() {
			info := JobInfo{Name: name, Schedule: specs[name], Status: "scheduled"}
			if info.Schedule == "" {
				info.Status = "on_demand"
			}
			jobs = append(jobs, info)
		}
	}

	response := JobsStatusResponse{
		TotalJobs: len(jobs),
		Jobs:      jobs,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HandleDatabaseStats returns per-database size and page statistics
// GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting database stats")

	databases := []DBInfo{}
	totalSizeMB := 0.0

	for _, db := range []*database.DB{h.container.LedgerDB, h.container.StateDB, h.container.CacheDB} {
		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
			continue
		}

		sizeMB := float64(stats.SizeBytes) / 1024 / 1024
		totalSizeMB += sizeMB

		databases = append(databases, DBInfo{
			Name:          db.Name(),
			Path:          db.Path(),
			SizeMB:        sizeMB,
			WALSizeMB:     float64(stats.WALSizeBytes) / 1024 / 1024,
			PageCount:     stats.PageCount,
			FreelistPages: stats.FreelistCount,
		})
	}

	response := DatabaseStatsResponse{
		Databases:   databases,
		TotalSizeMB: totalSizeMB,
		LastChecked: time.Now().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HandleDiskUsage returns disk usage statistics
// GET /api/system/disk
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting disk usage")

	databasesMB := 0.0
	for _, db := range []*database.DB{h.container.LedgerDB, h.container.StateDB, h.container.CacheDB} {
		if stats, err := db.GetStats(); err == nil {
			databasesMB += float64(stats.SizeBytes+stats.WALSizeBytes) / 1024 / 1024
		}
	}

	response := DiskUsageResponse{
		DataDirMB:   h.getDirSize(h.dataDir),
		DatabasesMB: databasesMB,
		StagingMB:   h.getDirSize(filepath.Join(h.dataDir, "backup-staging")),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HandleListBackups returns the uploaded backup archives, newest first
// GET /api/system/backups
func (h *SystemHandlers) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	if !h.container.BackupService.Enabled() {
		h.writeJSON(w, map[string]interface{}{
			"enabled": false,
			"backups": []reliability.BackupInfo{},
		})
		return
	}

	backups, err := h.container.BackupService.ListBackups(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list backups")
		http.Error(w, "Failed to list backups", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"enabled": true,
		"count":   len(backups),
		"backups": backups,
	})
}

// HandleTriggerJob runs a registered job immediately. The job executes in
// the background; the response only acknowledges the trigger.
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.scheduler == nil {
		h.log.Warn().Msg("Scheduler not available")
		h.writeJSON(w, map[string]string{
			"status":  "error",
			"message": "Scheduler not available",
		})
		return
	}

	registered := false
	for _, n := range h.scheduler.JobNames() {
		if n == name {
			registered = true
			break
		}
	}
	if !registered {
		h.log.Warn().Str("job", name).Msg("Unknown job trigger requested")
		h.writeJSON(w, map[string]string{
			"status":  "error",
			"message": fmt.Sprintf("Job %q not registered", name),
		})
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job trigger")

	go func() {
		if err := h.scheduler.RunByName(name); err != nil {
			h.log.Error().Err(err).Str("job", name).Msg("Triggered job failed")
		}
	}()

	h.writeJSON(w, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Job %s triggered successfully", name),
	})
}

// getDirSize calculates total size of a directory in MB. Missing
// directories count as zero.
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return 0
	}

	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

// getSystemStats returns CPU and RAM usage percentages
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	// 100ms sample keeps the status endpoint responsive
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
