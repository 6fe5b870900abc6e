package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortwatch/shortwatch/internal/config"
	"github.com/shortwatch/shortwatch/internal/di"
)

// newTestServer wires a full container against a temp directory and returns
// a server ready to serve requests through its router.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	tmpDir := t.TempDir()

	registryPath := filepath.Join(tmpDir, "countries.yaml")
	registryYAML := `countries:
  - code: GB
    name: United Kingdom
    source_mode: event_log
  - code: SE
    name: Sweden
    source_mode: snapshot
`
	require.NoError(t, os.WriteFile(registryPath, []byte(registryYAML), 0644))

	cfg := &config.Config{
		DataDir:      tmpDir,
		RegistryPath: registryPath,
		Port:         0,
		LogLevel:     "info",
		CacheTTL:     60,
		Backup:       &config.BackupConfig{},
		Schedules: &config.ScheduleConfig{
			Ingest:        "0 0 6 * * *",
			CacheSweep:    "0 15 * * * *",
			WALCheckpoint: "0 0 4 * * *",
			Backup:        "0 30 2 * * *",
		},
	}

	container, sched, err := di.Wire(cfg, zerolog.Nop())
	require.NoError(t, err)

	t.Cleanup(func() {
		// Give triggered background jobs time to finish before the
		// databases close under them.
		time.Sleep(50 * time.Millisecond)
		container.CloseDatabases()
	})

	return New(Config{
		Log:       zerolog.Nop(),
		Config:    cfg,
		Container: container,
		Scheduler: sched,
		Port:      cfg.Port,
		DevMode:   true,
	})
}

func TestHandleSystemStatus(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/system/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response SystemStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))

	assert.Equal(t, "healthy", response.Status)
	assert.Equal(t, 2, response.Countries)
	assert.Zero(t, response.LedgerBatches)
	assert.Zero(t, response.ActivePositions)
	assert.NotZero(t, response.Goroutines)
}

func TestHandleJobsStatus(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/system/jobs", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response JobsStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))

	require.Equal(t, response.TotalJobs, len(response.Jobs))

	byName := make(map[string]JobInfo, len(response.Jobs))
	for _, job := range response.Jobs {
		byName[job.Name] = job
	}

	require.Contains(t, byName, "feed_pull")
	assert.Equal(t, "scheduled", byName["feed_pull"].Status)
	assert.Equal(t, "0 0 6 * * *", byName["feed_pull"].Schedule)

	require.Contains(t, byName, "rebuild")
	assert.Equal(t, "on_demand", byName["rebuild"].Status)
	assert.Empty(t, byName["rebuild"].Schedule)
}

func TestHandleDatabaseStats(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/system/database/stats", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response DatabaseStatsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))

	require.Len(t, response.Databases, 3)
	names := []string{response.Databases[0].Name, response.Databases[1].Name, response.Databases[2].Name}
	assert.ElementsMatch(t, []string{"ledger", "state", "cache"}, names)
	assert.Greater(t, response.TotalSizeMB, 0.0)
}

func TestHandleDiskUsage(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/system/disk", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response DiskUsageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))

	assert.Greater(t, response.DataDirMB, 0.0)
	assert.Greater(t, response.DatabasesMB, 0.0)
	assert.Zero(t, response.StagingMB)
}

func TestHandleTriggerJob(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/system/jobs/rebuild", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, "success", response["status"])
	assert.Contains(t, response["message"], "rebuild")
}

func TestHandleTriggerJobUnknown(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/system/jobs/bogus", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, "error", response["status"])
	assert.Contains(t, response["message"], "not registered")
}

func TestHandleListBackupsDisabled(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/system/backups", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, false, response["enabled"])
}
