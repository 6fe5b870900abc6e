package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortwatch/shortwatch/internal/modules/reconciler"
	"github.com/shortwatch/shortwatch/internal/reliability"
	swtest "github.com/shortwatch/shortwatch/internal/testing"
)

type mockPuller struct {
	calls int
	err   error
}

func (m *mockPuller) PullAll(ctx context.Context) error {
	m.calls++
	return m.err
}

type mockSweeper struct {
	removed int64
	err     error
}

func (m *mockSweeper) DeleteExpired(ctx context.Context) (int64, error) {
	return m.removed, m.err
}

type mockRebuilder struct {
	calls  int
	result *reconciler.RebuildResult
	err    error
}

func (m *mockRebuilder) Rebuild(ctx context.Context) (*reconciler.RebuildResult, error) {
	m.calls++
	return m.result, m.err
}

type mockBackup struct {
	enabled bool
	runs    int
	result  *reliability.BackupResult
	err     error
}

func (m *mockBackup) Enabled() bool { return m.enabled }

func (m *mockBackup) Run(ctx context.Context) (*reliability.BackupResult, error) {
	m.runs++
	return m.result, m.err
}

// TestAddJobRejectsBadSchedule tests cron expression validation
func TestAddJobRejectsBadSchedule(t *testing.T) {
	s := New(swtest.SilentLogger())
	err := s.AddJob("not a schedule", NewFeedPullJob(&mockPuller{}, swtest.SilentLogger()))
	require.Error(t, err)
}

// TestRunByName tests on-demand execution of registered jobs
func TestRunByName(t *testing.T) {
	s := New(swtest.SilentLogger())
	puller := &mockPuller{}
	require.NoError(t, s.AddJob("@hourly", NewFeedPullJob(puller, swtest.SilentLogger())))

	require.NoError(t, s.RunByName("feed_pull"))
	assert.Equal(t, 1, puller.calls)

	err := s.RunByName("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job")
}

// TestRegisterOnDemandOnly tests that Register skips cron scheduling
func TestRegisterOnDemandOnly(t *testing.T) {
	s := New(swtest.SilentLogger())
	rebuilder := &mockRebuilder{result: &reconciler.RebuildResult{BatchesApplied: 2}}
	s.Register(NewRebuildJob(rebuilder, swtest.SilentLogger()))

	require.NoError(t, s.RunByName("rebuild"))
	assert.Equal(t, 1, rebuilder.calls)
}

// TestJobNamesSorted tests the registered-name listing
func TestJobNamesSorted(t *testing.T) {
	s := New(swtest.SilentLogger())
	s.Register(NewRebuildJob(&mockRebuilder{result: &reconciler.RebuildResult{}}, swtest.SilentLogger()))
	s.Register(NewCacheSweepJob(&mockSweeper{}, swtest.SilentLogger()))
	s.Register(NewFeedPullJob(&mockPuller{}, swtest.SilentLogger()))

	assert.Equal(t, []string{"cache_sweep", "feed_pull", "rebuild"}, s.JobNames())
}

// TestSchedules tests cron spec reporting per job
func TestSchedules(t *testing.T) {
	s := New(swtest.SilentLogger())
	require.NoError(t, s.AddJob("@hourly", NewFeedPullJob(&mockPuller{}, swtest.SilentLogger())))
	s.Register(NewRebuildJob(&mockRebuilder{result: &reconciler.RebuildResult{}}, swtest.SilentLogger()))

	specs := s.Schedules()
	assert.Equal(t, "@hourly", specs["feed_pull"])
	assert.Equal(t, "", specs["rebuild"])
}

// TestFeedPullJobPropagatesError tests error pass-through
func TestFeedPullJobPropagatesError(t *testing.T) {
	job := NewFeedPullJob(&mockPuller{err: errors.New("feed down")}, swtest.SilentLogger())
	require.EqualError(t, job.Run(), "feed down")
}

// TestCacheSweepJob tests the sweep wrapper
func TestCacheSweepJob(t *testing.T) {
	job := NewCacheSweepJob(&mockSweeper{removed: 4}, swtest.SilentLogger())
	require.NoError(t, job.Run())

	job = NewCacheSweepJob(&mockSweeper{err: errors.New("locked")}, swtest.SilentLogger())
	require.Error(t, job.Run())
}

// TestBackupJobSkipsWhenDisabled tests that no run happens without a bucket
func TestBackupJobSkipsWhenDisabled(t *testing.T) {
	backup := &mockBackup{enabled: false}
	job := NewBackupJob(backup, swtest.SilentLogger())

	require.NoError(t, job.Run())
	assert.Zero(t, backup.runs)

	backup.enabled = true
	backup.result = &reliability.BackupResult{Key: "shortwatch/2024/backup.tar.gz", SizeBytes: 9000}
	require.NoError(t, job.Run())
	assert.Equal(t, 1, backup.runs)
}
