package accounting

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/common"
	"github.com/ternarybob/caelum/internal/interfaces"
	"github.com/ternarybob/caelum/internal/models"
	"github.com/ternarybob/caelum/internal/storage/badger"
)

func seedJob(t *testing.T, store interfaces.JobStorage, user string, state models.JobState, elapsed float64) {
	t.Helper()
	job := models.NewJob(user, "caesar", map[string]interface{}{"seedthr": 5.0}, "f-1", "", "local")
	job.State = state
	job.ElapsedTime = elapsed
	require.NoError(t, store.Insert(context.Background(), job))
}

func TestAggregate(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Uploads.DataRoot = t.TempDir()
	cfg.Jobs.JobRoot = t.TempDir()

	mgr, err := badger.NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	defer mgr.Close()

	jobStore := mgr.JobStorage()
	seedJob(t, jobStore, "alice", models.JobStateSuccess, 10)
	seedJob(t, jobStore, "alice", models.JobStateSuccess, 30)
	seedJob(t, jobStore, "alice", models.JobStateFailure, 5)
	seedJob(t, jobStore, "alice", models.JobStateRunning, 0)
	seedJob(t, jobStore, "bob", models.JobStatePending, 0)

	// 2 KiB of uploads and 1 KiB of job outputs for alice.
	aliceData := filepath.Join(cfg.Uploads.DataRoot, "alice")
	require.NoError(t, os.MkdirAll(aliceData, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(aliceData, "field.fits"), make([]byte, 2048), 0644))
	aliceJobs := filepath.Join(cfg.Jobs.JobRoot, "alice", "job_x")
	require.NoError(t, os.MkdirAll(aliceJobs, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(aliceJobs, "catalog-x.dat"), make([]byte, 1024), 0644))

	s := NewService(cfg, jobStore, mgr.AccountingStorage(), arbor.NewLogger())
	require.NoError(t, s.Aggregate(context.Background()))

	acc, err := mgr.AccountingStorage().GetUserAccounting(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2048), acc.DataSize)
	assert.Equal(t, int64(1024), acc.JobSize)
	assert.Equal(t, 4, acc.NJobs)
	assert.Equal(t, 2, acc.NJobsCompleted)
	assert.Equal(t, 1, acc.NJobsFailed)
	assert.Equal(t, 1, acc.NJobsRunning)
	assert.Equal(t, 45.0, acc.JobRuntime)
	assert.Equal(t, 40.0, acc.JobCompletedRuntime)

	stats, err := mgr.AccountingStorage().GetAppStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.NUsers)
	assert.Equal(t, 5, stats.NJobs)
	assert.Equal(t, 2, stats.NJobsCompleted)
	assert.Equal(t, 1, stats.NJobsPending)
	assert.Equal(t, 20.0, stats.JobRuntimeMean)
	assert.False(t, stats.UpdatedAt.IsZero())

	// A second cycle overwrites rather than accumulates.
	require.NoError(t, s.Aggregate(context.Background()))
	stats, err = mgr.AccountingStorage().GetAppStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.NJobs)
}

func TestAggregateNoUsers(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Uploads.DataRoot = t.TempDir()
	cfg.Jobs.JobRoot = t.TempDir()

	mgr, err := badger.NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	defer mgr.Close()

	s := NewService(cfg, mgr.JobStorage(), mgr.AccountingStorage(), arbor.NewLogger())
	require.NoError(t, s.Aggregate(context.Background()))

	stats, err := mgr.AccountingStorage().GetAppStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.NUsers)
	assert.Zero(t, stats.JobRuntimeMean)
}
