package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStateTaxonomy(t *testing.T) {
	terminal := []JobState{JobStateSuccess, JobStateFailure, JobStateTimedOut, JobStateCanceled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "state %s should be terminal", s)
		assert.False(t, s.IsUnfinished(), "state %s should not be unfinished", s)
	}

	unfinished := []JobState{JobStatePending, JobStateStarted, JobStateRunning}
	for _, s := range unfinished {
		assert.True(t, s.IsUnfinished(), "state %s should be unfinished", s)
		assert.False(t, s.IsTerminal(), "state %s should not be terminal", s)
	}

	// ABORTED and UNKNOWN are neither polled nor terminal.
	for _, s := range []JobState{JobStateAborted, JobStateUnknown} {
		assert.False(t, s.IsTerminal(), "state %s should not be terminal", s)
		assert.False(t, s.IsUnfinished(), "state %s should not be unfinished", s)
	}

	assert.False(t, JobState("BOGUS").Valid())
	assert.True(t, JobStateTimedOut.Valid())
}

func TestNewJobDefaults(t *testing.T) {
	job := NewJob("mary_weather_example_com", "caesar", map[string]interface{}{"run": true}, "file-1", "survey-a", "local")

	require.NoError(t, job.Validate())
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, JobStatePending, job.State)
	assert.Equal(t, "Job submitted with success", job.Status)
	assert.Equal(t, ExitCodeUnknown, job.ExitCode)
	assert.Empty(t, job.Pid)
	assert.False(t, job.SubmitDate.IsZero())
	assert.Equal(t, "job_"+job.JobID, job.JobDirName())
	assert.Equal(t, "job_"+job.JobID+".tar.gz", job.ArchiveName())
}

func TestJobSetPidAssignsAtMostOnce(t *testing.T) {
	job := NewJob("user", "caesar", nil, "file-1", "", "slurm")

	job.SetPid("1234")
	assert.Equal(t, "1234", job.Pid)

	job.SetPid("5678")
	assert.Equal(t, "1234", job.Pid, "pid must not be reassigned")
}

func TestJobSetStateTerminalGuard(t *testing.T) {
	job := NewJob("user", "caesar", nil, "file-1", "", "local")

	require.NoError(t, job.SetState(JobStateStarted))
	require.NoError(t, job.SetState(JobStateRunning))
	require.NoError(t, job.SetState(JobStateSuccess))

	// Terminal accepts only itself.
	require.NoError(t, job.SetState(JobStateSuccess))
	assert.Error(t, job.SetState(JobStatePending))
	assert.Error(t, job.SetState(JobStateRunning))
	assert.Error(t, job.SetState(JobStateCanceled))
	assert.Equal(t, JobStateSuccess, job.State)

	assert.Error(t, job.SetState("BOGUS"))
}

func TestJobValidateRejectsBadRecords(t *testing.T) {
	job := NewJob("user", "caesar", nil, "", "", "local")
	job.State = "EXPLODED"
	assert.Error(t, job.Validate())

	job = NewJob("", "caesar", nil, "", "", "local")
	assert.Error(t, job.Validate())

	job = NewJob("user", "", nil, "", "", "local")
	assert.Error(t, job.Validate())
}

func TestUserAccountingTally(t *testing.T) {
	acc := &UserAccounting{User: "user"}

	states := map[JobState]float64{
		JobStateSuccess:  120,
		JobStateFailure:  30,
		JobStateTimedOut: 3600,
		JobStateCanceled: 5,
		JobStateAborted:  0,
		JobStateRunning:  12,
		JobStatePending:  0,
		JobStateUnknown:  0,
	}
	for state, elapsed := range states {
		job := NewJob("user", "caesar", nil, "", "", "local")
		job.State = state
		job.ElapsedTime = elapsed
		acc.Tally(job)
	}

	assert.Equal(t, 8, acc.NJobs)
	assert.Equal(t, 1, acc.NJobsCompleted)
	assert.Equal(t, 2, acc.NJobsFailed, "FAILURE and TIMED-OUT both count as failed")
	assert.Equal(t, 1, acc.NJobsCanceled)
	assert.Equal(t, 1, acc.NJobsAborted)
	assert.Equal(t, 1, acc.NJobsRunning)
	assert.Equal(t, 1, acc.NJobsPending)
	assert.Equal(t, 1, acc.NJobsUnknown)
	assert.InDelta(t, 3767.0, acc.JobRuntime, 0.001)
	assert.InDelta(t, 120.0, acc.JobCompletedRuntime, 0.001)
}

func TestAppStatsMergeAndFinalize(t *testing.T) {
	stats := &AppStats{}

	stats.Merge(&UserAccounting{User: "a", DataSize: 100, JobSize: 10, NJobs: 3, NJobsCompleted: 2, JobCompletedRuntime: 100, JobRuntime: 130})
	stats.Merge(&UserAccounting{User: "b", DataSize: 50, JobSize: 5, NJobs: 1, NJobsCompleted: 2, JobCompletedRuntime: 20, JobRuntime: 20})
	stats.Finalize()

	assert.Equal(t, 2, stats.NUsers)
	assert.Equal(t, int64(150), stats.DataSize)
	assert.Equal(t, int64(15), stats.JobSize)
	assert.Equal(t, 4, stats.NJobs)
	assert.Equal(t, 4, stats.NJobsCompleted)
	assert.InDelta(t, 30.0, stats.JobRuntimeMean, 0.001)
	assert.False(t, stats.UpdatedAt.IsZero())

	empty := &AppStats{}
	empty.Finalize()
	assert.Zero(t, empty.JobRuntimeMean, "no completed jobs leaves the mean at zero")
}
