// -----------------------------------------------------------------------
// Accounting - Per-user usage aggregates and service-wide app stats
// -----------------------------------------------------------------------

package models

import "time"

// UserAccounting is one aggregation snapshot of a user's storage footprint
// and job population. The accounting service overwrites it on every cycle.
type UserAccounting struct {
	User     string `json:"user"`
	DataSize int64  `json:"datasize"` // bytes under the user's data directory
	JobSize  int64  `json:"jobsize"`  // bytes under the user's job directory

	NJobs          int `json:"njobs"`
	NJobsCompleted int `json:"njobs_completed"`
	NJobsFailed    int `json:"njobs_failed"`
	NJobsAborted   int `json:"njobs_aborted"`
	NJobsCanceled  int `json:"njobs_canceled"`
	NJobsRunning   int `json:"njobs_running"`
	NJobsPending   int `json:"njobs_pending"`
	NJobsUnknown   int `json:"njobs_unknown"`

	JobRuntime          float64 `json:"job_runtime"`           // seconds over all jobs
	JobCompletedRuntime float64 `json:"job_completed_runtime"` // seconds over completed jobs

	UpdatedAt time.Time `json:"updated_at"`
}

// Tally folds one job record into the aggregate counters.
func (a *UserAccounting) Tally(job *Job) {
	a.NJobs++
	a.JobRuntime += job.ElapsedTime

	switch job.State {
	case JobStateSuccess:
		a.NJobsCompleted++
		a.JobCompletedRuntime += job.ElapsedTime
	case JobStateFailure, JobStateTimedOut:
		a.NJobsFailed++
	case JobStateCanceled:
		a.NJobsCanceled++
	case JobStateAborted:
		a.NJobsAborted++
	case JobStateRunning, JobStateStarted:
		a.NJobsRunning++
	case JobStatePending:
		a.NJobsPending++
	default:
		a.NJobsUnknown++
	}
}

// AppStats is the service-wide aggregate across all users, recomputed on
// every accounting cycle and stored in the global appstats collection.
type AppStats struct {
	NUsers   int   `json:"nusers"`
	DataSize int64 `json:"datasize"`
	JobSize  int64 `json:"jobsize"`

	NJobs          int `json:"njobs"`
	NJobsCompleted int `json:"njobs_completed"`
	NJobsFailed    int `json:"njobs_failed"`
	NJobsAborted   int `json:"njobs_aborted"`
	NJobsCanceled  int `json:"njobs_canceled"`
	NJobsRunning   int `json:"njobs_running"`
	NJobsPending   int `json:"njobs_pending"`
	NJobsUnknown   int `json:"njobs_unknown"`

	JobRuntime          float64 `json:"job_runtime"`
	JobCompletedRuntime float64 `json:"job_completed_runtime"`
	JobRuntimeMean      float64 `json:"job_runtime_mean"` // over completed jobs

	UpdatedAt time.Time `json:"updated_at"`
}

// Merge folds one user's accounting snapshot into the service-wide totals.
func (s *AppStats) Merge(a *UserAccounting) {
	s.NUsers++
	s.DataSize += a.DataSize
	s.JobSize += a.JobSize
	s.NJobs += a.NJobs
	s.NJobsCompleted += a.NJobsCompleted
	s.NJobsFailed += a.NJobsFailed
	s.NJobsAborted += a.NJobsAborted
	s.NJobsCanceled += a.NJobsCanceled
	s.NJobsRunning += a.NJobsRunning
	s.NJobsPending += a.NJobsPending
	s.NJobsUnknown += a.NJobsUnknown
	s.JobRuntime += a.JobRuntime
	s.JobCompletedRuntime += a.JobCompletedRuntime
}

// Finalize computes derived fields after all users are merged.
func (s *AppStats) Finalize() {
	if s.NJobsCompleted > 0 {
		s.JobRuntimeMean = s.JobCompletedRuntime / float64(s.NJobsCompleted)
	}
	s.UpdatedAt = time.Now().UTC()
}
