// -----------------------------------------------------------------------
// Job - Persisted record of one submitted processing job
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobState is the common lifecycle taxonomy shared by every scheduler backend.
// Adapters translate their native states into this set.
type JobState string

const (
	JobStatePending  JobState = "PENDING"
	JobStateStarted  JobState = "STARTED"
	JobStateRunning  JobState = "RUNNING"
	JobStateSuccess  JobState = "SUCCESS"
	JobStateFailure  JobState = "FAILURE"
	JobStateTimedOut JobState = "TIMED-OUT"
	JobStateCanceled JobState = "CANCELED"
	JobStateAborted  JobState = "ABORTED"
	JobStateUnknown  JobState = "UNKNOWN"
)

// Valid reports whether s is a member of the taxonomy.
func (s JobState) Valid() bool {
	switch s {
	case JobStatePending, JobStateStarted, JobStateRunning,
		JobStateSuccess, JobStateFailure, JobStateTimedOut,
		JobStateCanceled, JobStateAborted, JobStateUnknown:
		return true
	}
	return false
}

// IsTerminal reports whether a job in this state must not transition further,
// except for idempotent packaging writes.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSuccess, JobStateFailure, JobStateTimedOut, JobStateCanceled:
		return true
	}
	return false
}

// IsUnfinished reports whether the reconciler should still poll this job.
func (s JobState) IsUnfinished() bool {
	switch s {
	case JobStatePending, JobStateStarted, JobStateRunning:
		return true
	}
	return false
}

// ExitCodeUnknown is recorded when a backend cannot report a process exit code.
const ExitCodeUnknown = -1

// ExitCodeTimedOut is recorded when a job is killed by the soft time limit.
const ExitCodeTimedOut = 124

// Job is the persisted record of one submitted processing job. Records are
// partitioned per user; (User, JobID) is unique. Once the state is terminal
// only the output packager may re-write the packaging fields.
type Job struct {
	JobID      string                 `json:"job_id"`
	Pid        string                 `json:"pid"` // external scheduler handle, empty for the local worker
	User       string                 `json:"user"`
	App        string                 `json:"app"`
	SubmitDate time.Time              `json:"submit_date"`
	JobInputs  map[string]interface{} `json:"job_inputs"`
	DataInputs string                 `json:"data_inputs"` // file handle id
	JobTopDir  string                 `json:"job_top_dir"`
	Tag        string                 `json:"tag,omitempty"`
	Scheduler  string                 `json:"scheduler"`

	// Rendered invocation, persisted so queued local work survives a restart.
	Cmd     string   `json:"cmd,omitempty"`
	CmdArgs []string `json:"cmd_args,omitempty"`

	State       JobState `json:"state"`
	Status      string   `json:"status"`
	ExitCode    int      `json:"exit_code"`
	ElapsedTime float64  `json:"elapsed_time"` // seconds

	// Packaging fields, written only by the output packager.
	ArchivePath string     `json:"archive_path,omitempty"`
	PackagedAt  *time.Time `json:"packaged_at,omitempty"`
	ReportPath  string     `json:"report_path,omitempty"`
}

// NewJob creates a pending job record with a fresh process-assigned id.
func NewJob(user, app string, inputs map[string]interface{}, dataInputs, tag, scheduler string) *Job {
	if inputs == nil {
		inputs = make(map[string]interface{})
	}
	return &Job{
		JobID:      uuid.New().String(),
		User:       user,
		App:        app,
		SubmitDate: time.Now().UTC(),
		JobInputs:  inputs,
		DataInputs: dataInputs,
		Tag:        tag,
		Scheduler:  scheduler,
		State:      JobStatePending,
		Status:     "Job submitted with success",
		ExitCode:   ExitCodeUnknown,
	}
}

// Validate checks structural integrity of the record.
func (j *Job) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	if j.User == "" {
		return fmt.Errorf("job user is required")
	}
	if j.App == "" {
		return fmt.Errorf("job app is required")
	}
	if !j.State.Valid() {
		return fmt.Errorf("invalid job state: %s", j.State)
	}
	return nil
}

// IsTerminal reports whether the record reached a terminal state.
func (j *Job) IsTerminal() bool {
	return j.State.IsTerminal()
}

// SetState applies a lifecycle transition. A terminal state accepts only an
// idempotent rewrite of itself: a stale scheduler reply must not resurrect a
// finished job.
func (j *Job) SetState(next JobState) error {
	if !next.Valid() {
		return fmt.Errorf("invalid job state: %s", next)
	}
	if j.State.IsTerminal() && next != j.State {
		return fmt.Errorf("job %s is terminal (%s): cannot transition to %s",
			j.JobID, j.State, next)
	}
	j.State = next
	return nil
}

// SetPid records the external scheduler handle. The handle is assigned at
// most once; later calls are ignored.
func (j *Job) SetPid(pid string) {
	if j.Pid == "" {
		j.Pid = pid
	}
}

// JobDirName returns the per-job directory name under the user's job root.
func (j *Job) JobDirName() string {
	return "job_" + j.JobID
}

// ArchiveName returns the archive file name produced by the packager.
func (j *Job) ArchiveName() string {
	return "job_" + j.JobID + ".tar.gz"
}

// StatusUpdate is one scheduler reply about a single external job. The
// reconciler folds these into the persisted record.
type StatusUpdate struct {
	Pid         string   `json:"pid"`
	State       JobState `json:"state"`
	Status      string   `json:"status"`
	ExitCode    int      `json:"exit_code"`
	ElapsedTime float64  `json:"elapsed_time"`
}
