// -----------------------------------------------------------------------
// Scheduler - Common contract implemented by every execution backend
// -----------------------------------------------------------------------

package schedulers

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/caelum/internal/models"
)

// Adapter kinds, as configured in [jobs].scheduler.
const (
	KindLocal = "local"
	KindKube  = "kube"
	KindSlurm = "slurm"
)

// ErrNotFound is returned by Status when the backend has no job for the pid.
var ErrNotFound = errors.New("scheduler job not found")

// RuntimeHints carries the parallelism the validator derived for a job.
type RuntimeHints struct {
	NProc    int
	NThreads int
}

// Spec is one dispatch request. The job id is process-assigned before
// dispatch so backends that accept client-chosen names can reuse it.
type Spec struct {
	JobID     string
	User      string
	App       string
	Command   string
	Args      []string
	ArgString string // args joined, passed to container entrypoints via JOB_OPTIONS
	JobDir    string // server-side per-job directory
	InputPath string // server-side resolved data input
	Hints     RuntimeHints
}

// Submission is the backend's reply to a successful dispatch.
type Submission struct {
	JobID      string
	Pid        string // external handle; empty for the in-process worker
	SubmitDate time.Time
	State      models.JobState
}

// Scheduler is the uniform backend contract. State mapping into the common
// taxonomy is each adapter's responsibility; elapsed time is in seconds and
// exit codes default to -1 when the backend cannot report one.
type Scheduler interface {
	Kind() string

	Submit(ctx context.Context, spec *Spec) (*Submission, error)

	// Status returns the backend's view of one job, or ErrNotFound.
	Status(ctx context.Context, pid string) (*models.StatusUpdate, error)

	// StatusBatch returns the status of many jobs at once. Backends without
	// a native batch query fall back to a per-pid loop; pids the backend
	// does not know are omitted from the reply.
	StatusBatch(ctx context.Context, pids []string) (map[string]*models.StatusUpdate, error)

	// Cancel terminates a job. Cancelling an already-terminal job is not an
	// error.
	Cancel(ctx context.Context, pid string) error
}

// StatusBatchFallback implements StatusBatch as a per-pid Status loop for
// backends without a native batch query.
func StatusBatchFallback(ctx context.Context, s Scheduler, pids []string) (map[string]*models.StatusUpdate, error) {
	out := make(map[string]*models.StatusUpdate, len(pids))
	for _, pid := range pids {
		reply, err := s.Status(ctx, pid)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return out, err
		}
		out[pid] = reply
	}
	return out, nil
}
