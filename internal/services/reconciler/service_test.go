package reconciler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/interfaces"
	"github.com/ternarybob/caelum/internal/models"
	"github.com/ternarybob/caelum/internal/schedulers"
)

// memJobStorage tracks update calls for idempotence assertions.
type memJobStorage struct {
	mu      sync.Mutex
	jobs    map[string]*models.Job
	updates int
}

func newMemJobStorage() *memJobStorage {
	return &memJobStorage{jobs: make(map[string]*models.Job)}
}

func (m *memJobStorage) add(job *models.Job) {
	m.jobs[job.User+"/"+job.JobID] = job
}

func (m *memJobStorage) Insert(ctx context.Context, job *models.Job) error { return nil }

func (m *memJobStorage) Update(ctx context.Context, user, jobID string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[user+"/"+jobID]
	if !ok {
		return interfaces.ErrNotFound
	}
	m.updates++
	if v, ok := fields["state"]; ok {
		job.State = v.(models.JobState)
	}
	if v, ok := fields["status"]; ok {
		job.Status = v.(string)
	}
	if v, ok := fields["exit_code"]; ok {
		job.ExitCode = v.(int)
	}
	if v, ok := fields["elapsed_time"]; ok {
		job.ElapsedTime = v.(float64)
	}
	return nil
}

func (m *memJobStorage) Get(ctx context.Context, user, jobID string) (*models.Job, error) {
	job, ok := m.jobs[user+"/"+jobID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return job, nil
}

func (m *memJobStorage) List(ctx context.Context, user string) ([]*models.Job, error) {
	return nil, nil
}

func (m *memJobStorage) ListByState(ctx context.Context, user string, state models.JobState) ([]*models.Job, error) {
	return nil, nil
}

func (m *memJobStorage) FindUnfinishedAllUsers(ctx context.Context) ([]*models.Job, error) {
	var out []*models.Job
	for _, job := range m.jobs {
		if job.State.IsUnfinished() {
			out = append(out, job)
		}
	}
	return out, nil
}

func (m *memJobStorage) Users(ctx context.Context) ([]string, error) { return nil, nil }

func (m *memJobStorage) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

// stubScheduler replies from a fixed map and counts calls.
type stubScheduler struct {
	mu           sync.Mutex
	kind         string
	replies      map[string]*models.StatusUpdate
	statusCalls  int
	batchCalls   int
	batchPids    []string
	deletedPids  []string
}

func (s *stubScheduler) Kind() string { return s.kind }

func (s *stubScheduler) Submit(ctx context.Context, spec *schedulers.Spec) (*schedulers.Submission, error) {
	return nil, nil
}

func (s *stubScheduler) Status(ctx context.Context, pid string) (*models.StatusUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCalls++
	reply, ok := s.replies[pid]
	if !ok {
		return nil, schedulers.ErrNotFound
	}
	return reply, nil
}

func (s *stubScheduler) StatusBatch(ctx context.Context, pids []string) (map[string]*models.StatusUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchCalls++
	s.batchPids = append([]string{}, pids...)
	out := make(map[string]*models.StatusUpdate)
	for _, pid := range pids {
		if reply, ok := s.replies[pid]; ok {
			out[pid] = reply
		}
	}
	return out, nil
}

func (s *stubScheduler) Cancel(ctx context.Context, pid string) error { return nil }

func (s *stubScheduler) Delete(ctx context.Context, pid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedPids = append(s.deletedPids, pid)
	return nil
}

// countingPackager counts Package calls per job.
type countingPackager struct {
	mu    sync.Mutex
	calls map[string]int
}

func (p *countingPackager) Package(ctx context.Context, job *models.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[job.JobID]++
	return nil
}

func slurmJob(user, jobID, pid string) *models.Job {
	return &models.Job{
		JobID: jobID, Pid: pid, User: user, App: "caesar",
		Scheduler: schedulers.KindSlurm,
		State:     models.JobStateRunning, Status: "Job running",
		ExitCode: models.ExitCodeUnknown,
	}
}

func TestReconcileSlurmSingleBatchCall(t *testing.T) {
	store := newMemJobStorage()
	for i, pid := range []string{"1", "2", "3", "4", "5"} {
		store.add(slurmJob("alice", string(rune('a'+i)), pid))
	}

	adapter := &stubScheduler{
		kind: schedulers.KindSlurm,
		replies: map[string]*models.StatusUpdate{
			"1": {Pid: "1", State: models.JobStateRunning, Status: "Job running"},
			"2": {Pid: "2", State: models.JobStateSuccess, Status: "Job completed with success", ExitCode: 0, ElapsedTime: 30},
			// pid 3 omitted: vanished from the cluster
			"4": {Pid: "4", State: models.JobStateFailure, Status: "Slurm job state FAILED", ExitCode: 2},
			"5": {Pid: "5", State: models.JobStatePending, Status: "Slurm job state PENDING"},
		},
	}

	packager := &countingPackager{}
	s := NewService(store, map[string]schedulers.Scheduler{schedulers.KindSlurm: adapter},
		packager, nil, 4, arbor.NewLogger())

	require.NoError(t, s.Reconcile(context.Background()))

	assert.Equal(t, 1, adapter.batchCalls)
	assert.Len(t, adapter.batchPids, 5)
	assert.Equal(t, 0, adapter.statusCalls)

	// The omitted pid stays untouched.
	jobC, _ := store.Get(context.Background(), "alice", "c")
	assert.Equal(t, models.JobStateRunning, jobC.State)

	jobB, _ := store.Get(context.Background(), "alice", "b")
	assert.Equal(t, models.JobStateSuccess, jobB.State)
	assert.Equal(t, 0, jobB.ExitCode)
	assert.Equal(t, 30.0, jobB.ElapsedTime)
}

func TestReconcileIdempotent(t *testing.T) {
	store := newMemJobStorage()
	store.add(slurmJob("alice", "a", "1"))

	adapter := &stubScheduler{
		kind: schedulers.KindSlurm,
		replies: map[string]*models.StatusUpdate{
			"1": {Pid: "1", State: models.JobStateRunning, Status: "Job running", ExitCode: models.ExitCodeUnknown},
		},
	}

	s := NewService(store, map[string]schedulers.Scheduler{schedulers.KindSlurm: adapter},
		&countingPackager{}, nil, 4, arbor.NewLogger())

	require.NoError(t, s.Reconcile(context.Background()))
	require.NoError(t, s.Reconcile(context.Background()))

	// The reply matches the stored record, so no write ever happens.
	assert.Zero(t, store.updateCount())
}

func TestReconcileTerminalPackagesOnceAndCleansUp(t *testing.T) {
	store := newMemJobStorage()
	store.add(slurmJob("alice", "a", "1"))

	adapter := &stubScheduler{
		kind: schedulers.KindSlurm,
		replies: map[string]*models.StatusUpdate{
			"1": {Pid: "1", State: models.JobStateSuccess, Status: "Job completed with success", ExitCode: 0, ElapsedTime: 12},
		},
	}

	packager := &countingPackager{}
	s := NewService(store, map[string]schedulers.Scheduler{schedulers.KindSlurm: adapter},
		packager, nil, 4, arbor.NewLogger())

	require.NoError(t, s.Reconcile(context.Background()))
	assert.Equal(t, 1, packager.calls["a"])
	assert.Equal(t, []string{"1"}, adapter.deletedPids)

	// The job is terminal now: the next cycle does not discover it.
	require.NoError(t, s.Reconcile(context.Background()))
	assert.Equal(t, 1, packager.calls["a"])
}

func TestReconcileSkipsLocalAndPidlessJobs(t *testing.T) {
	store := newMemJobStorage()
	localJob := slurmJob("alice", "a", "1")
	localJob.Scheduler = schedulers.KindLocal
	store.add(localJob)

	pidless := slurmJob("alice", "b", "")
	store.add(pidless)

	adapter := &stubScheduler{kind: schedulers.KindSlurm, replies: map[string]*models.StatusUpdate{}}
	s := NewService(store, map[string]schedulers.Scheduler{schedulers.KindSlurm: adapter},
		&countingPackager{}, nil, 4, arbor.NewLogger())

	require.NoError(t, s.Reconcile(context.Background()))
	assert.Zero(t, adapter.batchCalls)
	assert.Zero(t, adapter.statusCalls)
}

func TestReconcileKubePerJobQueries(t *testing.T) {
	store := newMemJobStorage()
	kubeA := slurmJob("alice", "a", "job-a")
	kubeA.Scheduler = schedulers.KindKube
	kubeB := slurmJob("alice", "b", "job-b")
	kubeB.Scheduler = schedulers.KindKube
	store.add(kubeA)
	store.add(kubeB)

	adapter := &stubScheduler{
		kind: schedulers.KindKube,
		replies: map[string]*models.StatusUpdate{
			"job-a": {Pid: "job-a", State: models.JobStateRunning, Status: "Job pod is running"},
			"job-b": {Pid: "job-b", State: models.JobStateSuccess, Status: "Job completed with success", ExitCode: models.ExitCodeUnknown, ElapsedTime: 5},
		},
	}

	packager := &countingPackager{}
	s := NewService(store, map[string]schedulers.Scheduler{schedulers.KindKube: adapter},
		packager, nil, 2, arbor.NewLogger())

	require.NoError(t, s.Reconcile(context.Background()))
	assert.Equal(t, 2, adapter.statusCalls)
	assert.Zero(t, adapter.batchCalls)
	assert.Equal(t, 1, packager.calls["b"])
	assert.Equal(t, []string{"job-b"}, adapter.deletedPids)
}
