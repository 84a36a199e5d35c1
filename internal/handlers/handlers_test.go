package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/common"
	"github.com/ternarybob/caelum/internal/interfaces"
	"github.com/ternarybob/caelum/internal/models"
	"github.com/ternarybob/caelum/internal/schedulers"
	"github.com/ternarybob/caelum/internal/services/auth"
)

// anonAuth resolves every request to the anonymous tenancy partition.
func anonAuth() interfaces.AuthService {
	return auth.NewService(&common.AuthConfig{Enabled: false}, arbor.NewLogger())
}

// memJobStorage is a map-backed JobStorage for handler tests.
type memJobStorage struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newMemJobStorage() *memJobStorage {
	return &memJobStorage{jobs: make(map[string]*models.Job)}
}

func (m *memJobStorage) add(job *models.Job) {
	m.jobs[job.User+"/"+job.JobID] = job
}

func (m *memJobStorage) Insert(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.User+"/"+job.JobID] = &cp
	return nil
}

func (m *memJobStorage) Update(ctx context.Context, user, jobID string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[user+"/"+jobID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if state, ok := fields["state"]; ok {
		job.State = state.(models.JobState)
	}
	if status, ok := fields["status"]; ok {
		job.Status = status.(string)
	}
	return nil
}

func (m *memJobStorage) Get(ctx context.Context, user, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[user+"/"+jobID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memJobStorage) List(ctx context.Context, user string) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, job := range m.jobs {
		if job.User == user {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memJobStorage) ListByState(ctx context.Context, user string, state models.JobState) ([]*models.Job, error) {
	return nil, nil
}

func (m *memJobStorage) FindUnfinishedAllUsers(ctx context.Context) ([]*models.Job, error) {
	return nil, nil
}

func (m *memJobStorage) Users(ctx context.Context) ([]string, error) { return nil, nil }

func (m *memJobStorage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// memFileStorage is a map-backed FileStorage.
type memFileStorage struct {
	mu    sync.Mutex
	files map[string]*models.FileUpload
}

func newMemFileStorage() *memFileStorage {
	return &memFileStorage{files: make(map[string]*models.FileUpload)}
}

func (m *memFileStorage) SaveFile(ctx context.Context, file *models.FileUpload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[file.User+"/"+file.FileID] = file
	return nil
}

func (m *memFileStorage) GetFile(ctx context.Context, user, fileID string) (*models.FileUpload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[user+"/"+fileID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return file, nil
}

func (m *memFileStorage) ListFiles(ctx context.Context, user string) ([]*models.FileUpload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.FileUpload
	for _, file := range m.files {
		if file.User == user {
			out = append(out, file)
		}
	}
	return out, nil
}

func (m *memFileStorage) DeleteFile(ctx context.Context, user, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[user+"/"+fileID]; !ok {
		return interfaces.ErrNotFound
	}
	delete(m.files, user+"/"+fileID)
	return nil
}

// stubScheduler records submissions and replies with a fixed pid.
type stubScheduler struct {
	mu        sync.Mutex
	submitted []*schedulers.Spec
	canceled  []string
}

func (s *stubScheduler) Kind() string { return schedulers.KindLocal }

func (s *stubScheduler) Submit(ctx context.Context, spec *schedulers.Spec) (*schedulers.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, spec)
	return &schedulers.Submission{
		JobID:      spec.JobID,
		SubmitDate: time.Now().UTC(),
		State:      models.JobStatePending,
	}, nil
}

func (s *stubScheduler) Status(ctx context.Context, pid string) (*models.StatusUpdate, error) {
	return nil, schedulers.ErrNotFound
}

func (s *stubScheduler) StatusBatch(ctx context.Context, pids []string) (map[string]*models.StatusUpdate, error) {
	return schedulers.StatusBatchFallback(ctx, s, pids)
}

func (s *stubScheduler) Cancel(ctx context.Context, pid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = append(s.canceled, pid)
	return nil
}
