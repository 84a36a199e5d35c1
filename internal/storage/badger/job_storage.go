package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/interfaces"
	"github.com/ternarybob/caelum/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger. Records are
// keyed "user/jobID" so each user's partition stays disjoint.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func jobKey(user, jobID string) string {
	return user + "/" + jobID
}

func (s *JobStorage) Insert(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	if err := s.db.Store().Insert(jobKey(job.User, job.JobID), job); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("job already exists: %s", job.JobID)
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Update applies a partial update to one record. The read-modify-write is
// atomic per document because badger serializes writes on the same key.
func (s *JobStorage) Update(ctx context.Context, user, jobID string, fields map[string]interface{}) error {
	job, err := s.Get(ctx, user, jobID)
	if err != nil {
		return err
	}

	for name, value := range fields {
		if err := applyJobField(job, name, value); err != nil {
			return err
		}
	}

	if err := s.db.Store().Upsert(jobKey(user, jobID), job); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func applyJobField(job *models.Job, name string, value interface{}) error {
	switch name {
	case "state":
		state, err := coerceState(value)
		if err != nil {
			return err
		}
		if err := job.SetState(state); err != nil {
			return err
		}
	case "status":
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("field status: expected string, got %T", value)
		}
		job.Status = str
	case "pid":
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("field pid: expected string, got %T", value)
		}
		job.SetPid(str)
	case "exit_code":
		n, err := coerceInt(value)
		if err != nil {
			return fmt.Errorf("field exit_code: %w", err)
		}
		job.ExitCode = n
	case "elapsed_time":
		f, err := coerceFloat(value)
		if err != nil {
			return fmt.Errorf("field elapsed_time: %w", err)
		}
		job.ElapsedTime = f
	case "job_top_dir":
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("field job_top_dir: expected string, got %T", value)
		}
		job.JobTopDir = str
	case "archive_path":
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("field archive_path: expected string, got %T", value)
		}
		job.ArchivePath = str
	case "report_path":
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("field report_path: expected string, got %T", value)
		}
		job.ReportPath = str
	case "packaged_at":
		switch v := value.(type) {
		case time.Time:
			job.PackagedAt = &v
		case *time.Time:
			job.PackagedAt = v
		default:
			return fmt.Errorf("field packaged_at: expected time.Time, got %T", value)
		}
	default:
		return fmt.Errorf("unknown job field: %s", name)
	}
	return nil
}

func coerceState(value interface{}) (models.JobState, error) {
	var state models.JobState
	switch v := value.(type) {
	case models.JobState:
		state = v
	case string:
		state = models.JobState(v)
	default:
		return "", fmt.Errorf("field state: expected state, got %T", value)
	}
	if !state.Valid() {
		return "", fmt.Errorf("field state: invalid value %q", state)
	}
	return state, nil
}

func coerceInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	}
	return 0, fmt.Errorf("expected int, got %T", value)
}

func coerceFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("expected float, got %T", value)
}

func (s *JobStorage) Get(ctx context.Context, user, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobKey(user, jobID), &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) List(ctx context.Context, user string) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("User").Eq(user).SortBy("SubmitDate").Reverse()
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobPtrs(jobs), nil
}

func (s *JobStorage) ListByState(ctx context.Context, user string, state models.JobState) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("User").Eq(user).And("State").Eq(state).SortBy("SubmitDate").Reverse()
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs by state: %w", err)
	}
	return jobPtrs(jobs), nil
}

// FindUnfinishedAllUsers is the reconciler's discovery query. One scan covers
// every user partition.
func (s *JobStorage) FindUnfinishedAllUsers(ctx context.Context) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("State").In(
		models.JobStatePending, models.JobStateStarted, models.JobStateRunning)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to find unfinished jobs: %w", err)
	}
	return jobPtrs(jobs), nil
}

func (s *JobStorage) Users(ctx context.Context) ([]string, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, nil); err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}

	seen := make(map[string]struct{})
	users := make([]string, 0)
	for i := range jobs {
		if _, ok := seen[jobs[i].User]; ok {
			continue
		}
		seen[jobs[i].User] = struct{}{}
		users = append(users, jobs[i].User)
	}
	sort.Strings(users)
	return users, nil
}

func jobPtrs(jobs []models.Job) []*models.Job {
	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result
}
