// -----------------------------------------------------------------------
// Jobs - Submission controller and job record operations
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/apps"
	"github.com/ternarybob/caelum/internal/common"
	"github.com/ternarybob/caelum/internal/interfaces"
	"github.com/ternarybob/caelum/internal/models"
	"github.com/ternarybob/caelum/internal/schedulers"
)

// ErrDispatch marks submission failures raised by the scheduler adapter, as
// opposed to validation and resolution failures raised before dispatch.
var ErrDispatch = errors.New("failed to submit job")

// SubmitRequest is the POST /api/v1/job body.
type SubmitRequest struct {
	App        string                 `json:"app" validate:"required"`
	JobInputs  map[string]interface{} `json:"job_inputs" validate:"required"`
	DataInputs string                 `json:"data_inputs" validate:"required"`
	Tag        string                 `json:"tag"`
}

// SubmitResult carries the persisted record plus a soft warning when the
// record insert failed after a successful dispatch.
type SubmitResult struct {
	Job     *models.Job
	Warning string
}

// Service owns the submission flow and the per-user job operations.
type Service struct {
	cfg       *common.Config
	registry  *apps.Registry
	jobs      interfaces.JobStorage
	files     interfaces.FileStorage
	scheduler schedulers.Scheduler
	events    interfaces.EventService
	validate  *validator.Validate
	logger    arbor.ILogger
}

// NewService creates the submission controller bound to the configured
// scheduler adapter.
func NewService(cfg *common.Config, registry *apps.Registry, jobs interfaces.JobStorage,
	files interfaces.FileStorage, scheduler schedulers.Scheduler,
	events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		cfg:       cfg,
		registry:  registry,
		jobs:      jobs,
		files:     files,
		scheduler: scheduler,
		events:    events,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Submit runs the submission flow, short-circuiting on the first failure.
// Nothing is persisted unless dispatch succeeded.
func (s *Service) Submit(ctx context.Context, user string, req *SubmitRequest) (*SubmitResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid submission body: %w", err)
	}

	file, err := s.files.GetFile(ctx, user, req.DataInputs)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("Cannot find file %s for user %s", req.DataInputs, user)
		}
		return nil, err
	}

	cmd, err := s.registry.Validate(req.App, req.JobInputs, file.FilePath)
	if err != nil {
		return nil, err
	}

	job := models.NewJob(user, req.App, req.JobInputs, req.DataInputs, req.Tag, s.scheduler.Kind())
	job.Cmd = cmd.Command
	job.CmdArgs = cmd.Args
	userRoot := filepath.Join(s.cfg.Jobs.JobRoot, user)
	jobDir := filepath.Join(userRoot, job.JobDirName())
	job.JobTopDir = jobDir

	if err := os.MkdirAll(userRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create user job directory: %w", err)
	}
	// The local worker creates the job dir itself when the task starts;
	// external backends need it on shared storage before dispatch.
	if s.scheduler.Kind() != schedulers.KindLocal {
		if err := os.MkdirAll(jobDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create job directory: %w", err)
		}
	}

	sub, err := s.scheduler.Submit(ctx, &schedulers.Spec{
		JobID:     job.JobID,
		User:      user,
		App:       req.App,
		Command:   cmd.Command,
		Args:      cmd.Args,
		ArgString: cmd.ArgString(),
		JobDir:    jobDir,
		InputPath: file.FilePath,
		Hints:     schedulers.RuntimeHints{NProc: cmd.Hints.NProc, NThreads: cmd.Hints.NThreads},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	job.SetPid(sub.Pid)

	result := &SubmitResult{Job: job}
	if err := s.jobs.Insert(ctx, job); err != nil {
		// The job is already running; reconciliation will rediscover it.
		s.logger.Warn().Err(err).
			Str("job_id", job.JobID).
			Msg("Job dispatched but record insert failed")
		result.Warning = fmt.Sprintf("job dispatched but not recorded: %v", err)
	}

	s.publish(ctx, interfaces.EventJobSubmitted, job, "")

	s.logger.Info().
		Str("job_id", job.JobID).
		Str("user", user).
		Str("app", req.App).
		Str("scheduler", s.scheduler.Kind()).
		Msg("Job submitted")

	return result, nil
}

// Get returns one job record from the user's partition.
func (s *Service) Get(ctx context.Context, user, jobID string) (*models.Job, error) {
	return s.jobs.Get(ctx, user, jobID)
}

// List returns the user's job records, newest first.
func (s *Service) List(ctx context.Context, user string) ([]*models.Job, error) {
	return s.jobs.List(ctx, user)
}

// Cancel asks the adapter to terminate the job and records CANCELED. A later
// reconciliation cycle may correct the state if the backend disagrees.
// Cancelling an already-terminal job is a no-op.
func (s *Service) Cancel(ctx context.Context, user, jobID string) error {
	job, err := s.jobs.Get(ctx, user, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}

	handle := job.Pid
	if handle == "" {
		handle = job.JobID
	}
	if err := s.scheduler.Cancel(ctx, handle); err != nil {
		s.logger.Warn().Err(err).
			Str("job_id", jobID).
			Msg("Scheduler cancel failed, recording CANCELED anyway")
	}

	prev := job.State
	if err := s.jobs.Update(ctx, user, jobID, map[string]interface{}{
		"state":  models.JobStateCanceled,
		"status": "Job canceled by the user",
	}); err != nil {
		return err
	}

	job.State = models.JobStateCanceled
	job.Status = "Job canceled by the user"
	s.publish(ctx, interfaces.EventJobStateChanged, job, string(prev))
	return nil
}

func (s *Service) publish(ctx context.Context, eventType interfaces.EventType, job *models.Job, prev string) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, interfaces.Event{
		Type: eventType,
		Payload: interfaces.JobEventPayload{
			User:      job.User,
			JobID:     job.JobID,
			App:       job.App,
			State:     string(job.State),
			Status:    job.Status,
			PrevState: prev,
		},
	})
}
