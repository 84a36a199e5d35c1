// -----------------------------------------------------------------------
// Reconciler - Merges external scheduler state into the job store
// -----------------------------------------------------------------------

package reconciler

import (
	"context"
	"errors"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/interfaces"
	"github.com/ternarybob/caelum/internal/models"
	"github.com/ternarybob/caelum/internal/schedulers"
	"github.com/ternarybob/caelum/internal/services/workers"
)

// workloadDeleter is implemented by adapters whose finished workloads need
// explicit cleanup (kube).
type workloadDeleter interface {
	Delete(ctx context.Context, pid string) error
}

// Service runs one reconciliation cycle per scheduler tick. Local jobs are
// skipped: their worker owns the records end-to-end. Per-job errors never
// abort the cycle.
type Service struct {
	jobs     interfaces.JobStorage
	adapters map[string]schedulers.Scheduler
	packager interfaces.Packager
	events   interfaces.EventService
	poolSize int
	logger   arbor.ILogger
}

// NewService creates the reconciler over the configured adapters.
func NewService(jobs interfaces.JobStorage, adapters map[string]schedulers.Scheduler,
	packager interfaces.Packager, events interfaces.EventService,
	poolSize int, logger arbor.ILogger) *Service {
	if poolSize <= 0 {
		poolSize = 4
	}
	return &Service{
		jobs:     jobs,
		adapters: adapters,
		packager: packager,
		events:   events,
		poolSize: poolSize,
		logger:   logger,
	}
}

// Reconcile executes one full cycle: discover unfinished jobs, query their
// backends, fold the replies into the store.
func (s *Service) Reconcile(ctx context.Context) error {
	unfinished, err := s.jobs.FindUnfinishedAllUsers(ctx)
	if err != nil {
		return err
	}
	if len(unfinished) == 0 {
		return nil
	}

	buckets := make(map[string][]*models.Job)
	for _, job := range unfinished {
		if job.Scheduler == schedulers.KindLocal {
			continue
		}
		if job.Pid == "" {
			// Dispatched but the handle never landed; nothing to query.
			continue
		}
		buckets[job.Scheduler] = append(buckets[job.Scheduler], job)
	}

	for kind, jobs := range buckets {
		adapter, ok := s.adapters[kind]
		if !ok {
			s.logger.Warn().
				Str("scheduler", kind).
				Int("jobs", len(jobs)).
				Msg("No adapter for scheduler kind, jobs left untouched")
			continue
		}

		switch kind {
		case schedulers.KindSlurm:
			s.reconcileBatch(ctx, adapter, jobs)
		default:
			s.reconcilePerJob(ctx, adapter, jobs)
		}
	}

	return nil
}

// reconcileBatch resolves every pid in one list call. Pids the backend
// omitted stay untouched until a later cycle.
func (s *Service) reconcileBatch(ctx context.Context, adapter schedulers.Scheduler, jobs []*models.Job) {
	pids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		pids = append(pids, job.Pid)
	}

	replies, err := adapter.StatusBatch(ctx, pids)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("scheduler", adapter.Kind()).
			Msg("Batch status query failed")
		return
	}

	for _, job := range jobs {
		reply, ok := replies[job.Pid]
		if !ok {
			continue
		}
		s.apply(ctx, adapter, job, reply)
	}
}

// reconcilePerJob fans per-pid status queries through a bounded pool.
func (s *Service) reconcilePerJob(ctx context.Context, adapter schedulers.Scheduler, jobs []*models.Job) {
	pool := workers.NewPool(s.poolSize, s.logger)
	pool.Start()

	for _, job := range jobs {
		job := job
		_ = pool.Submit(func(taskCtx context.Context) error {
			reply, err := adapter.Status(ctx, job.Pid)
			if err != nil {
				if errors.Is(err, schedulers.ErrNotFound) {
					return nil
				}
				s.logger.Warn().Err(err).
					Str("job_id", job.JobID).
					Msg("Status query failed")
				return nil
			}
			s.apply(ctx, adapter, job, reply)
			return nil
		})
	}

	pool.Wait()
}

// apply folds one reply into the record. Writes only happen when a field
// actually changed, so replaying the same reply is a no-op.
func (s *Service) apply(ctx context.Context, adapter schedulers.Scheduler, job *models.Job, reply *models.StatusUpdate) {
	fields := make(map[string]interface{})
	if reply.State != "" && reply.State != job.State {
		fields["state"] = reply.State
	}
	if reply.Status != "" && reply.Status != job.Status {
		fields["status"] = reply.Status
	}
	if reply.ExitCode != job.ExitCode {
		fields["exit_code"] = reply.ExitCode
	}
	if reply.ElapsedTime > 0 && reply.ElapsedTime != job.ElapsedTime {
		fields["elapsed_time"] = reply.ElapsedTime
	}

	if len(fields) > 0 {
		if err := s.jobs.Update(ctx, job.User, job.JobID, fields); err != nil {
			s.logger.Warn().Err(err).
				Str("job_id", job.JobID).
				Msg("Failed to persist reconciled state")
			return
		}
	}

	prev := job.State
	stateChanged := reply.State != "" && reply.State != job.State
	if stateChanged {
		job.State = reply.State
		job.Status = reply.Status
		job.ExitCode = reply.ExitCode
		job.ElapsedTime = reply.ElapsedTime
	}

	if job.State.IsTerminal() {
		s.finalize(ctx, adapter, job)
	}

	if stateChanged && s.events != nil {
		_ = s.events.Publish(ctx, interfaces.Event{
			Type: interfaces.EventJobStateChanged,
			Payload: interfaces.JobEventPayload{
				User:      job.User,
				JobID:     job.JobID,
				App:       job.App,
				State:     string(job.State),
				Status:    job.Status,
				PrevState: string(prev),
			},
		})
	}
}

// finalize packages the terminal job and cleans up the remote workload.
func (s *Service) finalize(ctx context.Context, adapter schedulers.Scheduler, job *models.Job) {
	if s.packager != nil {
		if err := s.packager.Package(ctx, job); err != nil {
			s.logger.Warn().Err(err).
				Str("job_id", job.JobID).
				Msg("Packaging failed")
		}
	}

	if deleter, ok := adapter.(workloadDeleter); ok {
		if err := deleter.Delete(ctx, job.Pid); err != nil {
			s.logger.Debug().Err(err).
				Str("job_id", job.JobID).
				Msg("Workload cleanup failed")
		}
	}
}
