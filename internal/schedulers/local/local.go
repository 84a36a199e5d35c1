// -----------------------------------------------------------------------
// Local scheduler - In-process worker pool running jobs on the host
// -----------------------------------------------------------------------

package local

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/common"
	"github.com/ternarybob/caelum/internal/interfaces"
	"github.com/ternarybob/caelum/internal/models"
	"github.com/ternarybob/caelum/internal/schedulers"
)

// task is one queued execution request.
type task struct {
	jobID   string
	user    string
	command string
	args    []string
	jobDir  string
}

// runningProc tracks a started process for cancellation.
type runningProc struct {
	pid  int
	pgid int
}

// Scheduler runs jobs as host processes through a bounded worker pool. It is
// the only adapter that owns job records end-to-end: every transition is
// written to the job store directly and terminal states trigger packaging, so
// the reconciler skips local jobs entirely.
type Scheduler struct {
	jobs     interfaces.JobStorage
	packager interfaces.Packager
	logger   arbor.ILogger

	tasks         chan *task
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	workers       int
	monitorPeriod time.Duration
	softTimeLimit time.Duration

	mu      sync.Mutex
	revoked map[string]bool          // queued jobs cancelled before start
	killed  map[string]bool          // running jobs cancelled via SIGKILL
	running map[string]*runningProc  // jobID -> live process
	last    map[string]*models.StatusUpdate
}

// New creates a local scheduler from configuration. Call Start before
// submitting.
func New(cfg *common.LocalSchedulerConfig, jobs interfaces.JobStorage, packager interfaces.Packager, logger arbor.ILogger) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		jobs:          jobs,
		packager:      packager,
		logger:        logger,
		tasks:         make(chan *task, queueSize),
		ctx:           ctx,
		cancel:        cancel,
		workers:       workers,
		monitorPeriod: common.Duration(cfg.MonitorPeriod, 5*time.Second),
		softTimeLimit: common.Duration(cfg.SoftTimeLimit, 0),
		revoked:       make(map[string]bool),
		killed:        make(map[string]bool),
		running:       make(map[string]*runningProc),
		last:          make(map[string]*models.StatusUpdate),
	}
}

// Start launches the worker goroutines and rebuilds the queue from the job
// store. The store is the durable record of queued work: PENDING local jobs
// are re-enqueued, while STARTED and RUNNING ones lost their process with the
// previous instance and are closed out as ABORTED.
func (s *Scheduler) Start() {
	s.logger.Info().
		Int("workers", s.workers).
		Str("monitor_period", s.monitorPeriod.String()).
		Msg("Starting local scheduler")

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.recover()
}

// recover re-enqueues persisted local work left over from a previous run.
func (s *Scheduler) recover() {
	unfinished, err := s.jobs.FindUnfinishedAllUsers(s.ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Cannot scan job store for queued local work")
		return
	}

	for _, job := range unfinished {
		if job.Scheduler != schedulers.KindLocal {
			continue
		}

		if job.State == models.JobStatePending && job.Cmd != "" {
			t := &task{
				jobID:   job.JobID,
				user:    job.User,
				command: job.Cmd,
				args:    job.CmdArgs,
				jobDir:  job.JobTopDir,
			}
			select {
			case s.tasks <- t:
				s.setLast(job.JobID, &models.StatusUpdate{
					State:    models.JobStatePending,
					Status:   job.Status,
					ExitCode: models.ExitCodeUnknown,
				})
				s.logger.Info().
					Str("job_id", job.JobID).
					Str("user", job.User).
					Msg("Re-enqueued queued job after restart")
				continue
			default:
				// Queue full: fall through and close the job out.
			}
		}

		// The process, if any, died with the previous instance.
		if err := s.jobs.Update(s.ctx, job.User, job.JobID, map[string]interface{}{
			"state":  models.JobStateAborted,
			"status": "Job lost on service restart",
		}); err != nil {
			s.logger.Warn().Err(err).
				Str("job_id", job.JobID).
				Msg("Failed to close out lost job")
			continue
		}
		s.logger.Warn().
			Str("job_id", job.JobID).
			Str("state", string(job.State)).
			Msg("Closed out job lost on restart")
	}
}

// Stop cancels running processes and waits for the workers to drain.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Local scheduler stopped")
}

func (s *Scheduler) Kind() string { return schedulers.KindLocal }

// Submit enqueues the job. The pid stays empty: the process handle is only
// known once a worker picks the task up, and local records are tracked by
// job id.
func (s *Scheduler) Submit(ctx context.Context, spec *schedulers.Spec) (*schedulers.Submission, error) {
	t := &task{
		jobID:   spec.JobID,
		user:    spec.User,
		command: spec.Command,
		args:    spec.Args,
		jobDir:  spec.JobDir,
	}

	if s.ctx.Err() != nil {
		return nil, fmt.Errorf("local scheduler is shutting down")
	}

	select {
	case s.tasks <- t:
	default:
		return nil, fmt.Errorf("local job queue is full")
	}

	s.setLast(spec.JobID, &models.StatusUpdate{
		Pid:      "",
		State:    models.JobStatePending,
		Status:   "Job submitted with success",
		ExitCode: models.ExitCodeUnknown,
	})

	return &schedulers.Submission{
		JobID:      spec.JobID,
		Pid:        "",
		SubmitDate: time.Now().UTC(),
		State:      models.JobStatePending,
	}, nil
}

// Status reports the worker's own view of a job. The handle is the job id.
func (s *Scheduler) Status(ctx context.Context, pid string) (*models.StatusUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reply, ok := s.last[pid]; ok {
		cp := *reply
		return &cp, nil
	}
	return nil, schedulers.ErrNotFound
}

func (s *Scheduler) StatusBatch(ctx context.Context, pids []string) (map[string]*models.StatusUpdate, error) {
	return schedulers.StatusBatchFallback(ctx, s, pids)
}

// Cancel revokes a queued job or SIGKILLs the process group of a running one.
// The handle is the job id.
func (s *Scheduler) Cancel(ctx context.Context, pid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if proc, ok := s.running[pid]; ok {
		s.killed[pid] = true
		if err := syscall.Kill(-proc.pgid, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to kill process group %d: %w", proc.pgid, err)
		}
		return nil
	}

	s.revoked[pid] = true
	return nil
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case t, ok := <-s.tasks:
			if !ok {
				return
			}
			s.run(t)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) run(t *task) {
	if s.isRevoked(t.jobID) {
		s.finish(t, models.JobStateCanceled, "Job canceled", models.ExitCodeUnknown, 0)
		return
	}

	if err := os.MkdirAll(t.jobDir, 0755); err != nil {
		s.finish(t, models.JobStateFailure,
			fmt.Sprintf("Failed to create job directory: %v", err), models.ExitCodeUnknown, 0)
		return
	}

	logFile, err := os.Create(filepath.Join(t.jobDir, "job_output.log"))
	if err != nil {
		s.finish(t, models.JobStateFailure,
			fmt.Sprintf("Failed to create job log: %v", err), models.ExitCodeUnknown, 0)
		return
	}
	defer logFile.Close()

	// New process group so the soft time limit and cancel can signal the
	// whole tree, not just the direct child.
	cmd := exec.CommandContext(s.ctx, t.command, t.args...)
	cmd.Dir = t.jobDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		s.finish(t, models.JobStateFailure,
			fmt.Sprintf("Process failed to start: %v", err), models.ExitCodeUnknown, 0)
		return
	}

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		pgid = pid
	}

	s.mu.Lock()
	s.running[t.jobID] = &runningProc{pid: pid, pgid: pgid}
	s.mu.Unlock()

	start := time.Now()
	s.writeUpdate(t, &models.StatusUpdate{
		Pid:      fmt.Sprintf("%d", pid),
		State:    models.JobStateStarted,
		Status:   "Job started",
		ExitCode: models.ExitCodeUnknown,
	})

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(s.monitorPeriod)
	defer ticker.Stop()

	timedOut := false
	var waitErr error

loop:
	for {
		select {
		case waitErr = <-done:
			break loop
		case <-ticker.C:
			elapsed := time.Since(start).Seconds()
			if !timedOut && s.softTimeLimit > 0 && elapsed > s.softTimeLimit.Seconds() {
				timedOut = true
				s.logger.Warn().
					Str("job_id", t.jobID).
					Float64("elapsed", elapsed).
					Msg("Job exceeded soft time limit, sending SIGTERM")
				_ = syscall.Kill(-pgid, syscall.SIGTERM)
				continue
			}
			s.writeUpdate(t, &models.StatusUpdate{
				Pid:         fmt.Sprintf("%d", pid),
				State:       models.JobStateRunning,
				Status:      "Job running",
				ExitCode:    models.ExitCodeUnknown,
				ElapsedTime: elapsed,
			})
		}
	}

	elapsed := time.Since(start).Seconds()

	s.mu.Lock()
	delete(s.running, t.jobID)
	wasKilled := s.killed[t.jobID]
	delete(s.killed, t.jobID)
	s.mu.Unlock()

	state, status, exitCode := classifyExit(waitErr, timedOut, wasKilled)
	s.finish(t, state, status, exitCode, elapsed)
}

// classifyExit maps the wait result onto the common state taxonomy.
func classifyExit(waitErr error, timedOut, killed bool) (models.JobState, string, int) {
	if timedOut {
		return models.JobStateTimedOut, "Task exceeded time limits", models.ExitCodeTimedOut
	}
	if killed {
		return models.JobStateCanceled, "Job canceled by the user", models.ExitCodeUnknown
	}
	if waitErr == nil {
		return models.JobStateSuccess, "Job completed with success", 0
	}

	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				sig := int(ws.Signal())
				return models.JobStateFailure,
					fmt.Sprintf("Process terminated with SIG %d", sig), -sig
			}
			code := ws.ExitStatus()
			return models.JobStateFailure,
				fmt.Sprintf("Process terminated with return code %d", code), code
		}
		return models.JobStateFailure,
			fmt.Sprintf("Process terminated with return code %d", exitErr.ExitCode()), exitErr.ExitCode()
	}

	return models.JobStateFailure, fmt.Sprintf("Process failed: %v", waitErr), models.ExitCodeUnknown
}

// finish writes the terminal transition and triggers packaging.
func (s *Scheduler) finish(t *task, state models.JobState, status string, exitCode int, elapsed float64) {
	s.writeUpdate(t, &models.StatusUpdate{
		State:       state,
		Status:      status,
		ExitCode:    exitCode,
		ElapsedTime: elapsed,
	})

	job, err := s.jobs.Get(s.ctx, t.user, t.jobID)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("job_id", t.jobID).
			Msg("Cannot load job record for packaging")
		return
	}
	if err := s.packager.Package(s.ctx, job); err != nil {
		s.logger.Error().Err(err).
			Str("job_id", t.jobID).
			Msg("Packaging failed")
	}
}

// writeUpdate persists a transition and caches it for Status replies.
func (s *Scheduler) writeUpdate(t *task, reply *models.StatusUpdate) {
	s.setLast(t.jobID, reply)

	fields := map[string]interface{}{
		"state":        reply.State,
		"status":       reply.Status,
		"exit_code":    reply.ExitCode,
		"elapsed_time": reply.ElapsedTime,
	}
	if reply.Pid != "" {
		fields["pid"] = reply.Pid
	}

	if err := s.jobs.Update(s.ctx, t.user, t.jobID, fields); err != nil {
		s.logger.Warn().Err(err).
			Str("job_id", t.jobID).
			Str("state", string(reply.State)).
			Msg("Failed to persist job transition")
	}
}

func (s *Scheduler) setLast(jobID string, reply *models.StatusUpdate) {
	s.mu.Lock()
	s.last[jobID] = reply
	s.mu.Unlock()
}

func (s *Scheduler) isRevoked(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked[jobID] {
		delete(s.revoked, jobID)
		return true
	}
	return false
}
