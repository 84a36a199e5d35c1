// -----------------------------------------------------------------------
// Slurm scheduler - Dispatches jobs to an HPC cluster via slurmrestd
// -----------------------------------------------------------------------

package slurm

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/common"
	"github.com/ternarybob/caelum/internal/models"
	"github.com/ternarybob/caelum/internal/schedulers"
)

// submitRequest is the POST /job/submit body. The environment field is
// mandatory despite what the slurmrestd docs say.
type submitRequest struct {
	Script string        `json:"script"`
	Job    jobProperties `json:"job"`
}

type jobProperties struct {
	Name                    string            `json:"name"`
	Environment             map[string]string `json:"environment"`
	Partition               string            `json:"partition"`
	CurrentWorkingDirectory string            `json:"current_working_directory,omitempty"`
	CPUsPerTask             int               `json:"cpus_per_task,omitempty"`
	Tasks                   int               `json:"tasks,omitempty"`
}

type apiError struct {
	Error     string `json:"error"`
	ErrorCode int    `json:"error_code"`
}

type submitResponse struct {
	JobID  int        `json:"job_id"`
	Errors []apiError `json:"errors"`
}

type jobInfo struct {
	JobID     int    `json:"job_id"`
	Name      string `json:"name"`
	JobState  string `json:"job_state"`
	ExitCode  int    `json:"exit_code"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
}

type jobsResponse struct {
	Jobs   []jobInfo  `json:"jobs"`
	Errors []apiError `json:"errors"`
}

// Scheduler dispatches jobs to a Slurm cluster through the REST API. Jobs run
// inside singularity containers on cluster filesystems, so server-side paths
// are rewritten with the configured prefix pairs before they enter the batch
// script.
type Scheduler struct {
	cfg    *common.SlurmSchedulerConfig
	client *Client
	logger arbor.ILogger
}

// New creates a Slurm scheduler from configuration. Extra client options are
// applied last so tests can point the client at a stub server.
func New(cfg *common.SlurmSchedulerConfig, logger arbor.ILogger, opts ...ClientOption) (*Scheduler, error) {
	ttl := common.Duration(cfg.TokenTTL, DefaultTokenTTL)
	headroom := common.Duration(cfg.TokenHeadroom, DefaultTokenHeadroom)

	tokens, err := newTokenManager(cfg.KeyPath, cfg.User, ttl, headroom)
	if err != nil {
		return nil, err
	}

	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	scheme := "http"
	if cfg.TLS {
		scheme = "https"
	}
	baseURL := fmt.Sprintf("%s://%s:%d/slurm/%s", scheme, cfg.Host, cfg.Port, version)

	clientOpts := []ClientOption{
		WithLogger(logger),
		WithHTTPClient(&http.Client{Timeout: common.Duration(cfg.RequestTimeout, DefaultTimeout)}),
	}
	if cfg.RateLimit > 0 {
		clientOpts = append(clientOpts, WithRateLimit(cfg.RateLimit))
	}
	clientOpts = append(clientOpts, opts...)

	return &Scheduler{
		cfg:    cfg,
		client: NewClient(baseURL, cfg.User, tokens, clientOpts...),
		logger: logger,
	}, nil
}

func (s *Scheduler) Kind() string { return schedulers.KindSlurm }

func (s *Scheduler) Submit(ctx context.Context, spec *schedulers.Spec) (*schedulers.Submission, error) {
	image, ok := s.cfg.AppImages[spec.App]
	if !ok || image == "" {
		return nil, fmt.Errorf("no singularity image configured for app %s", spec.App)
	}
	if spec.ArgString == "" {
		return nil, fmt.Errorf("empty job options")
	}

	script, err := s.buildScript(spec, image)
	if err != nil {
		return nil, err
	}

	clusterJobDir, err := mapPath(spec.JobDir, s.cfg.JobDirServer, s.cfg.JobDirCluster)
	if err != nil {
		return nil, err
	}

	workDir := s.cfg.BatchWorkDir
	if workDir == "" {
		workDir = clusterJobDir
	}

	req := &submitRequest{
		Script: script,
		Job: jobProperties{
			Name:                    spec.JobID,
			Environment:             map[string]string{"PATH": "/bin:/usr/bin/:/usr/local/bin/"},
			Partition:               s.cfg.Queue,
			CurrentWorkingDirectory: workDir,
			CPUsPerTask:             clampCores(spec.Hints.NThreads, s.cfg.MaxCores),
			Tasks:                   clampCores(spec.Hints.NProc, s.cfg.MaxCores),
		},
	}

	var resp submitResponse
	status, err := s.client.do(ctx, http.MethodPost, "/job/submit", req, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("slurm submit returned HTTP %d", status)
	}
	if len(resp.Errors) > 0 && resp.Errors[0].Error != "" {
		return nil, fmt.Errorf("slurm submit failed: %s", resp.Errors[0].Error)
	}
	if resp.JobID <= 0 {
		return nil, fmt.Errorf("slurm submit returned no job id")
	}

	s.logger.Info().
		Str("job_id", spec.JobID).
		Int("slurm_id", resp.JobID).
		Str("partition", s.cfg.Queue).
		Msg("Slurm job submitted")

	return &schedulers.Submission{
		JobID:      spec.JobID,
		Pid:        strconv.Itoa(resp.JobID),
		SubmitDate: time.Now().UTC(),
		State:      models.JobStatePending,
	}, nil
}

// buildScript assembles the batch script: optional visibility sleep, then a
// singularity invocation wired to the job directory on cluster storage.
func (s *Scheduler) buildScript(spec *schedulers.Spec, image string) (string, error) {
	clusterJobDir, err := mapPath(spec.JobDir, s.cfg.JobDirServer, s.cfg.JobDirCluster)
	if err != nil {
		return "", err
	}
	clusterInput, err := mapPath(spec.InputPath, s.cfg.DataDirServer, s.cfg.DataDirCluster)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	if s.cfg.StartupSleep > 0 {
		fmt.Fprintf(&b, "sleep %d\n", s.cfg.StartupSleep)
	}

	cmd := fmt.Sprintf(
		"singularity run --containall --scratch %s -B %s -B %s "+
			"--env CHANGE_RUNUSER=0 --env JOB_DIR=%s --env JOB_OPTIONS=%q --env JOB_OUTDIR=%s %s",
		clusterJobDir, clusterJobDir, clusterInput,
		clusterJobDir, spec.ArgString, clusterJobDir, image)

	if spec.Hints.NProc > 1 {
		np := spec.Hints.NProc
		if spec.Hints.NThreads > 1 {
			np *= spec.Hints.NThreads
		}
		cmd = fmt.Sprintf("mpirun -np %d %s", np, cmd)
	}

	b.WriteString(cmd)
	b.WriteString("\n")
	return b.String(), nil
}

// mapPath rewrites a server-side path onto cluster storage. A path outside
// the configured server prefix cannot be reached by the cluster, so the
// submission fails.
func mapPath(path, serverPrefix, clusterPrefix string) (string, error) {
	if serverPrefix == "" || clusterPrefix == "" {
		return path, nil
	}
	if !strings.HasPrefix(path, serverPrefix) {
		return "", fmt.Errorf("path %s is outside the shared prefix %s", path, serverPrefix)
	}
	return clusterPrefix + strings.TrimPrefix(path, serverPrefix), nil
}

// clampCores bounds one parallelism dimension. Requests above the cluster
// maximum are down-scaled to a single core rather than rejected.
func clampCores(v, max int) int {
	if v <= 0 {
		return 1
	}
	if max > 0 && v > max {
		return 1
	}
	return v
}

func (s *Scheduler) Status(ctx context.Context, pid string) (*models.StatusUpdate, error) {
	var resp jobsResponse
	status, err := s.client.do(ctx, http.MethodGet, "/job/"+pid, nil, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, schedulers.ErrNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("slurm status returned HTTP %d", status)
	}
	if len(resp.Jobs) == 0 {
		return nil, schedulers.ErrNotFound
	}
	return mapJobInfo(pid, &resp.Jobs[0]), nil
}

// StatusBatch queries every pid in a single list call. Pids the cluster no
// longer knows are omitted from the reply.
func (s *Scheduler) StatusBatch(ctx context.Context, pids []string) (map[string]*models.StatusUpdate, error) {
	if len(pids) == 0 {
		return map[string]*models.StatusUpdate{}, nil
	}

	var resp jobsResponse
	path := "/jobs?job_ids=" + strings.Join(pids, ",")
	status, err := s.client.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("slurm list returned HTTP %d", status)
	}

	wanted := make(map[string]bool, len(pids))
	for _, pid := range pids {
		wanted[pid] = true
	}

	out := make(map[string]*models.StatusUpdate, len(resp.Jobs))
	for i := range resp.Jobs {
		pid := strconv.Itoa(resp.Jobs[i].JobID)
		if !wanted[pid] {
			continue
		}
		out[pid] = mapJobInfo(pid, &resp.Jobs[i])
	}
	return out, nil
}

// Cancel sends the REST cancel call. Only HTTP 200 counts as success.
func (s *Scheduler) Cancel(ctx context.Context, pid string) error {
	status, err := s.client.do(ctx, http.MethodDelete, "/job/"+pid, nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("slurm cancel returned HTTP %d", status)
	}
	return nil
}

// mapJobInfo folds one native record into the common taxonomy.
func mapJobInfo(pid string, info *jobInfo) *models.StatusUpdate {
	reply := &models.StatusUpdate{
		Pid:      pid,
		State:    mapState(info.JobState),
		ExitCode: info.ExitCode,
	}
	reply.Status = fmt.Sprintf("Slurm job state %s", info.JobState)

	if info.StartTime > 0 && info.EndTime > 0 && info.EndTime >= info.StartTime {
		reply.ElapsedTime = float64(info.EndTime - info.StartTime)
	}

	switch reply.State {
	case models.JobStateSuccess:
		reply.Status = "Job completed with success"
	case models.JobStateTimedOut:
		reply.Status = "Task exceeded time limits"
	}

	return reply
}

func mapState(native string) models.JobState {
	switch native {
	case "PENDING", "SUSPENDED":
		return models.JobStatePending
	case "RUNNING":
		return models.JobStateRunning
	case "COMPLETED":
		return models.JobStateSuccess
	case "CANCELLED":
		return models.JobStateCanceled
	case "FAILED", "NODE_FAIL", "PREEMPTED", "BOOT_FAIL", "DEADLINE", "OUT_OF_MEMORY":
		return models.JobStateFailure
	case "TIMEOUT":
		return models.JobStateTimedOut
	default:
		return models.JobStateUnknown
	}
}
