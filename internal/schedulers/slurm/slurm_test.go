package slurm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/common"
	"github.com/ternarybob/caelum/internal/models"
	"github.com/ternarybob/caelum/internal/schedulers"
)

func writeKeyFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jwt.key")
	require.NoError(t, os.WriteFile(path, []byte("super-secret-signing-key\n"), 0600))
	return path
}

func testConfig(t *testing.T) *common.SlurmSchedulerConfig {
	return &common.SlurmSchedulerConfig{
		Host:           "hpc.example",
		Port:           6820,
		User:           "caelum",
		KeyPath:        writeKeyFile(t),
		Queue:          "normal",
		BatchWorkDir:   "/opt/caelum/batchlogs",
		APIVersion:     "v0.0.36",
		AppImages:      map[string]string{"caesar": "/opt/images/caesar.sif"},
		JobDirServer:   "/srv/jobs",
		JobDirCluster:  "/mnt/shared/jobs",
		DataDirServer:  "/srv/uploads",
		DataDirCluster: "/mnt/shared/uploads",
		MaxCores:       4,
	}
}

func testScheduler(t *testing.T, handler http.Handler) *Scheduler {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	s, err := New(testConfig(t), arbor.NewLogger(),
		WithBaseURL(server.URL+"/slurm/v0.0.36"),
		WithHTTPClient(server.Client()))
	require.NoError(t, err)
	return s
}

func TestBaseURLScheme(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, "http://hpc.example:6820/slurm/v0.0.36", s.client.baseURL)

	cfg.TLS = true
	s, err = New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, "https://hpc.example:6820/slurm/v0.0.36", s.client.baseURL)
}

func testSpec() *schedulers.Spec {
	return &schedulers.Spec{
		JobID:     "6a5bb2cc-9dcc-44bb-8a9a-a2d92b5ddab5",
		User:      "alice",
		App:       "caesar",
		ArgString: "--run --no-mpi --inputfile=/srv/uploads/alice/field.fits",
		JobDir:    "/srv/jobs/alice/job_6a5bb2cc",
		InputPath: "/srv/uploads/alice/field.fits",
		Hints:     schedulers.RuntimeHints{NProc: 1, NThreads: 2},
	}
}

func TestSubmitBuildsScriptAndBody(t *testing.T) {
	var got submitRequest
	var headers http.Header

	s := testScheduler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/slurm/v0.0.36/job/submit", r.URL.Path)
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(submitResponse{JobID: 777})
	}))

	sub, err := s.Submit(context.Background(), testSpec())
	require.NoError(t, err)
	assert.Equal(t, "777", sub.Pid)
	assert.Equal(t, models.JobStatePending, sub.State)

	assert.Equal(t, "caelum", headers.Get("X-SLURM-USER-NAME"))
	assert.NotEmpty(t, headers.Get("X-SLURM-USER-TOKEN"))

	assert.Equal(t, "6a5bb2cc-9dcc-44bb-8a9a-a2d92b5ddab5", got.Job.Name)
	assert.Equal(t, "normal", got.Job.Partition)
	assert.Equal(t, "/opt/caelum/batchlogs", got.Job.CurrentWorkingDirectory)
	assert.Equal(t, map[string]string{"PATH": "/bin:/usr/bin/:/usr/local/bin/"}, got.Job.Environment)
	assert.Equal(t, 2, got.Job.CPUsPerTask)
	assert.Equal(t, 1, got.Job.Tasks)

	assert.Contains(t, got.Script, "#!/bin/bash\n")
	assert.Contains(t, got.Script, "singularity run --containall --scratch /mnt/shared/jobs/alice/job_6a5bb2cc")
	assert.Contains(t, got.Script, "-B /mnt/shared/uploads/alice/field.fits")
	assert.Contains(t, got.Script, "--env CHANGE_RUNUSER=0")
	assert.Contains(t, got.Script, "--env JOB_DIR=/mnt/shared/jobs/alice/job_6a5bb2cc")
	assert.Contains(t, got.Script, "/opt/images/caesar.sif")
	assert.NotContains(t, got.Script, "mpirun")
}

func TestSubmitWrapsMPIRuns(t *testing.T) {
	var got submitRequest
	s := testScheduler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(submitResponse{JobID: 778})
	}))

	spec := testSpec()
	spec.Hints = schedulers.RuntimeHints{NProc: 2, NThreads: 2}
	_, err := s.Submit(context.Background(), spec)
	require.NoError(t, err)

	assert.Contains(t, got.Script, "mpirun -np 4 singularity run")
	assert.Equal(t, 2, got.Job.Tasks)
	assert.Equal(t, 2, got.Job.CPUsPerTask)
}

func TestSubmitClampsOversizedRequests(t *testing.T) {
	var got submitRequest
	s := testScheduler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(submitResponse{JobID: 779})
	}))

	spec := testSpec()
	spec.Hints = schedulers.RuntimeHints{NProc: 16, NThreads: 0}
	_, err := s.Submit(context.Background(), spec)
	require.NoError(t, err)

	// Above max_cores scales down to one; non-positive becomes one.
	assert.Equal(t, 1, got.Job.Tasks)
	assert.Equal(t, 1, got.Job.CPUsPerTask)
}

func TestSubmitRejectsPathOutsideSharedPrefix(t *testing.T) {
	s := testScheduler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	spec := testSpec()
	spec.JobDir = "/tmp/elsewhere/job_x"
	_, err := s.Submit(context.Background(), spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the shared prefix")
}

func TestStatusMapsNativeStates(t *testing.T) {
	cases := map[string]models.JobState{
		"PENDING":       models.JobStatePending,
		"SUSPENDED":     models.JobStatePending,
		"RUNNING":       models.JobStateRunning,
		"COMPLETED":     models.JobStateSuccess,
		"CANCELLED":     models.JobStateCanceled,
		"FAILED":        models.JobStateFailure,
		"NODE_FAIL":     models.JobStateFailure,
		"OUT_OF_MEMORY": models.JobStateFailure,
		"TIMEOUT":       models.JobStateTimedOut,
		"REQUEUED":      models.JobStateUnknown,
	}

	native := "PENDING"
	s := testScheduler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jobsResponse{Jobs: []jobInfo{
			{JobID: 777, JobState: native, ExitCode: 0, StartTime: 100, EndTime: 160},
		}})
	}))

	for state, want := range cases {
		native = state
		reply, err := s.Status(context.Background(), "777")
		require.NoError(t, err)
		assert.Equal(t, want, reply.State, "native state %s", state)
		assert.Equal(t, 60.0, reply.ElapsedTime)
	}
}

func TestStatusNotFound(t *testing.T) {
	s := testScheduler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jobsResponse{})
	}))

	_, err := s.Status(context.Background(), "999")
	assert.ErrorIs(t, err, schedulers.ErrNotFound)
}

func TestStatusBatchOmitsUnknownPids(t *testing.T) {
	s := testScheduler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/slurm/v0.0.36/jobs", r.URL.Path)
		require.Equal(t, "1,2,3,4,5", r.URL.Query().Get("job_ids"))
		_ = json.NewEncoder(w).Encode(jobsResponse{Jobs: []jobInfo{
			{JobID: 1, JobState: "RUNNING"},
			{JobID: 2, JobState: "COMPLETED", StartTime: 10, EndTime: 40},
			{JobID: 4, JobState: "FAILED", ExitCode: 2},
			{JobID: 5, JobState: "PENDING"},
		}})
	}))

	replies, err := s.StatusBatch(context.Background(), []string{"1", "2", "3", "4", "5"})
	require.NoError(t, err)
	require.Len(t, replies, 4)

	// Pid 3 vanished from the cluster and stays untouched.
	_, ok := replies["3"]
	assert.False(t, ok)

	assert.Equal(t, models.JobStateRunning, replies["1"].State)
	assert.Equal(t, models.JobStateSuccess, replies["2"].State)
	assert.Equal(t, 30.0, replies["2"].ElapsedTime)
	assert.Equal(t, models.JobStateFailure, replies["4"].State)
	assert.Equal(t, 2, replies["4"].ExitCode)
}

func TestCancelRequiresHTTP200(t *testing.T) {
	code := http.StatusOK
	s := testScheduler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/slurm/v0.0.36/job/777", r.URL.Path)
		w.WriteHeader(code)
	}))

	require.NoError(t, s.Cancel(context.Background(), "777"))

	code = http.StatusInternalServerError
	err := s.Cancel(context.Background(), "777")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestTokenLifecycle(t *testing.T) {
	tm, err := newTokenManager(writeKeyFile(t), "caelum", 60*time.Second, 30*time.Second)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	tm.now = func() time.Time { return now }

	first, err := tm.Token()
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// Verify the claims slurmctld expects.
	parsed, err := jwt.Parse(first, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret-signing-key"), nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "caelum", claims["sun"])
	assert.Equal(t, float64(now.Unix()), claims["iat"])
	assert.Equal(t, float64(now.Unix()+60), claims["exp"])

	// 15s in: 45s of validity left, above the 30s headroom, token reused.
	now = now.Add(15 * time.Second)
	second, err := tm.Token()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// 45s in: 15s left, inside the headroom, token re-minted.
	now = now.Add(30 * time.Second)
	third, err := tm.Token()
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}
