package reports

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/models"
)

func TestReportName(t *testing.T) {
	job := models.NewJob("anonymous", "caesar", nil, "file-1", "", "local")
	assert.Equal(t, "job_"+job.JobID+"_report.pdf", ReportName(job))
}

func TestRenderWritesPDF(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	job := models.NewJob("anonymous", "caesar",
		map[string]interface{}{"seedthr": "5.0", "mergethr": "2.6"}, "file-1", "", "local")
	job.State = models.JobStateSuccess
	job.Status = "Process completed with success"
	job.ExitCode = 0
	job.ElapsedTime = 12.5

	path := filepath.Join(t.TempDir(), ReportName(job))
	require.NoError(t, svc.Render(job, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 4)
	assert.Equal(t, "%PDF", string(data[:4]))
}

func TestRenderJobWithoutInputs(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	job := models.NewJob("anonymous", "cutex", nil, "file-1", "", "local")
	path := filepath.Join(t.TempDir(), ReportName(job))

	require.NoError(t, svc.Render(job, path))
	_, err := os.Stat(path)
	require.NoError(t, err)
}
