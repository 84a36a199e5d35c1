// -----------------------------------------------------------------------
// Reports - PDF run report rendered into the job directory
// -----------------------------------------------------------------------

package reports

import (
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/models"
)

// Service renders the one-page run report shipped inside the job archive.
type Service struct {
	logger arbor.ILogger
}

// NewService creates a new report service
func NewService(logger arbor.ILogger) *Service {
	return &Service{logger: logger}
}

// ReportName returns the report file name for a job.
func ReportName(job *models.Job) string {
	return "job_" + job.JobID + "_report.pdf"
}

// Render writes the run report PDF to path.
func (s *Service) Render(job *models.Job, path string) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Job Run Report", "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 10)
	rows := [][2]string{
		{"Job ID", job.JobID},
		{"Application", job.App},
		{"User", job.User},
		{"Submitted", job.SubmitDate.UTC().Format(time.RFC3339)},
		{"Scheduler", job.Scheduler},
		{"State", string(job.State)},
		{"Status", job.Status},
		{"Exit code", fmt.Sprintf("%d", job.ExitCode)},
		{"Elapsed time", fmt.Sprintf("%.1f s", job.ElapsedTime)},
	}

	for _, row := range rows {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(40, 7, row[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 7, row[1], "", "L", false)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 7, "Arguments", "", 1, "L", false, 0, "")
	pdf.SetFont("Courier", "", 9)
	pdf.MultiCell(0, 5, formatInputs(job), "", "L", false)

	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	s.logger.Debug().
		Str("job_id", job.JobID).
		Str("path", path).
		Msg("Run report rendered")
	return nil
}

func formatInputs(job *models.Job) string {
	if len(job.JobInputs) == 0 {
		return "(none)"
	}
	out := ""
	for name, value := range job.JobInputs {
		out += fmt.Sprintf("%s = %v\n", name, value)
	}
	return out
}
