// -----------------------------------------------------------------------
// Packager - Archives terminal job directories and resolves artifacts
// -----------------------------------------------------------------------

package packager

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/interfaces"
	"github.com/ternarybob/caelum/internal/models"
)

// ArtifactKind names one of the well-known output files the applications
// produce inside the job directory.
type ArtifactKind string

const (
	ArtifactSources        ArtifactKind = "sources"
	ArtifactSourcesJSON    ArtifactKind = "sources_json"
	ArtifactComponents     ArtifactKind = "components"
	ArtifactComponentsJSON ArtifactKind = "components_json"
	ArtifactPreview        ArtifactKind = "preview"
)

var artifactGlobs = map[ArtifactKind]string{
	ArtifactSources:        "catalog-*.dat",
	ArtifactSourcesJSON:    "catalog-*.json",
	ArtifactComponents:     "catalog_fitcomp-*.dat",
	ArtifactComponentsJSON: "catalog_fitcomp-*.json",
	ArtifactPreview:        "plot_*.png",
}

// Renderer produces the run report shipped inside the archive. Nil when
// reports are disabled.
type Renderer interface {
	Render(job *models.Job, path string) error
}

// ReportNamer names the report file; satisfied by the reports package.
type ReportNamer func(job *models.Job) string

// Service archives terminal job directories. Packaging is idempotent: an
// existing archive is never rebuilt, so repeated reconciler transitions on
// the same terminal job are harmless.
type Service struct {
	jobs       interfaces.JobStorage
	events     interfaces.EventService
	renderer   Renderer
	reportName ReportNamer
	logger     arbor.ILogger
}

// NewService creates the packager. renderer may be nil.
func NewService(jobs interfaces.JobStorage, events interfaces.EventService, renderer Renderer, reportName ReportNamer, logger arbor.ILogger) *Service {
	return &Service{
		jobs:       jobs,
		events:     events,
		renderer:   renderer,
		reportName: reportName,
		logger:     logger,
	}
}

// Package renders the report (when enabled), archives the job directory and
// records the packaging fields on the job record.
func (s *Service) Package(ctx context.Context, job *models.Job) error {
	jobDir := job.JobTopDir
	if jobDir == "" {
		return fmt.Errorf("job %s has no job directory", job.JobID)
	}
	if info, err := os.Stat(jobDir); err != nil || !info.IsDir() {
		return fmt.Errorf("job directory %s does not exist", jobDir)
	}

	reportPath := ""
	if s.renderer != nil && s.reportName != nil {
		reportPath = filepath.Join(jobDir, s.reportName(job))
		if _, err := os.Stat(reportPath); os.IsNotExist(err) {
			if err := s.renderer.Render(job, reportPath); err != nil {
				// The archive still ships without the report.
				s.logger.Warn().Err(err).
					Str("job_id", job.JobID).
					Msg("Report rendering failed")
				reportPath = ""
			}
		}
	}

	archivePath := filepath.Join(jobDir, job.ArchiveName())
	if _, err := os.Stat(archivePath); os.IsNotExist(err) {
		if err := createArchive(jobDir, archivePath); err != nil {
			return fmt.Errorf("failed to archive job directory: %w", err)
		}
		s.logger.Info().
			Str("job_id", job.JobID).
			Str("archive", archivePath).
			Msg("Job output packaged")
	}

	fields := map[string]interface{}{
		"archive_path": archivePath,
		"packaged_at":  time.Now().UTC(),
	}
	if reportPath != "" {
		fields["report_path"] = reportPath
	}
	if err := s.jobs.Update(ctx, job.User, job.JobID, fields); err != nil {
		return fmt.Errorf("failed to record packaging: %w", err)
	}

	if s.events != nil {
		_ = s.events.Publish(ctx, interfaces.Event{
			Type: interfaces.EventJobPackaged,
			Payload: interfaces.JobEventPayload{
				User:   job.User,
				JobID:  job.JobID,
				App:    job.App,
				State:  string(job.State),
				Status: job.Status,
			},
		})
	}

	return nil
}

// FindArtifact resolves one well-known output file under the job directory.
// Multiple matches pick the lexicographically first; none is ErrNotFound.
func FindArtifact(jobDir string, kind ArtifactKind) (string, error) {
	glob, ok := artifactGlobs[kind]
	if !ok {
		return "", fmt.Errorf("unknown artifact kind: %s", kind)
	}

	matches, err := filepath.Glob(filepath.Join(jobDir, glob))
	if err != nil {
		return "", fmt.Errorf("artifact glob failed: %w", err)
	}
	if len(matches) == 0 {
		return "", interfaces.ErrNotFound
	}
	sort.Strings(matches)
	return matches[0], nil
}

// createArchive tar-gzips dir into archivePath with entries rooted at the
// directory basename. The bytes go to a scratch file first and the final name
// appears only on rename, so a crash mid-write cannot leave a partial archive
// that the idempotence check would treat as complete.
func createArchive(dir, archivePath string) error {
	tmpPath := archivePath + ".partial"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	err = writeArchive(out, dir, archivePath, tmpPath)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, archivePath)
}

func writeArchive(out io.Writer, dir, archivePath, tmpPath string) error {
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	base := filepath.Base(dir)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == archivePath || path == tmpPath {
			return nil
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		if rel == "." {
			header.Name = base + "/"
		} else {
			header.Name = filepath.ToSlash(filepath.Join(base, rel))
			if info.IsDir() {
				header.Name += "/"
			}
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		tw.Close()
		gz.Close()
		return err
	}

	if err := tw.Close(); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}
