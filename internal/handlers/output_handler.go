// -----------------------------------------------------------------------
// OutputHandler - Job artifact retrieval endpoints
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/interfaces"
	"github.com/ternarybob/caelum/internal/models"
	"github.com/ternarybob/caelum/internal/services/jobs"
	"github.com/ternarybob/caelum/internal/services/packager"
)

// OutputHandler serves the packaged archive and the well-known catalog and
// preview artifacts of terminal jobs.
type OutputHandler struct {
	jobs   *jobs.Service
	auth   interfaces.AuthService
	logger arbor.ILogger
}

// NewOutputHandler creates the artifact endpoints handler.
func NewOutputHandler(jobService *jobs.Service, auth interfaces.AuthService, logger arbor.ILogger) *OutputHandler {
	return &OutputHandler{jobs: jobService, auth: auth, logger: logger}
}

// ArchiveHandler handles GET /api/v1/job/{id}/output: streams the tar.gz
// archive of a terminal job, or answers 202 while the job is still running.
func (h *OutputHandler) ArchiveHandler(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	if !job.IsTerminal() {
		WriteJSON(w, http.StatusAccepted, map[string]string{
			"status": fmt.Sprintf("Job %s not completed", job.JobID),
		})
		return
	}

	archivePath := job.ArchivePath
	if archivePath == "" {
		archivePath = filepath.Join(job.JobTopDir, job.ArchiveName())
	}
	if _, err := os.Stat(archivePath); err != nil {
		WriteError(w, http.StatusNotFound,
			fmt.Sprintf("No output archive for job %s", job.JobID))
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", job.ArchiveName()))
	http.ServeFile(w, r, archivePath)
}

// SourcesHandler handles GET /api/v1/job/{id}/sources: the island catalog as
// parsed JSON.
func (h *OutputHandler) SourcesHandler(w http.ResponseWriter, r *http.Request) {
	h.serveCatalogJSON(w, r, packager.ArtifactSourcesJSON)
}

// RawSourcesHandler handles GET /api/v1/job/{id}/output-sources: the island
// catalog file as-is.
func (h *OutputHandler) RawSourcesHandler(w http.ResponseWriter, r *http.Request) {
	h.serveRawArtifact(w, r, packager.ArtifactSources)
}

// ComponentsHandler handles GET /api/v1/job/{id}/source-components.
func (h *OutputHandler) ComponentsHandler(w http.ResponseWriter, r *http.Request) {
	h.serveCatalogJSON(w, r, packager.ArtifactComponentsJSON)
}

// RawComponentsHandler handles GET /api/v1/job/{id}/output-components.
func (h *OutputHandler) RawComponentsHandler(w http.ResponseWriter, r *http.Request) {
	h.serveRawArtifact(w, r, packager.ArtifactComponents)
}

// PreviewHandler handles GET /api/v1/job/{id}/preview: the preview plot as
// base64 inside a JSON envelope.
func (h *OutputHandler) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	path, ok := h.findArtifact(w, job, packager.ArtifactPreview)
	if !ok {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to read preview image")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status":   "",
		"filename": filepath.Base(path),
		"image":    base64.StdEncoding.EncodeToString(data),
	})
}

// PlotHandler handles GET /api/v1/job/{id}/output-plot: streams the preview
// PNG directly.
func (h *OutputHandler) PlotHandler(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	path, ok := h.findArtifact(w, job, packager.ArtifactPreview)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}

func (h *OutputHandler) serveCatalogJSON(w http.ResponseWriter, r *http.Request, kind packager.ArtifactKind) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	path, ok := h.findArtifact(w, job, kind)
	if !ok {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to read catalog file")
		return
	}

	var catalog interface{}
	if err := json.Unmarshal(data, &catalog); err != nil {
		WriteError(w, http.StatusInternalServerError,
			fmt.Sprintf("Catalog file %s is not valid JSON", filepath.Base(path)))
		return
	}
	WriteJSON(w, http.StatusOK, catalog)
}

func (h *OutputHandler) serveRawArtifact(w http.ResponseWriter, r *http.Request, kind packager.ArtifactKind) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	path, ok := h.findArtifact(w, job, kind)
	if !ok {
		return
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

func (h *OutputHandler) findArtifact(w http.ResponseWriter, job *models.Job, kind packager.ArtifactKind) (string, bool) {
	path, err := packager.FindArtifact(job.JobTopDir, kind)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound,
				fmt.Sprintf("No %s artifact for job %s", kind, job.JobID))
		} else {
			WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return "", false
	}
	return path, true
}

func (h *OutputHandler) loadJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	if !RequireMethod(w, r, http.MethodGet) {
		return nil, false
	}
	user, ok := ResolveUser(w, r, h.auth)
	if !ok {
		return nil, false
	}
	jobID := PathParam(r, "/api/v1/job/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Missing job id")
		return nil, false
	}

	job, err := h.jobs.Get(r.Context(), user, jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound,
				fmt.Sprintf("Job %s not found for user %s", jobID, user))
		} else {
			WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return job, true
}
