// -----------------------------------------------------------------------
// JobHandler - Job submission and lifecycle endpoints
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/interfaces"
	"github.com/ternarybob/caelum/internal/models"
	"github.com/ternarybob/caelum/internal/services/jobs"
)

// JobHandler serves submission, listing, status and cancel.
type JobHandler struct {
	jobs   *jobs.Service
	auth   interfaces.AuthService
	logger arbor.ILogger
}

// NewJobHandler creates the job endpoints handler.
func NewJobHandler(jobService *jobs.Service, auth interfaces.AuthService, logger arbor.ILogger) *JobHandler {
	return &JobHandler{jobs: jobService, auth: auth, logger: logger}
}

// SubmitHandler handles POST /api/v1/job. A dispatched job answers 202 with
// the persisted record; validation and resolution failures answer 400 and
// persist nothing.
func (h *JobHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	user, ok := ResolveUser(w, r, h.auth)
	if !ok {
		return
	}

	var req jobs.SubmitRequest
	// UseNumber keeps the literal form of numeric inputs, so a submitted 5.0
	// reaches the validator as "5.0" and not as a float.
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	result, err := h.jobs.Submit(r.Context(), user, &req)
	if err != nil {
		if errors.Is(err, jobs.ErrDispatch) {
			WriteError(w, http.StatusInternalServerError, err.Error())
		} else {
			WriteError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	reply := map[string]interface{}{
		"status": result.Job.Status,
		"job":    result.Job,
	}
	if result.Warning != "" {
		reply["warning"] = result.Warning
	}
	WriteJSON(w, http.StatusAccepted, reply)
}

// ListHandler handles GET /api/v1/jobs.
func (h *JobHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	user, ok := ResolveUser(w, r, h.auth)
	if !ok {
		return
	}

	records, err := h.jobs.List(r.Context(), user)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if records == nil {
		records = []*models.Job{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "",
		"jobs":   records,
	})
}

// StatusHandler handles GET /api/v1/job/{id}/status: the stored record, no
// live backend query.
func (h *JobHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	user, ok := ResolveUser(w, r, h.auth)
	if !ok {
		return
	}
	jobID := PathParam(r, "/api/v1/job/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Missing job id")
		return
	}

	job, err := h.jobs.Get(r.Context(), user, jobID)
	if err != nil {
		h.writeJobError(w, user, jobID, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// CancelHandler handles GET /api/v1/job/{id}/cancel.
func (h *JobHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	user, ok := ResolveUser(w, r, h.auth)
	if !ok {
		return
	}
	jobID := PathParam(r, "/api/v1/job/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Missing job id")
		return
	}

	if err := h.jobs.Cancel(r.Context(), user, jobID); err != nil {
		h.writeJobError(w, user, jobID, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "Job canceled by the user",
	})
}

func (h *JobHandler) writeJobError(w http.ResponseWriter, user, jobID string, err error) {
	if errors.Is(err, interfaces.ErrNotFound) {
		WriteError(w, http.StatusNotFound,
			fmt.Sprintf("Job %s not found for user %s", jobID, user))
		return
	}
	WriteError(w, http.StatusInternalServerError, err.Error())
}
