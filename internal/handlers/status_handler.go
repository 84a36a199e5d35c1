// -----------------------------------------------------------------------
// StatusHandler - Service status endpoint
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/common"
	"github.com/ternarybob/caelum/internal/interfaces"
)

// StatusHandler reports service version, uptime, the configured scheduler
// backend and the state of the background loops.
type StatusHandler struct {
	cfg       *common.Config
	scheduler interfaces.SchedulerService
	startedAt time.Time
	logger    arbor.ILogger
}

// NewStatusHandler creates the status endpoint handler.
func NewStatusHandler(cfg *common.Config, scheduler interfaces.SchedulerService, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		cfg:       cfg,
		scheduler: scheduler,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// GetStatusHandler handles GET /api/v1/status.
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	reply := map[string]interface{}{
		"status":         "ok",
		"version":        common.GetVersion(),
		"build":          common.GetFullVersion(),
		"environment":    h.cfg.Environment,
		"scheduler":      h.cfg.Jobs.Scheduler,
		"auth_enabled":   h.cfg.Auth.Enabled,
		"uptime_seconds": time.Since(h.startedAt).Seconds(),
	}
	if h.scheduler != nil {
		reply["loops"] = h.scheduler.Statuses()
	}
	WriteJSON(w, http.StatusOK, reply)
}
