// -----------------------------------------------------------------------
// AccountingHandler - Usage reporting endpoints
// -----------------------------------------------------------------------

package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/interfaces"
	"github.com/ternarybob/caelum/internal/models"
)

// AccountingHandler serves the per-user accounting snapshot and the global
// application statistics.
type AccountingHandler struct {
	accounting interfaces.AccountingStorage
	auth       interfaces.AuthService
	logger     arbor.ILogger
}

// NewAccountingHandler creates the accounting endpoints handler.
func NewAccountingHandler(accounting interfaces.AccountingStorage,
	auth interfaces.AuthService, logger arbor.ILogger) *AccountingHandler {
	return &AccountingHandler{accounting: accounting, auth: auth, logger: logger}
}

// UserHandler handles GET /api/v1/accounting. A user the aggregator has not
// visited yet answers an empty snapshot.
func (h *AccountingHandler) UserHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	user, ok := ResolveUser(w, r, h.auth)
	if !ok {
		return
	}

	acc, err := h.accounting.GetUserAccounting(r.Context(), user)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			acc = &models.UserAccounting{User: user}
		} else {
			WriteError(w, http.StatusInternalServerError, "Failed to load accounting")
			return
		}
	}
	WriteJSON(w, http.StatusOK, acc)
}

// AppStatsHandler handles GET /api/v1/appstats.
func (h *AccountingHandler) AppStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := ResolveUser(w, r, h.auth); !ok {
		return
	}

	stats, err := h.accounting.GetAppStats(r.Context())
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			stats = &models.AppStats{}
		} else {
			WriteError(w, http.StatusInternalServerError, "Failed to load app stats")
			return
		}
	}
	WriteJSON(w, http.StatusOK, stats)
}
