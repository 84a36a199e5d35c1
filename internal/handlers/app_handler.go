// -----------------------------------------------------------------------
// AppHandler - Application catalog endpoints
// -----------------------------------------------------------------------

package handlers

import (
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/apps"
	"github.com/ternarybob/caelum/internal/interfaces"
)

// AppHandler serves the application catalog: the list of deployable apps and
// their option schemas.
type AppHandler struct {
	registry *apps.Registry
	auth     interfaces.AuthService
	logger   arbor.ILogger
}

// NewAppHandler creates the catalog endpoints handler.
func NewAppHandler(registry *apps.Registry, auth interfaces.AuthService, logger arbor.ILogger) *AppHandler {
	return &AppHandler{registry: registry, auth: auth, logger: logger}
}

// ListHandler handles GET /api/v1/apps.
func (h *AppHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := ResolveUser(w, r, h.auth); !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"apps": h.registry.Names(),
	})
}

// DescribeHandler handles GET /api/v1/app/{name}/describe.
func (h *AppHandler) DescribeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := ResolveUser(w, r, h.auth); !ok {
		return
	}

	name := PathParam(r, "/api/v1/app/")
	if name == "" {
		WriteError(w, http.StatusBadRequest, "Missing app name")
		return
	}

	schema, ok := h.registry.Describe(name)
	if !ok {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("App %s not found", name))
		return
	}
	WriteJSON(w, http.StatusOK, schema)
}
