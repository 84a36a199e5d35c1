package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/caelum/internal/interfaces"
)

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON envelope.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": message,
	})
}

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// ResolveUser authenticates the request and returns the tenancy key. A
// rejected identity writes the 401 envelope and returns false.
func ResolveUser(w http.ResponseWriter, r *http.Request, auth interfaces.AuthService) (string, bool) {
	user, err := auth.Authenticate(r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err.Error())
		return "", false
	}
	return user, true
}

// PathParam extracts the path segment following prefix, trimmed of any
// trailing subpath. Empty when the path carries no segment.
func PathParam(r *http.Request, prefix string) string {
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	if rest == r.URL.Path {
		return ""
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}
