package interfaces

import "net/http"

// AuthService resolves the request identity to a tenancy key. Every
// per-user partition (jobs, files, accounting, directories) is named by
// the key it returns.
type AuthService interface {
	// Authenticate returns the caller's tenancy key or an error that maps
	// to 401.
	Authenticate(r *http.Request) (string, error)
}
