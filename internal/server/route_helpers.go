package server

import (
	"net/http"
	"strings"
)

// suffixRoute binds one trailing operation segment under a resource prefix,
// e.g. "/cancel" under "/api/v1/job/".
type suffixRoute struct {
	suffix  string
	handler http.HandlerFunc
}

// routeBySuffix dispatches /api/v1/<resource>/{id}<suffix> requests. The
// first table entry whose suffix terminates the path wins, so operations
// that end in another operation's name must be listed first. Returns false
// when the path carries no id or no entry matches; the caller owns the 404.
func routeBySuffix(w http.ResponseWriter, r *http.Request, prefix string, routes []suffixRoute) bool {
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	if rest == r.URL.Path || rest == "" {
		return false
	}

	for _, route := range routes {
		if strings.HasSuffix(rest, route.suffix) {
			route.handler(w, r)
			return true
		}
	}
	return false
}
