package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/app"
)

func testServer() *Server {
	return &Server{app: &app.App{Logger: arbor.NewLogger()}}
}

func TestRouteBySuffix(t *testing.T) {
	var hit string
	mark := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) { hit = name }
	}
	routes := []suffixRoute{
		{suffix: "/output-sources", handler: mark("raw")},
		{suffix: "/output", handler: mark("archive")},
		{suffix: "/sources", handler: mark("sources")},
	}

	dispatch := func(path string) bool {
		hit = ""
		req := httptest.NewRequest(http.MethodGet, path, nil)
		return routeBySuffix(httptest.NewRecorder(), req, "/api/v1/job/", routes)
	}

	require.True(t, dispatch("/api/v1/job/j-1/output"))
	assert.Equal(t, "archive", hit)

	// First matching entry wins, so the longer operation name dispatches
	// ahead of its trailing substring.
	require.True(t, dispatch("/api/v1/job/j-1/output-sources"))
	assert.Equal(t, "raw", hit)

	require.True(t, dispatch("/api/v1/job/j-1/sources"))
	assert.Equal(t, "sources", hit)

	// No id segment and unknown operations fall through to the caller.
	assert.False(t, dispatch("/api/v1/job/"))
	assert.False(t, dispatch("/api/v1/job/j-1/unknown"))
	assert.False(t, dispatch("/api/v2/job/j-1/output"))
}

func TestRecoveryMiddlewareWritesStatusEnvelope(t *testing.T) {
	s := testServer()
	wrapped := s.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var reply map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "Internal server error", reply["status"])
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	s := testServer()
	called := false
	wrapped := s.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/job", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, called)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestWebSocketRouteBypassesChain(t *testing.T) {
	s := testServer()
	var sawWrapper bool
	wrapped := s.withConditionalMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawWrapper = w.(*responseWriter)
	}))

	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.False(t, sawWrapper, "the websocket route must see the raw response writer")

	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	assert.True(t, sawWrapper, "API routes go through the logging wrapper")
}
