package server

import (
	"net/http"

	"github.com/ternarybob/caelum/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (job event stream)
	if s.app.WSHandler != nil {
		mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)
	}

	// API routes - Data files
	mux.HandleFunc("/api/v1/upload", s.app.FileHandler.UploadHandler)
	mux.HandleFunc("/api/v1/fileids", s.app.FileHandler.ListHandler)
	mux.HandleFunc("/api/v1/download/", s.app.FileHandler.DownloadHandler)
	mux.HandleFunc("/api/v1/delete/", s.app.FileHandler.DeleteHandler)

	// API routes - Application catalog
	mux.HandleFunc("/api/v1/apps", s.app.AppHandler.ListHandler)
	mux.HandleFunc("/api/v1/app/", s.handleAppRoutes) // GET /{name}/describe

	// API routes - Jobs
	mux.HandleFunc("/api/v1/job", s.app.JobHandler.SubmitHandler)
	mux.HandleFunc("/api/v1/jobs", s.app.JobHandler.ListHandler)
	mux.HandleFunc("/api/v1/job/", s.handleJobRoutes) // /{id}/<operation>

	// API routes - Accounting
	mux.HandleFunc("/api/v1/accounting", s.app.AccountingHandler.UserHandler)
	mux.HandleFunc("/api/v1/appstats", s.app.AccountingHandler.AppStatsHandler)

	// API routes - System
	mux.HandleFunc("/api/v1/status", s.app.StatusHandler.GetStatusHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.notFoundHandler)

	return mux
}

// handleAppRoutes routes /api/v1/app/{name}/describe
func (s *Server) handleAppRoutes(w http.ResponseWriter, r *http.Request) {
	if routeBySuffix(w, r, "/api/v1/app/", []suffixRoute{
		{suffix: "/describe", handler: s.app.AppHandler.DescribeHandler},
	}) {
		return
	}
	s.notFoundHandler(w, r)
}

// handleJobRoutes routes /api/v1/job/{id}/<operation> to the job and output
// handlers.
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	if routeBySuffix(w, r, "/api/v1/job/", []suffixRoute{
		{suffix: "/status", handler: s.app.JobHandler.StatusHandler},
		{suffix: "/cancel", handler: s.app.JobHandler.CancelHandler},
		{suffix: "/output-sources", handler: s.app.OutputHandler.RawSourcesHandler},
		{suffix: "/output-components", handler: s.app.OutputHandler.RawComponentsHandler},
		{suffix: "/output-plot", handler: s.app.OutputHandler.PlotHandler},
		{suffix: "/output", handler: s.app.OutputHandler.ArchiveHandler},
		{suffix: "/sources", handler: s.app.OutputHandler.SourcesHandler},
		{suffix: "/source-components", handler: s.app.OutputHandler.ComponentsHandler},
		{suffix: "/preview", handler: s.app.OutputHandler.PreviewHandler},
	}) {
		return
	}
	s.notFoundHandler(w, r)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, http.StatusNotFound, "Not found")
}
