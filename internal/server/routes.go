package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket job-event stream
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Jobs
	mux.HandleFunc("/api/jobs/start", s.app.JobHandler.StartJobHandler)
	mux.HandleFunc("/api/jobs/stop", s.app.JobHandler.StopJobHandler)
	mux.HandleFunc("/api/jobs/current", s.app.JobHandler.CurrentJobHandler)
	mux.HandleFunc("/api/jobs", s.app.JobHandler.ListJobsHandler)
	mux.HandleFunc("/api/jobs/", s.app.JobHandler.GetJobHandler) // /api/jobs/{id}

	// Records
	mux.HandleFunc("/api/records", s.app.RecordsHandler.ListRecordsHandler)
	mux.HandleFunc("/api/records/", s.app.RecordsHandler.GetRecordHandler) // /api/records/{key}

	// On-demand export of the stored catalog
	mux.HandleFunc("/api/export", s.app.ExportHandler.ExportHandler)

	// Configuration
	mux.HandleFunc("/api/config", s.app.ConfigHandler.GetConfigHandler)
	mux.HandleFunc("/api/config/reload", s.app.ConfigHandler.ReloadConfigHandler)

	// System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 for unmatched API routes; ServeMux prefers the longest pattern,
	// so this only fires for paths no handler claimed
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
