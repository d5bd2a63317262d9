// Package handlers exposes the job pipeline and the cleanup scheduler over
// HTTP.
package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/statement-extractor/internal/api/middleware"
)

// Register mounts every endpoint on mux.
func Register(mux *http.ServeMux, jobsH *JobsHandler, adminH *AdminHandler) {
	mux.HandleFunc("POST /api/jobs", jobsH.CreateJob)
	mux.HandleFunc("POST /api/jobs/upload", jobsH.Upload)
	mux.HandleFunc("GET /api/jobs", jobsH.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", jobsH.GetJob)
	mux.HandleFunc("POST /api/jobs/{id}/process", jobsH.ProcessJob)
	mux.HandleFunc("GET /api/jobs/{id}/result", jobsH.GetResult)
	mux.HandleFunc("GET /api/jobs/{id}/export", jobsH.ExportResult)

	mux.HandleFunc("GET /api/admin/cleanup/status", adminH.CleanupStatus)
	mux.HandleFunc("POST /api/admin/cleanup/run", adminH.RunCleanup)
	mux.HandleFunc("DELETE /api/admin/jobs/failed", adminH.DeleteFailed)
	mux.HandleFunc("DELETE /api/admin/jobs/expired", adminH.DeleteExpired)
	mux.HandleFunc("DELETE /api/admin/jobs/{id}", adminH.DeleteJob)

	mux.HandleFunc("GET /health", Health)
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
