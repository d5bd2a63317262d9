package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-extractor/internal/api/middleware"
	"github.com/dvloznov/statement-extractor/internal/cleanup"
)

// Cleaner is the cleanup surface exposed to operators. *cleanup.Scheduler
// satisfies it.
type Cleaner interface {
	Sweep(ctx context.Context) (*cleanup.Stats, error)
	CleanJob(ctx context.Context, jobID string) (bool, error)
	CleanAllFailed(ctx context.Context) (*cleanup.Stats, error)
	CleanExpiredCompleted(ctx context.Context) (*cleanup.Stats, error)
	Status(ctx context.Context) (*cleanup.Status, error)
}

// AdminHandler handles operator endpoints.
type AdminHandler struct {
	cleaner Cleaner
	log     zerolog.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(cleaner Cleaner, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{cleaner: cleaner, log: log}
}

// CleanupStatus handles GET /api/admin/cleanup/status
func (h *AdminHandler) CleanupStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.cleaner.Status(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to read cleanup status")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, st)
}

// RunCleanup handles POST /api/admin/cleanup/run
func (h *AdminHandler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	h.writeStats(w, r, h.cleaner.Sweep)
}

// DeleteFailed handles DELETE /api/admin/jobs/failed
func (h *AdminHandler) DeleteFailed(w http.ResponseWriter, r *http.Request) {
	h.writeStats(w, r, h.cleaner.CleanAllFailed)
}

// DeleteExpired handles DELETE /api/admin/jobs/expired
func (h *AdminHandler) DeleteExpired(w http.ResponseWriter, r *http.Request) {
	h.writeStats(w, r, h.cleaner.CleanExpiredCompleted)
}

// DeleteJob handles DELETE /api/admin/jobs/{id}
func (h *AdminHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	existed, err := h.cleaner.CleanJob(r.Context(), jobID)
	if err != nil {
		h.fail(w, r, err, "Failed to delete job")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"jobId":   jobID,
		"deleted": existed,
	})
}

func (h *AdminHandler) writeStats(w http.ResponseWriter, r *http.Request, run func(context.Context) (*cleanup.Stats, error)) {
	stats, err := run(r.Context())
	if err != nil {
		h.fail(w, r, err, "Cleanup failed")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"processed":    stats.Processed,
		"deleted":      stats.Deleted,
		"filesDeleted": stats.FilesDeleted,
		"errors":       stats.Errors,
		"durationMs":   stats.Duration.Milliseconds(),
	})
}

func (h *AdminHandler) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	logFailure(h.log, r, err, msg)
	middleware.WriteAppError(w, err)
}
