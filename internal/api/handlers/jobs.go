package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-extractor/internal/api/middleware"
	"github.com/dvloznov/statement-extractor/internal/apperr"
	"github.com/dvloznov/statement-extractor/internal/export"
	"github.com/dvloznov/statement-extractor/internal/jobs"
	"github.com/dvloznov/statement-extractor/internal/logger"
	"github.com/dvloznov/statement-extractor/internal/pipeline"
	"github.com/dvloznov/statement-extractor/internal/statement"
	"github.com/dvloznov/statement-extractor/internal/storage"
)

// Processor runs and reads pipeline results. *pipeline.Orchestrator
// satisfies it.
type Processor interface {
	Process(ctx context.Context, jobID string) (*pipeline.Result, error)
	GetResult(ctx context.Context, jobID string) (*statement.BankStatementData, error)
}

// JobResponse is the public view of a job. Processed data is only served,
// sanitized, by the result endpoint.
type JobResponse struct {
	ID               string      `json:"id"`
	FileName         string      `json:"fileName"`
	StorageKey       string      `json:"storageKey"`
	Status           jobs.Status `json:"status"`
	AccountsDetected *int        `json:"accountsDetected"`
	ErrorMessage     *string     `json:"errorMessage"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

func toResponse(j *jobs.Job) JobResponse {
	return JobResponse{
		ID:               j.ID,
		FileName:         j.FileName,
		StorageKey:       j.StorageKey,
		Status:           j.Status,
		AccountsDetected: j.AccountsDetected,
		ErrorMessage:     j.ErrorMessage,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
	}
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store     jobs.Store
	files     storage.Storage
	processor Processor
	publisher jobs.Publisher
	maxUpload int64
	log       zerolog.Logger
}

// NewJobsHandler creates a new jobs handler. publisher may be nil, in which
// case async processing is rejected.
func NewJobsHandler(store jobs.Store, files storage.Storage, processor Processor, publisher jobs.Publisher, maxUpload int64, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store:     store,
		files:     files,
		processor: processor,
		publisher: publisher,
		maxUpload: maxUpload,
		log:       log,
	}
}

// CreateJob handles POST /api/jobs for a document already in storage.
func (h *JobsHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileName   string `json:"fileName"`
		StorageKey string `json:"storageKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job, err := h.store.CreateJob(r.Context(), strings.TrimSpace(req.FileName), strings.TrimSpace(req.StorageKey))
	if err != nil {
		h.fail(w, r, err, "Failed to create job")
		return
	}
	h.log.Info().Str("job_id", job.ID).Str("storage_key", job.StorageKey).Msg("Job created")
	middleware.WriteJSON(w, http.StatusCreated, toResponse(job))
}

// Upload handles POST /api/jobs/upload with a multipart "file" field. The
// document is stored and a job created for it; ?process=true also queues it.
func (h *JobsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "A multipart \"file\" field is required")
		return
	}
	defer file.Close()

	if header.Size > h.maxUpload {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}
	if len(data) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "File is empty")
		return
	}

	queue, _ := strconv.ParseBool(r.URL.Query().Get("process"))
	if queue && h.publisher == nil {
		middleware.WriteAppError(w, errAsyncDisabled())
		return
	}

	fileName := filepath.Base(header.Filename)
	contentType := header.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err != nil || mt == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	key, err := h.files.Put(ctx, data, contentType, fileName)
	if err != nil {
		h.log.Error().Err(err).Str("file_name", fileName).Msg("Failed to store upload")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	job, err := h.store.CreateJob(ctx, fileName, key)
	if err != nil {
		h.discard(ctx, "", key)
		h.fail(w, r, err, "Failed to create job")
		return
	}
	h.log.Info().
		Str("job_id", job.ID).
		Str("storage_key", key).
		Int("bytes", len(data)).
		Msg("File uploaded")

	if queue {
		// A job nobody will process would stay UPLOADED forever, out of
		// reach of retention cleanup, so the upload is rolled back.
		if err := h.enqueue(ctx, job.ID); err != nil {
			h.discard(ctx, job.ID, key)
			h.fail(w, r, err, "Failed to queue job")
			return
		}
	}
	middleware.WriteJSON(w, http.StatusCreated, toResponse(job))
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.Filter{Status: jobs.Status(strings.ToUpper(query.Get("status")))}
	if filter.Status != "" && !filter.Status.Valid() {
		middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Unknown status %q", query.Get("status")))
		return
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil && offset > 0 {
		filter.Offset = offset
	}

	list, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err, "Failed to list jobs")
		return
	}

	out := make([]JobResponse, 0, len(list))
	for _, j := range list {
		out = append(out, toResponse(j))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":  out,
		"count": len(out),
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err, "Failed to get job")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toResponse(job))
}

// ProcessJob handles POST /api/jobs/{id}/process. With ?async=true the job is
// queued and 202 returned; otherwise the pipeline runs inside the request.
func (h *JobsHandler) ProcessJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := r.PathValue("id")

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		job, err := h.store.GetJob(ctx, jobID)
		if err != nil {
			h.fail(w, r, err, "Failed to get job")
			return
		}
		if job.Status != jobs.StatusUploaded {
			middleware.WriteAppError(w, jobs.InvalidStatus(jobID, job.Status))
			return
		}
		if err := h.enqueue(ctx, jobID); err != nil {
			h.fail(w, r, err, "Failed to queue job")
			return
		}
		middleware.WriteJSON(w, http.StatusAccepted, map[string]any{
			"jobId":  jobID,
			"status": job.Status,
			"queued": true,
		})
		return
	}

	res, err := h.processor.Process(ctx, jobID)
	if err != nil {
		h.fail(w, r, err, "Failed to process job")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// GetResult handles GET /api/jobs/{id}/result
func (h *JobsHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	data, err := h.processor.GetResult(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err, "Failed to get result")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, data)
}

// ExportResult handles GET /api/jobs/{id}/export
func (h *JobsHandler) ExportResult(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	data, err := h.processor.GetResult(r.Context(), jobID)
	if err != nil {
		h.fail(w, r, err, "Failed to get result")
		return
	}

	body, err := export.StatementXLSX(data)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to render workbook")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to export result")
		return
	}

	name := strings.TrimSuffix(data.FileName, filepath.Ext(data.FileName))
	if name == "" {
		name = jobID
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name + ".xlsx"}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func errAsyncDisabled() error {
	return apperr.New(apperr.KindInvalidInput, "asynchronous processing is not enabled")
}

func (h *JobsHandler) enqueue(ctx context.Context, jobID string) error {
	if h.publisher == nil {
		return errAsyncDisabled()
	}
	if err := h.publisher.PublishProcess(ctx, &jobs.ProcessTask{JobID: jobID}); err != nil {
		return fmt.Errorf("publish job %s: %w", jobID, err)
	}
	h.log.Info().Str("job_id", jobID).Msg("Job queued")
	return nil
}

// discard removes an upload whose job could not be created or queued. jobID
// may be empty when only the file exists.
func (h *JobsHandler) discard(ctx context.Context, jobID, key string) {
	ctx = context.WithoutCancel(ctx)
	log := logger.WithFields(h.log, map[string]any{"job_id": jobID, "storage_key": key})
	if jobID != "" {
		if _, err := h.store.DeleteJob(ctx, jobID); err != nil {
			log.Warn().Err(err).Msg("Failed to remove unqueued job")
		}
	}
	if err := h.files.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Msg("Failed to remove orphaned upload")
	}
}

// fail writes err. Errors outside the taxonomy are logged with msg.
func (h *JobsHandler) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	logFailure(h.log, r, err, msg)
	middleware.WriteAppError(w, err)
}

func logFailure(log zerolog.Logger, r *http.Request, err error, msg string) {
	kind := apperr.KindOf(err)
	ev := log.Warn()
	if middleware.StatusFor(kind) >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).
		Str("kind", string(kind)).
		Str("request_id", middleware.GetRequestID(r.Context())).
		Str("path", r.URL.Path).
		Msg(msg)
}
