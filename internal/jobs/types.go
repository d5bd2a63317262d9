package jobs

import (
	"context"
	"time"
)

// Status represents the current status of a statement job.
type Status string

const (
	// StatusUploaded is the initial status: the document is stored and waiting.
	StatusUploaded Status = "UPLOADED"
	// StatusProcessing indicates a pipeline currently owns the job.
	StatusProcessing Status = "PROCESSING"
	// StatusProcessed is the successful terminal status.
	StatusProcessed Status = "PROCESSED"
	// StatusFailed is the failed terminal status.
	StatusFailed Status = "FAILED"
)

// transitions is the complete set of allowed edges. Terminal statuses have none.
var transitions = map[Status][]Status{
	StatusUploaded:   {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusProcessed, StatusFailed},
}

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns every status that may transition to to.
func AllowedFrom(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusUploaded, StatusProcessing} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Job is one unit of work per uploaded document.
type Job struct {
	// ID is the unique identifier for this job.
	ID string `json:"id"`

	// FileName is the original name of the uploaded document.
	FileName string `json:"fileName"`

	// StorageKey references the raw document in the storage backend.
	StorageKey string `json:"storageKey"`

	// Status is the current status of the job.
	Status Status `json:"status"`

	// AccountsDetected is set when the job reaches PROCESSED.
	AccountsDetected *int `json:"accountsDetected"`

	// ProcessedData is the validated statement payload, set on PROCESSED.
	// It may carry internal keys and must be sanitized before leaving the service.
	ProcessedData map[string]any `json:"processedData,omitempty"`

	// ErrorMessage is set when the job reaches FAILED.
	ErrorMessage *string `json:"errorMessage"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is when the job last changed.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of j. Mutating the copy never affects j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.AccountsDetected != nil {
		n := *j.AccountsDetected
		c.AccountsDetected = &n
	}
	if j.ErrorMessage != nil {
		msg := *j.ErrorMessage
		c.ErrorMessage = &msg
	}
	if j.ProcessedData != nil {
		c.ProcessedData = CloneData(j.ProcessedData)
	}
	return &c
}

// CloneData deep copies a decoded JSON object.
func CloneData(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneData(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneData(item)
		}
		return out
	default:
		return val
	}
}

// Update carries the optional fields applied together with a status change.
type Update struct {
	AccountsDetected *int
	ProcessedData    map[string]any
	ErrorMessage     *string
}

// Check enforces the data-model invariant: result fields only with
// PROCESSED, an error message only with FAILED.
func (u *Update) Check(status Status) error {
	if u == nil {
		return nil
	}
	if (u.AccountsDetected != nil || u.ProcessedData != nil) && status != StatusProcessed {
		return errResultFields(status)
	}
	if u.ErrorMessage != nil && status != StatusFailed {
		return errErrorMessage(status)
	}
	return nil
}

// Store defines the interface for storing jobs and guarding their transitions.
// Implementations must serialize UpdateStatus per job id and must never hand
// out references to their internal state.
type Store interface {
	// CreateJob registers a new job in UPLOADED status.
	CreateJob(ctx context.Context, fileName, storageKey string) (*Job, error)

	// GetJob retrieves a copy of a job by ID.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// ListJobs retrieves copies of jobs with optional filtering.
	ListJobs(ctx context.Context, filter Filter) ([]*Job, error)

	// UpdateStatus moves a job along an allowed edge and applies update.
	UpdateStatus(ctx context.Context, jobID string, status Status, update *Update) (*Job, error)

	// DeleteJob removes a job. It reports whether a job was removed.
	DeleteJob(ctx context.Context, jobID string) (bool, error)
}

// Filter defines filtering criteria for listing jobs. The zero value lists
// every job.
type Filter struct {
	// Status filters jobs by status.
	Status Status

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// ProcessTask asks a worker to run the pipeline for one job.
type ProcessTask struct {
	JobID      string    `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Publisher defines the interface for publishing process tasks to a queue.
// This abstraction allows for different queue implementations (in-memory, Redis).
type Publisher interface {
	// PublishProcess publishes a pipeline run for a job.
	PublishProcess(ctx context.Context, task *ProcessTask) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming process tasks from a queue.
type Consumer interface {
	// Start begins consuming tasks from the queue.
	// The handler function is called for each task received.
	Start(ctx context.Context, handler TaskHandler) error

	// Stop stops consuming tasks and waits for in-flight tasks to complete.
	Stop(ctx context.Context) error
}

// TaskHandler processes one task. Pipeline failures are terminal for a job,
// so queues never retry a task whose handler returned an error.
type TaskHandler func(ctx context.Context, task *ProcessTask) error
