package jobs

import (
	"github.com/dvloznov/statement-extractor/internal/apperr"
)

// NotFound returns the error every Store reports for an unknown id.
func NotFound(jobID string) error {
	return apperr.New(apperr.KindJobNotFound, "job not found: %s", jobID).
		WithDetail("jobId", jobID)
}

// InvalidTransition returns the error reported when from -> to is not an edge.
func InvalidTransition(jobID string, from, to Status) error {
	return apperr.New(apperr.KindInvalidTransition, "invalid transition for job %s: %s -> %s", jobID, from, to).
		WithDetail("jobId", jobID).
		WithDetail("currentStatus", string(from)).
		WithDetail("attemptedStatus", string(to))
}

// InvalidStatus returns the error reported when a job that is not UPLOADED is
// asked to process.
func InvalidStatus(jobID string, current Status) error {
	return apperr.New(apperr.KindInvalidJobStatus, "job %s is %s, expected %s", jobID, current, StatusUploaded).
		WithDetail("jobId", jobID).
		WithDetail("currentStatus", string(current))
}

// ValidateCreate checks the arguments of Store.CreateJob.
func ValidateCreate(fileName, storageKey string) error {
	if fileName == "" {
		return apperr.New(apperr.KindInvalidInput, "file name is required")
	}
	if storageKey == "" {
		return apperr.New(apperr.KindInvalidInput, "storage key is required")
	}
	return nil
}

// ValidateUpdate checks the arguments of Store.UpdateStatus that do not depend
// on the stored job.
func ValidateUpdate(jobID string, status Status, update *Update) error {
	if jobID == "" {
		return apperr.New(apperr.KindInvalidInput, "job ID is required")
	}
	if !status.Valid() {
		return apperr.New(apperr.KindInvalidInput, "unknown status %q", status)
	}
	return update.Check(status)
}

func errResultFields(status Status) error {
	return apperr.New(apperr.KindInvalidInput, "accountsDetected and processedData may only be set with %s, not %s", StatusProcessed, status)
}

func errErrorMessage(status Status) error {
	return apperr.New(apperr.KindInvalidInput, "errorMessage may only be set with %s, not %s", StatusFailed, status)
}
