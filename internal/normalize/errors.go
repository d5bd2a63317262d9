package normalize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Reason classifies a normalization failure.
type Reason string

const (
	ReasonTimeout         Reason = "Timeout"
	ReasonMalformedOutput Reason = "MalformedOutput"
	ReasonSchemaInvalid   Reason = "SchemaInvalid"
	ReasonAuthFailed      Reason = "AuthFailed"
	ReasonQuotaExceeded   Reason = "QuotaExceeded"
	ReasonRejected        Reason = "Rejected"
	ReasonTransient       Reason = "Transient"
	ReasonCanceled        Reason = "Canceled"
)

// Retryable reports whether another attempt may succeed.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonTimeout, ReasonMalformedOutput, ReasonSchemaInvalid, ReasonTransient:
		return true
	}
	return false
}

// Error is returned by Normalizer.Normalize once it gives up.
type Error struct {
	Reason   Reason
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalization failed (%s after %d attempt(s)): %v", e.Reason, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// BackendError is a failed call to the text generation backend, carrying the
// HTTP status the backend reported.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// classify maps a generator error to a Reason.
func classify(err error) Reason {
	var be *BackendError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.As(err, &be):
		switch {
		case be.StatusCode == http.StatusUnauthorized || be.StatusCode == http.StatusForbidden:
			return ReasonAuthFailed
		case be.StatusCode == http.StatusTooManyRequests:
			return ReasonQuotaExceeded
		case be.StatusCode == http.StatusRequestTimeout || be.StatusCode >= 500:
			return ReasonTransient
		default:
			return ReasonRejected
		}
	default:
		// Network errors and the like.
		return ReasonTransient
	}
}
