// Package apperr holds the error taxonomy shared by the job store, the pipeline
// and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and for transport mapping.
type Kind string

const (
	KindInvalidInput         Kind = "InvalidInput"
	KindJobNotFound          Kind = "JobNotFound"
	KindInvalidJobStatus     Kind = "InvalidJobStatus"
	KindInvalidTransition    Kind = "InvalidTransition"
	KindRetrievalFailed      Kind = "RetrievalFailed"
	KindAnalysisFailed       Kind = "AnalysisFailed"
	KindNormalizationFailed  Kind = "NormalizationFailed"
	KindValidationFailed     Kind = "ValidationFailed"
	KindJobNotProcessed      Kind = "JobNotProcessed"
	KindMissingProcessedData Kind = "MissingProcessedData"
	KindInternal             Kind = "Internal"
)

// Error is an application error carrying a Kind, a human readable message and
// the underlying cause. Details holds structured context for API responses.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Details map[string]any
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same Kind when the target carries no message,
// so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrJobNotFound          = &Error{Kind: KindJobNotFound}
	ErrInvalidJobStatus     = &Error{Kind: KindInvalidJobStatus}
	ErrInvalidTransition    = &Error{Kind: KindInvalidTransition}
	ErrRetrievalFailed      = &Error{Kind: KindRetrievalFailed}
	ErrAnalysisFailed       = &Error{Kind: KindAnalysisFailed}
	ErrNormalizationFailed  = &Error{Kind: KindNormalizationFailed}
	ErrValidationFailed     = &Error{Kind: KindValidationFailed}
	ErrJobNotProcessed      = &Error{Kind: KindJobNotProcessed}
	ErrMissingProcessedData = &Error{Kind: KindMissingProcessedData}
)

// New creates an Error without a cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that wraps cause. A nil cause yields a plain Error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithDetail returns e after setting a detail key.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// DetailsOf returns the details of the first *Error in err's chain.
func DetailsOf(err error) map[string]any {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Details
	}
	return nil
}
