// Package validation is the trust boundary between model output and the rest of
// the service. Every function is pure: expected bad input produces a
// *FieldError or an Errors value, never a panic.
package validation

import (
	"errors"
	"strings"
)

// Reason is the machine readable cause of a field failure.
type Reason string

const (
	ReasonInvalidDate         Reason = "InvalidDate"
	ReasonInvalidAmount       Reason = "InvalidAmount"
	ReasonInvalidType         Reason = "InvalidType"
	ReasonDebitCreditConflict Reason = "DebitCreditConflict"
	ReasonMissingField        Reason = "MissingField"
	ReasonInvalidAccountType  Reason = "InvalidAccountType"
)

// FieldError describes one problem with one field. Path locates the field
// inside the payload, e.g. "accounts[0].transactions[3].debit".
type FieldError struct {
	Path    string `json:"path,omitempty"`
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// Errors aggregates every FieldError found in one pass.
type Errors []*FieldError

func (es Errors) Error() string {
	parts := make([]string, 0, len(es))
	for _, e := range es {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// Has reports whether any contained error has the given reason.
func (es Errors) Has(reason Reason) bool {
	for _, e := range es {
		if e.Reason == reason {
			return true
		}
	}
	return false
}

// AsErrors flattens err into an Errors value. A *FieldError becomes a
// single-element slice; anything else yields nil.
func AsErrors(err error) Errors {
	var es Errors
	if errors.As(err, &es) {
		return es
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		return Errors{fe}
	}
	return nil
}

func fieldErr(path string, reason Reason, msg string) *FieldError {
	return &FieldError{Path: path, Reason: reason, Message: msg}
}

// under re-roots every error in err below prefix.
func under(prefix string, err error) Errors {
	src := AsErrors(err)
	out := make(Errors, 0, len(src))
	for _, e := range src {
		out = append(out, &FieldError{Path: joinPath(prefix, e.Path), Reason: e.Reason, Message: e.Message})
	}
	return out
}

func joinPath(prefix, path string) string {
	switch {
	case prefix == "":
		return path
	case path == "":
		return prefix
	case strings.HasPrefix(path, "["):
		return prefix + path
	default:
		return prefix + "." + path
	}
}
