package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/dvloznov/statement-extractor/internal/apperr"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Kind    apperr.Kind    `json:"kind,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteAppError writes err with the status its kind maps to. Internal errors
// are reported without their message.
func WriteAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)
	if status == http.StatusInternalServerError && kind == apperr.KindInternal {
		WriteJSON(w, status, ErrorResponse{Error: "Internal server error", Kind: kind})
		return
	}
	WriteJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind, Details: apperr.DetailsOf(err)})
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindJobNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidJobStatus, apperr.KindInvalidTransition, apperr.KindJobNotProcessed:
		return http.StatusConflict
	case apperr.KindValidationFailed:
		return http.StatusUnprocessableEntity
	case apperr.KindRetrievalFailed, apperr.KindAnalysisFailed, apperr.KindNormalizationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
