package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dvloznov/statement-extractor/internal/apperr"
	"github.com/rs/zerolog"
)

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   apperr.Kind
		wantMsg    string
	}{
		{
			name:       "not found",
			err:        apperr.New(apperr.KindJobNotFound, "job not found: x").WithDetail("jobId", "x"),
			wantStatus: http.StatusNotFound,
			wantKind:   apperr.KindJobNotFound,
			wantMsg:    "job not found: x",
		},
		{
			name:       "invalid status",
			err:        apperr.New(apperr.KindInvalidJobStatus, "job x is PROCESSED"),
			wantStatus: http.StatusConflict,
			wantKind:   apperr.KindInvalidJobStatus,
		},
		{
			name:       "validation",
			err:        apperr.New(apperr.KindValidationFailed, "Statement failed validation"),
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   apperr.KindValidationFailed,
		},
		{
			name:       "stage failure",
			err:        apperr.New(apperr.KindNormalizationFailed, "model down"),
			wantStatus: http.StatusBadGateway,
			wantKind:   apperr.KindNormalizationFailed,
		},
		{
			name:       "missing processed data",
			err:        apperr.New(apperr.KindMissingProcessedData, "job x has no processed data"),
			wantStatus: http.StatusInternalServerError,
			wantKind:   apperr.KindMissingProcessedData,
			wantMsg:    "job x has no processed data",
		},
		{
			name:       "plain error hides message",
			err:        errors.New("pq: connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantKind:   apperr.KindInternal,
			wantMsg:    "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteAppError(rec, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			var body ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if body.Kind != tt.wantKind {
				t.Errorf("Expected kind %s, got %s", tt.wantKind, body.Kind)
			}
			if tt.wantMsg != "" && body.Error != tt.wantMsg {
				t.Errorf("Expected message %q, got %q", tt.wantMsg, body.Error)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get("X-Request-ID") != seen {
		t.Errorf("Expected generated request id to be echoed, got %q and %q", seen, rec.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc" {
		t.Errorf("Expected incoming request id to be kept, got %q", seen)
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
		wantStatus int
	}{
		{name: "wildcard", allowed: []string{"*"}, origin: "https://a.example", method: http.MethodGet, wantOrigin: "*", wantStatus: http.StatusTeapot},
		{name: "listed origin", allowed: []string{"https://a.example/"}, origin: "https://a.example", method: http.MethodGet, wantOrigin: "https://a.example", wantStatus: http.StatusTeapot},
		{name: "unlisted origin", allowed: []string{"https://a.example"}, origin: "https://b.example", method: http.MethodGet, wantOrigin: "", wantStatus: http.StatusTeapot},
		{name: "preflight", allowed: []string{"*"}, origin: "https://a.example", method: http.MethodOptions, wantOrigin: "*", wantStatus: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			CORS(tt.allowed)(next).ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Expected origin %q, got %q", tt.wantOrigin, got)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}
