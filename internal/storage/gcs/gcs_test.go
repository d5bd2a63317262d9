package gcs

import (
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestIsStatus(t *testing.T) {
	wrapped := fmt.Errorf("delete: %w", &googleapi.Error{Code: http.StatusNotFound})

	if !isStatus(wrapped, http.StatusNotFound) {
		t.Error("expected wrapped 404 to match")
	}
	if isStatus(wrapped, http.StatusPreconditionFailed) {
		t.Error("404 should not match 412")
	}
	if isStatus(fmt.Errorf("plain"), http.StatusNotFound) {
		t.Error("plain error should not match")
	}
}
