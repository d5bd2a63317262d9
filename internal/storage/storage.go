// Package storage defines the raw document store used by the pipeline and the
// cleanup scheduler, plus an in-memory backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// Storage stores raw documents under opaque keys.
type Storage interface {
	// Put stores data and returns the generated key.
	Put(ctx context.Context, data []byte, contentType, originalName string) (string, error)

	// Get returns the stored bytes or an error wrapping ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// NewKey builds a unique object key that keeps the original extension, e.g.
// "uploads/2024/03/05/<uuid>.pdf".
func NewKey(now time.Time, originalName string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(originalName, "\\", "/"))))
	if len(ext) > 10 || strings.ContainsAny(ext, " ?#%") {
		ext = ""
	}
	return fmt.Sprintf("uploads/%s/%s%s", now.UTC().Format("2006/01/02"), uuid.New().String(), ext)
}
