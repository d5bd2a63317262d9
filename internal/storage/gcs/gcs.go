// Package gcs stores raw documents in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dvloznov/statement-extractor/internal/storage"
)

// Storage implements storage.Storage on one bucket.
type Storage struct {
	client *gcstorage.Client
	bucket string
	prefix string
	now    func() time.Time
}

// Config configures the GCS backend.
type Config struct {
	Bucket string
	// Prefix is prepended to every generated key.
	Prefix string
	// CredentialsFile is optional; Application Default Credentials are used
	// when it is empty.
	CredentialsFile string
}

// New creates a GCS-backed Storage.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Storage{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, now: time.Now}, nil
}

// Put implements storage.Storage.
func (s *Storage) Put(ctx context.Context, data []byte, contentType, originalName string) (string, error) {
	key := s.prefix + storage.NewKey(s.now(), originalName)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	// DoesNotExist makes a key collision fail instead of overwriting.
	w := s.client.Bucket(s.bucket).Object(key).If(gcstorage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{"original-name": originalName}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write GCS object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		if isStatus(err, http.StatusPreconditionFailed) {
			return "", fmt.Errorf("GCS object %s already exists: %w", key, err)
		}
		return "", fmt.Errorf("close GCS writer: %w", err)
	}
	return key, nil
}

// Get implements storage.Storage.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, gcstorage.ErrObjectNotExist) {
		return nil, fmt.Errorf("gs://%s/%s: %w", s.bucket, key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return data, nil
}

// Delete implements storage.Storage.
func (s *Storage) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err == nil || errors.Is(err, gcstorage.ErrObjectNotExist) || isStatus(err, http.StatusNotFound) {
		return nil
	}
	return fmt.Errorf("delete GCS object %s: %w", key, err)
}

// Close releases the client.
func (s *Storage) Close() error {
	return s.client.Close()
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}

var _ storage.Storage = (*Storage)(nil)
