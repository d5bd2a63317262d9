// Package s3 stores raw documents in an S3 compatible bucket (AWS, MinIO).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-extractor/internal/storage"
)

// Config configures the S3 backend.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// Regions are tried in order until one accepts the bucket. An empty list
	// lets the client discover the region itself.
	Regions []string
}

// Storage implements storage.Storage on one bucket.
type Storage struct {
	cfg Config
	log zerolog.Logger
	now func() time.Time

	newClient func(region string) (api, error)

	mu     sync.Mutex
	client api
	region string
}

// api is the subset of *minio.Client used here.
type api interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (*minio.Object, error)
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
}

// New creates an S3 backed Storage. No network call is made until first use.
func New(cfg Config, log zerolog.Logger) (*Storage, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("endpoint and bucket are required")
	}
	s := &Storage{cfg: cfg, log: log, now: time.Now}
	s.newClient = func(region string) (api, error) {
		return minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
			Region: region,
		})
	}
	return s, nil
}

// EnsureBucket makes sure the bucket exists, creating it in the resolved region.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	c, err := s.resolve(ctx)
	if err != nil {
		return err
	}
	exists, err := c.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

// resolve returns a client for the first region that answers for the bucket.
// The result is cached; failures are not, so a later call tries again.
func (s *Storage) resolve(ctx context.Context) (api, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	regions := s.cfg.Regions
	if len(regions) == 0 {
		regions = []string{""}
	}

	var errs []error
	for _, region := range regions {
		c, err := s.newClient(region)
		if err != nil {
			errs = append(errs, fmt.Errorf("region %q: %w", region, err))
			continue
		}
		if _, err := c.BucketExists(ctx, s.cfg.Bucket); err != nil {
			s.log.Warn().Err(err).Str("region", region).Str("bucket", s.cfg.Bucket).Msg("S3 region rejected bucket, trying next")
			errs = append(errs, fmt.Errorf("region %q: %w", region, err))
			continue
		}
		s.client, s.region = c, region
		s.log.Info().Str("region", region).Str("bucket", s.cfg.Bucket).Msg("S3 region resolved")
		return c, nil
	}
	return nil, fmt.Errorf("no S3 region accepted bucket %s: %w", s.cfg.Bucket, errors.Join(errs...))
}

// Put implements storage.Storage.
func (s *Storage) Put(ctx context.Context, data []byte, contentType, originalName string) (string, error) {
	c, err := s.resolve(ctx)
	if err != nil {
		return "", err
	}
	key := storage.NewKey(s.now(), originalName)
	opts := minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"original-name": originalName},
	}
	if _, err := c.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", fmt.Errorf("upload object: %w", err)
	}
	return key, nil
}

// Get implements storage.Storage.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	c, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat first so a missing key maps to ErrNotFound.
	if _, err := c.StatObject(ctx, s.cfg.Bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.cfg.Bucket, key, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}
	obj, err := c.GetObject(ctx, s.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return buf, nil
}

// Delete implements storage.Storage.
func (s *Storage) Delete(ctx context.Context, key string) error {
	c, err := s.resolve(ctx)
	if err != nil {
		return err
	}
	if err := c.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

var _ storage.Storage = (*Storage)(nil)
