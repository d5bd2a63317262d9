package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/statement-extractor/internal/jobs"
)

// Store is an in-memory implementation of jobs.Store.
// It is safe for concurrent use; one instance is shared by the whole process.
// Data is lost on service restart - for persistence, use the postgres store.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]*jobs.Job
	now   func() time.Time
	newID func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// NewStore creates a new in-memory job store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		jobs:  make(map[string]*jobs.Job),
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob implements the jobs.Store interface.
func (s *Store) CreateJob(ctx context.Context, fileName, storageKey string) (*jobs.Job, error) {
	if err := jobs.ValidateCreate(fileName, storageKey); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	job := &jobs.Job{
		ID:         s.newID(),
		FileName:   fileName,
		StorageKey: storageKey,
		Status:     jobs.StatusUploaded,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job

	return job.Clone(), nil
}

// GetJob implements the jobs.Store interface.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, jobs.NotFound(jobID)
	}

	return job.Clone(), nil
}

// ListJobs implements the jobs.Store interface. Jobs are returned oldest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.Filter) ([]*jobs.Job, error) {
	s.mu.RLock()
	result := make([]*jobs.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		result = append(result, job.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.Job{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// UpdateStatus implements the jobs.Store interface. The check and the write
// happen under one lock, so two callers can never both leave UPLOADED.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, status jobs.Status, update *jobs.Update) (*jobs.Job, error) {
	if err := jobs.ValidateUpdate(jobID, status, update); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, jobs.NotFound(jobID)
	}
	if !jobs.CanTransition(job.Status, status) {
		return nil, jobs.InvalidTransition(jobID, job.Status, status)
	}

	job.Status = status
	if update != nil {
		if update.AccountsDetected != nil {
			n := *update.AccountsDetected
			job.AccountsDetected = &n
		}
		if update.ProcessedData != nil {
			job.ProcessedData = jobs.CloneData(update.ProcessedData)
		}
		if update.ErrorMessage != nil {
			msg := *update.ErrorMessage
			job.ErrorMessage = &msg
		}
	}
	job.UpdatedAt = s.now().UTC()

	return job.Clone(), nil
}

// DeleteJob implements the jobs.Store interface. Deleting an unknown id is not
// an error.
func (s *Store) DeleteJob(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; !exists {
		return false, nil
	}
	delete(s.jobs, jobID)
	return true, nil
}

// Ensure Store implements the jobs.Store interface.
var _ jobs.Store = (*Store)(nil)
