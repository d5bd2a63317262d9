// Package cleanup reclaims terminal jobs and their stored documents once they
// outlive the retention policy. In-flight jobs are never reclaimed by a sweep.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/statement-extractor/internal/apperr"
	"github.com/dvloznov/statement-extractor/internal/jobs"
	"github.com/dvloznov/statement-extractor/internal/storage"
)

// FileDeleter removes stored documents. storage.Storage satisfies it.
type FileDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Config is the retention policy and the sweep schedule.
type Config struct {
	CompletedRetention time.Duration `json:"completedRetention"`
	FailedRetention    time.Duration `json:"failedRetention"`
	Interval           time.Duration `json:"interval"`
	MaxJobsPerSweep    int           `json:"maxJobsPerSweep"`
	// FinalSweep runs one last sweep during Shutdown.
	FinalSweep bool `json:"finalSweep"`
	// Concurrency caps parallel reclamations within one sweep.
	Concurrency int `json:"concurrency"`
}

// DefaultConfig returns the production retention policy.
func DefaultConfig() Config {
	return Config{
		CompletedRetention: 24 * time.Hour,
		FailedRetention:    7 * 24 * time.Hour,
		Interval:           time.Hour,
		MaxJobsPerSweep:    100,
		FinalSweep:         true,
		Concurrency:        4,
	}
}

// JobError records one job that could not be reclaimed.
type JobError struct {
	JobID string `json:"jobId"`
	Error string `json:"error"`
}

// Stats summarizes one sweep or on-demand clean.
type Stats struct {
	Processed    int           `json:"processed"`
	Deleted      int           `json:"deleted"`
	FilesDeleted int           `json:"filesDeleted"`
	Errors       []JobError    `json:"errors"`
	Duration     time.Duration `json:"duration"`
}

// Status is a read-only snapshot of the store against the retention policy.
type Status struct {
	Running           bool                `json:"running"`
	Config            Config              `json:"config"`
	TotalJobs         int                 `json:"totalJobs"`
	ByStatus          map[jobs.Status]int `json:"byStatus"`
	EligibleCompleted int                 `json:"eligibleCompleted"`
	EligibleFailed    int                 `json:"eligibleFailed"`
	InFlight          int                 `json:"inFlight"`
	// OldestInFlightAge makes stuck PROCESSING jobs visible; they are never
	// reclaimed automatically.
	OldestInFlightAge time.Duration `json:"oldestInFlightAge"`
	LastSweepAt       *time.Time    `json:"lastSweepAt,omitempty"`
	LastSweep         *Stats        `json:"lastSweep,omitempty"`
}

// Scheduler drives periodic sweeps and serves on-demand cleanup.
type Scheduler struct {
	store jobs.Store
	files FileDeleter
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time

	// sweepMu serializes reclamation so a timer sweep and an admin request
	// never race on the same job.
	sweepMu sync.Mutex

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	lastSweep   *Stats
	lastSweepAt time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a stopped Scheduler. Zero fields in cfg take defaults.
func New(store jobs.Store, files FileDeleter, cfg Config, log zerolog.Logger, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.CompletedRetention <= 0 {
		cfg.CompletedRetention = def.CompletedRetention
	}
	if cfg.FailedRetention <= 0 {
		cfg.FailedRetention = def.FailedRetention
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxJobsPerSweep <= 0 {
		cfg.MaxJobsPerSweep = def.MaxJobsPerSweep
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	s := &Scheduler{store: store, files: files, cfg: cfg, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the recurring timer. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	s.log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("completed_retention", s.cfg.CompletedRetention).
		Dur("failed_retention", s.cfg.FailedRetention).
		Msg("Cleanup scheduler started")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("Cleanup sweep failed")
			}
		}
	}
}

// Stop cancels the timer and waits for a running sweep to return. It is
// idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info().Msg("Cleanup scheduler stopped")
}

// Running reports whether the timer is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Shutdown stops the timer and, when configured, runs one final sweep.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.Stop()
	if !s.cfg.FinalSweep {
		return nil
	}
	stats, err := s.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("final sweep: %w", err)
	}
	s.log.Info().Int("deleted", stats.Deleted).Msg("Final cleanup sweep completed")
	return nil
}

// Sweep reclaims at most MaxJobsPerSweep jobs whose retention has expired.
// Per-job failures are recorded in the returned Stats and never abort the
// sweep; only a failure to list jobs is returned as an error.
func (s *Scheduler) Sweep(ctx context.Context) (*Stats, error) {
	stats, err := s.clean(ctx, "", s.cfg.MaxJobsPerSweep, s.expired)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lastSweep = stats
	s.lastSweepAt = s.now().UTC()
	s.mu.Unlock()

	s.log.Info().
		Int("processed", stats.Processed).
		Int("deleted", stats.Deleted).
		Int("files_deleted", stats.FilesDeleted).
		Int("errors", len(stats.Errors)).
		Dur("elapsed", stats.Duration).
		Msg("Cleanup sweep completed")
	return stats, nil
}

// CleanAllFailed reclaims every FAILED job regardless of age.
func (s *Scheduler) CleanAllFailed(ctx context.Context) (*Stats, error) {
	return s.clean(ctx, jobs.StatusFailed, 0, func(*jobs.Job, time.Time) bool { return true })
}

// CleanExpiredCompleted reclaims every PROCESSED job past its retention.
func (s *Scheduler) CleanExpiredCompleted(ctx context.Context) (*Stats, error) {
	return s.clean(ctx, jobs.StatusProcessed, 0, s.expired)
}

// CleanJob deletes one job and its stored document whatever its status. It
// reports whether the job existed.
func (s *Scheduler) CleanJob(ctx context.Context, jobID string) (bool, error) {
	if jobID == "" {
		return false, apperr.New(apperr.KindInvalidInput, "job ID is required")
	}

	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, apperr.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := s.reclaim(ctx, job); err != nil {
		return true, err
	}
	s.log.Info().Str("job_id", jobID).Str("status", string(job.Status)).Msg("Job cleaned")
	return true, nil
}

// Status counts jobs against the retention policy without changing anything.
func (s *Scheduler) Status(ctx context.Context) (*Status, error) {
	all, err := s.store.ListJobs(ctx, jobs.Filter{})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	now := s.now()
	st := &Status{
		Running:   s.Running(),
		Config:    s.cfg,
		TotalJobs: len(all),
		ByStatus:  make(map[jobs.Status]int),
	}
	for _, job := range all {
		st.ByStatus[job.Status]++
		switch {
		case !job.Status.Terminal():
			st.InFlight++
			if age := now.Sub(job.UpdatedAt); age > st.OldestInFlightAge {
				st.OldestInFlightAge = age
			}
		case s.expired(job, now):
			if job.Status == jobs.StatusProcessed {
				st.EligibleCompleted++
			} else {
				st.EligibleFailed++
			}
		}
	}

	s.mu.Lock()
	if s.lastSweep != nil {
		at := s.lastSweepAt
		last := *s.lastSweep
		st.LastSweepAt = &at
		st.LastSweep = &last
	}
	s.mu.Unlock()
	return st, nil
}

// expired is the retention predicate. UPLOADED and PROCESSING never match.
func (s *Scheduler) expired(job *jobs.Job, now time.Time) bool {
	age := now.Sub(job.UpdatedAt)
	switch job.Status {
	case jobs.StatusProcessed:
		return age > s.cfg.CompletedRetention
	case jobs.StatusFailed:
		return age > s.cfg.FailedRetention
	default:
		return false
	}
}

// clean lists jobs with status (all when empty), keeps those matching
// eligible and reclaims up to limit of them (unbounded when limit is 0).
func (s *Scheduler) clean(ctx context.Context, status jobs.Status, limit int, eligible func(*jobs.Job, time.Time) bool) (*Stats, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := time.Now()
	all, err := s.store.ListJobs(ctx, jobs.Filter{Status: status})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	now := s.now()
	var targets []*jobs.Job
	for _, job := range all {
		if limit > 0 && len(targets) >= limit {
			break
		}
		if eligible(job, now) {
			targets = append(targets, job)
		}
	}

	stats := &Stats{Processed: len(all), Errors: []JobError{}}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, job := range targets {
		g.Go(func() error {
			fileDeleted, err := s.reclaim(gctx, job)

			mu.Lock()
			defer mu.Unlock()
			if fileDeleted {
				stats.FilesDeleted++
			}
			if err != nil {
				stats.Errors = append(stats.Errors, JobError{JobID: job.ID, Error: err.Error()})
				s.log.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to reclaim job")
				return nil
			}
			stats.Deleted++
			return nil
		})
	}
	_ = g.Wait()

	stats.Duration = time.Since(start)
	return stats, nil
}

// reclaim deletes the stored document, then the job record. A document that
// cannot be deleted keeps the record so a later sweep retries it.
func (s *Scheduler) reclaim(ctx context.Context, job *jobs.Job) (fileDeleted bool, err error) {
	if job.StorageKey != "" {
		if err := s.files.Delete(ctx, job.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return false, fmt.Errorf("delete file %s: %w", job.StorageKey, err)
		}
		fileDeleted = true
	}
	if _, err := s.store.DeleteJob(ctx, job.ID); err != nil {
		return fileDeleted, fmt.Errorf("delete job: %w", err)
	}
	return fileDeleted, nil
}
