// Package pipeline drives a job through retrieve, analyze, normalize and
// validate, recording every outcome on the job before reporting it.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-extractor/internal/analysis"
	"github.com/dvloznov/statement-extractor/internal/apperr"
	"github.com/dvloznov/statement-extractor/internal/jobs"
	"github.com/dvloznov/statement-extractor/internal/logger"
	"github.com/dvloznov/statement-extractor/internal/sanitize"
	"github.com/dvloznov/statement-extractor/internal/statement"
)

// DiagnosticsKey holds internal processing facts inside processedData. The
// sanitizer never lets it out.
const DiagnosticsKey = "_diagnostics"

// Config holds per-stage timeouts. Normalization is bounded by its own budget.
type Config struct {
	RetrieveTimeout time.Duration
	AnalyzeTimeout  time.Duration
	// PersistTimeout bounds the terminal status write, which runs even if the
	// caller's context has ended.
	PersistTimeout time.Duration
}

// DefaultConfig returns production timeouts.
func DefaultConfig() Config {
	return Config{
		RetrieveTimeout: 30 * time.Second,
		AnalyzeTimeout:  2 * time.Minute,
		PersistTimeout:  10 * time.Second,
	}
}

// Result is returned by a successful Process call.
type Result struct {
	JobID            string      `json:"jobId"`
	Status           jobs.Status `json:"status"`
	AccountsDetected int         `json:"accountsDetected"`
}

// Orchestrator runs the processing pipeline for one job at a time per call.
// Concurrent calls for different jobs are independent.
type Orchestrator struct {
	store    jobs.Store
	pipeline *Pipeline
	archiver Archiver
	cfg      Config
	log      zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithArchiver sends processed statements to a.
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithConfig overrides the stage timeouts.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// New creates an Orchestrator over its collaborators.
func New(store jobs.Store, source DocumentSource, analyzer analysis.Analyzer, normalizer StatementNormalizer, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{store: store, cfg: DefaultConfig(), log: log}
	for _, opt := range opts {
		opt(o)
	}
	o.pipeline = NewPipeline(
		&RetrieveStep{Source: source, Timeout: o.cfg.RetrieveTimeout},
		&AnalyzeStep{Analyzer: analyzer, Timeout: o.cfg.AnalyzeTimeout},
		&NormalizeStep{Normalizer: normalizer},
		&ValidateStep{},
	)
	return o
}

// Process runs the whole pipeline for jobID. The job must be UPLOADED; a job
// in any other status is rejected, never queued. Every stage failure is
// written to the job as FAILED before the typed error is returned.
func (o *Orchestrator) Process(ctx context.Context, jobID string) (*Result, error) {
	if jobID == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "job ID is required")
	}
	log := o.log.With().Str("job_id", jobID).Logger()
	ctx = logger.WithContext(ctx, log)

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != jobs.StatusUploaded {
		return nil, jobs.InvalidStatus(jobID, job.Status)
	}

	job, err = o.store.UpdateStatus(ctx, jobID, jobs.StatusProcessing, nil)
	if err != nil {
		// Another caller won the UPLOADED -> PROCESSING race; the job is
		// theirs, so it is not marked FAILED here.
		if errors.Is(err, apperr.ErrInvalidTransition) {
			current := jobs.Status("")
			if s, ok := apperr.DetailsOf(err)["currentStatus"].(string); ok {
				current = jobs.Status(s)
			}
			return nil, jobs.InvalidStatus(jobID, current)
		}
		return nil, err
	}
	log.Info().Str("file_name", job.FileName).Msg("Processing started")

	// Once dispatched, stages run to completion or their own timeout; the
	// caller going away does not abandon the job.
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	state := &PipelineState{Job: job}
	stage, err := o.pipeline.Execute(ctx, state)
	if err != nil {
		log.Error().Err(err).Str("stage", stage).Dur("elapsed", time.Since(start)).Msg("Pipeline stage failed")
		o.markFailed(ctx, jobID, err)
		return nil, err
	}

	processed := state.Payload
	processed[DiagnosticsKey] = diagnostics(state)
	accounts := state.Accounts

	pctx, cancel := o.persistContext(ctx)
	defer cancel()
	done, err := o.store.UpdateStatus(pctx, jobID, jobs.StatusProcessed, &jobs.Update{
		AccountsDetected: &accounts,
		ProcessedData:    processed,
	})
	if err != nil {
		// Typically the job was deleted mid-pipeline.
		log.Error().Err(err).Msg("Failed to persist processed statement")
		return nil, err
	}
	log.Info().
		Int("accounts", accounts).
		Dur("elapsed", time.Since(start)).
		Msg("Processing completed")

	o.archive(ctx, done)

	return &Result{JobID: jobID, Status: jobs.StatusProcessed, AccountsDetected: accounts}, nil
}

// HandleTask adapts Process to a queue consumer.
func (o *Orchestrator) HandleTask(ctx context.Context, task *jobs.ProcessTask) error {
	_, err := o.Process(ctx, task.JobID)
	return err
}

// GetResult returns the sanitized statement of a PROCESSED job. Other jobs
// report their current status and stored error instead.
func (o *Orchestrator) GetResult(ctx context.Context, jobID string) (*statement.BankStatementData, error) {
	if jobID == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "job ID is required")
	}
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != jobs.StatusProcessed {
		e := apperr.New(apperr.KindJobNotProcessed, "job %s is %s", jobID, job.Status).
			WithDetail("status", string(job.Status))
		if job.ErrorMessage != nil {
			e.WithDetail("errorMessage", *job.ErrorMessage)
		}
		return nil, e
	}
	if job.ProcessedData == nil {
		return nil, apperr.New(apperr.KindMissingProcessedData, "job %s has no processed data", jobID)
	}
	return sanitize.Statement(job.ProcessedData), nil
}

func (o *Orchestrator) markFailed(ctx context.Context, jobID string, cause error) {
	pctx, cancel := o.persistContext(ctx)
	defer cancel()

	msg := cause.Error()
	if _, err := o.store.UpdateStatus(pctx, jobID, jobs.StatusFailed, &jobs.Update{ErrorMessage: &msg}); err != nil {
		o.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to record pipeline failure")
	}
}

func (o *Orchestrator) archive(ctx context.Context, job *jobs.Job) {
	if o.archiver == nil {
		return
	}
	if err := o.archiver.Archive(ctx, job, sanitize.Statement(job.ProcessedData)); err != nil {
		o.log.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to archive statement")
	}
}

// persistContext survives cancellation of ctx so terminal writes still land.
func (o *Orchestrator) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(context.WithoutCancel(ctx), o.cfg.PersistTimeout)
}

func diagnostics(state *PipelineState) map[string]any {
	d := map[string]any{}
	if a := state.Analysis; a != nil {
		d["engine"] = a.Engine
		d["pageCount"] = a.PageCount
		d["blockCount"] = len(a.Blocks)
		if len(a.Warnings) > 0 {
			warnings := make([]any, len(a.Warnings))
			for i, w := range a.Warnings {
				warnings[i] = w
			}
			d["warnings"] = warnings
		}
	}
	if n := state.Normalized; n != nil {
		d["normalizationAttempts"] = n.Attempts
		d["repaired"] = n.Repaired
	}
	timings := map[string]any{}
	for stage, dur := range state.Timings {
		timings[stage] = dur.Milliseconds()
	}
	d["stageMillis"] = timings
	return d
}
