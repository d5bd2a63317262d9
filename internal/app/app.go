// Package app wires configured backends into the pipeline, the cleanup
// scheduler and the queue. Every binary builds its dependencies here.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-extractor/internal/analysis"
	"github.com/dvloznov/statement-extractor/internal/archive"
	"github.com/dvloznov/statement-extractor/internal/cleanup"
	"github.com/dvloznov/statement-extractor/internal/config"
	"github.com/dvloznov/statement-extractor/internal/jobs"
	"github.com/dvloznov/statement-extractor/internal/jobs/asynqueue"
	"github.com/dvloznov/statement-extractor/internal/jobs/inmemory"
	"github.com/dvloznov/statement-extractor/internal/jobs/postgres"
	"github.com/dvloznov/statement-extractor/internal/normalize"
	"github.com/dvloznov/statement-extractor/internal/pipeline"
	"github.com/dvloznov/statement-extractor/internal/storage"
	"github.com/dvloznov/statement-extractor/internal/storage/gcs"
	"github.com/dvloznov/statement-extractor/internal/storage/s3"
)

// App holds the long-lived components shared by the HTTP server, the worker
// and the CLI.
type App struct {
	Config       *config.Config
	Log          zerolog.Logger
	Store        jobs.Store
	Files        storage.Storage
	Orchestrator *pipeline.Orchestrator
	Cleanup      *cleanup.Scheduler

	closers []func() error
}

// Option adjusts how New builds an App.
type Option func(*options)

type options struct {
	generator normalize.TextGenerator
}

// WithGenerator replaces the Gemini backend, mainly for tests.
func WithGenerator(gen normalize.TextGenerator) Option {
	return func(o *options) { o.generator = gen }
}

// New connects every configured backend. On error, whatever was opened is
// closed again.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.Store, err = a.newStore(ctx); err != nil {
		return nil, err
	}
	if a.Files, err = a.newStorage(ctx); err != nil {
		return nil, err
	}

	gen := o.generator
	if gen == nil {
		g, err := normalize.NewGeminiGenerator(ctx, cfg.Gemini)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		gen = g
	}

	pipeOpts := []pipeline.Option{pipeline.WithConfig(cfg.Pipeline)}
	if cfg.Archive.Enabled() {
		arch, err := archive.NewBigQueryArchiver(ctx, cfg.Archive, log.With().Str("component", "archive").Logger())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, arch.Close)
		pipeOpts = append(pipeOpts, pipeline.WithArchiver(arch))
	}

	a.Orchestrator = pipeline.New(
		a.Store,
		a.Files,
		analysis.NewLocalAnalyzer(cfg.Analysis, log.With().Str("component", "analysis").Logger()),
		normalize.New(gen, cfg.Normalize, log.With().Str("component", "normalize").Logger()),
		log.With().Str("component", "pipeline").Logger(),
		pipeOpts...,
	)
	a.Cleanup = cleanup.New(a.Store, a.Files, cfg.Cleanup, log.With().Str("component", "cleanup").Logger())
	return a, nil
}

func (a *App) newStore(ctx context.Context) (jobs.Store, error) {
	switch a.Config.Store.Backend {
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, a.Config.Store.DSN, a.Config.Store.MaxConns)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if a.Config.Store.AutoMigrate {
			if err := postgres.EnsureSchema(ctx, pool); err != nil {
				return nil, err
			}
		}
		return postgres.NewStore(pool), nil
	default:
		return inmemory.NewStore(), nil
	}
}

func (a *App) newStorage(ctx context.Context) (storage.Storage, error) {
	switch a.Config.Storage.Backend {
	case config.BackendGCS:
		s, err := gcs.New(ctx, a.Config.Storage.GCS)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.BackendS3:
		s, err := s3.New(a.Config.Storage.S3, a.Log.With().Str("component", "s3").Logger())
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return storage.NewMemory(), nil
	}
}

// NewPublisher returns the configured dispatcher. For the memory backend the
// returned Queue also consumes; callers start it in-process.
func (a *App) NewPublisher() (jobs.Publisher, *inmemory.Queue) {
	q := a.Config.Queue
	if q.Backend == config.BackendRedis {
		return asynqueue.NewPublisher(q.Redis, q.Name), nil
	}
	mq := inmemory.NewQueue(q.Buffer, q.Workers, a.Log.With().Str("component", "queue").Logger())
	return mq, mq
}

// NewConsumer returns the Redis consumer used by the worker process.
func (a *App) NewConsumer() (jobs.Consumer, error) {
	q := a.Config.Queue
	if q.Backend != config.BackendRedis {
		return nil, fmt.Errorf("worker requires QUEUE_BACKEND=%s, got %q", config.BackendRedis, q.Backend)
	}
	return asynqueue.NewConsumer(q.Redis, q.Workers, q.Name, a.Log), nil
}

// Close releases every opened backend.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
