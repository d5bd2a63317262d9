package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/statement-extractor/internal/api/handlers"
	"github.com/dvloznov/statement-extractor/internal/api/middleware"
	"github.com/dvloznov/statement-extractor/internal/app"
	"github.com/dvloznov/statement-extractor/internal/config"
	"github.com/dvloznov/statement-extractor/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New()
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log, err := logger.NewFromConfig(cfg.Log)
	if err != nil {
		fallback := logger.New()
		fallback.Fatal().Err(err).Msg("Invalid logging configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	publisher, localQueue := a.NewPublisher()

	// With the memory backend the API process is also the worker.
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	if localQueue != nil {
		if err := localQueue.Start(workerCtx, a.Orchestrator.HandleTask); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job worker")
		}
		log.Info().Int("workers", cfg.Queue.Workers).Msg("In-process job worker started")
	}

	a.Cleanup.Start()

	mux := http.NewServeMux()
	handlers.Register(mux,
		handlers.NewJobsHandler(a.Store, a.Files, a.Orchestrator, publisher, cfg.Server.MaxUploadBytes, log),
		handlers.NewAdminHandler(a.Cleanup, log),
	)

	handler := middleware.Chain(mux,
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS(cfg.Server.AllowedOrigins),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("port", cfg.Server.Port).
			Str("storage", cfg.Storage.Backend).
			Str("store", cfg.Store.Backend).
			Str("queue", cfg.Queue.Backend).
			Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let in-flight pipeline runs record their outcome before the final sweep.
	if localQueue != nil {
		if err := localQueue.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping job queue")
		}
	}
	cancelWorker()
	if err := publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job publisher")
	}

	if err := a.Cleanup.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Cleanup shutdown failed")
	}

	log.Info().Msg("Server exited")
}
