package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	consumer, err := a.NewConsumer()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create job consumer")
	}

	log.Info().Int("concurrency", cfg.Queue.Workers).Msg("Starting worker service")

	if err := consumer.Start(ctx, a.Orchestrator.HandleTask); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().Msg("Worker service started, waiting for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop waits for in-flight pipeline runs, which persist their terminal
	// status before returning.
	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	log.Info().Msg("Worker service exited")
}
