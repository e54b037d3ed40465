// Package main provides the entrypoint for the LetterForge maintenance worker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/letterforge/letterforge/internal/api/handler"
	"github.com/letterforge/letterforge/internal/app"
	"github.com/letterforge/letterforge/internal/config"
	"github.com/letterforge/letterforge/internal/telemetry"
	"github.com/letterforge/letterforge/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "letterforge-worker"

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to an optional YAML config file")
	runOnce := flag.String("run-once", "", "run a single job type and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().Str("build_time", BuildTime).Msg("starting LetterForge worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.App.Environment,
		OTLPEndpoint:   cfg.Otel.Endpoint,
		Enabled:        cfg.Otel.Enabled,
		Insecure:       cfg.Otel.Insecure,
		SampleRatio:    cfg.Otel.SampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize services")
	}

	runner := worker.NewRunner(a.Deletions, cfg.Worker.JobTimeout, log)

	if *runOnce != "" {
		runErr := runner.Run(ctx, worker.JobType(*runOnce))
		closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		a.Close(closeCtx)
		closeCancel()
		if runErr != nil {
			log.Error().Err(runErr).Msg("run-once job failed")
			os.Exit(1) //nolint:gocritic // telemetry flush is best effort
		}
		return
	}

	scheduler, err := worker.NewScheduler(worker.Config{
		ExecuteSchedule: cfg.Worker.ExecuteSchedule,
		CleanupSchedule: cfg.Worker.CleanupSchedule,
		JobTimeout:      cfg.Worker.JobTimeout,
	}, runner, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule jobs")
	}
	scheduler.Start()

	var pubsubClient *pubsub.Client
	if cfg.Worker.PubSubProjectID != "" && cfg.Worker.PubSubSubscriber != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.Worker.PubSubProjectID)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub client")
		}
		subscriber := worker.NewJobSubscriber(pubsubClient, cfg.Worker.PubSubSubscriber, runner, log)
		go func() {
			if err := subscriber.Receive(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("pubsub receive stopped")
			}
		}()
	} else {
		log.Info().Msg("pubsub not configured, running scheduled jobs only")
	}

	// Cloud Run requires the worker to serve a port.
	ops := handler.NewOpsHandler(handler.OpsConfig{
		Version:   Version,
		BuildTime: BuildTime,
		Checks:    a.Checks(),
		Providers: a.Providers,
		Flags:     a.Flags,
	})
	mux := chi.NewRouter()
	mux.Get("/health", ops.HealthCheck)
	mux.Get("/ready", ops.ReadinessCheck)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Worker.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("scheduled job still running at shutdown")
	}
	if pubsubClient != nil {
		if err := pubsubClient.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close pubsub client")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}
	a.Close(shutdownCtx)

	log.Info().Msg("worker stopped")
}
