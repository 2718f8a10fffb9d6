// Package main provides the entry point for the report pipeline API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/helixir/report-pipeline-service/internal/cache"
	"github.com/helixir/report-pipeline-service/internal/config"
	"github.com/helixir/report-pipeline-service/internal/events"
	"github.com/helixir/report-pipeline-service/internal/observability"
	httpserver "github.com/helixir/report-pipeline-service/internal/server/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("report-pipeline-service API server starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to the shared store.
	store, err := cache.New(ctx, cache.Config{
		Host:            cfg.Redis.Host,
		Port:            cfg.Redis.Port,
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.DB,
		DialTimeout:     cfg.Redis.DialTimeout,
		ReadTimeout:     cfg.Redis.ReadTimeout,
		WriteTimeout:    cfg.Redis.WriteTimeout,
		MaxRetries:      cfg.Redis.MaxRetries,
		MinRetryBackoff: cfg.Redis.MinRetryBackoff,
		MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to store: %w", err)
	}
	defer store.Close()
	logger.Info().Msg("store connection established")

	// Kafka publisher for job submission and lifecycle events.
	publisher := events.NewKafkaPublisher(events.Config{
		Brokers:          cfg.Kafka.Brokers,
		JobsTopic:        cfg.Kafka.JobsTopic,
		LifecycleTopic:   cfg.Kafka.LifecycleTopic,
		GroupID:          cfg.Kafka.GroupID,
		LifecycleEnabled: cfg.Kafka.LifecycleEnabled,
	}, logger)
	defer publisher.Close()

	server := httpserver.NewServer(httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		ResultTTL:       cfg.Jobs.ResultTTL,
		DefaultModel:    cfg.LLM.Model,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsPath:     cfg.Metrics.Path,
	}, store, publisher, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown HTTP server: %w", err)
	}
	logger.Info().Msg("shutdown complete")
	return nil
}
