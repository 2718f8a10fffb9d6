// Package main provides the entry point for the report pipeline worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/helixir/report-pipeline-service/internal/cache"
	"github.com/helixir/report-pipeline-service/internal/checkpoint"
	"github.com/helixir/report-pipeline-service/internal/config"
	"github.com/helixir/report-pipeline-service/internal/events"
	"github.com/helixir/report-pipeline-service/internal/jobs"
	"github.com/helixir/report-pipeline-service/internal/llm"
	"github.com/helixir/report-pipeline-service/internal/lock"
	"github.com/helixir/report-pipeline-service/internal/observability"
	"github.com/helixir/report-pipeline-service/internal/pipeline"
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
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("report-pipeline-service worker starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

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

	// LLM client for the configured provider.
	client, err := llm.NewClient(llm.ClientConfig{
		Provider: cfg.LLM.Provider,
		Anthropic: llm.AnthropicConfig{
			APIKey:     cfg.LLM.Anthropic.APIKey,
			BaseURL:    cfg.LLM.Anthropic.BaseURL,
			Timeout:    cfg.LLM.Timeout,
			MaxRetries: cfg.LLM.MaxRetries,
			RetryDelay: cfg.LLM.RetryDelay,
			RateLimit:  cfg.LLM.RateLimit,
			RateBurst:  cfg.LLM.RateBurst,
		},
		OpenAI: llm.OpenAIConfig{
			APIKey:     cfg.LLM.OpenAI.APIKey,
			BaseURL:    cfg.LLM.OpenAI.BaseURL,
			Timeout:    cfg.LLM.Timeout,
			MaxRetries: cfg.LLM.MaxRetries,
			RetryDelay: cfg.LLM.RetryDelay,
			RateLimit:  cfg.LLM.RateLimit,
			RateBurst:  cfg.LLM.RateBurst,
		},
	})
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}

	// Coordination layers over the shared store.
	locks := lock.NewManager(store, logger)
	checkpoints := checkpoint.NewWriter(store, checkpoint.Config{}, logger)
	stages := pipeline.NewStages(client, logger, metrics)

	// Kafka transport: consume jobs, publish lifecycle events.
	kafkaCfg := events.Config{
		Brokers:          cfg.Kafka.Brokers,
		JobsTopic:        cfg.Kafka.JobsTopic,
		LifecycleTopic:   cfg.Kafka.LifecycleTopic,
		GroupID:          cfg.Kafka.GroupID,
		LifecycleEnabled: cfg.Kafka.LifecycleEnabled,
	}
	publisher := events.NewKafkaPublisher(kafkaCfg, logger)
	defer publisher.Close()
	consumer := events.NewConsumer(kafkaCfg, logger)
	defer consumer.Close()

	coordinator := jobs.NewCoordinator(locks, checkpoints, stages, publisher, jobs.Config{
		LockTTL:           cfg.Jobs.LockTTL,
		HeartbeatInterval: cfg.Jobs.HeartbeatInterval,
		ResultTTL:         cfg.Jobs.ResultTTL,
		ReleaseTimeout:    cfg.Jobs.ReleaseTimeout,
		Concurrency:       cfg.Pipeline.Concurrency,
		FailureThreshold:  cfg.Pipeline.FailureThreshold,
		MinCommentRunes:   cfg.Pipeline.MinCommentRunes,
	}, logger, metrics)

	logger.Info().
		Str("provider", client.Provider()).
		Str("jobs_topic", cfg.Kafka.JobsTopic).
		Str("group_id", cfg.Kafka.GroupID).
		Msg("worker ready")

	if err := consumer.Run(ctx, coordinator.ProcessJob); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("job consumer: %w", err)
	}

	logger.Info().Msg("worker stopped")
	return nil
}
