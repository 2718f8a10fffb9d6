// Package events carries report jobs and job lifecycle notifications over
// Kafka. Submitted jobs travel on the jobs topic; every worker in the
// consumer group competes for them, and the distributed job lock makes
// duplicate delivery harmless. Lifecycle events are best-effort.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/report-pipeline-service/internal/domain"
)

// Lifecycle event types.
const (
	EventJobSubmitted = "job.submitted"
	EventJobStarted   = "job.started"
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// LifecycleEvent is the envelope published on the lifecycle topic.
type LifecycleEvent struct {
	Type      string       `json:"type"`
	JobID     string       `json:"job_id"`
	UserID    string       `json:"user_id"`
	Usage     domain.Usage `json:"usage,omitempty"`
	Cost      float64      `json:"cost,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Config holds Kafka settings.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// JobsTopic carries submitted jobs to workers.
	JobsTopic string
	// LifecycleTopic carries job lifecycle notifications.
	LifecycleTopic string
	// GroupID is the worker consumer group.
	GroupID string
	// LifecycleEnabled controls whether lifecycle events are published.
	LifecycleEnabled bool
}

// JobPublisher enqueues jobs and publishes lifecycle events.
type JobPublisher interface {
	PublishJob(ctx context.Context, job *domain.Job) error
	PublishLifecycle(ctx context.Context, event LifecycleEvent)
	Close() error
}

// KafkaPublisher implements JobPublisher over kafka-go writers.
type KafkaPublisher struct {
	jobs      *kafka.Writer
	lifecycle *kafka.Writer
	cfg       Config
	logger    zerolog.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers and topics.
func NewKafkaPublisher(cfg Config, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		jobs: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.JobsTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		lifecycle: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.LifecycleTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		cfg:    cfg,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// PublishJob enqueues a job for worker pickup. Failures are returned: a job
// that never reaches the topic would otherwise be silently lost.
func (p *KafkaPublisher) PublishJob(ctx context.Context, job *domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("events: marshal job %s: %w", job.ID, err)
	}
	msg := kafka.Message{
		Key:   []byte(job.ID),
		Value: payload,
	}
	if err := p.jobs.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publish job %s: %w", job.ID, err)
	}
	p.logger.Debug().Str("job_id", job.ID).Msg("job published")
	return nil
}

// PublishLifecycle publishes a lifecycle event. This is best-effort: a lost
// notification never fails the job, so errors are logged and swallowed.
func (p *KafkaPublisher) PublishLifecycle(ctx context.Context, event LifecycleEvent) {
	if !p.cfg.LifecycleEnabled {
		return
	}
	event.Timestamp = time.Now().UTC()
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("job_id", event.JobID).Msg("failed to marshal lifecycle event")
		return
	}
	msg := kafka.Message{
		Key:   []byte(event.JobID),
		Value: payload,
	}
	if err := p.lifecycle.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().Err(err).
			Str("job_id", event.JobID).
			Str("type", event.Type).
			Msg("failed to publish lifecycle event")
	}
}

// Close flushes and closes both writers.
func (p *KafkaPublisher) Close() error {
	if err := p.jobs.Close(); err != nil {
		return fmt.Errorf("events: close jobs writer: %w", err)
	}
	return p.lifecycle.Close()
}

// JobHandler processes one job delivered from the jobs topic.
type JobHandler func(ctx context.Context, job *domain.Job) error

// Consumer reads submitted jobs from Kafka and dispatches them to a handler.
type Consumer struct {
	reader *kafka.Reader
	logger zerolog.Logger
}

// NewConsumer creates a consumer in the worker consumer group.
func NewConsumer(cfg Config, logger zerolog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.JobsTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return &Consumer{
		reader: reader,
		logger: logger.With().Str("component", "events_consumer").Logger(),
	}
}

// Run reads jobs until the context is cancelled. Malformed messages are
// logged and skipped; handler errors are logged and the loop continues, since
// the lock layer keeps a redelivered or retried job safe.
func (c *Consumer) Run(ctx context.Context, handler JobHandler) error {
	c.logger.Info().Msg("starting job consumer")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info().Msg("job consumer stopped via context cancellation")
				return ctx.Err()
			}
			c.logger.Error().Err(err).Msg("failed to read message from kafka")
			continue
		}

		var job domain.Job
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			c.logger.Error().Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("failed to unmarshal job message")
			continue
		}

		if err := handler(ctx, &job); err != nil {
			c.logger.Error().Err(err).Str("job_id", job.ID).Msg("job handler failed")
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
