// Package jobs coordinates report job execution across worker processes: it
// claims jobs through the distributed lock manager, heartbeats while stages
// run, persists progress through lock-gated atomic checkpoints, and releases
// the lock on completion. A crashed worker's lock expires passively and the
// job becomes claimable again on redelivery.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/report-pipeline-service/internal/checkpoint"
	"github.com/helixir/report-pipeline-service/internal/domain"
	"github.com/helixir/report-pipeline-service/internal/events"
	"github.com/helixir/report-pipeline-service/internal/lock"
	"github.com/helixir/report-pipeline-service/internal/observability"
	"github.com/helixir/report-pipeline-service/internal/pipeline"
)

// Config holds coordinator policy.
type Config struct {
	// LockTTL bounds how long a silent worker keeps a job claimed.
	LockTTL time.Duration
	// HeartbeatInterval is how often the lock TTL is refreshed while work
	// proceeds. It must be comfortably below LockTTL; LockTTL/3 is typical.
	HeartbeatInterval time.Duration
	// ResultTTL bounds how long progress and result keys are retained.
	ResultTTL time.Duration
	// Concurrency and FailureThreshold are stage defaults, overridable per job.
	Concurrency      int
	FailureThreshold float64
	// MinCommentRunes is the minimum comment length to enter the pipeline.
	MinCommentRunes int
	// ReleaseTimeout bounds the final lock release and failure checkpoint
	// when the job context is already cancelled.
	ReleaseTimeout time.Duration
}

// Coordinator executes report jobs. It is safe for concurrent use; each
// ProcessJob call manages its own lock and owner token.
type Coordinator struct {
	locks       *lock.Manager
	checkpoints *checkpoint.Writer
	stages      *pipeline.Stages
	publisher   events.JobPublisher
	cfg         Config
	logger      zerolog.Logger
	metrics     *observability.Metrics
}

// NewCoordinator creates a coordinator. publisher and metrics may be nil.
func NewCoordinator(
	locks *lock.Manager,
	checkpoints *checkpoint.Writer,
	stages *pipeline.Stages,
	publisher events.JobPublisher,
	cfg Config,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Coordinator {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = cfg.LockTTL / 3
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = 5 * time.Second
	}
	return &Coordinator{
		locks:       locks,
		checkpoints: checkpoints,
		stages:      stages,
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger.With().Str("component", "coordinator").Logger(),
		metrics:     metrics,
	}
}

// ProcessJob runs one job end to end. It returns nil when another worker
// already holds the job's lock; duplicate delivery is expected and harmless.
// Lock connectivity failures are propagated, never treated as "not held".
func (c *Coordinator) ProcessJob(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	logger := observability.WithJobContext(c.logger, job.ID, job.UserID)

	token := lock.NewToken()
	lockKey := LockKey(job.ID)

	acquired, err := c.locks.Acquire(ctx, lockKey, token, c.cfg.LockTTL)
	if err != nil {
		c.countLock("error")
		return fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	if !acquired {
		c.countLock("contended")
		logger.Info().Msg("job already claimed by another worker")
		return nil
	}
	c.countLock("acquired")

	start := time.Now()
	if c.metrics != nil {
		c.metrics.JobsStarted.Inc()
	}
	logger.Info().Msg("job claimed")

	if attempts, err := c.checkpoints.Increment(ctx, AttemptsKey(job.ID), c.cfg.ResultTTL); err == nil && attempts > 1 {
		logger.Warn().Int64("attempt", attempts).Msg("reprocessing job after earlier attempt")
	}

	if c.publisher != nil {
		c.publisher.PublishLifecycle(ctx, events.LifecycleEvent{
			Type: events.EventJobStarted, JobID: job.ID, UserID: job.UserID,
		})
	}

	// The job context is cancelled when the heartbeat discovers the lock is
	// gone; stages stop dispatching new units but let in-flight calls finish.
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)
	go c.heartbeat(jobCtx, cancel, stop, lockKey, token, logger)

	report, runErr := c.runStages(jobCtx, job, lockKey, token, logger)
	if runErr != nil {
		c.failJob(job, lockKey, token, runErr, logger)
		c.releaseLock(lockKey, token, logger)
		return runErr
	}

	if c.publisher != nil {
		c.publisher.PublishLifecycle(ctx, events.LifecycleEvent{
			Type: events.EventJobCompleted, JobID: job.ID, UserID: job.UserID,
			Usage: report.Usage, Cost: report.Cost,
		})
	}
	if c.metrics != nil {
		c.metrics.JobsCompleted.Inc()
		c.metrics.JobDuration.Observe(time.Since(start).Seconds())
	}
	logger.Info().
		Float64("cost_usd", report.Cost).
		Int("claims", report.Tree.TotalClaims()).
		Dur("elapsed", time.Since(start)).
		Msg("job completed")

	c.releaseLock(lockKey, token, logger)
	return nil
}

// runStages executes the three pipeline stages, checkpointing after each one.
func (c *Coordinator) runStages(ctx context.Context, job *domain.Job, lockKey, token string, logger zerolog.Logger) (*domain.Report, error) {
	opts := pipeline.Options{
		JobID:            job.ID,
		UserID:           job.UserID,
		Concurrency:      firstPositiveInt(job.Concurrency, c.cfg.Concurrency),
		FailureThreshold: firstPositiveFloat(job.FailureThreshold, c.cfg.FailureThreshold),
		SortBy:           job.SortBy,
		MinCommentRunes:  c.cfg.MinCommentRunes,
	}

	claims, err := c.stages.ExtractClaims(ctx, job.Comments, job.Taxonomy, job.Model, opts)
	if err != nil {
		return nil, fmt.Errorf("claims stage: %w", err)
	}
	if err := c.checkpointStage(ctx, job, lockKey, token, domain.StageClaims, claims.Tree, claims.Stats); err != nil {
		return nil, err
	}

	dedup, err := c.stages.DeduplicateClaims(ctx, claims.Tree, job.Taxonomy, job.Model, opts)
	if err != nil {
		return nil, fmt.Errorf("dedup stage: %w", err)
	}
	if err := c.checkpointStage(ctx, job, lockKey, token, domain.StageDedup, dedup.Tree, dedup.Stats); err != nil {
		return nil, err
	}

	summaries, err := c.stages.SummarizeTopics(ctx, dedup.Tree, job.Model, opts)
	if err != nil {
		return nil, fmt.Errorf("summaries stage: %w", err)
	}

	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = domain.SortBySpeakers
	}
	usage := claims.Stats.Usage.Add(dedup.Stats.Usage).Add(summaries.Stats.Usage)
	cost := claims.Stats.Cost + dedup.Stats.Cost + summaries.Stats.Cost
	report := &domain.Report{
		JobID:     job.ID,
		Tree:      dedup.Tree,
		Summaries: summaries.Summaries,
		Usage:     usage,
		Cost:      cost,
		SortBy:    sortBy,
		Topics:    dedup.Tree.TopicNames(sortBy),
	}

	if err := c.checkpointFinal(ctx, job, lockKey, token, report, summaries.Stats); err != nil {
		return nil, err
	}
	return report, nil
}

// checkpointStage atomically writes a stage's intermediate output and the
// job's progress record, gated on lock ownership.
func (c *Coordinator) checkpointStage(ctx context.Context, job *domain.Job, lockKey, token, stage string, tree *domain.ResultTree, stats pipeline.StageStats) error {
	treeJSON, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("marshal %s output: %w", stage, err)
	}
	progressJSON, err := json.Marshal(domain.Progress{
		JobID:     job.ID,
		Status:    domain.JobStatusRunning,
		Stage:     stage,
		Processed: stats.Total - stats.Failed,
		Filtered:  stats.Filtered,
		Failed:    stats.Failed,
		Usage:     stats.Usage,
		Cost:      stats.Cost,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	sets := []checkpoint.SetOp{
		{Key: StageKey(job.ID, stage), Value: string(treeJSON), TTL: c.cfg.ResultTTL},
		{Key: ProgressKey(job.ID), Value: string(progressJSON), TTL: c.cfg.ResultTTL},
	}
	return c.applyCheckpoint(ctx, lockKey, token, sets, nil)
}

// checkpointFinal atomically writes the result and completed progress, and
// deletes the intermediate stage keys in the same batch.
func (c *Coordinator) checkpointFinal(ctx context.Context, job *domain.Job, lockKey, token string, report *domain.Report, stats pipeline.StageStats) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	progressJSON, err := json.Marshal(domain.Progress{
		JobID:     job.ID,
		Status:    domain.JobStatusCompleted,
		Usage:     report.Usage,
		Cost:      report.Cost,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	sets := []checkpoint.SetOp{
		{Key: ResultKey(job.ID), Value: string(reportJSON), TTL: c.cfg.ResultTTL},
		{Key: ProgressKey(job.ID), Value: string(progressJSON), TTL: c.cfg.ResultTTL},
	}
	deletes := []string{
		StageKey(job.ID, domain.StageClaims),
		StageKey(job.ID, domain.StageDedup),
	}
	return c.applyCheckpoint(ctx, lockKey, token, sets, deletes)
}

// applyCheckpoint performs a lock-gated batch write. A refusal means the lock
// expired or was stolen mid-job; the job must stop rather than keep writing
// state another worker now owns.
func (c *Coordinator) applyCheckpoint(ctx context.Context, lockKey, token string, sets []checkpoint.SetOp, deletes []string) error {
	res, err := c.checkpoints.SetMultipleWithLockVerification(ctx, lockKey, token, sets, deletes)
	if err != nil {
		c.countCheckpoint("error")
		return fmt.Errorf("checkpoint write: %w", err)
	}
	if !res.Success {
		c.countCheckpoint(string(res.Reason))
		return fmt.Errorf("checkpoint refused (%s): %w", res.Reason, domain.ErrLockLost)
	}
	c.countCheckpoint("ok")
	return nil
}

// heartbeat extends the lock TTL on a ticker until the job finishes. A lost
// lock cancels the job context; a connectivity failure is logged and the next
// tick retries, since the lock may well still be held.
func (c *Coordinator) heartbeat(ctx context.Context, cancel context.CancelFunc, stop <-chan struct{}, lockKey, token string, logger zerolog.Logger) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := c.locks.Extend(ctx, lockKey, token, c.cfg.LockTTL)
			if err != nil {
				logger.Warn().Err(err).Msg("heartbeat failed: lock state unknown")
				continue
			}
			if !ok {
				if c.metrics != nil {
					c.metrics.LockHeartbeatsLost.Inc()
				}
				logger.Error().Msg("job lock expired or stolen; cancelling job")
				cancel()
				return
			}
			logger.Debug().Msg("job lock extended")
		}
	}
}

// failJob records the failure in the progress key and publishes the
// lifecycle event. The checkpoint is still lock-gated: if the lock is gone,
// another worker owns the job's keys and this worker must not touch them.
func (c *Coordinator) failJob(job *domain.Job, lockKey, token string, jobErr error, logger zerolog.Logger) {
	if c.metrics != nil {
		c.metrics.JobsFailed.Inc()
	}
	logger.Error().Err(jobErr).Msg("job failed")

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReleaseTimeout)
	defer cancel()

	progressJSON, err := json.Marshal(domain.Progress{
		JobID:     job.ID,
		Status:    domain.JobStatusFailed,
		Error:     jobErr.Error(),
		UpdatedAt: time.Now().UTC(),
	})
	if err == nil {
		sets := []checkpoint.SetOp{{Key: ProgressKey(job.ID), Value: string(progressJSON), TTL: c.cfg.ResultTTL}}
		if cpErr := c.applyCheckpoint(ctx, lockKey, token, sets, nil); cpErr != nil {
			logger.Error().Err(cpErr).Msg("failed to checkpoint job failure")
		}
	}

	if c.publisher != nil {
		c.publisher.PublishLifecycle(ctx, events.LifecycleEvent{
			Type: events.EventJobFailed, JobID: job.ID, UserID: job.UserID,
			Error: jobErr.Error(),
		})
	}
}

// releaseLock releases the job lock with a fresh context so release still
// works when the job context is already cancelled.
func (c *Coordinator) releaseLock(lockKey, token string, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReleaseTimeout)
	defer cancel()

	released, err := c.locks.Release(ctx, lockKey, token)
	if err != nil {
		logger.Warn().Err(err).Msg("lock release failed; TTL will reclaim it")
		return
	}
	if !released {
		logger.Warn().Msg("lock already expired or stolen at release")
	}
}

func (c *Coordinator) countLock(outcome string) {
	if c.metrics != nil {
		c.metrics.LockAcquisitions.WithLabelValues(outcome).Inc()
	}
}

func (c *Coordinator) countCheckpoint(outcome string) {
	if c.metrics != nil {
		c.metrics.CheckpointWrites.WithLabelValues(outcome).Inc()
	}
}

func firstPositiveInt(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstPositiveFloat(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
