// Package pipeline implements the report-generation stages (claim extraction,
// per-subtopic deduplication, per-topic summarization) on top of a generic
// bounded-concurrency stage driver with partial-failure tolerance, taxonomy
// validation, and usage/cost accounting.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/report-pipeline-service/internal/domain"
	"github.com/helixir/report-pipeline-service/internal/executor"
	"github.com/helixir/report-pipeline-service/internal/llm"
	"github.com/helixir/report-pipeline-service/internal/observability"
)

// Defaults applied when stage options leave a field unset.
const (
	DefaultConcurrency      = 8
	DefaultFailureThreshold = 0.5
	DefaultMinCommentRunes  = 5
)

// Options configures one stage invocation.
type Options struct {
	// JobID and UserID annotate logs.
	JobID  string
	UserID string
	// Concurrency caps simultaneous in-flight LLM calls.
	Concurrency int
	// FailureThreshold is the tolerated unit failure rate. The stage aborts
	// only when failed/total strictly exceeds it; exactly at the threshold
	// is tolerated.
	FailureThreshold float64
	// SortBy selects report ordering.
	SortBy domain.SortKey
	// MinCommentRunes is the minimum trimmed comment length to dispatch.
	MinCommentRunes int
}

func (o Options) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return DefaultConcurrency
}

func (o Options) failureThreshold() float64 {
	if o.FailureThreshold > 0 {
		return o.FailureThreshold
	}
	return DefaultFailureThreshold
}

func (o Options) minCommentRunes() int {
	if o.MinCommentRunes > 0 {
		return o.MinCommentRunes
	}
	return DefaultMinCommentRunes
}

func (o Options) sortBy() domain.SortKey {
	if o.SortBy == "" {
		return domain.SortBySpeakers
	}
	return o.SortBy
}

// StageStats is the per-stage accounting reported alongside stage output.
type StageStats struct {
	// Total counts units dispatched after filtering.
	Total int `json:"total"`
	// Filtered counts units dropped by the pre-filter; these are not failures.
	Filtered int `json:"filtered"`
	// Failed counts dispatched units whose unit function returned an error.
	Failed int `json:"failed"`
	// Usage and Cost are summed over successful units.
	Usage domain.Usage `json:"usage"`
	Cost  float64      `json:"cost"`
}

// unitOutput is what a unit function produces on success.
type unitOutput[R any] struct {
	payload R
	model   string
	usage   domain.Usage
}

// unitResult pairs a unit's output with its success flag, aligned with the
// dispatched unit order so stages can fall back per unit.
type unitResult[R any] struct {
	value unitOutput[R]
	ok    bool
}

// unitOutcome is the executor-level envelope: unit failures are data here,
// not executor errors, because the failure-threshold policy tolerates them.
type unitOutcome[R any] struct {
	out unitOutput[R]
	err error
}

// Stages bundles the collaborators shared by every stage.
type Stages struct {
	client  llm.CompletionClient
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewStages creates the stage set. metrics may be nil in tests.
func NewStages(client llm.CompletionClient, logger zerolog.Logger, metrics *observability.Metrics) *Stages {
	return &Stages{
		client:  client,
		logger:  logger.With().Str("component", "pipeline").Logger(),
		metrics: metrics,
	}
}

// runUnits drives one stage: pre-filter, bounded fan-out, failure-threshold
// policy, and usage/cost aggregation. Results are aligned with the dispatched
// (post-filter) unit order. An unrecognized model in cost accounting is
// stage-fatal.
func runUnits[T, R any](
	ctx context.Context,
	s *Stages,
	stage string,
	units []T,
	filter func(T) bool,
	fn func(context.Context, T) (unitOutput[R], error),
	opts Options,
) ([]unitResult[R], StageStats, error) {
	logger := observability.WithStageContext(observability.WithJobContext(s.logger, opts.JobID, opts.UserID), stage)
	start := time.Now()
	s.countStageStarted(stage)

	var stats StageStats
	kept := make([]T, 0, len(units))
	for _, unit := range units {
		if filter != nil && !filter(unit) {
			stats.Filtered++
			s.countUnit(stage, "filtered")
			continue
		}
		kept = append(kept, unit)
	}
	stats.Total = len(kept)

	outcomes, err := executor.Run(ctx, kept, opts.concurrency(), func(ctx context.Context, unit T) (unitOutcome[R], error) {
		out, err := fn(ctx, unit)
		return unitOutcome[R]{out: out, err: err}, nil
	})
	if err != nil {
		// Unit failures are carried in outcomes; an executor error means the
		// fan-out itself broke.
		return nil, stats, err
	}

	results := make([]unitResult[R], len(outcomes))
	for i, outcome := range outcomes {
		if outcome.err != nil {
			stats.Failed++
			s.countUnit(stage, "failed")
			logger.Warn().Err(outcome.err).Int("unit", i).Msg("unit failed")
			continue
		}
		results[i] = unitResult[R]{value: outcome.out, ok: true}
		s.countUnit(stage, "ok")
	}

	threshold := opts.failureThreshold()
	if stats.Total > 0 && float64(stats.Failed)/float64(stats.Total) > threshold {
		s.countStageAborted(stage)
		err := domain.NewSystemicFailureError(stage, stats.Failed, stats.Total, threshold)
		logger.Error().Err(err).Msg("stage aborted: failure threshold breached")
		return nil, stats, err
	}

	for i, res := range results {
		if !res.ok {
			continue
		}
		cost, err := llm.CostFor(res.value.model, res.value.usage)
		if err != nil {
			// No silent zero-cost fallback.
			logger.Error().Err(err).Int("unit", i).Msg("stage aborted: cost accounting failed")
			return nil, stats, err
		}
		stats.Usage = stats.Usage.Add(res.value.usage)
		stats.Cost += cost
		s.countTokens(stage, res.value.model, res.value.usage, cost)
	}

	if stats.Failed > 0 {
		logger.Warn().
			Int("failed", stats.Failed).
			Int("total", stats.Total).
			Msg("stage completed with partial output")
	}

	s.countStageCompleted(stage, time.Since(start))
	return results, stats, nil
}

// assembleTree folds claims into a tree pre-seeded with every taxonomy topic
// and subtopic, dropping claims whose categories do not exist in the taxonomy.
// Dropping is a warning, never a stage failure: it defends against a model
// inventing categories.
func (s *Stages) assembleTree(taxonomy domain.Taxonomy, claims []domain.Claim, stage string, logger zerolog.Logger) (*domain.ResultTree, int) {
	tree := domain.NewResultTree(taxonomy)
	dropped := 0
	for _, claim := range claims {
		if !taxonomy.HasSubtopic(claim.TopicName, claim.SubtopicName) || !tree.Insert(claim) {
			dropped++
			s.countUnit(stage, "dropped")
			logger.Warn().
				Str("topic", claim.TopicName).
				Str("subtopic", claim.SubtopicName).
				Str("comment_id", claim.CommentID).
				Msg("dropping claim: category not in taxonomy")
		}
	}
	return tree, dropped
}

func (s *Stages) countStageStarted(stage string) {
	if s.metrics != nil {
		s.metrics.StagesStarted.WithLabelValues(stage).Inc()
	}
}

func (s *Stages) countStageCompleted(stage string, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.StagesCompleted.WithLabelValues(stage).Inc()
		s.metrics.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	}
}

func (s *Stages) countStageAborted(stage string) {
	if s.metrics != nil {
		s.metrics.StagesAborted.WithLabelValues(stage).Inc()
	}
}

func (s *Stages) countUnit(stage, outcome string) {
	if s.metrics != nil {
		s.metrics.UnitsProcessed.WithLabelValues(stage, outcome).Inc()
	}
}

func (s *Stages) countTokens(stage, model string, usage domain.Usage, cost float64) {
	if s.metrics != nil {
		s.metrics.LLMTokensUsed.WithLabelValues(stage, model, "input").Add(float64(usage.InputTokens))
		s.metrics.LLMTokensUsed.WithLabelValues(stage, model, "output").Add(float64(usage.OutputTokens))
		s.metrics.LLMCostUSD.WithLabelValues(model).Add(cost)
	}
}
