package pipeline

import (
	"context"
	"strings"

	"github.com/helixir/report-pipeline-service/internal/domain"
	"github.com/helixir/report-pipeline-service/internal/llm"
	"github.com/helixir/report-pipeline-service/internal/observability"
)

// summaryUnit is one per-topic work unit.
type summaryUnit struct {
	topicName string
	claims    []domain.Claim
}

// SummariesResult is the output of the summarization stage.
type SummariesResult struct {
	// Summaries holds one entry per topic that received claims, in the
	// report's sort order.
	Summaries []domain.TopicSummary `json:"summaries"`
	// Stats is the stage accounting.
	Stats StageStats `json:"stats"`
}

// SummarizeTopics runs the summarization stage: one LLM call per topic with
// at least one claim. Topics without claims are skipped; they stay visible in
// the tree but get no narrative.
func (s *Stages) SummarizeTopics(ctx context.Context, tree *domain.ResultTree, model string, opts Options) (*SummariesResult, error) {
	logger := observability.WithStageContext(observability.WithJobContext(s.logger, opts.JobID, opts.UserID), domain.StageSummaries)

	var units []summaryUnit
	for _, topicName := range tree.TopicNames(opts.sortBy()) {
		node := tree.Topics[topicName]
		if node == nil || node.Total == 0 {
			continue
		}
		var claims []domain.Claim
		for _, subName := range tree.SubtopicNames(topicName, opts.sortBy()) {
			claims = append(claims, node.Subtopics[subName].Claims...)
		}
		units = append(units, summaryUnit{topicName: topicName, claims: claims})
	}

	fn := func(ctx context.Context, unit summaryUnit) (unitOutput[domain.TopicSummary], error) {
		system, user := buildSummaryPrompt(unit.topicName, unit.claims)
		s.countLLMRequest(domain.StageSummaries, model)
		completion, err := s.client.Complete(ctx, llm.CompletionRequest{
			Model:  model,
			System: system,
			User:   user,
		})
		if err != nil {
			s.countLLMFailure(domain.StageSummaries, model, err)
			return unitOutput[domain.TopicSummary]{}, err
		}
		summary := domain.TopicSummary{
			TopicName: unit.topicName,
			Summary:   strings.TrimSpace(completion.Text),
		}
		return unitOutput[domain.TopicSummary]{payload: summary, model: model, usage: completion.Usage}, nil
	}

	results, stats, err := runUnits(ctx, s, domain.StageSummaries, units, nil, fn, opts)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.TopicSummary, 0, len(results))
	for _, res := range results {
		if res.ok {
			summaries = append(summaries, res.value.payload)
		}
	}

	logger.Info().
		Int("topics", len(units)).
		Int("summaries", len(summaries)).
		Int("failed", stats.Failed).
		Msg("summarization completed")

	return &SummariesResult{Summaries: summaries, Stats: stats}, nil
}
