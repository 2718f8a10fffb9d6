package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/helixir/report-pipeline-service/internal/domain"
	"github.com/helixir/report-pipeline-service/internal/llm"
	"github.com/helixir/report-pipeline-service/internal/observability"
)

// dedupUnit is one per-subtopic work unit: all claims sharing a subtopic.
type dedupUnit struct {
	topicName    string
	subtopicName string
	claims       []domain.Claim
}

// claimGroup is the wire shape of one duplicate group in the model's JSON
// output. Numbers refer to the 1-based ordinals of the prompt's claim list.
type claimGroup struct {
	Primary    int   `json:"primary"`
	Duplicates []int `json:"duplicates"`
}

// DedupResult is the output of the deduplication stage.
type DedupResult struct {
	// Tree holds the claims with near-duplicates folded into their primaries.
	Tree *domain.ResultTree `json:"tree"`
	// Stats is the stage accounting.
	Stats StageStats `json:"stats"`
}

// DeduplicateClaims runs the deduplication stage: one LLM call per subtopic
// holding two or more claims. The grouping oracle's duplicate references are
// resolved back to claims by ordinal position; unparsable or out-of-range
// references are dropped individually, and units that fail within the
// tolerance keep their claims ungrouped rather than losing them.
func (s *Stages) DeduplicateClaims(ctx context.Context, tree *domain.ResultTree, taxonomy domain.Taxonomy, model string, opts Options) (*DedupResult, error) {
	logger := observability.WithStageContext(observability.WithJobContext(s.logger, opts.JobID, opts.UserID), domain.StageDedup)

	var units []dedupUnit
	var passthrough []domain.Claim
	for _, topic := range taxonomy {
		node := tree.Topics[topic.Name]
		if node == nil {
			continue
		}
		for _, sub := range topic.Subtopics {
			subNode := node.Subtopics[sub.Name]
			if subNode == nil {
				continue
			}
			if len(subNode.Claims) < 2 {
				passthrough = append(passthrough, subNode.Claims...)
				continue
			}
			units = append(units, dedupUnit{topicName: topic.Name, subtopicName: sub.Name, claims: subNode.Claims})
		}
	}

	fn := func(ctx context.Context, unit dedupUnit) (unitOutput[[]domain.Claim], error) {
		system, user := buildDedupPrompt(unit.claims)
		s.countLLMRequest(domain.StageDedup, model)
		completion, err := s.client.Complete(ctx, llm.CompletionRequest{
			Model:  model,
			System: system,
			User:   user,
		})
		if err != nil {
			s.countLLMFailure(domain.StageDedup, model, err)
			return unitOutput[[]domain.Claim]{}, err
		}

		var groups []claimGroup
		if err := json.Unmarshal([]byte(stripCodeFences(completion.Text)), &groups); err != nil {
			parseErr := &llm.ParseError{Provider: s.client.Provider(), Cause: err}
			s.countLLMFailure(domain.StageDedup, model, parseErr)
			return unitOutput[[]domain.Claim]{}, parseErr
		}

		grouped := resolveGroups(unit.claims, groups, logger.With().
			Str("topic", unit.topicName).
			Str("subtopic", unit.subtopicName).
			Logger())
		return unitOutput[[]domain.Claim]{payload: grouped, model: model, usage: completion.Usage}, nil
	}

	results, stats, err := runUnits(ctx, s, domain.StageDedup, units, nil, fn, opts)
	if err != nil {
		return nil, err
	}

	deduped := domain.NewResultTree(taxonomy)
	for _, claim := range passthrough {
		deduped.Insert(claim)
	}
	for i, res := range results {
		if res.ok {
			for _, claim := range res.value.payload {
				deduped.Insert(claim)
			}
			continue
		}
		// Failed unit within tolerance: keep its claims ungrouped instead of
		// dropping a whole subtopic from the report.
		for _, claim := range units[i].claims {
			deduped.Insert(claim)
		}
	}

	logger.Info().
		Int("subtopics", len(units)).
		Int("claims", deduped.TotalClaims()).
		Int("failed", stats.Failed).
		Msg("deduplication completed")

	return &DedupResult{Tree: deduped, Stats: stats}, nil
}

// resolveGroups folds the oracle's ordinal references back onto the claim
// list. Each reference must parse, be in range, and be unused; invalid
// references are dropped individually, never failing the whole group. Claims
// not claimed by any group remain standalone primaries.
func resolveGroups(claims []domain.Claim, groups []claimGroup, logger zerolog.Logger) []domain.Claim {
	used := make([]bool, len(claims))
	out := make([]domain.Claim, 0, len(claims))

	for _, group := range groups {
		pi := group.Primary - 1
		if pi < 0 || pi >= len(claims) || used[pi] {
			logger.Warn().Int("primary", group.Primary).Msg("dropping group: invalid primary reference")
			continue
		}
		used[pi] = true
		primary := claims[pi]

		for _, dup := range group.Duplicates {
			di := dup - 1
			if di < 0 || di >= len(claims) || used[di] {
				logger.Warn().Int("duplicate", dup).Msg("dropping duplicate reference: out of range or already used")
				continue
			}
			used[di] = true
			primary.Duplicates = append(primary.Duplicates, claims[di])
		}
		out = append(out, primary)
	}

	for i, claim := range claims {
		if !used[i] {
			out = append(out, claim)
		}
	}
	return out
}
