package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/helixir/report-pipeline-service/internal/domain"
	"github.com/helixir/report-pipeline-service/internal/llm"
	"github.com/helixir/report-pipeline-service/internal/observability"
)

// extractedClaim is the wire shape of one claim in the model's JSON output.
type extractedClaim struct {
	Claim    string `json:"claim"`
	Quote    string `json:"quote"`
	Topic    string `json:"topic"`
	Subtopic string `json:"subtopic"`
}

// ClaimsResult is the output of the claim extraction stage.
type ClaimsResult struct {
	// Tree holds the validated claims folded into the taxonomy shape.
	Tree *domain.ResultTree `json:"tree"`
	// Dropped counts claims discarded because the model invented categories.
	Dropped int `json:"dropped"`
	// Stats is the stage accounting.
	Stats StageStats `json:"stats"`
}

// ExtractClaims runs the claim extraction stage: one LLM call per comment,
// bounded fan-out, taxonomy validation, and tree assembly.
func (s *Stages) ExtractClaims(ctx context.Context, comments []domain.Comment, taxonomy domain.Taxonomy, model string, opts Options) (*ClaimsResult, error) {
	if err := taxonomy.Validate(); err != nil {
		return nil, err
	}
	logger := observability.WithStageContext(observability.WithJobContext(s.logger, opts.JobID, opts.UserID), domain.StageClaims)

	minRunes := opts.minCommentRunes()
	filter := func(c domain.Comment) bool { return meaningfulComment(c, minRunes) }

	fn := func(ctx context.Context, comment domain.Comment) (unitOutput[[]domain.Claim], error) {
		system, user := buildClaimsPrompt(taxonomy, comment)
		s.countLLMRequest(domain.StageClaims, model)
		completion, err := s.client.Complete(ctx, llm.CompletionRequest{
			Model:  model,
			System: system,
			User:   user,
		})
		if err != nil {
			s.countLLMFailure(domain.StageClaims, model, err)
			return unitOutput[[]domain.Claim]{}, err
		}

		var extracted []extractedClaim
		if err := json.Unmarshal([]byte(stripCodeFences(completion.Text)), &extracted); err != nil {
			parseErr := &llm.ParseError{Provider: s.client.Provider(), Cause: err}
			s.countLLMFailure(domain.StageClaims, model, parseErr)
			return unitOutput[[]domain.Claim]{}, parseErr
		}

		claims := make([]domain.Claim, 0, len(extracted))
		for _, e := range extracted {
			if strings.TrimSpace(e.Claim) == "" {
				continue
			}
			claims = append(claims, domain.Claim{
				Text:         e.Claim,
				Quote:        e.Quote,
				TopicName:    e.Topic,
				SubtopicName: e.Subtopic,
				SpeakerID:    comment.SpeakerID,
				CommentID:    comment.ID,
			})
		}
		return unitOutput[[]domain.Claim]{payload: claims, model: model, usage: completion.Usage}, nil
	}

	results, stats, err := runUnits(ctx, s, domain.StageClaims, comments, filter, fn, opts)
	if err != nil {
		return nil, err
	}

	var all []domain.Claim
	for _, res := range results {
		if res.ok {
			all = append(all, res.value.payload...)
		}
	}

	tree, dropped := s.assembleTree(taxonomy, all, domain.StageClaims, logger)
	logger.Info().
		Int("comments", len(comments)).
		Int("claims", tree.TotalClaims()).
		Int("filtered", stats.Filtered).
		Int("failed", stats.Failed).
		Int("dropped", dropped).
		Msg("claim extraction completed")

	return &ClaimsResult{Tree: tree, Dropped: dropped, Stats: stats}, nil
}

// meaningfulComment reports whether a comment is worth an LLM call: long
// enough after trimming and containing at least one letter or digit.
func meaningfulComment(c domain.Comment, minRunes int) bool {
	text := strings.TrimSpace(c.Text)
	if utf8.RuneCountInString(text) < minRunes {
		return false
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// stripCodeFences removes a surrounding markdown code fence, which models
// sometimes wrap JSON output in despite instructions.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func (s *Stages) countLLMRequest(stage, model string) {
	if s.metrics != nil {
		s.metrics.LLMRequestsTotal.WithLabelValues(stage, model).Inc()
	}
}

func (s *Stages) countLLMFailure(stage, model string, err error) {
	if s.metrics != nil {
		s.metrics.LLMRequestsFailed.WithLabelValues(stage, model, errorType(err)).Inc()
	}
}

// errorType maps collaborator errors to a low-cardinality metric label.
func errorType(err error) string {
	var apiErr *llm.APICallError
	var emptyErr *llm.EmptyResponseError
	var parseErr *llm.ParseError
	switch {
	case errors.As(err, &apiErr):
		return "api_call_failed"
	case errors.As(err, &emptyErr):
		return "empty_response"
	case errors.As(err, &parseErr):
		return "parse_failed"
	default:
		return "other"
	}
}
