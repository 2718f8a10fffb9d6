package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/report-pipeline-service/internal/domain"
	"github.com/helixir/report-pipeline-service/internal/llm"
)

// testModel has a pricing entry, so cost accounting succeeds in tests that do
// not exercise the unknown-model path.
const testModel = "gpt-4o-mini"

// stubClient is an in-process CompletionClient driven by a response function.
type stubClient struct {
	mu    sync.Mutex
	calls int
	fn    func(req llm.CompletionRequest) (*llm.Completion, error)
}

func (s *stubClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(req)
}

func (s *stubClient) Provider() string { return "stub" }

func (s *stubClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestStages(fn func(req llm.CompletionRequest) (*llm.Completion, error)) (*Stages, *stubClient) {
	client := &stubClient{fn: fn}
	return NewStages(client, zerolog.Nop(), nil), client
}

func completionWith(text string) *llm.Completion {
	return &llm.Completion{
		Text:  text,
		Model: testModel,
		Usage: domain.Usage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
	}
}

func pipelineTaxonomy() domain.Taxonomy {
	return domain.Taxonomy{
		{
			Name: "Pets",
			Subtopics: []domain.Subtopic{
				{Name: "Cats"},
				{Name: "Dogs"},
			},
		},
		{
			Name: "Wildlife",
			Subtopics: []domain.Subtopic{
				{Name: "Birds"},
			},
		},
	}
}

func comments(texts ...string) []domain.Comment {
	out := make([]domain.Comment, len(texts))
	for i, text := range texts {
		out[i] = domain.Comment{
			ID:        "c" + string(rune('1'+i)),
			SpeakerID: "s" + string(rune('1'+i)),
			Text:      text,
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// TestRunUnits_FailureThreshold
// ---------------------------------------------------------------------------

func TestRunUnits_FailureThreshold(t *testing.T) {
	t.Parallel()

	claimJSON := `[{"claim":"cats are great","quote":"cats","topic":"Pets","subtopic":"Cats"}]`

	t.Run("failures at exactly half are tolerated", func(t *testing.T) {
		t.Parallel()
		stages, _ := newTestStages(func(req llm.CompletionRequest) (*llm.Completion, error) {
			// Two of the four comments fail.
			if req.User == "bad one here" || req.User == "bad two here" {
				return nil, &llm.APICallError{Provider: "stub", StatusCode: 500, Message: "boom"}
			}
			return completionWith(claimJSON), nil
		})

		result, err := stages.ExtractClaims(context.Background(),
			comments("good one here", "bad one here", "good two here", "bad two here"),
			pipelineTaxonomy(), testModel, Options{Concurrency: 1})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Stats.Failed)
		assert.Equal(t, 4, result.Stats.Total)
		assert.Equal(t, 2, result.Tree.TotalClaims())
	})

	t.Run("failures above half abort the stage", func(t *testing.T) {
		t.Parallel()
		stages, _ := newTestStages(func(req llm.CompletionRequest) (*llm.Completion, error) {
			if req.User == "good one here" {
				return completionWith(claimJSON), nil
			}
			return nil, &llm.APICallError{Provider: "stub", StatusCode: 500, Message: "boom"}
		})

		_, err := stages.ExtractClaims(context.Background(),
			comments("good one here", "bad one here", "bad two here", "bad three"),
			pipelineTaxonomy(), testModel, Options{Concurrency: 1})
		require.Error(t, err)

		var systemic *domain.SystemicFailureError
		require.ErrorAs(t, err, &systemic)
		assert.Equal(t, 3, systemic.Failed)
		assert.Equal(t, 4, systemic.Total)
		assert.Contains(t, err.Error(), "3/4")
	})

	t.Run("custom threshold is honored", func(t *testing.T) {
		t.Parallel()
		stages, _ := newTestStages(func(req llm.CompletionRequest) (*llm.Completion, error) {
			if req.User == "bad one here" {
				return nil, &llm.APICallError{Provider: "stub", StatusCode: 500, Message: "boom"}
			}
			return completionWith(claimJSON), nil
		})

		// One failure out of four breaches a 0.2 threshold.
		_, err := stages.ExtractClaims(context.Background(),
			comments("good one here", "bad one here", "good two here", "good tre"),
			pipelineTaxonomy(), testModel, Options{Concurrency: 1, FailureThreshold: 0.2})
		require.Error(t, err)
		var systemic *domain.SystemicFailureError
		assert.ErrorAs(t, err, &systemic)
	})
}

// ---------------------------------------------------------------------------
// TestRunUnits_CostAccounting
// ---------------------------------------------------------------------------

func TestRunUnits_CostAccounting(t *testing.T) {
	t.Parallel()

	claimJSON := `[{"claim":"cats are great","quote":"cats","topic":"Pets","subtopic":"Cats"}]`

	t.Run("usage and cost are summed over successful units", func(t *testing.T) {
		t.Parallel()
		stages, _ := newTestStages(func(req llm.CompletionRequest) (*llm.Completion, error) {
			return completionWith(claimJSON), nil
		})

		result, err := stages.ExtractClaims(context.Background(),
			comments("good one here", "good two here"),
			pipelineTaxonomy(), testModel, Options{})
		require.NoError(t, err)
		assert.Equal(t, 200, result.Stats.Usage.InputTokens)
		assert.Equal(t, 40, result.Stats.Usage.OutputTokens)
		// gpt-4o-mini: $0.15/MTok input, $0.60/MTok output.
		assert.InDelta(t, 200*0.15/1e6+40*0.60/1e6, result.Stats.Cost, 1e-12)
	})

	t.Run("unknown model is stage fatal", func(t *testing.T) {
		t.Parallel()
		stages, _ := newTestStages(func(req llm.CompletionRequest) (*llm.Completion, error) {
			return &llm.Completion{
				Text:  claimJSON,
				Model: "mystery-model",
				Usage: domain.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
			}, nil
		})

		_, err := stages.ExtractClaims(context.Background(),
			comments("good one here"),
			pipelineTaxonomy(), "mystery-model", Options{})
		require.Error(t, err)
		var unknown *llm.UnknownModelError
		assert.ErrorAs(t, err, &unknown)
	})
}
