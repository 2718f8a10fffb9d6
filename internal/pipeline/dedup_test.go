package pipeline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/report-pipeline-service/internal/domain"
	"github.com/helixir/report-pipeline-service/internal/llm"
)

func seededTree(claims ...domain.Claim) *domain.ResultTree {
	tree := domain.NewResultTree(pipelineTaxonomy())
	for _, claim := range claims {
		tree.Insert(claim)
	}
	return tree
}

func catClaim(text, speaker string) domain.Claim {
	return domain.Claim{Text: text, TopicName: "Pets", SubtopicName: "Cats", SpeakerID: speaker}
}

// ---------------------------------------------------------------------------
// TestStages_DeduplicateClaims
// ---------------------------------------------------------------------------

func TestStages_DeduplicateClaims(t *testing.T) {
	t.Parallel()

	t.Run("folds duplicates into their primary", func(t *testing.T) {
		t.Parallel()
		stages, _ := newTestStages(func(req llm.CompletionRequest) (*llm.Completion, error) {
			return completionWith(`[{"primary":1,"duplicates":[2,3]}]`), nil
		})

		tree := seededTree(
			catClaim("cats are great", "s1"),
			catClaim("cats are wonderful", "s2"),
			catClaim("I love cats", "s3"),
		)
		result, err := stages.DeduplicateClaims(context.Background(), tree, pipelineTaxonomy(), testModel, Options{})
		require.NoError(t, err)

		claims := result.Tree.Topics["Pets"].Subtopics["Cats"].Claims
		require.Len(t, claims, 1)
		assert.Equal(t, "cats are great", claims[0].Text)
		require.Len(t, claims[0].Duplicates, 2)
		// Weight counts the folded duplicates.
		assert.Equal(t, 3, result.Tree.Topics["Pets"].Subtopics["Cats"].Total)
	})

	t.Run("subtopics with fewer than two claims skip the LLM", func(t *testing.T) {
		t.Parallel()
		stages, client := newTestStages(func(req llm.CompletionRequest) (*llm.Completion, error) {
			return completionWith(`[]`), nil
		})

		tree := seededTree(
			catClaim("cats are great", "s1"),
			domain.Claim{Text: "birds sing", TopicName: "Wildlife", SubtopicName: "Birds", SpeakerID: "s2"},
		)
		result, err := stages.DeduplicateClaims(context.Background(), tree, pipelineTaxonomy(), testModel, Options{})
		require.NoError(t, err)
		assert.Zero(t, client.callCount())
		assert.Equal(t, 2, result.Tree.TotalClaims())
		assert.Zero(t, result.Stats.Total)
	})

	t.Run("failed unit keeps its claims ungrouped", func(t *testing.T) {
		t.Parallel()
		stages, _ := newTestStages(func(req llm.CompletionRequest) (*llm.Completion, error) {
			return nil, &llm.APICallError{Provider: "stub", StatusCode: 500, Message: "boom"}
		})

		tree := seededTree(
			catClaim("cats are great", "s1"),
			catClaim("cats are wonderful", "s2"),
		)
		// One unit, one failure: 1/1 > 0.5 would abort, so tolerate everything.
		result, err := stages.DeduplicateClaims(context.Background(), tree, pipelineTaxonomy(), testModel,
			Options{FailureThreshold: 1.0})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Stats.Failed)

		claims := result.Tree.Topics["Pets"].Subtopics["Cats"].Claims
		assert.Len(t, claims, 2, "original claims survive the failed grouping call")
	})

	t.Run("unparsable grouping output counts as a unit failure", func(t *testing.T) {
		t.Parallel()
		stages, _ := newTestStages(func(req llm.CompletionRequest) (*llm.Completion, error) {
			return completionWith("claims 1 and 2 look similar"), nil
		})

		tree := seededTree(
			catClaim("cats are great", "s1"),
			catClaim("cats are wonderful", "s2"),
		)
		result, err := stages.DeduplicateClaims(context.Background(), tree, pipelineTaxonomy(), testModel,
			Options{FailureThreshold: 1.0})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Stats.Failed)
		assert.Equal(t, 2, result.Tree.TotalClaims())
	})
}

// ---------------------------------------------------------------------------
// TestResolveGroups
// ---------------------------------------------------------------------------

func TestResolveGroups(t *testing.T) {
	t.Parallel()

	claims := []domain.Claim{
		{Text: "a", SpeakerID: "s1"},
		{Text: "b", SpeakerID: "s2"},
		{Text: "c", SpeakerID: "s3"},
		{Text: "d", SpeakerID: "s4"},
	}

	t.Run("groups and standalone claims", func(t *testing.T) {
		t.Parallel()
		out := resolveGroups(claims, []claimGroup{
			{Primary: 1, Duplicates: []int{3}},
		}, zerolog.Nop())

		require.Len(t, out, 3)
		assert.Equal(t, "a", out[0].Text)
		require.Len(t, out[0].Duplicates, 1)
		assert.Equal(t, "c", out[0].Duplicates[0].Text)
		// b and d stay standalone.
		assert.Equal(t, "b", out[1].Text)
		assert.Equal(t, "d", out[2].Text)
	})

	t.Run("invalid primary drops the whole group", func(t *testing.T) {
		t.Parallel()
		out := resolveGroups(claims, []claimGroup{
			{Primary: 99, Duplicates: []int{2}},
		}, zerolog.Nop())

		// Nothing grouped; every claim remains standalone.
		require.Len(t, out, 4)
		for _, claim := range out {
			assert.Empty(t, claim.Duplicates)
		}
	})

	t.Run("out-of-range duplicate is dropped individually", func(t *testing.T) {
		t.Parallel()
		out := resolveGroups(claims, []claimGroup{
			{Primary: 1, Duplicates: []int{0, 2, 99}},
		}, zerolog.Nop())

		require.Len(t, out, 3)
		require.Len(t, out[0].Duplicates, 1)
		assert.Equal(t, "b", out[0].Duplicates[0].Text)
	})

	t.Run("a claim cannot appear in two groups", func(t *testing.T) {
		t.Parallel()
		out := resolveGroups(claims, []claimGroup{
			{Primary: 1, Duplicates: []int{2}},
			{Primary: 3, Duplicates: []int{2}},
		}, zerolog.Nop())

		require.Len(t, out, 3)
		assert.Len(t, out[0].Duplicates, 1)
		assert.Empty(t, out[1].Duplicates, "second group's reused reference is dropped")
	})

	t.Run("primary reused as duplicate is dropped", func(t *testing.T) {
		t.Parallel()
		out := resolveGroups(claims, []claimGroup{
			{Primary: 1, Duplicates: []int{2}},
			{Primary: 1, Duplicates: []int{3}},
		}, zerolog.Nop())

		// Second group's primary is already used, so that group is dropped and
		// claim c stays standalone.
		require.Len(t, out, 3)
		texts := []string{out[0].Text, out[1].Text, out[2].Text}
		assert.Equal(t, []string{"a", "c", "d"}, texts)
	})

	t.Run("empty groups leave claims untouched", func(t *testing.T) {
		t.Parallel()
		out := resolveGroups(claims, nil, zerolog.Nop())
		require.Len(t, out, 4)
	})
}
