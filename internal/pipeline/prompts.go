package pipeline

import (
	"fmt"
	"strings"

	"github.com/helixir/report-pipeline-service/internal/domain"
)

// renderTaxonomy formats the taxonomy for inclusion in stage instructions.
func renderTaxonomy(taxonomy domain.Taxonomy) string {
	var b strings.Builder
	for _, topic := range taxonomy {
		fmt.Fprintf(&b, "- %s: %s\n", topic.Name, topic.Description)
		for _, sub := range topic.Subtopics {
			fmt.Fprintf(&b, "  - %s: %s\n", sub.Name, sub.Description)
		}
	}
	return b.String()
}

// buildClaimsPrompt produces the instructions and input for one claim
// extraction call.
func buildClaimsPrompt(taxonomy domain.Taxonomy, comment domain.Comment) (system, user string) {
	system = `You extract concise claims from a public comment and classify each one
into a fixed taxonomy of topics and subtopics.

Taxonomy:
` + renderTaxonomy(taxonomy) + `
Respond with a JSON array only. Each element must be an object with keys
"claim" (a single concise assertion), "quote" (the verbatim supporting excerpt
from the comment), "topic" and "subtopic" (names taken exactly from the
taxonomy above). Return [] when the comment contains no extractable claims.`
	user = comment.Text
	return system, user
}

// buildDedupPrompt produces the instructions and input for one per-subtopic
// deduplication call over a numbered claim list.
func buildDedupPrompt(claims []domain.Claim) (system, user string) {
	system = `You group near-duplicate claims. The input is a numbered list of claims
from the same subtopic.

Respond with a JSON array only. Each element must be an object with keys
"primary" (the number of the claim that best represents its group) and
"duplicates" (an array of numbers for claims that restate the primary).
Claims that are not duplicates of anything must not appear in any group.`

	var b strings.Builder
	for i, claim := range claims {
		fmt.Fprintf(&b, "%d. %s\n", i+1, claim.Text)
	}
	user = b.String()
	return system, user
}

// buildSummaryPrompt produces the instructions and input for one per-topic
// summarization call.
func buildSummaryPrompt(topic string, claims []domain.Claim) (system, user string) {
	system = `You write a short neutral summary of the claims raised under one topic of a
public consultation. Mention the main themes and notable disagreements. Write
one paragraph of plain prose with no preamble.`

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nClaims:\n", topic)
	for _, claim := range claims {
		fmt.Fprintf(&b, "- %s", claim.Text)
		if n := len(claim.Duplicates); n > 0 {
			fmt.Fprintf(&b, " (raised by %d speakers)", n+1)
		}
		b.WriteString("\n")
	}
	user = b.String()
	return system, user
}
