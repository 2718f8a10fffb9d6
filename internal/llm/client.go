// Package llm provides the completion collaborator used by every pipeline
// stage: one system-instructed call per work unit, returning output text and
// token usage. Providers speak their HTTP APIs directly and retry transient
// failures with exponential backoff.
package llm

import (
	"context"

	"github.com/helixir/report-pipeline-service/internal/domain"
)

// CompletionRequest is a single completion call.
type CompletionRequest struct {
	// Model is the provider model identifier.
	Model string
	// System carries the stage's instructions.
	System string
	// User carries the unit input.
	User string
	// MaxTokens bounds the response length. Zero applies the provider default.
	MaxTokens int
}

// Completion is the result of one completion call.
type Completion struct {
	// Text is the model's output.
	Text string
	// Model is the model that actually served the request.
	Model string
	// Usage is the token consumption reported by the provider.
	Usage domain.Usage
}

// CompletionClient is implemented by each LLM provider.
type CompletionClient interface {
	// Complete performs one completion call. Failures are classified as
	// *APICallError (transport or API failure), *EmptyResponseError (no
	// content returned), or *ParseError (malformed structured output).
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)

	// Provider returns the provider name.
	Provider() string
}
