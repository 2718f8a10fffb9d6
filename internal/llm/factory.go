package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/helixir/report-pipeline-service/internal/domain"
)

// ClientConfig selects and configures a completion provider.
type ClientConfig struct {
	// Provider is the provider name ("anthropic" or "openai").
	Provider string
	// Anthropic holds Anthropic-specific settings.
	Anthropic AnthropicConfig
	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig
}

// NewClient creates the completion client for the configured provider.
func NewClient(cfg ClientConfig) (CompletionClient, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return NewAnthropicClient(cfg.Anthropic), nil
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAIClient(cfg.OpenAI), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// isTransient reports whether the error is worth retrying.
func isTransient(err error) bool {
	var apiErr *APICallError
	if errors.As(err, &apiErr) {
		return apiErr.IsTransient()
	}
	return false
}

// usageFromTokens builds a Usage with the total derived from its parts.
func usageFromTokens(input, output int) domain.Usage {
	return domain.Usage{
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  input + output,
	}
}
