package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// chatRequest is the request body for the OpenAI Chat Completions API.
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

// chatMessage represents a single message in the Chat Completions API.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the response body from the Chat Completions API.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// openaiErrorResponse wraps the error payload from the OpenAI API.
type openaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// OpenAIClient implements CompletionClient using the OpenAI Chat Completions API.
type OpenAIClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	apiKey     string
	baseURL    string
	maxRetries int
	retryDelay time.Duration
}

// OpenAIConfig holds the parameters needed to create an OpenAI client.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// BaseURL is the API base URL (e.g., "https://api.openai.com/v1").
	BaseURL string
	// Timeout bounds each HTTP call.
	Timeout time.Duration
	// MaxRetries bounds transient-error retries.
	MaxRetries int
	// RetryDelay is the base delay for exponential backoff between retries.
	RetryDelay time.Duration
	// RateLimit is the sustained request rate per second; RateBurst the burst.
	RateLimit float64
	RateBurst int
}

// NewOpenAIClient creates an OpenAIClient with the given configuration.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	return &OpenAIClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// Provider returns the provider name.
func (c *OpenAIClient) Provider() string {
	return "openai"
}

// Complete sends one completion call to the OpenAI Chat Completions API,
// retrying transient errors with exponential backoff.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	apiReq := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens: req.MaxTokens,
	}

	var resp *chatResponse
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("openai: context cancelled during retry: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("openai: rate limiter wait: %w", err)
		}

		resp, lastErr = c.sendRequest(ctx, apiReq)
		if lastErr == nil {
			break
		}

		if !isTransient(lastErr) {
			return nil, lastErr
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("openai: all %d retries exhausted: %w", c.maxRetries, lastErr)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, &EmptyResponseError{Provider: "openai", Model: req.Model}
	}

	return &Completion{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: usageFromTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}

// sendRequest sends a single request to the Chat Completions API.
func (c *OpenAIClient) sendRequest(ctx context.Context, apiReq chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &APICallError{
			Provider:   "openai",
			StatusCode: 0,
			Message:    fmt.Sprintf("request failed: %v", err),
			Type:       "network_error",
		}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, &APICallError{
			Provider:   "openai",
			StatusCode: 0,
			Message:    fmt.Sprintf("failed to read response body: %v", err),
			Type:       "network_error",
		}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseOpenAIAPIError(httpResp.StatusCode, respBody)
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &ParseError{Provider: "openai", Cause: err}
	}

	return &resp, nil
}

// parseOpenAIAPIError parses an OpenAI API error from the response status code and body.
func parseOpenAIAPIError(statusCode int, body []byte) *APICallError {
	apiErr := &APICallError{
		Provider:   "openai",
		StatusCode: statusCode,
		Message:    string(body),
	}

	var errResp openaiErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Type = errResp.Error.Type
	}

	return apiErr
}
