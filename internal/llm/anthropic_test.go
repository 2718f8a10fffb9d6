package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnthropicClient(baseURL string, maxRetries int) *AnthropicClient {
	return NewAnthropicClient(AnthropicConfig{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
		RateLimit:  1000,
		RateBurst:  1000,
	})
}

// ---------------------------------------------------------------------------
// TestAnthropicClient_Complete
// ---------------------------------------------------------------------------

func TestAnthropicClient_Complete(t *testing.T) {
	t.Parallel()

	t.Run("successful completion", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/messages", r.URL.Path)
			assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
			assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

			var req messagesRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "claude-3-5-sonnet-20241022", req.Model)
			assert.Equal(t, "system prompt", req.System)
			require.Len(t, req.Messages, 1)
			assert.Equal(t, "user prompt", req.Messages[0].Content)
			assert.Equal(t, defaultAnthropicMaxTokens, req.MaxTokens)

			writeJSONResponse(t, w, http.StatusOK, messagesResponse{
				ID:      "msg_123",
				Model:   "claude-3-5-sonnet-20241022",
				Content: []contentBlock{{Type: "text", Text: "hello from the model"}},
				Usage:   anthropicUsage{InputTokens: 12, OutputTokens: 7},
			})
		}))
		defer srv.Close()

		client := newTestAnthropicClient(srv.URL, 0)
		completion, err := client.Complete(context.Background(), CompletionRequest{
			Model:  "claude-3-5-sonnet-20241022",
			System: "system prompt",
			User:   "user prompt",
		})
		require.NoError(t, err)
		assert.Equal(t, "hello from the model", completion.Text)
		assert.Equal(t, 12, completion.Usage.InputTokens)
		assert.Equal(t, 7, completion.Usage.OutputTokens)
		assert.Equal(t, 19, completion.Usage.TotalTokens)
	})

	t.Run("retries transient errors then succeeds", func(t *testing.T) {
		t.Parallel()
		var calls int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt64(&calls, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			writeJSONResponse(t, w, http.StatusOK, messagesResponse{
				Content: []contentBlock{{Type: "text", Text: "recovered"}},
			})
		}))
		defer srv.Close()

		client := newTestAnthropicClient(srv.URL, 3)
		completion, err := client.Complete(context.Background(), CompletionRequest{Model: "m", User: "u"})
		require.NoError(t, err)
		assert.Equal(t, "recovered", completion.Text)
		assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		t.Parallel()
		var calls int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt64(&calls, 1)
			writeJSONResponse(t, w, http.StatusUnauthorized, map[string]interface{}{
				"type": "error",
				"error": map[string]string{
					"type":    "authentication_error",
					"message": "invalid x-api-key",
				},
			})
		}))
		defer srv.Close()

		client := newTestAnthropicClient(srv.URL, 3)
		_, err := client.Complete(context.Background(), CompletionRequest{Model: "m", User: "u"})
		require.Error(t, err)

		var apiErr *APICallError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Equal(t, "authentication_error", apiErr.Type)
		assert.Equal(t, "invalid x-api-key", apiErr.Message)
		assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	})

	t.Run("retry exhaustion wraps the last error", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		client := newTestAnthropicClient(srv.URL, 2)
		_, err := client.Complete(context.Background(), CompletionRequest{Model: "m", User: "u"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retries exhausted")

		var apiErr *APICallError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	})

	t.Run("empty content is an error", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSONResponse(t, w, http.StatusOK, messagesResponse{Content: []contentBlock{}})
		}))
		defer srv.Close()

		client := newTestAnthropicClient(srv.URL, 0)
		_, err := client.Complete(context.Background(), CompletionRequest{Model: "m", User: "u"})
		require.Error(t, err)
		var emptyErr *EmptyResponseError
		assert.ErrorAs(t, err, &emptyErr)
	})
}

func writeJSONResponse(t *testing.T, w http.ResponseWriter, status int, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}
