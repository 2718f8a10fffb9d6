package llm

import (
	"fmt"
	"net/http"
)

// APICallError represents a failed call to an LLM provider API.
type APICallError struct {
	// Provider is the name of the LLM provider (e.g., "openai", "anthropic").
	Provider string
	// StatusCode is the HTTP status code returned by the API. Zero means no
	// HTTP response was received.
	StatusCode int
	// Message is the error message from the API.
	Message string
	// Type is the error type classification from the API.
	Type string
}

// Error implements the error interface.
func (e *APICallError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: API call failed (status %d, type %s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: API call failed (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsTransient returns true if the error may succeed on retry. This includes
// rate limiting (429), server errors (5xx), and network errors (StatusCode 0).
func (e *APICallError) IsTransient() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// EmptyResponseError indicates the provider returned a response with no
// usable content.
type EmptyResponseError struct {
	Provider string
	Model    string
}

// Error implements the error interface.
func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("%s: model %s returned an empty response", e.Provider, e.Model)
}

// ParseError indicates the provider returned content that could not be
// decoded into the expected structured output.
type ParseError struct {
	Provider string
	Cause    error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: failed to parse response: %v", e.Provider, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// UnknownModelError indicates a model name missing from the price table.
// Cost accounting treats this as fatal rather than silently reporting zero.
type UnknownModelError struct {
	Model string
}

// Error implements the error interface.
func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("no pricing entry for model %q", e.Model)
}
