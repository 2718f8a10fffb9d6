package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	jobIDKey     contextKey = "job_id"
	userIDKey    contextKey = "user_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithJob adds job and user IDs to the context.
func WithJob(ctx context.Context, jobID, userID string) context.Context {
	ctx = context.WithValue(ctx, jobIDKey, jobID)
	ctx = context.WithValue(ctx, userIDKey, userID)
	return ctx
}

// JobFromContext retrieves job and user IDs from context.
// Returns empty strings if not present.
func JobFromContext(ctx context.Context) (jobID, userID string) {
	if v := ctx.Value(jobIDKey); v != nil {
		if id, ok := v.(string); ok {
			jobID = id
		}
	}
	if v := ctx.Value(userIDKey); v != nil {
		if id, ok := v.(string); ok {
			userID = id
		}
	}
	return jobID, userID
}
