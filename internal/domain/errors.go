package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrJobAlreadyClaimed indicates that another worker holds the job lock.
	ErrJobAlreadyClaimed = errors.New("job already claimed")

	// ErrLockLost indicates that the job lock expired or was taken over while
	// work was in progress.
	ErrLockLost = errors.New("job lock lost")

	// ErrServiceUnavailable indicates that an external collaborator is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// SystemicFailureError reports that a stage's unit failure rate breached its
// abort threshold, signalling an upstream or systemic problem rather than
// isolated noise. It aborts the whole stage with no partial output.
type SystemicFailureError struct {
	Stage     string
	Failed    int
	Total     int
	Threshold float64
}

// Error implements the error interface.
func (e *SystemicFailureError) Error() string {
	rate := 0.0
	if e.Total > 0 {
		rate = float64(e.Failed) / float64(e.Total)
	}
	return fmt.Sprintf("stage %s: %d/%d units failed (%.1f%%), above threshold %.0f%%",
		e.Stage, e.Failed, e.Total, rate*100, e.Threshold*100)
}

// NewSystemicFailureError creates a new SystemicFailureError.
func NewSystemicFailureError(stage string, failed, total int, threshold float64) *SystemicFailureError {
	return &SystemicFailureError{
		Stage:     stage,
		Failed:    failed,
		Total:     total,
		Threshold: threshold,
	}
}
