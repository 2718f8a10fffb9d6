package cache

import "fmt"

// ConnectionError indicates that the store could not be reached, either at
// construction or during an operation's retries.
type ConnectionError struct {
	Addr  string
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cache: connection to %s failed: %v", e.Addr, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// GetError indicates a failed read for a specific key.
type GetError struct {
	Key   string
	Cause error
}

// Error implements the error interface.
func (e *GetError) Error() string {
	return fmt.Sprintf("cache: get %q: %v", e.Key, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *GetError) Unwrap() error {
	return e.Cause
}

// SetError indicates a failed write for a specific key.
type SetError struct {
	Key   string
	Cause error
}

// Error implements the error interface.
func (e *SetError) Error() string {
	return fmt.Sprintf("cache: set %q: %v", e.Key, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *SetError) Unwrap() error {
	return e.Cause
}

// DeleteError indicates a failed delete for a specific key.
type DeleteError struct {
	Key   string
	Cause error
}

// Error implements the error interface.
func (e *DeleteError) Error() string {
	return fmt.Sprintf("cache: delete %q: %v", e.Key, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *DeleteError) Unwrap() error {
	return e.Cause
}
