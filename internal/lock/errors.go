package lock

import "fmt"

// StateUnknownError indicates a connectivity failure during a lock operation.
// The lock may or may not be held; callers must not treat this as "not held".
type StateUnknownError struct {
	Op    string
	Key   string
	Cause error
}

// Error implements the error interface.
func (e *StateUnknownError) Error() string {
	return fmt.Sprintf("lock state unknown: %s %q: %v", e.Op, e.Key, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StateUnknownError) Unwrap() error {
	return e.Cause
}
