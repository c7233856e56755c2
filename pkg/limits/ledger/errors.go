package ledger

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by stores and recorders used after Close.
var ErrClosed = errors.New("ledger closed")

// StoreError is an error from a storage backend.
type StoreError struct {
	Backend   string // "memory", "sqlite"
	Operation string // "append", "query", "prune", ...
	Cause     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("ledger storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

func newStoreError(backend, operation string, cause error) *StoreError {
	return &StoreError{Backend: backend, Operation: operation, Cause: cause}
}
