package planq

import (
	"errors"
	"fmt"
)

var (
	// ErrEntityNotFound is returned by store lookups when no record matches
	// the key. It is never retried.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidRequest marks a malformed filter or order specification.
	// Such requests are rejected before touching the store and never retried.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrPoolTerminating is returned by Pool.Submit once termination has
	// begun; the pool no longer accepts new work.
	ErrPoolTerminating = errors.New("pool is terminating")

	// ErrActionNotFound is returned when a work item names an action with no
	// registered handler.
	ErrActionNotFound = errors.New("action handler not found")
)

// PersistenceError wraps the final cause after the retry ceiling for a store
// operation has been exhausted.
type PersistenceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %d attempts exhausted: %v", e.Op, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
