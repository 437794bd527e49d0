package store

import "errors"

var (
	// ErrNotFound indicates the goal or task ID is unknown
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates the operation is not permitted in the current status
	ErrInvalidState = errors.New("invalid state")

	// ErrCyclicDependency indicates the change would close a dependency cycle
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrInvalidDependency indicates a dependency references a missing task or
	// a task of another goal
	ErrInvalidDependency = errors.New("invalid dependency")

	// ErrDuplicateID indicates the goal or task ID already exists
	ErrDuplicateID = errors.New("duplicate id")

	// ErrRetriesExhausted indicates the task has no retry budget left
	ErrRetriesExhausted = errors.New("retries exhausted")
)
