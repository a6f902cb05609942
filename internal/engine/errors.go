package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOptions indicates an option outside its valid range.
	ErrInvalidOptions = errors.New("engine: invalid options")

	// ErrWorkerUnavailable indicates a worker stopped answering or crashed.
	ErrWorkerUnavailable = errors.New("engine: worker unavailable")

	// ErrBootstrap indicates the worker pool could not be set up.
	ErrBootstrap = errors.New("engine: worker bootstrap failed")
)

// SolveError records where a solve stopped on an error. The result returned
// alongside it holds the last valid iterate.
type SolveError struct {
	Algorithm string
	Iteration int
	Wrapped   error
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("%s: iteration %d: %v", e.Algorithm, e.Iteration, e.Wrapped)
}

func (e *SolveError) Unwrap() error {
	return e.Wrapped
}
