// Package subproblem defines the contract of the per-scenario proximal solver
// used by every progressive hedging engine, and ships an ADMM quadratic
// programming backend implementing it.
package subproblem

import (
	"context"
	"errors"
	"fmt"

	"github.com/san-kum/phedge/internal/problem"
)

var (
	// ErrInfeasible indicates the scenario's feasible set is empty.
	ErrInfeasible = errors.New("subproblem: scenario infeasible")

	// ErrSolverFailure indicates the backend stopped without a solution.
	ErrSolverFailure = errors.New("subproblem: solver failure")
)

// Error attaches the scenario to a solver failure.
type Error struct {
	Scenario int
	Wrapped  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("scenario %d: %v", e.Scenario, e.Wrapped)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Solver computes
//
//	argmin_y  f_s(y) + penalty/2 · ‖y − target‖²
//
// over the feasible set of scenario s. A Solver may keep per-scenario warm
// start state; callers that solve concurrently use one Solver per goroutine
// unless the implementation says otherwise.
type Solver interface {
	Solve(ctx context.Context, pb *problem.Problem, scenario int, target []float64, penalty float64) ([]float64, error)
}

// SolverFunc adapts a function to Solver.
type SolverFunc func(ctx context.Context, pb *problem.Problem, scenario int, target []float64, penalty float64) ([]float64, error)

func (f SolverFunc) Solve(ctx context.Context, pb *problem.Problem, scenario int, target []float64, penalty float64) ([]float64, error) {
	return f(ctx, pb, scenario, target, penalty)
}

// Factory builds the solver owned by one worker.
type Factory func(worker int) (Solver, error)

// Shared returns a factory handing the same solver to every worker.
func Shared(s Solver) Factory {
	return func(int) (Solver, error) { return s, nil }
}

// Preparer is implemented by solvers that set up per-scenario state ahead of
// the first solve. Worker pools call it while bootstrapping.
type Preparer interface {
	Prepare(ctx context.Context, pb *problem.Problem, penalty float64) error
}
