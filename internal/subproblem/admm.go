package subproblem

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/san-kum/phedge/internal/problem"
)

type cacheKey struct {
	pb       *problem.Problem
	scenario int
}

type cacheEntry struct {
	mu      sync.Mutex
	penalty float64
	ws      *workspace
	q       []float64
}

// ADMM is the default Solver. It keeps one workspace per scenario so that
// consecutive solves of the same scenario with the same penalty reuse the
// factorisation and start from the previous solution. It is safe for
// concurrent use; solves of the same scenario are serialised.
type ADMM struct {
	settings Settings

	mu    sync.Mutex
	cache map[cacheKey]*cacheEntry

	solves     atomic.Int64
	iterations atomic.Int64
}

func NewADMM(settings Settings) *ADMM {
	return &ADMM{
		settings: settings,
		cache:    make(map[cacheKey]*cacheEntry),
	}
}

// NewADMMFactory gives every worker its own ADMM instance.
func NewADMMFactory(settings Settings) Factory {
	return func(int) (Solver, error) {
		if err := settings.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSolverFailure, err)
		}
		return NewADMM(settings), nil
	}
}

func (a *ADMM) entry(pb *problem.Problem, s int) *cacheEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := cacheKey{pb: pb, scenario: s}
	e, ok := a.cache[key]
	if !ok {
		e = &cacheEntry{}
		a.cache[key] = e
	}
	return e
}

func (a *ADMM) Solve(ctx context.Context, pb *problem.Problem, s int, target []float64, penalty float64) ([]float64, error) {
	if s < 0 || s >= pb.NumScenarios() {
		return nil, &Error{Scenario: s, Wrapped: fmt.Errorf("%w: unknown scenario", ErrSolverFailure)}
	}
	if len(target) != pb.Dim() {
		return nil, &Error{Scenario: s, Wrapped: fmt.Errorf("%w: target has length %d, want %d", ErrSolverFailure, len(target), pb.Dim())}
	}
	if penalty < 0 {
		return nil, &Error{Scenario: s, Wrapped: fmt.Errorf("%w: negative penalty %g", ErrSolverFailure, penalty)}
	}

	e := a.entry(pb, s)
	e.mu.Lock()
	defer e.mu.Unlock()

	m := pb.Model(s)
	if e.ws == nil || e.penalty != penalty {
		ws, err := newWorkspace(BuildQP(m, penalty, target), a.settings)
		if err != nil {
			return nil, &Error{Scenario: s, Wrapped: err}
		}
		e.ws, e.penalty = ws, penalty
		e.q = make([]float64, m.Dim)
	} else {
		for i := range e.q {
			e.q[i] = m.Cost[i] - penalty*target[i]
		}
		e.ws.setLinear(e.q)
	}

	before := e.ws.iters
	err := e.ws.solve(ctx)
	a.solves.Add(1)
	a.iterations.Add(int64(e.ws.iters - before))
	if err != nil {
		e.ws = nil
		return nil, &Error{Scenario: s, Wrapped: err}
	}
	return append([]float64(nil), e.ws.x...), nil
}

// Prepare builds and factors the workspace of every scenario of pb.
func (a *ADMM) Prepare(ctx context.Context, pb *problem.Problem, penalty float64) error {
	target := make([]float64, pb.Dim())
	for s := 0; s < pb.NumScenarios(); s++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := a.entry(pb, s)
		e.mu.Lock()
		if e.ws == nil || e.penalty != penalty {
			ws, err := newWorkspace(BuildQP(pb.Model(s), penalty, target), a.settings)
			if err != nil {
				e.mu.Unlock()
				return &Error{Scenario: s, Wrapped: err}
			}
			e.ws, e.penalty = ws, penalty
			e.q = make([]float64, pb.Dim())
		}
		e.mu.Unlock()
	}
	return nil
}

// Stats returns the number of solves and of ADMM iterations so far.
func (a *ADMM) Stats() (solves, iterations int64) {
	return a.solves.Load(), a.iterations.Load()
}

// Reset drops every warm start.
func (a *ADMM) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = make(map[cacheKey]*cacheEntry)
}
