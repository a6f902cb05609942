package engine

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/phedge/internal/problem"
	"github.com/san-kum/phedge/internal/projection"
	"github.com/san-kum/phedge/internal/subproblem"
)

const AlgorithmProgressiveHedging = "progressivehedging"

// SolveProgressiveHedging runs synchronous progressive hedging. Each
// iteration solves every scenario at z_s − u_s/μ, projects the solutions and
// takes a multiplier step:
//
//	x_s = argmin f_s(y) + μ/2‖y − z_s + u_s/μ‖²
//	z   = P(x)
//	u  += μ(x − z)
//
// The solve converges when ‖x − z‖ and μ‖z − z_prev‖ fall below the primal
// and dual tolerances. The returned X is the last z, which is always
// non-anticipative.
func SolveProgressiveHedging(ctx context.Context, pb *problem.Problem, opts ...Option) (*Result, error) {
	o := NewOptions(opts...)
	if err := o.Validate(pb); err != nil {
		return nil, err
	}
	solver, err := o.SolverFactory(0)
	if err != nil {
		return nil, &SolveError{Algorithm: AlgorithmProgressiveHedging, Wrapped: err}
	}
	return (&sequential{pb: pb, opts: &o, solver: solver}).run(ctx)
}

type sequential struct {
	pb     *problem.Problem
	opts   *Options
	solver subproblem.Solver
	status Status
}

func (e *sequential) run(ctx context.Context) (*Result, error) {
	pb, mu := e.pb, e.opts.Penalty
	n, ns := pb.Dim(), pb.NumScenarios()

	x := pb.NewTrajectory()
	z := pb.NewTrajectory()
	u := pb.NewTrajectory()
	zPrev := pb.NewTrajectory()
	target := make([]float64, n)

	rec := newRecorder(AlgorithmProgressiveHedging, pb, e.opts)
	res := &Result{}
	e.status = StatusInit
	rec.begin(z)

	var ev Event
	for e.status = StatusIterating; e.status == StatusIterating; {
		if rec.exhausted(res.Iterations) || ctx.Err() != nil {
			e.status = StatusStopped
			break
		}

		for s := 0; s < ns; s++ {
			for i := 0; i < n; i++ {
				target[i] = z.At(i, s) - u.At(i, s)/mu
			}
			y, err := e.solver.Solve(ctx, pb, s, target, mu)
			res.Stats.Solves++
			if err != nil {
				if ctx.Err() != nil {
					e.status = StatusStopped
					break
				}
				res.Status = StatusFailed
				rec.finish(res, z, ev)
				return res, &SolveError{Algorithm: AlgorithmProgressiveHedging, Iteration: res.Iterations, Wrapped: err}
			}
			x.SetCol(s, y)
		}
		if e.status != StatusIterating {
			break
		}

		zPrev.Copy(z)
		projection.ProjectInto(pb, z, x)
		primal := projection.Distance(pb, x, z)
		dual := mu * projection.Distance(pb, z, zPrev)
		updateMultipliers(u, x, z, mu)

		res.Iterations++
		res.Stats.Applied = res.Iterations
		res.PrimalResidual, res.DualResidual = primal, dual
		ev = Event{Iteration: res.Iterations, PrimalResidual: primal, DualResidual: dual}
		rec.iteration(ev, z)

		if primal <= e.opts.PrimalTol && dual <= e.opts.DualTol {
			e.status = StatusConverged
		}
	}

	res.Status = e.status
	rec.finish(res, z, ev)
	return res, nil
}

// updateMultipliers computes u += μ(x − z).
func updateMultipliers(u, x, z *mat.Dense, mu float64) {
	var diff mat.Dense
	diff.Sub(x, z)
	diff.Scale(mu, &diff)
	u.Add(u, &diff)
}
