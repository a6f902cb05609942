package engine

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/phedge/internal/problem"
	"github.com/san-kum/phedge/internal/projection"
	"github.com/san-kum/phedge/internal/subproblem"
)

const (
	AlgorithmRandomizedSync = "randomized_sync"
	AlgorithmRandomizedPar  = "randomized_par"
)

// SolveRandomizedSync runs randomized progressive hedging: each iteration
// samples one scenario s, solves its subproblem at 2x_s − z_s and moves z_s
// toward the solution,
//
//	y_s  = argmin f_s(y) + μ/2‖y − (2x_s − z_s)‖²
//	z_s += η_s (y_s − x_s)
//
// where x = P(z) is kept current by recomputing only the tree nodes on the
// path of s. The solve stops on the iteration or time budget and returns x.
func SolveRandomizedSync(ctx context.Context, pb *problem.Problem, opts ...Option) (*Result, error) {
	o := NewOptions(opts...)
	if err := o.Validate(pb); err != nil {
		return nil, err
	}
	return runRandomized(ctx, pb, &o, AlgorithmRandomizedSync, 1)
}

// SolveRandomizedPar is SolveRandomizedSync with one sampled scenario per
// worker and iteration. The subproblems of a batch are solved concurrently
// and applied together once all of them have returned.
func SolveRandomizedPar(ctx context.Context, pb *problem.Problem, opts ...Option) (*Result, error) {
	o := NewOptions(opts...)
	if err := o.Validate(pb); err != nil {
		return nil, err
	}
	return runRandomized(ctx, pb, &o, AlgorithmRandomizedPar, o.Workers)
}

type randomized struct {
	algorithm string
	pb        *problem.Problem
	opts      *Options
	solvers   []subproblem.Solver
	sampler   *sampler
	batch     int
}

func runRandomized(ctx context.Context, pb *problem.Problem, o *Options, algorithm string, batch int) (*Result, error) {
	smp, err := newSampler(pb, o.Sampling, o.seed())
	if err != nil {
		return nil, err
	}
	e := &randomized{
		algorithm: algorithm,
		pb:        pb,
		opts:      o,
		sampler:   smp,
		batch:     batch,
		solvers:   make([]subproblem.Solver, batch),
	}
	for w := range e.solvers {
		if e.solvers[w], err = o.SolverFactory(w); err != nil {
			return nil, &SolveError{Algorithm: algorithm, Wrapped: err}
		}
	}
	return e.run(ctx)
}

func (e *randomized) run(ctx context.Context) (*Result, error) {
	pb := e.pb
	n := pb.Dim()

	z := pb.NewTrajectory()
	x := pb.NewTrajectory()

	ids := make([]int, 0, e.batch)
	targets := make([][]float64, e.batch)
	for j := range targets {
		targets[j] = make([]float64, n)
	}
	points := make([][]float64, e.batch)

	rec := newRecorder(e.algorithm, pb, e.opts)
	res := &Result{Status: StatusIterating}
	rec.begin(x)

	var ev Event
	for {
		if rec.exhausted(res.Iterations) || ctx.Err() != nil {
			res.Status = StatusStopped
			break
		}

		ids = e.sampler.drawBatch(e.batch, ids)
		for j, s := range ids {
			for i := 0; i < n; i++ {
				targets[j][i] = 2*x.At(i, s) - z.At(i, s)
			}
		}

		err := e.solveBatch(ctx, ids, targets, points)
		res.Stats.Solves += len(ids)
		if err != nil {
			if ctx.Err() != nil {
				res.Status = StatusStopped
				break
			}
			res.Status = StatusFailed
			rec.finish(res, x, ev)
			return res, &SolveError{Algorithm: e.algorithm, Iteration: res.Iterations, Wrapped: err}
		}

		step := 0.0
		for j, s := range ids {
			eta := e.opts.StepSize.Step(StepContext{
				Scenario:       s,
				Probability:    e.sampler.q[s],
				MinProbability: e.sampler.minQ,
				NumScenarios:   pb.NumScenarios(),
			})
			col := 0.0
			for i := 0; i < n; i++ {
				d := points[j][i] - x.At(i, s)
				col += d * d
				z.Set(i, s, z.At(i, s)+eta*d)
			}
			step += pb.Proba(s) * col
		}
		for _, s := range ids {
			projection.ProjectPath(pb, x, z, s)
		}

		res.Iterations++
		res.Stats.Applied = res.Iterations
		res.PrimalResidual = math.Sqrt(step)
		ev = Event{
			Iteration:      res.Iterations,
			Scenarios:      ids,
			PrimalResidual: res.PrimalResidual,
		}
		rec.iteration(ev, x)
	}

	rec.finish(res, x, ev)
	return res, nil
}

// solveBatch fills points[j] with the solution for ids[j]. Batches of more
// than one scenario run concurrently, one solver per goroutine.
func (e *randomized) solveBatch(ctx context.Context, ids []int, targets, points [][]float64) error {
	mu := e.opts.Penalty
	if len(ids) == 1 {
		y, err := e.solvers[0].Solve(ctx, e.pb, ids[0], targets[0], mu)
		points[0] = y
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for j, s := range ids {
		g.Go(func() error {
			y, err := e.solvers[j].Solve(gctx, e.pb, s, targets[j], mu)
			if err != nil {
				return err
			}
			points[j] = y
			return nil
		})
	}
	return g.Wait()
}
