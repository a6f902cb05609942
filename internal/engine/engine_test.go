package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/phedge/internal/models"
	"github.com/san-kum/phedge/internal/problem"
	"github.com/san-kum/phedge/internal/projection"
	"github.com/san-kum/phedge/internal/subproblem"
)

// closedForm solves the proximal problem of unconstrained diagonal models
// exactly: y_i = (μ v_i − c_i) / (q_i + μ).
var closedForm = subproblem.SolverFunc(func(ctx context.Context, pb *problem.Problem, s int, v []float64, mu float64) ([]float64, error) {
	m := pb.Model(s)
	y := make([]float64, len(v))
	for i := range v {
		y[i] = (mu*v[i] - m.Cost[i]) / (m.Quad[i] + mu)
	}
	return y, nil
})

func consensus(t *testing.T) (*problem.Problem, *mat.Dense) {
	t.Helper()
	c := models.NewConsensus()
	pb, err := c.Problem()
	require.NoError(t, err)
	return pb, c.Solution(pb)
}

func TestProgressiveHedgingConsensus(t *testing.T) {
	pb, want := consensus(t)
	res, err := SolveProgressiveHedging(context.Background(), pb,
		WithSolver(closedForm), WithTolerance(1e-8, 1e-8), WithMaxIter(5000))
	require.NoError(t, err)
	require.Equal(t, StatusConverged, res.Status)
	require.Equal(t, AlgorithmProgressiveHedging, res.Algorithm)
	require.True(t, mat.EqualApprox(want, res.X, 1e-6))
	require.True(t, projection.IsNonAnticipative(pb, res.X, 1e-12))
	require.LessOrEqual(t, res.PrimalResidual, 1e-8)
	require.Equal(t, res.Iterations*pb.NumScenarios(), res.Stats.Solves)
}

func TestProgressiveHedgingIsDeterministic(t *testing.T) {
	pb, _ := consensus(t)
	a, err := SolveProgressiveHedging(context.Background(), pb, WithSolver(closedForm), WithMaxIter(3))
	require.NoError(t, err)
	b, err := SolveProgressiveHedging(context.Background(), pb, WithSolver(closedForm), WithMaxIter(3))
	require.NoError(t, err)
	require.Equal(t, StatusStopped, a.Status)
	require.Equal(t, 3, a.Iterations)
	require.True(t, mat.Equal(a.X, b.X))
}

func TestProgressiveHedgingMatchesDirectOnHydroThermal(t *testing.T) {
	if testing.Short() {
		t.Skip("solves 16 scenario LPs repeatedly")
	}
	pb, err := models.NewHydroThermal().Problem()
	require.NoError(t, err)

	direct, err := SolveDirect(context.Background(), pb)
	require.NoError(t, err)
	require.True(t, projection.IsNonAnticipative(pb, direct.X, 1e-9))
	for s := 0; s < pb.NumScenarios(); s++ {
		require.LessOrEqual(t, pb.Model(s).Violation(mat.Col(nil, s, direct.X)), 1e-6)
	}

	ph, err := SolveProgressiveHedging(context.Background(), pb, WithMaxIter(3000), WithTolerance(1e-5, 1e-5))
	require.NoError(t, err)
	require.True(t, projection.IsNonAnticipative(pb, ph.X, 1e-9))

	rel := math.Abs(ph.Objective-direct.Objective) / math.Max(1, math.Abs(direct.Objective))
	require.Less(t, rel, 1e-2, "ph %.6f direct %.6f", ph.Objective, direct.Objective)
}

func TestProgressiveHedgingMatchesDirectOnCVaR(t *testing.T) {
	if testing.Short() {
		t.Skip("solves the risk-averse hydro-thermal problem repeatedly")
	}
	h := models.NewHydroThermal()
	h.Stages = 3
	neutral, err := h.Problem()
	require.NoError(t, err)
	pb, _, err := problem.WithCVaR(neutral, problem.CVaR{Alpha: 0.5, Weight: 0.5})
	require.NoError(t, err)

	direct, err := SolveDirect(context.Background(), pb)
	require.NoError(t, err)
	expected, err := SolveDirect(context.Background(), neutral)
	require.NoError(t, err)
	require.GreaterOrEqual(t, direct.Objective, expected.Objective-1e-6)

	ph, err := SolveProgressiveHedging(context.Background(), pb, WithMaxIter(5000), WithTolerance(1e-6, 1e-6))
	require.NoError(t, err)
	require.True(t, projection.IsNonAnticipative(pb, ph.X, 1e-9))

	rel := math.Abs(ph.Objective-direct.Objective) / math.Max(1, math.Abs(direct.Objective))
	require.Less(t, rel, 1e-2, "ph %.6f direct %.6f", ph.Objective, direct.Objective)
}

func TestDirectConsensus(t *testing.T) {
	pb, want := consensus(t)
	res, err := SolveDirect(context.Background(), pb)
	require.NoError(t, err)
	require.Equal(t, StatusConverged, res.Status)
	require.True(t, mat.EqualApprox(want, res.X, 1e-4))
}

func TestRandomizedSyncConverges(t *testing.T) {
	pb, want := consensus(t)
	run := func(iters int) *Result {
		res, err := SolveRandomizedSync(context.Background(), pb,
			WithSolver(closedForm), WithSeed(42), WithMaxIter(iters),
			WithHistory(want), WithLogInterval(10))
		require.NoError(t, err)
		require.Equal(t, StatusStopped, res.Status)
		require.Equal(t, iters, res.Iterations)
		return res
	}

	short := run(30)
	long := run(3000)
	dShort := projection.Distance(pb, short.X, want)
	dLong := projection.Distance(pb, long.X, want)
	require.Less(t, dLong, dShort)
	require.Less(t, dLong, 1e-4)
	require.True(t, projection.IsNonAnticipative(pb, long.X, 1e-9))

	h := long.History
	require.NotEmpty(t, h)
	require.Equal(t, 0, h[0].Iteration)
	require.Equal(t, 3000, h[len(h)-1].Iteration)
	require.Less(t, h[len(h)-1].DistOpt, h[0].DistOpt)
}

func TestRandomizedSyncSeedReproducible(t *testing.T) {
	pb, _ := consensus(t)
	a, err := SolveRandomizedSync(context.Background(), pb, WithSolver(closedForm), WithSeed(3), WithMaxIter(25))
	require.NoError(t, err)
	b, err := SolveRandomizedSync(context.Background(), pb, WithSolver(closedForm), WithSeed(3), WithMaxIter(25))
	require.NoError(t, err)
	require.True(t, mat.Equal(a.X, b.X))
}

func TestRandomizedParConverges(t *testing.T) {
	pb, want := consensus(t)
	res, err := SolveRandomizedPar(context.Background(), pb,
		WithSolver(closedForm), WithSeed(1), WithWorkers(3), WithMaxIter(1500))
	require.NoError(t, err)
	require.Equal(t, AlgorithmRandomizedPar, res.Algorithm)
	require.Less(t, projection.Distance(pb, res.X, want), 1e-4)
	require.GreaterOrEqual(t, res.Stats.Solves, res.Iterations)
}

func TestRandomizedParWithADMM(t *testing.T) {
	pb, want := consensus(t)
	res, err := SolveRandomizedPar(context.Background(), pb, WithSeed(5), WithWorkers(2), WithMaxIter(800))
	require.NoError(t, err)
	require.Less(t, projection.Distance(pb, res.X, want), 1e-3)
}

type staleness struct {
	mu     sync.Mutex
	events []Event
}

func (s *staleness) OnIteration(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func TestRandomizedAsyncUnderDelays(t *testing.T) {
	pb, want := consensus(t)
	var calls atomic.Int64
	slow := subproblem.SolverFunc(func(ctx context.Context, pb *problem.Problem, s int, v []float64, mu float64) ([]float64, error) {
		n := calls.Add(1)
		time.Sleep(time.Duration(n%7) * 50 * time.Microsecond)
		return closedForm(ctx, pb, s, v, mu)
	})

	obs := &staleness{}
	const maxIter = 2000
	res, err := SolveRandomizedAsync(context.Background(), pb,
		WithSolver(slow), WithSeed(11), WithWorkers(4), WithMaxIter(maxIter),
		WithObserver(obs), WithHistory(want))
	require.NoError(t, err)
	require.Equal(t, StatusStopped, res.Status)

	require.LessOrEqual(t, res.Stats.Dispatched, maxIter)
	require.LessOrEqual(t, res.Stats.Applied, res.Stats.Dispatched)
	require.Equal(t, res.Stats.Dispatched, res.Stats.Applied+res.Stats.Discarded)
	require.Equal(t, int64(res.Stats.Solves), calls.Load())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.events, res.Iterations)
	for i, ev := range obs.events {
		require.Equal(t, i+1, ev.Iteration)
		require.LessOrEqual(t, ev.Staleness, ev.MaxStaleness)
		require.LessOrEqual(t, ev.Staleness, res.Stats.MaxStaleness)
		require.GreaterOrEqual(t, ev.WaitingWorkers, 1)
	}

	initial := projection.Norm(pb, want)
	require.Less(t, projection.Distance(pb, res.X, want), 1e-2*initial)
	require.True(t, projection.IsNonAnticipative(pb, res.X, 1e-9))
}

func TestRandomizedAsyncSingleWorkerHasNoStaleness(t *testing.T) {
	pb, want := consensus(t)
	res, err := SolveRandomizedAsync(context.Background(), pb,
		WithSolver(closedForm), WithSeed(2), WithWorkers(1), WithMaxIter(1500))
	require.NoError(t, err)
	require.Equal(t, 0, res.Stats.MaxStaleness)
	require.Equal(t, 1500, res.Iterations)
	require.Less(t, projection.Distance(pb, res.X, want), 1e-4)
}

func TestRandomizedAsyncBootstrapFactoryError(t *testing.T) {
	pb, _ := consensus(t)
	boom := errors.New("no license")
	factory := func(w int) (subproblem.Solver, error) {
		if w == 2 {
			return nil, boom
		}
		return closedForm, nil
	}
	res, err := SolveRandomizedAsync(context.Background(), pb, WithSolverFactory(factory), WithWorkers(3))
	require.Nil(t, res)
	require.ErrorIs(t, err, ErrBootstrap)
	require.ErrorIs(t, err, boom)
}

type slowPreparer struct {
	subproblem.Solver
	delay time.Duration
}

func (p slowPreparer) Prepare(ctx context.Context, pb *problem.Problem, penalty float64) error {
	select {
	case <-time.After(p.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRandomizedAsyncBootstrapTimeout(t *testing.T) {
	pb, _ := consensus(t)
	_, err := SolveRandomizedAsync(context.Background(), pb,
		WithSolver(slowPreparer{Solver: closedForm, delay: time.Second}),
		WithWorkers(2), WithBootstrapTimeout(20*time.Millisecond))
	require.ErrorIs(t, err, ErrBootstrap)
}

func TestRandomizedAsyncWorkerPanic(t *testing.T) {
	pb, _ := consensus(t)
	crashy := subproblem.SolverFunc(func(ctx context.Context, pb *problem.Problem, s int, v []float64, mu float64) ([]float64, error) {
		if s == 1 {
			panic("segfault in backend")
		}
		return closedForm(ctx, pb, s, v, mu)
	})
	res, err := SolveRandomizedAsync(context.Background(), pb,
		WithSolver(crashy), WithSeed(4), WithWorkers(2), WithMaxIter(500))
	require.ErrorIs(t, err, ErrWorkerUnavailable)
	require.NotNil(t, res)
	require.Equal(t, StatusFailed, res.Status)
	require.NotNil(t, res.X)
}

func TestRandomizedAsyncTaskTimeout(t *testing.T) {
	pb, _ := consensus(t)
	stuck := subproblem.SolverFunc(func(ctx context.Context, pb *problem.Problem, s int, v []float64, mu float64) ([]float64, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	start := time.Now()
	_, err := SolveRandomizedAsync(context.Background(), pb,
		WithSolver(stuck), WithWorkers(2), WithTaskTimeout(30*time.Millisecond), WithDrainTimeout(10*time.Millisecond))
	require.ErrorIs(t, err, ErrWorkerUnavailable)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestRandomizedAsyncDrainDiscardsSlowResults(t *testing.T) {
	pb, _ := consensus(t)
	var calls atomic.Int64
	lagging := subproblem.SolverFunc(func(ctx context.Context, pb *problem.Problem, s int, v []float64, mu float64) ([]float64, error) {
		if calls.Add(1) > 2 {
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return closedForm(ctx, pb, s, v, mu)
	})
	res, err := SolveRandomizedAsync(context.Background(), pb,
		WithSolver(lagging), WithWorkers(2), WithMaxIter(4), WithDrainTimeout(20*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, 4, res.Stats.Dispatched)
	require.Equal(t, 2, res.Stats.Applied)
	require.Equal(t, 2, res.Stats.Discarded)
}

func TestRandomizedAsyncStuckWorkerIsFatal(t *testing.T) {
	pb, _ := consensus(t)
	var calls atomic.Int64
	oneStuck := subproblem.SolverFunc(func(ctx context.Context, pb *problem.Problem, s int, v []float64, mu float64) ([]float64, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return closedForm(ctx, pb, s, v, mu)
	})
	start := time.Now()
	res, err := SolveRandomizedAsync(context.Background(), pb,
		WithSolver(oneStuck), WithSeed(6), WithWorkers(2), WithMaxIter(300),
		WithTaskTimeout(50*time.Millisecond), WithDrainTimeout(time.Second))
	require.ErrorIs(t, err, ErrWorkerUnavailable)
	require.NotNil(t, res)
	require.Equal(t, StatusFailed, res.Status)
	require.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestRandomizedAsyncDrainStartsAtLastDispatch(t *testing.T) {
	pb, _ := consensus(t)
	var calls atomic.Int64
	lagging := subproblem.SolverFunc(func(ctx context.Context, pb *problem.Problem, s int, v []float64, mu float64) ([]float64, error) {
		if calls.Add(1) == 2 {
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return closedForm(ctx, pb, s, v, mu)
	})
	start := time.Now()
	res, err := SolveRandomizedAsync(context.Background(), pb,
		WithSolver(lagging), WithWorkers(1), WithMaxIter(2), WithDrainTimeout(20*time.Millisecond))
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, 2, res.Stats.Dispatched)
	require.Equal(t, 1, res.Stats.Applied)
	require.Equal(t, 1, res.Stats.Discarded)
}

func TestSubproblemFailureKeepsLastIterate(t *testing.T) {
	pb, _ := consensus(t)
	var calls atomic.Int64
	failing := subproblem.SolverFunc(func(ctx context.Context, pb *problem.Problem, s int, v []float64, mu float64) ([]float64, error) {
		if calls.Add(1) == 8 {
			return nil, &subproblem.Error{Scenario: s, Wrapped: subproblem.ErrSolverFailure}
		}
		return closedForm(ctx, pb, s, v, mu)
	})

	res, err := SolveProgressiveHedging(context.Background(), pb, WithSolver(failing), WithMaxIter(100))
	require.ErrorIs(t, err, subproblem.ErrSolverFailure)
	var serr *SolveError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, 2, serr.Iteration)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, 2, res.Iterations)
	require.True(t, projection.IsNonAnticipative(pb, res.X, 1e-12))

	calls.Store(0)
	res, err = SolveRandomizedSync(context.Background(), pb, WithSolver(failing), WithMaxIter(100), WithSeed(1))
	require.ErrorIs(t, err, subproblem.ErrSolverFailure)
	require.Equal(t, 7, res.Iterations)
}

func TestTimeBudgetStops(t *testing.T) {
	pb, _ := consensus(t)
	slow := subproblem.SolverFunc(func(ctx context.Context, pb *problem.Problem, s int, v []float64, mu float64) ([]float64, error) {
		time.Sleep(time.Millisecond)
		return closedForm(ctx, pb, s, v, mu)
	})
	for name, solve := range map[string]func(context.Context, *problem.Problem, ...Option) (*Result, error){
		AlgorithmRandomizedSync:  SolveRandomizedSync,
		AlgorithmRandomizedAsync: SolveRandomizedAsync,
	} {
		t.Run(name, func(t *testing.T) {
			res, err := solve(context.Background(), pb, WithSolver(slow), WithWorkers(2),
				WithMaxIter(1_000_000), WithMaxTime(30*time.Millisecond))
			require.NoError(t, err)
			require.Equal(t, StatusStopped, res.Status)
			require.Less(t, res.Iterations, 1_000_000)
		})
	}
}

func TestCanceledContextStops(t *testing.T) {
	pb, _ := consensus(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := SolveProgressiveHedging(ctx, pb, WithSolver(closedForm))
	require.NoError(t, err)
	require.Equal(t, StatusStopped, res.Status)
	require.Equal(t, 0, res.Iterations)
}

func TestObserversSeeSamples(t *testing.T) {
	pb, _ := consensus(t)
	var samples, events int
	obs := ObserverFunc(func(ev Event) {
		events++
		if ev.Sample != nil {
			samples++
			require.Equal(t, ev.Iteration, ev.Sample.Iteration)
			require.Equal(t, -1.0, ev.Sample.DistOpt)
		}
	})
	_, err := SolveRandomizedSync(context.Background(), pb,
		WithSolver(closedForm), WithMaxIter(50), WithLogInterval(5), WithObserver(obs))
	require.NoError(t, err)
	require.Equal(t, 50, events)
	require.Equal(t, 10, samples)
}

func TestOptionsValidate(t *testing.T) {
	pb, _ := consensus(t)
	tests := []struct {
		name string
		opt  Option
	}{
		{"zero penalty", WithPenalty(0)},
		{"negative tolerance", WithTolerance(-1, 1)},
		{"zero iterations", WithMaxIter(0)},
		{"no workers", WithWorkers(0)},
		{"negative drain", WithDrainTimeout(-time.Second)},
		{"nil sampling", WithSampling(nil)},
		{"nil step size", WithStepSize(nil)},
		{"bad reference", WithHistory(mat.NewDense(2, 2, nil))},
		{"nil factory", WithSolverFactory(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptions(tt.opt)
			require.ErrorIs(t, o.Validate(pb), ErrInvalidOptions)
			_, err := SolveRandomizedSync(context.Background(), pb, tt.opt)
			require.ErrorIs(t, err, ErrInvalidOptions)
		})
	}

	o := DefaultOptions()
	require.NoError(t, o.Validate(pb))
}
