package engine

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/phedge/internal/problem"
	"github.com/san-kum/phedge/internal/projection"
)

const AlgorithmRandomizedAsync = "randomized_async"

// SolveRandomizedAsync runs asynchronous randomized progressive hedging on a
// pool of Workers goroutines.
//
// The master keeps z and x = P(z). Every idle worker receives a sampled
// scenario s with the target 2x̂_s − z_s, where x̂_s is x_s at dispatch time.
// When a result y_s arrives the master applies
//
//	z_s += η(τ, s) (y_s − x̂_s)
//
// with τ the number of updates applied since the dispatch, refreshes x on
// the path of s and sends the worker a new task. MaxIter bounds the number
// of dispatched tasks. Once the budget is spent, outstanding results are
// applied for at most DrainTimeout and the rest are discarded. A task that
// runs longer than TaskTimeout aborts the solve with ErrWorkerUnavailable,
// whether or not other workers keep answering.
func SolveRandomizedAsync(ctx context.Context, pb *problem.Problem, opts ...Option) (*Result, error) {
	o := NewOptions(opts...)
	if err := o.Validate(pb); err != nil {
		return nil, err
	}
	smp, err := newSampler(pb, o.Sampling, o.seed())
	if err != nil {
		return nil, err
	}
	e := &async{pb: pb, opts: &o, sampler: smp}
	return e.run(ctx)
}

type inflight struct {
	task task
	xhat []float64
	sent time.Time
}

type async struct {
	pb      *problem.Problem
	opts    *Options
	sampler *sampler

	pending      map[int]inflight
	idle         []int
	dispatched   int
	maxStaleness int
}

func (e *async) run(ctx context.Context) (*Result, error) {
	pool, err := startPool(ctx, e.pb, e.opts)
	if err != nil {
		return nil, &SolveError{Algorithm: AlgorithmRandomizedAsync, Wrapped: err}
	}
	defer pool.stop(e.opts.DrainTimeout)

	pb, o := e.pb, e.opts
	n := pb.Dim()
	z := pb.NewTrajectory()
	x := pb.NewTrajectory()
	vectors := newVectorPool(n)

	e.pending = make(map[int]inflight, o.Workers)
	e.idle = make([]int, 0, o.Workers)
	for w := o.Workers - 1; w >= 0; w-- {
		e.idle = append(e.idle, w)
	}

	rec := newRecorder(AlgorithmRandomizedAsync, pb, o)
	res := &Result{Status: StatusIterating}
	rec.begin(x)

	var deadline <-chan time.Time
	if o.MaxTime > 0 {
		timer := time.NewTimer(o.MaxTime)
		defer timer.Stop()
		deadline = timer.C
	}

	// watchdog fires when the oldest in-flight task exceeds TaskTimeout.
	watchdog := time.NewTimer(time.Hour)
	watchdog.Stop()
	defer watchdog.Stop()

	var (
		ev       Event
		stopping bool
		drain    <-chan time.Time
	)

loop:
	for {
		if ctx.Err() != nil {
			break
		}
		if !stopping && rec.timeUp() {
			stopping = true
		}

		if !stopping {
			for len(e.idle) > 0 && e.dispatched < o.MaxIter {
				w := e.idle[len(e.idle)-1]
				e.idle = e.idle[:len(e.idle)-1]
				s := e.sampler.draw()
				xhat, target := vectors.get(), vectors.get()
				for i := 0; i < n; i++ {
					xhat[i] = x.At(i, s)
					target[i] = 2*xhat[i] - z.At(i, s)
				}
				t := task{ID: e.dispatched, Scenario: s, Target: target, Penalty: o.Penalty, Version: res.Iterations}
				e.pending[w] = inflight{task: t, xhat: xhat, sent: time.Now()}
				pool.dispatch(w, t)
				e.dispatched++
			}
			if e.dispatched >= o.MaxIter || rec.timeUp() {
				stopping = true
			}
		}
		if len(e.pending) == 0 {
			break
		}

		if stopping && drain == nil {
			timer := time.NewTimer(o.DrainTimeout)
			defer timer.Stop()
			drain = timer.C
		}
		var overdue <-chan time.Time
		if o.TaskTimeout > 0 {
			watchdog.Reset(time.Until(e.oldest().Add(o.TaskTimeout)))
			overdue = watchdog.C
		}

		select {
		case r := <-pool.results:
			inf, ok := e.pending[r.Worker]
			if !ok || inf.task.ID != r.TaskID {
				continue
			}
			delete(e.pending, r.Worker)
			vectors.put(inf.task.Target)
			res.Stats.Solves++

			if r.Err != nil {
				vectors.put(inf.xhat)
				if ctx.Err() != nil {
					break loop
				}
				res.Status = StatusFailed
				e.fillStats(res)
				rec.finish(res, x, ev)
				return res, &SolveError{Algorithm: AlgorithmRandomizedAsync, Iteration: res.Iterations, Wrapped: r.Err}
			}

			ev = e.apply(res, z, x, inf, r.Point)
			vectors.put(inf.xhat)
			e.idle = append(e.idle, r.Worker)
			ev.WaitingWorkers = len(e.idle)
			rec.iteration(ev, x)

		case <-overdue:
			late := e.overdue(o.TaskTimeout)
			if len(late) == 0 {
				continue
			}
			res.Status = StatusFailed
			e.fillStats(res)
			rec.finish(res, x, ev)
			return res, &SolveError{
				Algorithm: AlgorithmRandomizedAsync,
				Iteration: res.Iterations,
				Wrapped:   fmt.Errorf("%w: worker %v sent no result within %v", ErrWorkerUnavailable, late, o.TaskTimeout),
			}

		case <-deadline:
			stopping = true
			deadline = nil

		case <-drain:
			break loop

		case <-ctx.Done():
			break loop
		}
	}

	res.Stats.Discarded = len(e.pending)
	res.Status = StatusStopped
	e.fillStats(res)
	rec.finish(res, x, ev)
	return res, nil
}

// apply performs one update with the result y of an in-flight task. The
// maximum staleness is raised before the update so that no applied update
// exceeds the reported maximum.
func (e *async) apply(res *Result, z, x *mat.Dense, inf inflight, y []float64) Event {
	pb := e.pb
	s := inf.task.Scenario
	staleness := res.Iterations - inf.task.Version
	if staleness > e.maxStaleness {
		e.maxStaleness = staleness
	}

	eta := e.opts.StepSize.Step(StepContext{
		Scenario:       s,
		Probability:    e.sampler.q[s],
		MinProbability: e.sampler.minQ,
		Staleness:      staleness,
		NumScenarios:   pb.NumScenarios(),
	})
	step := 0.0
	for i := 0; i < pb.Dim(); i++ {
		d := y[i] - inf.xhat[i]
		step += d * d
		z.Set(i, s, z.At(i, s)+eta*d)
	}
	projection.ProjectPath(pb, x, z, s)

	res.Iterations++
	res.Stats.Applied = res.Iterations
	res.PrimalResidual = math.Sqrt(pb.Proba(s) * step)
	return Event{
		Iteration:      res.Iterations,
		Scenarios:      []int{s},
		Staleness:      staleness,
		MaxStaleness:   e.maxStaleness,
		PrimalResidual: res.PrimalResidual,
	}
}

// oldest returns the dispatch time of the longest running task.
func (e *async) oldest() time.Time {
	var t time.Time
	for _, inf := range e.pending {
		if t.IsZero() || inf.sent.Before(t) {
			t = inf.sent
		}
	}
	return t
}

// overdue lists the workers whose task has run for longer than timeout.
func (e *async) overdue(timeout time.Duration) []int {
	var late []int
	for w, inf := range e.pending {
		if time.Since(inf.sent) >= timeout {
			late = append(late, w)
		}
	}
	slices.Sort(late)
	return late
}

func (e *async) fillStats(res *Result) {
	res.Stats.Dispatched = e.dispatched
	res.Stats.Applied = res.Iterations
	res.Stats.MaxStaleness = e.maxStaleness
}
