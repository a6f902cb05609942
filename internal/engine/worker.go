package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/phedge/internal/problem"
	"github.com/san-kum/phedge/internal/subproblem"
)

// task asks a worker for the proximal point of one scenario. Version is the
// number of updates the master had applied when it read Target.
type task struct {
	ID       int
	Scenario int
	Target   []float64
	Penalty  float64
	Version  int
}

type taskResult struct {
	TaskID   int
	Worker   int
	Scenario int
	Version  int
	Point    []float64
	Err      error
}

type registration struct {
	pb      *problem.Problem
	solver  subproblem.Solver
	penalty float64
}

type ack struct {
	worker int
	err    error
}

// worker owns one solver and answers tasks one at a time. It talks to the
// master only through its task channel and the shared result channel.
type worker struct {
	id       int
	register chan registration
	tasks    chan task
	results  chan<- taskResult
	ready    chan<- ack
	quit     <-chan struct{}

	pb     *problem.Problem
	solver subproblem.Solver
}

func (w *worker) run(ctx context.Context) {
	select {
	case reg := <-w.register:
		w.pb, w.solver = reg.pb, reg.solver
		var err error
		if p, ok := w.solver.(subproblem.Preparer); ok {
			err = p.Prepare(ctx, reg.pb, reg.penalty)
		}
		select {
		case w.ready <- ack{worker: w.id, err: err}:
		case <-w.quit:
			return
		}
		if err != nil {
			return
		}
	case <-w.quit:
		return
	}

	for {
		select {
		case t := <-w.tasks:
			res := w.handle(ctx, t)
			select {
			case w.results <- res:
			case <-w.quit:
				return
			}
		case <-w.quit:
			return
		}
	}
}

func (w *worker) handle(ctx context.Context, t task) (res taskResult) {
	res = taskResult{TaskID: t.ID, Worker: w.id, Scenario: t.Scenario, Version: t.Version}
	defer func() {
		if r := recover(); r != nil {
			res.Point = nil
			res.Err = fmt.Errorf("%w: worker %d panicked on scenario %d: %v", ErrWorkerUnavailable, w.id, t.Scenario, r)
		}
	}()
	res.Point, res.Err = w.solver.Solve(ctx, w.pb, t.Scenario, t.Target, t.Penalty)
	return res
}

type workerPool struct {
	workers []*worker
	results chan taskResult
	quit    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// startPool builds one solver per worker, starts the workers and completes
// the registration handshake. Any factory error, preparation error or
// missing acknowledgement is reported as ErrBootstrap.
func startPool(ctx context.Context, pb *problem.Problem, o *Options) (*workerPool, error) {
	n := o.Workers
	solvers := make([]subproblem.Solver, n)
	for i := range solvers {
		s, err := o.SolverFactory(i)
		if err != nil {
			return nil, fmt.Errorf("%w: worker %d: %w", ErrBootstrap, i, err)
		}
		solvers[i] = s
	}

	wctx, cancel := context.WithCancel(ctx)
	ready := make(chan ack, n)
	p := &workerPool{
		workers: make([]*worker, n),
		results: make(chan taskResult, n),
		quit:    make(chan struct{}),
		cancel:  cancel,
	}
	for i := range p.workers {
		w := &worker{
			id:       i,
			register: make(chan registration, 1),
			tasks:    make(chan task, 1),
			results:  p.results,
			ready:    ready,
			quit:     p.quit,
		}
		p.workers[i] = w
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(wctx)
		}()
	}
	for i, w := range p.workers {
		w.register <- registration{pb: pb, solver: solvers[i], penalty: o.Penalty}
	}

	var timeout <-chan time.Time
	if o.BootstrapTimeout > 0 {
		timer := time.NewTimer(o.BootstrapTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	for acked := 0; acked < n; acked++ {
		select {
		case a := <-ready:
			if a.err != nil {
				p.stop(0)
				return nil, fmt.Errorf("%w: worker %d: %w", ErrBootstrap, a.worker, a.err)
			}
		case <-timeout:
			p.stop(0)
			return nil, fmt.Errorf("%w: %d of %d workers acknowledged within %v", ErrBootstrap, acked, n, o.BootstrapTimeout)
		case <-ctx.Done():
			p.stop(0)
			return nil, fmt.Errorf("%w: %w", ErrBootstrap, ctx.Err())
		}
	}
	return p, nil
}

// dispatch hands t to an idle worker. The worker's task buffer is empty
// whenever the master considers it idle, so the send does not block.
func (p *workerPool) dispatch(w int, t task) {
	p.workers[w].tasks <- t
}

// stop signals every worker to exit, cancels running solves and waits up to
// grace for the goroutines to return.
func (p *workerPool) stop(grace time.Duration) {
	p.once.Do(func() {
		close(p.quit)
		p.cancel()
	})
	if grace <= 0 {
		return
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	}
}
