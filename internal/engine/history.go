package engine

import (
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/phedge/internal/problem"
	"github.com/san-kum/phedge/internal/projection"
)

// recorder turns engine progress into observer events, history samples and
// log lines.
type recorder struct {
	algorithm string
	pb        *problem.Problem
	opts      *Options
	start     time.Time
	log       zerolog.Logger
	history   []Sample
	last      int
}

func newRecorder(algorithm string, pb *problem.Problem, opts *Options) *recorder {
	return &recorder{
		algorithm: algorithm,
		pb:        pb,
		opts:      opts,
		start:     time.Now(),
		log:       opts.Logger.With().Str("algorithm", algorithm).Logger(),
		last:      -1,
	}
}

func (r *recorder) elapsed() time.Duration {
	return time.Since(r.start)
}

// exhausted reports whether the iteration or time budget is used up.
func (r *recorder) exhausted(iter int) bool {
	return iter >= r.opts.MaxIter || r.timeUp()
}

func (r *recorder) timeUp() bool {
	return r.opts.MaxTime > 0 && r.elapsed() >= r.opts.MaxTime
}

func (r *recorder) begin(x *mat.Dense) {
	r.log.Info().
		Int("scenarios", r.pb.NumScenarios()).
		Int("stages", r.pb.NumStages()).
		Float64("penalty", r.opts.Penalty).
		Msg("solve started")
	if r.opts.RecordHistory {
		r.history = append(r.history, r.sample(Event{}, x))
		r.last = 0
	}
}

func (r *recorder) iteration(ev Event, x *mat.Dense) {
	ev.Algorithm = r.algorithm
	ev.Elapsed = r.elapsed()
	if r.opts.LogInterval > 0 && ev.Iteration%r.opts.LogInterval == 0 {
		s := r.sample(ev, x)
		ev.Sample = &s
		if r.opts.RecordHistory {
			r.history = append(r.history, s)
			r.last = ev.Iteration
		}
		r.log.Info().
			Int("iteration", s.Iteration).
			Float64("objective", s.Objective).
			Float64("primal_residual", s.PrimalResidual).
			Float64("dual_residual", s.DualResidual).
			Int("waiting_workers", s.WaitingWorkers).
			Int("max_staleness", s.MaxStaleness).
			Msg("progress")
	}
	for _, obs := range r.opts.Observers {
		obs.OnIteration(ev)
	}
}

func (r *recorder) sample(ev Event, x *mat.Dense) Sample {
	s := Sample{
		Iteration:      ev.Iteration,
		Time:           r.elapsed(),
		Objective:      problem.ObjectiveValue(r.pb, x),
		PrimalResidual: ev.PrimalResidual,
		DualResidual:   ev.DualResidual,
		DistOpt:        -1,
		WaitingWorkers: ev.WaitingWorkers,
		MaxStaleness:   ev.MaxStaleness,
	}
	if r.opts.ApproxSol != nil {
		s.DistOpt = projection.Distance(r.pb, x, r.opts.ApproxSol)
	}
	return s
}

// finish fills the summary fields of res from x and closes the history with
// the final iterate.
func (r *recorder) finish(res *Result, x *mat.Dense, ev Event) {
	res.Algorithm = r.algorithm
	res.X = x
	res.Elapsed = r.elapsed()
	res.Objective = problem.ObjectiveValue(r.pb, x)
	if r.opts.RecordHistory && r.last != res.Iterations {
		ev.Iteration = res.Iterations
		r.history = append(r.history, r.sample(ev, x))
	}
	res.History = r.history

	logEvent := r.log.Info()
	if res.Status == StatusFailed {
		logEvent = r.log.Warn()
	}
	logEvent.
		Str("status", res.Status.String()).
		Int("iterations", res.Iterations).
		Float64("objective", res.Objective).
		Dur("elapsed", res.Elapsed).
		Msg("solve finished")
}
