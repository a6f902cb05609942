// Package experiment turns a run configuration into an engine call.
package experiment

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/phedge/internal/config"
	"github.com/san-kum/phedge/internal/engine"
	"github.com/san-kum/phedge/internal/metrics"
	"github.com/san-kum/phedge/internal/problem"
	"github.com/san-kum/phedge/internal/subproblem"
)

type Experiment struct {
	cfg       *config.Config
	pb        *problem.Problem
	run       SolveFunc
	reference *mat.Dense
	metrics   []metrics.Metric
	observers []engine.Observer
	logger    zerolog.Logger
}

// Report is a finished experiment.
type Report struct {
	Problem *problem.Problem
	Result  *engine.Result
	Metrics map[string]float64
}

func New(cfg *config.Config, reg *Registry) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	run, err := reg.GetAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	pb, ref, err := reg.GetProblem(cfg.Problem, cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", cfg.Problem, err)
	}
	return &Experiment{
		cfg:       cfg,
		pb:        pb,
		run:       run,
		reference: ref,
		metrics:   reg.DefaultMetrics(workers(cfg)),
		logger:    zerolog.Nop(),
	}, nil
}

func workers(cfg *config.Config) int {
	if cfg.Solver.Workers > 0 {
		return cfg.Solver.Workers
	}
	return runtime.NumCPU()
}

func (e *Experiment) Problem() *problem.Problem { return e.pb }

func (e *Experiment) Config() *config.Config { return e.cfg }

// Reference is the solution used for dist_opt in the history, nil if none
// is known.
func (e *Experiment) Reference() *mat.Dense { return e.reference }

func (e *Experiment) SetReference(x *mat.Dense) { e.reference = x }

func (e *Experiment) AddObserver(obs engine.Observer) {
	e.observers = append(e.observers, obs)
}

func (e *Experiment) SetLogger(l zerolog.Logger) { e.logger = l }

// Options translates the configuration into engine options.
func (e *Experiment) Options() []engine.Option {
	s := e.cfg.Solver
	opts := []engine.Option{
		engine.WithPenalty(s.Penalty),
		engine.WithTolerance(s.PrimalTol, s.DualTol),
		engine.WithMaxIter(s.MaxIter),
		engine.WithMaxTime(s.MaxTime),
		engine.WithLogInterval(s.LogInterval),
		engine.WithWorkers(workers(e.cfg)),
		engine.WithDrainTimeout(s.DrainTimeout),
		engine.WithTaskTimeout(s.TaskTimeout),
		engine.WithSolverFactory(subproblem.NewADMMFactory(e.settings())),
		engine.WithLogger(e.logger),
	}
	if s.Seed != nil {
		opts = append(opts, engine.WithSeed(*s.Seed))
	}
	switch s.Sampling {
	case "probability":
		opts = append(opts, engine.WithSampling(engine.ByProbability{}))
	default:
		opts = append(opts, engine.WithSampling(engine.Uniform{}))
	}
	switch s.StepSize {
	case "constant":
		opts = append(opts, engine.WithStepSize(engine.Constant{Eta: s.Step}))
	default:
		opts = append(opts, engine.WithStepSize(engine.Theoretical{C: s.Step}))
	}
	if s.History {
		opts = append(opts, engine.WithHistory(e.reference))
	}
	opts = append(opts, metrics.Observers(e.metrics...)...)
	for _, obs := range e.observers {
		opts = append(opts, engine.WithObserver(obs))
	}
	return opts
}

func (e *Experiment) settings() subproblem.Settings {
	sp := e.cfg.Subproblem
	set := subproblem.DefaultSettings()
	set.MaxIter = sp.MaxIter
	set.EpsAbs = sp.EpsAbs
	set.EpsRel = sp.EpsRel
	set.Rho = sp.Rho
	set.Sigma = sp.Sigma
	set.Alpha = sp.Alpha
	set.AdaptiveRho = sp.AdaptiveRho
	return set
}

// Run solves the problem. On a solver failure the report still carries the
// last iterate the engine returned.
func (e *Experiment) Run(ctx context.Context) (*Report, error) {
	for _, m := range e.metrics {
		m.Reset()
	}
	res, err := e.run(ctx, e.pb, e.Options()...)
	if res == nil {
		return nil, err
	}
	return &Report{
		Problem: e.pb,
		Result:  res,
		Metrics: metrics.Summary(e.metrics...),
	}, err
}
