package experiment

import (
	"context"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/phedge/internal/config"
	"github.com/san-kum/phedge/internal/engine"
	"github.com/san-kum/phedge/internal/metrics"
	"github.com/san-kum/phedge/internal/models"
	"github.com/san-kum/phedge/internal/problem"
)

// SolveFunc is the signature shared by every engine entry point.
type SolveFunc func(ctx context.Context, pb *problem.Problem, opts ...engine.Option) (*engine.Result, error)

// ProblemBuilder builds a problem and, when it is known in closed form, its
// solution.
type ProblemBuilder func(params config.ProblemConfig) (*problem.Problem, *mat.Dense, error)

type Registry struct {
	problems   map[string]ProblemBuilder
	algorithms map[string]SolveFunc
}

func NewRegistry() *Registry {
	r := &Registry{
		problems:   make(map[string]ProblemBuilder),
		algorithms: make(map[string]SolveFunc),
	}

	r.problems["hydrothermal"] = func(p config.ProblemConfig) (*problem.Problem, *mat.Dense, error) {
		pb, err := hydroThermal(p).Problem()
		return pb, nil, err
	}
	r.problems["hydrothermal_cvar"] = func(p config.ProblemConfig) (*problem.Problem, *mat.Dense, error) {
		pb, err := hydroThermal(p).Problem()
		if err != nil {
			return nil, nil, err
		}
		pb, _, err = problem.WithCVaR(pb, problem.CVaR{Alpha: p.CVaRAlpha, Weight: p.CVaRWeight})
		return pb, nil, err
	}
	r.problems["consensus"] = func(config.ProblemConfig) (*problem.Problem, *mat.Dense, error) {
		c := models.NewConsensus()
		pb, err := c.Problem()
		if err != nil {
			return nil, nil, err
		}
		return pb, c.Solution(pb), nil
	}
	r.problems["random_consensus"] = func(p config.ProblemConfig) (*problem.Problem, *mat.Dense, error) {
		c, err := models.NewRandomConsensus(p.Stages, p.Branching, p.PerStage, p.Seed)
		if err != nil {
			return nil, nil, err
		}
		pb, err := c.Problem()
		if err != nil {
			return nil, nil, err
		}
		return pb, c.Solution(pb), nil
	}

	r.algorithms[engine.AlgorithmDirect] = engine.SolveDirect
	r.algorithms[engine.AlgorithmProgressiveHedging] = engine.SolveProgressiveHedging
	r.algorithms[engine.AlgorithmRandomizedSync] = engine.SolveRandomizedSync
	r.algorithms[engine.AlgorithmRandomizedPar] = engine.SolveRandomizedPar
	r.algorithms[engine.AlgorithmRandomizedAsync] = engine.SolveRandomizedAsync

	return r
}

func hydroThermal(p config.ProblemConfig) *models.HydroThermal {
	return &models.HydroThermal{
		Stages:      p.Stages,
		Rain:        p.Rain,
		RainProb:    p.RainProb,
		ThermalCost: p.ThermalCost,
		Capacity:    p.Capacity,
		Demand:      p.Demand,
	}
}

// RegisterProblem adds or replaces a problem.
func (r *Registry) RegisterProblem(name string, build ProblemBuilder) {
	r.problems[name] = build
}

func (r *Registry) GetProblem(name string, params config.ProblemConfig) (*problem.Problem, *mat.Dense, error) {
	fn, ok := r.problems[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown problem: %s", name)
	}
	return fn(params)
}

func (r *Registry) GetAlgorithm(name string) (SolveFunc, error) {
	fn, ok := r.algorithms[name]
	if !ok {
		return nil, fmt.Errorf("unknown algorithm: %s", name)
	}
	return fn, nil
}

func (r *Registry) ListProblems() []string {
	return sortedKeys(r.problems)
}

func (r *Registry) ListAlgorithms() []string {
	return sortedKeys(r.algorithms)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultMetrics are the trackers attached to every experiment.
func (r *Registry) DefaultMetrics(workers int) []metrics.Metric {
	return []metrics.Metric{
		metrics.NewResidual(),
		metrics.NewStaleness(),
		metrics.NewUtilization(workers),
	}
}
