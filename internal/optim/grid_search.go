// Package optim tunes solver parameters by exhaustive search.
package optim

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/san-kum/phedge/internal/config"
	"github.com/san-kum/phedge/internal/experiment"
)

// Tunable parameters and the configuration field each one sets.
var setters = map[string]func(*config.Config, float64){
	"penalty":    func(c *config.Config, v float64) { c.Solver.Penalty = v },
	"step":       func(c *config.Config, v float64) { c.Solver.Step = v },
	"workers":    func(c *config.Config, v float64) { c.Solver.Workers = int(v) },
	"admm_rho":   func(c *config.Config, v float64) { c.Subproblem.Rho = v },
	"admm_alpha": func(c *config.Config, v float64) { c.Subproblem.Alpha = v },
}

func Params() []string {
	names := make([]string, 0, len(setters))
	for name := range setters {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Apply sets a tunable parameter on cfg.
func Apply(cfg *config.Config, name string, v float64) error {
	set, ok := setters[name]
	if !ok {
		return fmt.Errorf("unknown parameter: %s", name)
	}
	set(cfg, v)
	return nil
}

// Score ranks a finished run; lower is better.
type Score func(rep *experiment.Report) float64

// ScoreByName returns a built-in score: iterations, elapsed, objective,
// primal_residual, or any metric the experiment tracks.
func ScoreByName(name string) Score {
	return func(rep *experiment.Report) float64 {
		res := rep.Result
		switch name {
		case "iterations":
			return float64(res.Iterations)
		case "elapsed":
			return res.Elapsed.Seconds()
		case "objective":
			return res.Objective
		case "primal_residual":
			return res.PrimalResidual
		}
		if v, ok := rep.Metrics[name]; ok {
			return v
		}
		return math.Inf(1)
	}
}

type Trial struct {
	Params map[string]float64
	Score  float64
	Err    error
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
}

func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) != len(ranges) {
		return nil, fmt.Errorf("%d parameters but %d ranges", len(params), len(ranges))
	}
	for i, name := range params {
		if _, ok := setters[name]; !ok {
			return nil, fmt.Errorf("unknown parameter: %s", name)
		}
		if len(ranges[i]) == 0 {
			return nil, fmt.Errorf("parameter %s has no values", name)
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

// Search runs one experiment per grid point on a copy of base and returns
// the best parameters, their score and every trial. Failed runs are kept in
// the trials and never win.
func (g *GridSearch) Search(
	ctx context.Context,
	base *config.Config,
	registry *experiment.Registry,
	score Score,
) (map[string]float64, float64, []Trial, error) {

	best := math.Inf(1)
	var bestParams map[string]float64
	var trials []Trial

	err := g.searchRecursive(ctx, 0, make(map[string]float64), func(params map[string]float64) {
		t := Trial{Params: params, Score: math.Inf(1)}
		defer func() { trials = append(trials, t) }()

		cfg := base.Clone()
		for name, v := range params {
			setters[name](cfg, v)
		}
		exp, err := experiment.New(cfg, registry)
		if err != nil {
			t.Err = err
			return
		}
		rep, err := exp.Run(ctx)
		if err != nil {
			t.Err = err
			return
		}
		t.Score = score(rep)
		if t.Score < best {
			best = t.Score
			bestParams = params
		}
	})
	if err != nil {
		return bestParams, best, trials, err
	}
	if bestParams == nil {
		return nil, best, trials, fmt.Errorf("no grid point produced a result")
	}
	return bestParams, best, trials, nil
}

func (g *GridSearch) searchRecursive(
	ctx context.Context,
	depth int,
	current map[string]float64,
	visit func(map[string]float64),
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth == len(g.paramNames) {
		visit(current)
		return nil
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		newParams := make(map[string]float64, len(current)+1)
		for k, v := range current {
			newParams[k] = v
		}
		newParams[paramName] = val

		if err := g.searchRecursive(ctx, depth+1, newParams, visit); err != nil {
			return err
		}
	}
	return nil
}
