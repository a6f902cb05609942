// Package automation runs benchmark suites described in YAML and writes the
// results in the benchmark JSON layout read by the plotting scripts.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/phedge/internal/config"
	"github.com/san-kum/phedge/internal/engine"
	"github.com/san-kum/phedge/internal/experiment"
)

// Suite is a set of problems solved by a set of algorithms.
type Suite struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Workers     int                 `yaml:"workers"`
	Repeats     int                 `yaml:"repeats"`
	Algorithms  []string            `yaml:"algorithms"`
	Problems    []BenchProblem      `yaml:"problems"`
	Solver      config.SolverConfig `yaml:"solver"`

	// Baseline solves every problem with the direct solver to obtain fopt.
	Baseline bool `yaml:"baseline"`
}

type BenchProblem struct {
	Name    string               `yaml:"name"`
	Problem string               `yaml:"problem"`
	Params  config.ProblemConfig `yaml:"params"`
}

// UnmarshalYAML fills unset parameters with the defaults.
func (p *BenchProblem) UnmarshalYAML(value *yaml.Node) error {
	type plain BenchProblem
	out := plain{Params: config.DefaultConfig().Params}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*p = BenchProblem(out)
	if p.Name == "" {
		p.Name = p.Problem
	}
	return nil
}

func DefaultSuite() *Suite {
	def := config.DefaultConfig()
	return &Suite{
		Name:    "default",
		Workers: 2,
		Repeats: 1,
		Algorithms: []string{
			engine.AlgorithmProgressiveHedging,
			engine.AlgorithmRandomizedSync,
			engine.AlgorithmRandomizedAsync,
		},
		Problems: []BenchProblem{{Name: "hydrothermal", Problem: "hydrothermal", Params: def.Params}},
		Solver:   def.Solver,
		Baseline: true,
	}
}

// LoadSuite reads a suite over DefaultSuite.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	suite := DefaultSuite()
	suite.Problems = nil
	if err := yaml.Unmarshal(data, suite); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := suite.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return suite, nil
}

func (s *Suite) Validate() error {
	switch {
	case len(s.Problems) == 0:
		return errors.New("suite has no problems")
	case len(s.Algorithms) == 0:
		return errors.New("suite has no algorithms")
	case s.Repeats < 1:
		return fmt.Errorf("repeats must be positive, got %d", s.Repeats)
	}
	seen := map[string]bool{
		"problem_names": true, "nstages": true, "nscenarios": true, "nworkers": true,
	}
	for _, p := range s.Problems {
		if seen[p.Name] {
			return fmt.Errorf("duplicate or reserved problem name %q", p.Name)
		}
		seen[p.Name] = true
		for _, alg := range s.Algorithms {
			if err := s.config(p, alg).Validate(); err != nil {
				return fmt.Errorf("problem %s: %w", p.Name, err)
			}
		}
	}
	return nil
}

func (s *Suite) config(p BenchProblem, algorithm string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Problem = p.Problem
	cfg.Algorithm = algorithm
	cfg.Params = p.Params
	cfg.Solver = s.Solver
	cfg.Solver.Workers = s.Workers
	cfg.Solver.History = true
	return cfg
}

// Run is one solve in the benchmark output.
type Run struct {
	FunctionalValue []float64 `json:"functionalvalue"`
	Time            []float64 `json:"time"`
	Fopt            float64   `json:"fopt"`
	Iterations      int       `json:"iterations"`
	Status          string    `json:"status"`
	MaxDelay        int       `json:"maxdelay"`
}

// Benchmark is the result of a suite. Runs are indexed by problem name,
// algorithm and repeat number starting at "1".
type Benchmark struct {
	ProblemNames []string
	NStages      int
	NScenarios   int
	NWorkers     int
	Runs         map[string]map[string]map[string]Run
}

// MarshalJSON writes problems as top-level keys next to the shape fields.
func (b *Benchmark) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"problem_names": b.ProblemNames,
		"nstages":       b.NStages,
		"nscenarios":    b.NScenarios,
		"nworkers":      b.NWorkers,
	}
	for name, runs := range b.Runs {
		out[name] = runs
	}
	return json.Marshal(out)
}

func (b *Benchmark) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fields := []struct {
		key string
		dst any
	}{
		{"problem_names", &b.ProblemNames},
		{"nstages", &b.NStages},
		{"nscenarios", &b.NScenarios},
		{"nworkers", &b.NWorkers},
	}
	for _, f := range fields {
		if v, ok := raw[f.key]; ok {
			if err := json.Unmarshal(v, f.dst); err != nil {
				return fmt.Errorf("%s: %w", f.key, err)
			}
		}
	}
	b.Runs = make(map[string]map[string]map[string]Run, len(b.ProblemNames))
	for _, name := range b.ProblemNames {
		var runs map[string]map[string]Run
		if err := json.Unmarshal(raw[name], &runs); err != nil {
			return fmt.Errorf("problem %s: %w", name, err)
		}
		b.Runs[name] = runs
	}
	return nil
}

func (b *Benchmark) WriteJSON(path string) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func ReadBenchmark(path string) (*Benchmark, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b Benchmark
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// RunSuite solves every problem of the suite with every algorithm. The
// stage and scenario counts of the output are those of the first problem.
func RunSuite(ctx context.Context, suite *Suite, registry *experiment.Registry, log zerolog.Logger) (*Benchmark, error) {
	if err := suite.Validate(); err != nil {
		return nil, err
	}
	bench := &Benchmark{
		NWorkers: suite.Workers,
		Runs:     make(map[string]map[string]map[string]Run),
	}

	for i, p := range suite.Problems {
		log.Info().Str("problem", p.Name).Msgf("running problem %d of %d", i+1, len(suite.Problems))
		fopt, err := suite.baseline(ctx, p, registry)
		if err != nil {
			return bench, fmt.Errorf("problem %s baseline: %w", p.Name, err)
		}

		runs := make(map[string]map[string]Run)
		for _, alg := range suite.Algorithms {
			runs[alg] = make(map[string]Run)
			for rep := 1; rep <= suite.Repeats; rep++ {
				cfg := suite.config(p, alg)
				if cfg.Solver.Seed != nil {
					seed := *cfg.Solver.Seed + int64(rep-1)
					cfg.Solver.Seed = &seed
				}
				exp, err := experiment.New(cfg, registry)
				if err != nil {
					return bench, fmt.Errorf("problem %s: %w", p.Name, err)
				}
				if i == 0 && bench.NScenarios == 0 {
					bench.NStages = exp.Problem().NumStages()
					bench.NScenarios = exp.Problem().NumScenarios()
				}
				exp.SetLogger(log)
				report, err := exp.Run(ctx)
				if err != nil {
					return bench, fmt.Errorf("problem %s algorithm %s: %w", p.Name, alg, err)
				}
				runs[alg][strconv.Itoa(rep)] = newRun(report.Result, fopt)
				log.Info().
					Str("problem", p.Name).
					Str("algorithm", alg).
					Int("repeat", rep).
					Float64("objective", report.Result.Objective).
					Msg("run complete")
			}
		}
		fillFopt(runs, fopt)
		bench.ProblemNames = append(bench.ProblemNames, p.Name)
		bench.Runs[p.Name] = runs
	}
	return bench, nil
}

func (s *Suite) baseline(ctx context.Context, p BenchProblem, registry *experiment.Registry) (float64, error) {
	if !s.Baseline {
		return math.NaN(), nil
	}
	cfg := s.config(p, engine.AlgorithmDirect)
	cfg.Solver.History = false
	exp, err := experiment.New(cfg, registry)
	if err != nil {
		return 0, err
	}
	rep, err := exp.Run(ctx)
	if err != nil {
		return 0, err
	}
	return rep.Result.Objective, nil
}

func newRun(res *engine.Result, fopt float64) Run {
	r := Run{
		FunctionalValue: make([]float64, len(res.History)),
		Time:            make([]float64, len(res.History)),
		Fopt:            fopt,
		Iterations:      res.Iterations,
		Status:          res.Status.String(),
		MaxDelay:        res.Stats.MaxStaleness,
	}
	for i, s := range res.History {
		r.FunctionalValue[i] = s.Objective
		r.Time[i] = s.Time.Seconds()
	}
	return r
}

// fillFopt replaces a missing baseline by the best value any run reached.
func fillFopt(runs map[string]map[string]Run, fopt float64) {
	if !math.IsNaN(fopt) {
		return
	}
	best := math.Inf(1)
	for _, reps := range runs {
		for _, r := range reps {
			for _, f := range r.FunctionalValue {
				best = math.Min(best, f)
			}
		}
	}
	if math.IsInf(best, 1) {
		best = 0
	}
	for alg, reps := range runs {
		for k, r := range reps {
			r.Fopt = best
			runs[alg][k] = r
		}
	}
}
