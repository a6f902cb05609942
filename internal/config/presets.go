package config

import (
	"slices"
	"time"
)

func seed(v int64) *int64 { return &v }

// Presets are named configurations per problem. Each preset only lists the
// fields it changes from DefaultConfig.
var Presets = map[string]map[string]func(*Config){
	"hydrothermal": {
		"tutorial": func(c *Config) {
			c.Algorithm = "progressivehedging"
		},
		"async": func(c *Config) {
			c.Algorithm = "randomized_async"
			c.Solver.Workers = 4
			c.Solver.MaxIter = 20000
			c.Solver.Seed = seed(1)
		},
		"long": func(c *Config) {
			c.Algorithm = "randomized_par"
			c.Params.Stages = 8
			c.Solver.Workers = 4
			c.Solver.MaxIter = 5000
			c.Solver.MaxTime = 5 * time.Minute
		},
		"dry": func(c *Config) {
			c.Params.Rain = []float64{0, 4}
			c.Params.RainProb = 0.3
		},
		"baseline": func(c *Config) {
			c.Algorithm = "direct"
		},
	},
	"hydrothermal_cvar": {
		"tutorial": func(c *Config) {
			c.Params.Stages = 4
			c.Solver.MaxIter = 3000
		},
		"averse": func(c *Config) {
			c.Params.Stages = 4
			c.Params.CVaRAlpha = 0.95
			c.Params.CVaRWeight = 1
		},
		"baseline": func(c *Config) {
			c.Algorithm = "direct"
			c.Params.Stages = 4
		},
	},
	"consensus": {
		"sync": func(c *Config) {
			c.Algorithm = "randomized_sync"
			c.Solver.MaxIter = 500
			c.Solver.Sampling = "probability"
			c.Solver.Seed = seed(1)
		},
		"async": func(c *Config) {
			c.Algorithm = "randomized_async"
			c.Solver.Workers = 3
			c.Solver.MaxIter = 1000
			c.Solver.Seed = seed(1)
		},
	},
	"random_consensus": {
		"wide": func(c *Config) {
			c.Algorithm = "randomized_par"
			c.Params.Stages = 3
			c.Params.Branching = 6
			c.Params.PerStage = 2
			c.Solver.Workers = 4
		},
		"deep": func(c *Config) {
			c.Algorithm = "randomized_async"
			c.Params.Stages = 8
			c.Params.Branching = 2
			c.Solver.Workers = 4
			c.Solver.MaxIter = 20000
		},
	},
}

// GetPreset returns DefaultConfig for problem with the named preset
// applied, or nil when either is unknown.
func GetPreset(problem, preset string) *Config {
	problemPresets, ok := Presets[problem]
	if !ok {
		return nil
	}
	apply, ok := problemPresets[preset]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	cfg.Problem = problem
	apply(cfg)
	return cfg
}

func ListPresets(problem string) []string {
	problemPresets, ok := Presets[problem]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(problemPresets))
	for name := range problemPresets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
