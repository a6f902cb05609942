// Package config loads and validates run configurations.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPenalty     = 3.0
	DefaultTolerance   = 1e-4
	DefaultMaxIter     = 1000
	DefaultMaxTime     = time.Hour
	DefaultLogInterval = 10
	DefaultStages      = 5
	DefaultRainProb    = 0.5
	DefaultThermalCost = 5.0
	DefaultCapacity    = 8.0
	DefaultDemand      = 6.0
	DefaultBranching   = 2
	DefaultCVaRAlpha   = 0.8
	DefaultCVaRWeight  = 0.5
)

var validate = validator.New()

type Config struct {
	Problem    string           `yaml:"problem" validate:"required"`
	Algorithm  string           `yaml:"algorithm" validate:"required,oneof=direct progressivehedging randomized_sync randomized_par randomized_async"`
	Params     ProblemConfig    `yaml:"params"`
	Solver     SolverConfig     `yaml:"solver"`
	Subproblem SubproblemConfig `yaml:"subproblem"`
	Log        LogConfig        `yaml:"log"`
}

// ProblemConfig parametrises the built-in problems. Hydro-thermal reads the
// stage, rain and plant fields, plus the CVaR fields for its risk-averse
// variant; the random consensus problem reads Stages, Branching, PerStage
// and Seed.
type ProblemConfig struct {
	Stages      int       `yaml:"stages" validate:"gte=1,lte=16"`
	Rain        []float64 `yaml:"rain" validate:"min=1,dive,gte=0"`
	RainProb    float64   `yaml:"rain_prob" validate:"gt=0,lt=1"`
	ThermalCost float64   `yaml:"thermal_cost" validate:"gte=0"`
	Capacity    float64   `yaml:"capacity" validate:"gte=0"`
	Demand      float64   `yaml:"demand" validate:"gte=0"`
	Branching   int       `yaml:"branching" validate:"gte=1"`
	PerStage    int       `yaml:"per_stage" validate:"gte=1"`
	Seed        int64     `yaml:"seed"`
	CVaRAlpha   float64   `yaml:"cvar_alpha" validate:"gte=0,lt=1"`
	CVaRWeight  float64   `yaml:"cvar_weight" validate:"gte=0,lte=1"`
}

type SolverConfig struct {
	Penalty     float64       `yaml:"penalty" validate:"gt=0"`
	PrimalTol   float64       `yaml:"primal_tol" validate:"gte=0"`
	DualTol     float64       `yaml:"dual_tol" validate:"gte=0"`
	MaxIter     int           `yaml:"max_iter" validate:"gte=1"`
	MaxTime     time.Duration `yaml:"max_time" validate:"gte=0"`
	LogInterval int           `yaml:"log_interval" validate:"gte=0"`

	// Workers is the worker count of the parallel and asynchronous
	// algorithms; zero means one per CPU.
	Workers  int    `yaml:"workers" validate:"gte=0"`
	Seed     *int64 `yaml:"seed,omitempty"`
	Sampling string `yaml:"sampling" validate:"oneof=uniform probability"`

	// StepSize is "theoretical", scaled by Step, or "constant" with η = Step.
	StepSize string  `yaml:"stepsize" validate:"oneof=theoretical constant"`
	Step     float64 `yaml:"step" validate:"gt=0"`

	DrainTimeout time.Duration `yaml:"drain_timeout" validate:"gte=0"`
	TaskTimeout  time.Duration `yaml:"task_timeout" validate:"gte=0"`
	History      bool          `yaml:"history"`
}

// SubproblemConfig tunes the ADMM subproblem solver.
type SubproblemConfig struct {
	MaxIter     int     `yaml:"max_iter" validate:"gte=1"`
	EpsAbs      float64 `yaml:"eps_abs" validate:"gte=0"`
	EpsRel      float64 `yaml:"eps_rel" validate:"gte=0"`
	Rho         float64 `yaml:"rho" validate:"gt=0"`
	Sigma       float64 `yaml:"sigma" validate:"gt=0"`
	Alpha       float64 `yaml:"alpha" validate:"gt=0,lt=2"`
	AdaptiveRho bool    `yaml:"adaptive_rho"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error disabled"`
	Pretty bool   `yaml:"pretty"`
}

func DefaultConfig() *Config {
	return &Config{
		Problem:   "hydrothermal",
		Algorithm: "progressivehedging",
		Params: ProblemConfig{
			Stages:      DefaultStages,
			Rain:        []float64{2, 10},
			RainProb:    DefaultRainProb,
			ThermalCost: DefaultThermalCost,
			Capacity:    DefaultCapacity,
			Demand:      DefaultDemand,
			Branching:   DefaultBranching,
			PerStage:    1,
			CVaRAlpha:   DefaultCVaRAlpha,
			CVaRWeight:  DefaultCVaRWeight,
		},
		Solver: SolverConfig{
			Penalty:      DefaultPenalty,
			PrimalTol:    DefaultTolerance,
			DualTol:      DefaultTolerance,
			MaxIter:      DefaultMaxIter,
			MaxTime:      DefaultMaxTime,
			LogInterval:  DefaultLogInterval,
			Sampling:     "uniform",
			StepSize:     "theoretical",
			Step:         1,
			DrainTimeout: 2 * time.Second,
			TaskTimeout:  time.Minute,
		},
		Subproblem: SubproblemConfig{
			MaxIter:     20000,
			EpsAbs:      1e-7,
			EpsRel:      1e-7,
			Rho:         0.1,
			Sigma:       1e-6,
			Alpha:       1.6,
			AdaptiveRho: true,
		},
		Log: LogConfig{Level: "info", Pretty: true},
	}
}

// Load reads a YAML file over DefaultConfig and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Subproblem.EpsAbs+c.Subproblem.EpsRel == 0 {
		return fmt.Errorf("invalid config: subproblem tolerances are both zero")
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.Params.Rain = append([]float64(nil), c.Params.Rain...)
	if c.Solver.Seed != nil {
		seed := *c.Solver.Seed
		out.Solver.Seed = &seed
	}
	return &out
}
