package engine

import (
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/phedge/internal/problem"
	"github.com/san-kum/phedge/internal/subproblem"
)

const (
	DefaultPenalty          = 3.0
	DefaultTolerance        = 1e-4
	DefaultMaxIter          = 1000
	DefaultMaxTime          = time.Hour
	DefaultLogInterval      = 10
	DefaultDrainTimeout     = 2 * time.Second
	DefaultTaskTimeout      = time.Minute
	DefaultBootstrapTimeout = 10 * time.Second
)

// Options configure every engine. Fields an engine does not use are ignored.
type Options struct {
	Penalty   float64
	PrimalTol float64
	DualTol   float64
	MaxIter   int

	// MaxTime bounds the wall clock time of a solve; zero means no bound.
	MaxTime     time.Duration
	LogInterval int

	Sampling Sampling
	Seed     *int64
	StepSize StepSize
	Workers  int

	// Async engine timeouts. A zero TaskTimeout leaves only panics to detect
	// a lost worker.
	DrainTimeout     time.Duration
	TaskTimeout      time.Duration
	BootstrapTimeout time.Duration

	RecordHistory bool
	ApproxSol     *mat.Dense

	Observers     []Observer
	SolverFactory subproblem.Factory
	Logger        zerolog.Logger
}

type Option func(*Options)

func DefaultOptions() Options {
	return Options{
		Penalty:          DefaultPenalty,
		PrimalTol:        DefaultTolerance,
		DualTol:          DefaultTolerance,
		MaxIter:          DefaultMaxIter,
		MaxTime:          DefaultMaxTime,
		LogInterval:      DefaultLogInterval,
		Sampling:         Uniform{},
		StepSize:         Theoretical{C: 1},
		Workers:          runtime.NumCPU(),
		DrainTimeout:     DefaultDrainTimeout,
		TaskTimeout:      DefaultTaskTimeout,
		BootstrapTimeout: DefaultBootstrapTimeout,
		SolverFactory:    subproblem.NewADMMFactory(subproblem.DefaultSettings()),
		Logger:           zerolog.Nop(),
	}
}

// NewOptions applies opts over DefaultOptions.
func NewOptions(opts ...Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithPenalty(mu float64) Option {
	return func(o *Options) { o.Penalty = mu }
}

func WithTolerance(primal, dual float64) Option {
	return func(o *Options) {
		o.PrimalTol = primal
		o.DualTol = dual
	}
}

func WithMaxIter(n int) Option {
	return func(o *Options) { o.MaxIter = n }
}

func WithMaxTime(d time.Duration) Option {
	return func(o *Options) { o.MaxTime = d }
}

func WithLogInterval(n int) Option {
	return func(o *Options) { o.LogInterval = n }
}

func WithSampling(s Sampling) Option {
	return func(o *Options) { o.Sampling = s }
}

func WithSeed(seed int64) Option {
	return func(o *Options) { o.Seed = &seed }
}

func WithStepSize(s StepSize) Option {
	return func(o *Options) { o.StepSize = s }
}

func WithWorkers(n int) Option {
	return func(o *Options) { o.Workers = n }
}

func WithDrainTimeout(d time.Duration) Option {
	return func(o *Options) { o.DrainTimeout = d }
}

func WithTaskTimeout(d time.Duration) Option {
	return func(o *Options) { o.TaskTimeout = d }
}

func WithBootstrapTimeout(d time.Duration) Option {
	return func(o *Options) { o.BootstrapTimeout = d }
}

// WithHistory records a Sample every LogInterval iterations. When approx is
// non-nil each sample also carries the distance to it.
func WithHistory(approx *mat.Dense) Option {
	return func(o *Options) {
		o.RecordHistory = true
		o.ApproxSol = approx
	}
}

func WithObserver(obs Observer) Option {
	return func(o *Options) { o.Observers = append(o.Observers, obs) }
}

func WithSolverFactory(f subproblem.Factory) Option {
	return func(o *Options) { o.SolverFactory = f }
}

// WithSolver shares one solver between all workers. The solver must be safe
// for concurrent use when more than one worker runs.
func WithSolver(s subproblem.Solver) Option {
	return func(o *Options) { o.SolverFactory = subproblem.Shared(s) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Validate checks the options against a problem.
func (o *Options) Validate(pb *problem.Problem) error {
	switch {
	case !(o.Penalty > 0):
		return fmt.Errorf("%w: penalty must be positive, got %g", ErrInvalidOptions, o.Penalty)
	case o.PrimalTol < 0 || o.DualTol < 0:
		return fmt.Errorf("%w: tolerances must be non-negative", ErrInvalidOptions)
	case o.MaxIter < 1:
		return fmt.Errorf("%w: max iterations must be positive, got %d", ErrInvalidOptions, o.MaxIter)
	case o.MaxTime < 0:
		return fmt.Errorf("%w: negative time budget", ErrInvalidOptions)
	case o.LogInterval < 0:
		return fmt.Errorf("%w: negative log interval", ErrInvalidOptions)
	case o.Workers < 1:
		return fmt.Errorf("%w: at least one worker is required, got %d", ErrInvalidOptions, o.Workers)
	case o.DrainTimeout < 0 || o.TaskTimeout < 0 || o.BootstrapTimeout < 0:
		return fmt.Errorf("%w: negative timeout", ErrInvalidOptions)
	case o.SolverFactory == nil:
		return fmt.Errorf("%w: no subproblem solver", ErrInvalidOptions)
	case o.Sampling == nil:
		return fmt.Errorf("%w: no sampling distribution", ErrInvalidOptions)
	case o.StepSize == nil:
		return fmt.Errorf("%w: no step size strategy", ErrInvalidOptions)
	}
	if o.ApproxSol != nil {
		if err := pb.CheckTrajectory(o.ApproxSol); err != nil {
			return fmt.Errorf("%w: reference solution: %v", ErrInvalidOptions, err)
		}
	}
	return nil
}

func (o *Options) seed() int64 {
	if o.Seed != nil {
		return *o.Seed
	}
	return time.Now().UnixNano()
}
