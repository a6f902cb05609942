package engine

import (
	"time"

	"gonum.org/v1/gonum/mat"
)

type Status int

const (
	StatusInit Status = iota
	StatusIterating
	StatusConverged
	StatusStopped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusIterating:
		return "iterating"
	case StatusConverged:
		return "converged"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Sample is one history point, taken every LogInterval iterations.
// DistOpt is negative when no reference solution was given.
type Sample struct {
	Iteration      int           `json:"iteration"`
	Time           time.Duration `json:"time_ns"`
	Objective      float64       `json:"objective"`
	PrimalResidual float64       `json:"primal_residual"`
	DualResidual   float64       `json:"dual_residual"`
	DistOpt        float64       `json:"dist_opt"`
	WaitingWorkers int           `json:"waiting_workers"`
	MaxStaleness   int           `json:"max_staleness"`
}

// Stats count the work of a solve. Dispatched and Discarded are only set
// by the asynchronous engine.
type Stats struct {
	Dispatched   int `json:"dispatched"`
	Applied      int `json:"applied"`
	Discarded    int `json:"discarded"`
	MaxStaleness int `json:"max_staleness"`
	Solves       int `json:"solves"`
}

type Result struct {
	Algorithm      string
	X              *mat.Dense
	Status         Status
	Iterations     int
	Elapsed        time.Duration
	Objective      float64
	PrimalResidual float64
	DualResidual   float64
	History        []Sample
	Stats          Stats
}

// Event is passed to observers after every applied update.
type Event struct {
	Algorithm      string
	Iteration      int
	Elapsed        time.Duration
	Scenarios      []int
	Staleness      int
	MaxStaleness   int
	WaitingWorkers int
	PrimalResidual float64
	DualResidual   float64

	// Sample is set on iterations that are multiples of LogInterval.
	Sample *Sample
}

type Observer interface {
	OnIteration(ev Event)
}

type ObserverFunc func(ev Event)

func (f ObserverFunc) OnIteration(ev Event) {
	f(ev)
}
