package metrics

import (
	"math"

	"github.com/san-kum/phedge/internal/engine"
)

// Residual tracks the primal residual. Its value is the last residual seen.
type Residual struct {
	name    string
	first   float64
	last    float64
	best    float64
	samples int
}

func NewResidual() *Residual {
	return &Residual{name: "primal_residual", best: math.Inf(1)}
}

func (r *Residual) Name() string { return r.name }

func (r *Residual) OnIteration(ev engine.Event) {
	if r.samples == 0 {
		r.first = ev.PrimalResidual
	}
	r.last = ev.PrimalResidual
	r.best = math.Min(r.best, ev.PrimalResidual)
	r.samples++
}

func (r *Residual) Value() float64 { return r.last }

// Best is the smallest residual seen, +Inf before any update.
func (r *Residual) Best() float64 { return r.best }

// Reduction is last/first, the factor by which the residual shrank. It is 1
// until two updates with a positive first residual have been seen.
func (r *Residual) Reduction() float64 {
	if r.samples < 2 || r.first == 0 {
		return 1
	}
	return r.last / r.first
}

func (r *Residual) Reset() {
	r.first = 0
	r.last = 0
	r.best = math.Inf(1)
	r.samples = 0
}
