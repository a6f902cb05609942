package engine

import "math"

// StepContext describes the update a step size is requested for.
type StepContext struct {
	Scenario       int
	Probability    float64
	MinProbability float64
	Staleness      int
	NumScenarios   int
}

// StepSize chooses the relaxation η of a randomized update
// z_s += η (y_s − x_s).
type StepSize interface {
	Step(c StepContext) float64
}

// Theoretical is the step size for which the randomized iteration is known
// to converge: η = C · (q_min / q_s) / (1 + 2τ/√S), where τ is the
// staleness of the update. Synchronous engines always pass τ = 0.
type Theoretical struct {
	C float64
}

func (t Theoretical) Step(c StepContext) float64 {
	eta := t.C * c.MinProbability / c.Probability
	if c.Staleness > 0 && c.NumScenarios > 0 {
		eta /= 1 + 2*float64(c.Staleness)/math.Sqrt(float64(c.NumScenarios))
	}
	return eta
}

// Constant ignores the update and returns Eta.
type Constant struct {
	Eta float64
}

func (c Constant) Step(StepContext) float64 {
	return c.Eta
}

// StepFunc adapts a function to StepSize.
type StepFunc func(c StepContext) float64

func (f StepFunc) Step(c StepContext) float64 {
	return f(c)
}
