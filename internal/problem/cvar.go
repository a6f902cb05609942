package problem

import (
	"fmt"
	"math"

	"github.com/san-kum/phedge/internal/tree"
)

// CVaR is the risk measure
//
//	(1 − Weight)·E[f] + Weight·CVaR_Alpha[f]
//
// where CVaR_Alpha is the mean of the worst (1 − Alpha) fraction of costs.
type CVaR struct {
	Alpha  float64
	Weight float64
}

func (c CVaR) Validate() error {
	if !(c.Alpha >= 0 && c.Alpha < 1) {
		return fmt.Errorf("%w: cvar level %g outside [0, 1)", ErrConstruction, c.Alpha)
	}
	if !(c.Weight >= 0 && c.Weight <= 1) {
		return fmt.Errorf("%w: cvar weight %g outside [0, 1]", ErrConstruction, c.Weight)
	}
	return nil
}

// CVaRLayout locates the variables added by WithCVaR: Shift maps a
// coordinate of the risk-neutral problem to the new one, VaR is the shared
// first-stage threshold η and Excess the per-scenario (f_s − η)⁺.
type CVaRLayout struct {
	split  int
	VaR    int
	Excess int
}

func (l CVaRLayout) Shift(i int) int {
	if i < l.split {
		return i
	}
	return i + 1
}

func cvarLayout(pb *Problem) CVaRLayout {
	split := pb.StageRange(0).Hi
	return CVaRLayout{split: split, VaR: split, Excess: pb.Dim() + 1}
}

// WithCVaR rewrites pb with the risk measure r through the Rockafellar and
// Uryasev formulation. Scenario s minimises
//
//	(1 − w)·f_s(x) + w·η + w/(1 − α)·v
//	subject to v ≥ f_s(x) − η, v ≥ 0
//
// with η appended to the first stage and v to the last, so that the expected
// cost of the new problem is the risk measure of the old one. Only linear
// scenario models can be rewritten.
func WithCVaR(pb *Problem, r CVaR) (*Problem, CVaRLayout, error) {
	if err := r.Validate(); err != nil {
		return nil, CVaRLayout{}, err
	}
	lay := cvarLayout(pb)
	for s := 0; s < pb.NumScenarios(); s++ {
		if !pb.Model(s).IsLinear() {
			return nil, CVaRLayout{}, &ModelError{Scenario: s, Wrapped: fmt.Errorf("%w: cvar needs a linear objective", ErrInvalidModel)}
		}
	}

	stages := make([]tree.Range, pb.NumStages())
	for t := range stages {
		rg := pb.StageRange(t)
		stages[t] = tree.Range{Lo: lay.Shift(rg.Lo), Hi: lay.Shift(rg.Hi - 1) + 1}
	}
	stages[0].Hi++
	stages[len(stages)-1].Hi++

	scenarios := make([]Scenario, pb.NumScenarios())
	for s := range scenarios {
		base := pb.Model(s)
		scenarios[s] = ModelFunc(func(int) (*Model, error) {
			return cvarModel(base, lay, r), nil
		})
	}
	out, err := New(scenarios, pb.Probas(), pb.NumStages(), stages, pb.Tree())
	if err != nil {
		return nil, CVaRLayout{}, err
	}
	return out, lay, nil
}

func cvarModel(base *Model, lay CVaRLayout, r CVaR) *Model {
	m := NewModel(base.Dim + 2)
	m.Offset = (1 - r.Weight) * base.Offset
	for i := 0; i < base.Dim; i++ {
		j := lay.Shift(i)
		m.Cost[j] = (1 - r.Weight) * base.Cost[i]
		m.SetBounds(j, base.Lower[i], base.Upper[i])
	}
	m.Cost[lay.VaR] = r.Weight
	m.Cost[lay.Excess] = r.Weight / (1 - r.Alpha)
	m.SetBounds(lay.Excess, 0, math.Inf(1))

	for _, row := range base.Rows {
		index := make([]int, len(row.Index))
		for k, i := range row.Index {
			index[k] = lay.Shift(i)
		}
		m.AddRow(index, row.Coef, row.Lo, row.Hi)
	}

	// v − cᵀx + η ≥ offset
	index := []int{lay.Excess, lay.VaR}
	coef := []float64{1, 1}
	for i, c := range base.Cost {
		if c != 0 {
			index = append(index, lay.Shift(i))
			coef = append(coef, -c)
		}
	}
	m.AddGreaterEqual(index, coef, base.Offset)
	return m
}
