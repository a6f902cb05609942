package models

import (
	"fmt"

	"github.com/san-kum/phedge/internal/problem"
	"github.com/san-kum/phedge/internal/tree"
)

// HydroThermal is the multistage hydro-thermal scheduling problem. At every
// stage a dam releases y units of water, a thermal plant burns e units at
// unit cost ThermalCost, and together they must cover Demand. The reservoir
// level q is capped by Capacity and refilled by a random inflow drawn from
// Rain at every stage after the first.
type HydroThermal struct {
	Stages      int
	Rain        []float64
	RainProb    float64
	ThermalCost float64
	Capacity    float64
	Demand      float64
}

// Per-stage variable layout.
const (
	VarLevel = iota
	VarHydro
	VarThermal
	varsPerStage
)

func NewHydroThermal() *HydroThermal {
	return &HydroThermal{
		Stages:      5,
		Rain:        []float64{2, 10},
		RainProb:    0.5,
		ThermalCost: 5,
		Capacity:    8,
		Demand:      6,
	}
}

func (h *HydroThermal) Validate() error {
	switch {
	case h.Stages < 1:
		return fmt.Errorf("%w: hydro-thermal needs at least one stage", problem.ErrConstruction)
	case len(h.Rain) < 1:
		return fmt.Errorf("%w: hydro-thermal needs at least one rain outcome", problem.ErrConstruction)
	case h.RainProb <= 0 || h.RainProb >= 1:
		return fmt.Errorf("%w: rain probability %g outside (0, 1)", problem.ErrConstruction, h.RainProb)
	case h.Capacity < 0 || h.Demand < 0 || h.ThermalCost < 0:
		return fmt.Errorf("%w: negative hydro-thermal parameter", problem.ErrConstruction)
	}
	return nil
}

func (h *HydroThermal) Branching() int {
	return len(h.Rain)
}

func (h *HydroThermal) NumScenarios() int {
	n := 1
	for t := 1; t < h.Stages; t++ {
		n *= h.Branching()
	}
	return n
}

// Weather returns the rain outcomes of scenario id, most significant digit
// first, so that scenarios sharing a prefix are numbered contiguously.
func (h *HydroThermal) Weather(id int) []int {
	b := h.Branching()
	w := make([]int, h.Stages-1)
	for i := len(w) - 1; i >= 0; i-- {
		w[i] = id % b
		id /= b
	}
	return w
}

// Probability of a weather history. With two outcomes the second has
// probability RainProb; otherwise outcomes are equally likely.
func (h *HydroThermal) Probability(weather []int) float64 {
	p := 1.0
	for _, v := range weather {
		switch {
		case h.Branching() != 2:
			p /= float64(h.Branching())
		case v == 1:
			p *= h.RainProb
		default:
			p *= 1 - h.RainProb
		}
	}
	return p
}

func (h *HydroThermal) meanRain() float64 {
	sum := 0.0
	for _, r := range h.Rain {
		sum += r
	}
	return sum / float64(len(h.Rain))
}

// HydroThermalScenario is one weather history.
type HydroThermalScenario struct {
	Params  *HydroThermal
	Weather []int
}

func (sc HydroThermalScenario) Model(int) (*problem.Model, error) {
	h := sc.Params
	if len(sc.Weather) != h.Stages-1 {
		return nil, fmt.Errorf("weather has %d outcomes for %d stages", len(sc.Weather), h.Stages)
	}
	m := problem.NewModel(varsPerStage * h.Stages)
	for t := 0; t < h.Stages; t++ {
		q, y, e := varsPerStage*t+VarLevel, varsPerStage*t+VarHydro, varsPerStage*t+VarThermal
		m.SetBounds(q, 0, h.Capacity)
		m.SetBounds(y, 0, m.Upper[y])
		m.SetBounds(e, 0, m.Upper[e])
		m.Cost[y] = 1
		m.Cost[e] = h.ThermalCost
		m.AddGreaterEqual([]int{e, y}, []float64{1, 1}, h.Demand)
		if t == 0 {
			m.AddEquality([]int{q, y}, []float64{1, 1}, h.meanRain())
			continue
		}
		prev := varsPerStage*(t-1) + VarLevel
		m.AddEquality([]int{q, prev, y}, []float64{1, -1, 1}, h.Rain[sc.Weather[t-1]])
	}
	return m, nil
}

// Problem assembles the scenarios on a regular tree.
func (h *HydroThermal) Problem() (*problem.Problem, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	tr, err := tree.NewRegular(h.Stages, h.Branching())
	if err != nil {
		return nil, err
	}
	n := h.NumScenarios()
	scenarios := make([]problem.Scenario, n)
	probas := make([]float64, n)
	for id := 0; id < n; id++ {
		w := h.Weather(id)
		scenarios[id] = HydroThermalScenario{Params: h, Weather: w}
		probas[id] = h.Probability(w)
	}
	stages := make([]tree.Range, h.Stages)
	for t := range stages {
		stages[t] = tree.Range{Lo: varsPerStage * t, Hi: varsPerStage * (t + 1)}
	}
	return problem.New(scenarios, probas, h.Stages, stages, tr)
}
