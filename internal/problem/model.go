package problem

import (
	"fmt"
	"math"
)

// Constraint is the sparse row Lo <= Σ Coef[k]·y[Index[k]] <= Hi.
// Lo == Hi makes it an equality; either side may be infinite.
type Constraint struct {
	Index []int
	Coef  []float64
	Lo    float64
	Hi    float64
}

func (c Constraint) IsEquality() bool {
	return c.Lo == c.Hi
}

// Value evaluates the row at y.
func (c Constraint) Value(y []float64) float64 {
	v := 0.0
	for k, i := range c.Index {
		v += c.Coef[k] * y[i]
	}
	return v
}

// Model is the deterministic program of one scenario:
//
//	minimize   Offset + Costᵀy + ½ Σ Quad[i]·y[i]²
//	subject to Lower <= y <= Upper, and every row of Rows.
type Model struct {
	Dim    int
	Offset float64
	Cost   []float64
	Quad   []float64
	Lower  []float64
	Upper  []float64
	Rows   []Constraint
}

// NewModel returns an unconstrained model with zero cost.
func NewModel(dim int) *Model {
	m := &Model{
		Dim:   dim,
		Cost:  make([]float64, dim),
		Quad:  make([]float64, dim),
		Lower: make([]float64, dim),
		Upper: make([]float64, dim),
	}
	for i := 0; i < dim; i++ {
		m.Lower[i] = math.Inf(-1)
		m.Upper[i] = math.Inf(1)
	}
	return m
}

func (m *Model) SetBounds(i int, lo, hi float64) {
	m.Lower[i] = lo
	m.Upper[i] = hi
}

func (m *Model) AddRow(index []int, coef []float64, lo, hi float64) {
	m.Rows = append(m.Rows, Constraint{
		Index: append([]int(nil), index...),
		Coef:  append([]float64(nil), coef...),
		Lo:    lo,
		Hi:    hi,
	})
}

func (m *Model) AddEquality(index []int, coef []float64, rhs float64) {
	m.AddRow(index, coef, rhs, rhs)
}

func (m *Model) AddLessEqual(index []int, coef []float64, hi float64) {
	m.AddRow(index, coef, math.Inf(-1), hi)
}

func (m *Model) AddGreaterEqual(index []int, coef []float64, lo float64) {
	m.AddRow(index, coef, lo, math.Inf(1))
}

// Validate checks dimensions and that every interval is non-empty.
func (m *Model) Validate() error {
	if m.Dim < 1 {
		return fmt.Errorf("dimension %d", m.Dim)
	}
	for name, v := range map[string][]float64{"cost": m.Cost, "quad": m.Quad, "lower": m.Lower, "upper": m.Upper} {
		if len(v) != m.Dim {
			return fmt.Errorf("%s has length %d, want %d", name, len(v), m.Dim)
		}
	}
	for i := 0; i < m.Dim; i++ {
		if m.Quad[i] < 0 || math.IsNaN(m.Quad[i]) {
			return fmt.Errorf("quad[%d] = %g must be non-negative", i, m.Quad[i])
		}
		if math.IsNaN(m.Cost[i]) || math.IsInf(m.Cost[i], 0) {
			return fmt.Errorf("cost[%d] is not finite", i)
		}
		if m.Lower[i] > m.Upper[i] {
			return fmt.Errorf("bounds of y[%d] are empty: [%g, %g]", i, m.Lower[i], m.Upper[i])
		}
	}
	for r, row := range m.Rows {
		if len(row.Index) != len(row.Coef) {
			return fmt.Errorf("row %d: %d indices for %d coefficients", r, len(row.Index), len(row.Coef))
		}
		if row.Lo > row.Hi {
			return fmt.Errorf("row %d: empty interval [%g, %g]", r, row.Lo, row.Hi)
		}
		for _, i := range row.Index {
			if i < 0 || i >= m.Dim {
				return fmt.Errorf("row %d: index %d out of range", r, i)
			}
		}
	}
	return nil
}

// Objective evaluates the cost of y.
func (m *Model) Objective(y []float64) float64 {
	v := m.Offset
	for i := 0; i < m.Dim; i++ {
		v += m.Cost[i]*y[i] + 0.5*m.Quad[i]*y[i]*y[i]
	}
	return v
}

// Violation is the largest amount by which y breaks a bound or a row.
func (m *Model) Violation(y []float64) float64 {
	worst := 0.0
	for i := 0; i < m.Dim; i++ {
		worst = math.Max(worst, m.Lower[i]-y[i])
		worst = math.Max(worst, y[i]-m.Upper[i])
	}
	for _, row := range m.Rows {
		v := row.Value(y)
		worst = math.Max(worst, row.Lo-v)
		worst = math.Max(worst, v-row.Hi)
	}
	return worst
}

// IsLinear reports whether the objective has no quadratic term.
func (m *Model) IsLinear() bool {
	for _, q := range m.Quad {
		if q != 0 {
			return false
		}
	}
	return true
}
