package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/san-kum/phedge/internal/problem"
	"github.com/san-kum/phedge/internal/subproblem"
)

const AlgorithmDirect = "direct"

const simplexTolerance = 1e-10

// SolveDirect solves the extensive form of pb in one shot: one block of
// variables per tree node, so non-anticipativity holds by construction.
// Linear problems go through the simplex method, others through the ADMM
// QP backend. It is meant for small instances and reference values.
func SolveDirect(ctx context.Context, pb *problem.Problem, opts ...Option) (*Result, error) {
	o := NewOptions(opts...)
	if err := o.Validate(pb); err != nil {
		return nil, err
	}
	rec := newRecorder(AlgorithmDirect, pb, &o)
	rec.begin(pb.NewTrajectory())

	ef, err := buildExtensive(pb)
	if err != nil {
		return nil, &SolveError{Algorithm: AlgorithmDirect, Wrapped: err}
	}

	var sol []float64
	if ef.linear {
		sol, err = ef.solveLP()
		if err != nil && !errors.Is(err, subproblem.ErrInfeasible) && !errors.Is(err, lp.ErrUnbounded) {
			rec.log.Warn().Err(err).Msg("simplex failed, falling back to ADMM")
			sol, err = ef.solveQP(ctx)
		}
	} else {
		sol, err = ef.solveQP(ctx)
	}
	if err != nil {
		return nil, &SolveError{Algorithm: AlgorithmDirect, Wrapped: err}
	}

	res := &Result{Status: StatusConverged, Iterations: 1}
	res.Stats.Applied = 1
	rec.finish(res, ef.trajectory(pb, sol), Event{})
	return res, nil
}

// extensive is the deterministic equivalent of a problem. Rows shared by
// several scenarios of a node appear once.
type extensive struct {
	nvars  int
	offset []int
	stage  []int
	cost   []float64
	quad   []float64
	lower  []float64
	upper  []float64
	rows   []problem.Constraint
	linear bool
}

func buildExtensive(pb *problem.Problem) (*extensive, error) {
	t := pb.Tree()
	ef := &extensive{offset: make([]int, t.NumNodes()), stage: make([]int, pb.Dim()), linear: true}
	for id := 0; id < t.NumNodes(); id++ {
		ef.offset[id] = ef.nvars
		ef.nvars += pb.StageRange(t.Node(id).Depth).Len()
	}
	for d := 0; d < pb.NumStages(); d++ {
		r := pb.StageRange(d)
		for i := r.Lo; i < r.Hi; i++ {
			ef.stage[i] = d
		}
	}

	ef.cost = make([]float64, ef.nvars)
	ef.quad = make([]float64, ef.nvars)
	ef.lower = make([]float64, ef.nvars)
	ef.upper = make([]float64, ef.nvars)
	for v := range ef.lower {
		ef.lower[v] = math.Inf(-1)
		ef.upper[v] = math.Inf(1)
	}

	seen := make(map[string]bool)
	for s := 0; s < pb.NumScenarios(); s++ {
		m := pb.Model(s)
		p := pb.Proba(s)
		for i := 0; i < m.Dim; i++ {
			v := ef.variable(pb, s, i)
			ef.cost[v] += p * m.Cost[i]
			ef.quad[v] += p * m.Quad[i]
			ef.lower[v] = math.Max(ef.lower[v], m.Lower[i])
			ef.upper[v] = math.Min(ef.upper[v], m.Upper[i])
			if m.Quad[i] != 0 {
				ef.linear = false
			}
		}
		for _, row := range m.Rows {
			mapped := problem.Constraint{Lo: row.Lo, Hi: row.Hi}
			for k, i := range row.Index {
				if row.Coef[k] == 0 {
					continue
				}
				mapped.Index = append(mapped.Index, ef.variable(pb, s, i))
				mapped.Coef = append(mapped.Coef, row.Coef[k])
			}
			key := rowKey(mapped)
			if seen[key] {
				continue
			}
			seen[key] = true
			ef.rows = append(ef.rows, mapped)
		}
	}
	for v := range ef.lower {
		if ef.lower[v] > ef.upper[v] {
			return nil, fmt.Errorf("%w: variable %d has bounds [%g, %g] in the extensive form", subproblem.ErrInfeasible, v, ef.lower[v], ef.upper[v])
		}
	}
	return ef, nil
}

func (ef *extensive) variable(pb *problem.Problem, s, i int) int {
	d := ef.stage[i]
	node := pb.Tree().Path(s)[d]
	return ef.offset[node] + i - pb.StageRange(d).Lo
}

func (ef *extensive) trajectory(pb *problem.Problem, sol []float64) *mat.Dense {
	x := pb.NewTrajectory()
	for s := 0; s < pb.NumScenarios(); s++ {
		for i := 0; i < pb.Dim(); i++ {
			x.Set(i, s, sol[ef.variable(pb, s, i)])
		}
	}
	return x
}

func rowKey(c problem.Constraint) string {
	idx := make([]int, len(c.Index))
	for k := range idx {
		idx[k] = k
	}
	sort.Slice(idx, func(a, b int) bool { return c.Index[idx[a]] < c.Index[idx[b]] })
	var b strings.Builder
	for _, k := range idx {
		b.WriteString(strconv.Itoa(c.Index[k]))
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(c.Coef[k], 'g', -1, 64))
		b.WriteByte(' ')
	}
	b.WriteString(strconv.FormatFloat(c.Lo, 'g', -1, 64))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatFloat(c.Hi, 'g', -1, 64))
	return b.String()
}

// solveLP writes the extensive form as min cᵀx s.t. Gx <= h, Ax = b and
// hands it to the simplex method. Variables that appear nowhere are pinned
// to zero so that the standard form has no empty column.
func (ef *extensive) solveLP() ([]float64, error) {
	n := ef.nvars
	var gData, h, aData, b []float64
	used := make([]bool, n)

	addIneq := func(coef map[int]float64, rhs float64) {
		row := make([]float64, n)
		for v, c := range coef {
			row[v] = c
			used[v] = true
		}
		gData = append(gData, row...)
		h = append(h, rhs)
	}

	for _, row := range ef.rows {
		dense := make([]float64, n)
		for k, v := range row.Index {
			dense[v] += row.Coef[k]
			used[v] = true
		}
		switch {
		case row.IsEquality():
			aData = append(aData, dense...)
			b = append(b, row.Hi)
		default:
			if !math.IsInf(row.Hi, 1) {
				gData = append(gData, dense...)
				h = append(h, row.Hi)
			}
			if !math.IsInf(row.Lo, -1) {
				neg := make([]float64, n)
				for v, c := range dense {
					neg[v] = -c
				}
				gData = append(gData, neg...)
				h = append(h, -row.Lo)
			}
		}
	}
	for v := 0; v < n; v++ {
		if !math.IsInf(ef.upper[v], 1) {
			addIneq(map[int]float64{v: 1}, ef.upper[v])
		}
		if !math.IsInf(ef.lower[v], -1) {
			addIneq(map[int]float64{v: -1}, -ef.lower[v])
		}
	}
	for v := 0; v < n; v++ {
		if !used[v] {
			addIneq(map[int]float64{v: 1}, 0)
			addIneq(map[int]float64{v: -1}, 0)
		}
	}

	var g, a mat.Matrix
	if len(h) > 0 {
		g = mat.NewDense(len(h), n, gData)
	}
	if len(b) > 0 {
		a = mat.NewDense(len(b), n, aData)
	}
	cNew, aNew, bNew := lp.Convert(ef.cost, g, h, a, b)
	rows, cols := aNew.Dims()
	for r := 0; r < rows; r++ {
		if bNew[r] < 0 {
			bNew[r] = -bNew[r]
			for c := 0; c < cols; c++ {
				aNew.Set(r, c, -aNew.At(r, c))
			}
		}
	}
	_, xNew, err := lp.Simplex(cNew, aNew, bNew, simplexTolerance, nil)
	if err != nil {
		if errors.Is(err, lp.ErrInfeasible) {
			return nil, fmt.Errorf("%w: %v", subproblem.ErrInfeasible, err)
		}
		return nil, fmt.Errorf("simplex: %w", err)
	}
	x := make([]float64, n)
	for v := range x {
		x[v] = xNew[v] - xNew[n+v]
	}
	return x, nil
}

func (ef *extensive) solveQP(ctx context.Context) ([]float64, error) {
	m := problem.NewModel(ef.nvars)
	copy(m.Cost, ef.cost)
	copy(m.Quad, ef.quad)
	copy(m.Lower, ef.lower)
	copy(m.Upper, ef.upper)
	m.Rows = ef.rows

	set := subproblem.DefaultSettings()
	set.MaxIter = 200000
	return subproblem.SolveQP(ctx, subproblem.BuildQP(m, 0, nil), set)
}
