package subproblem

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/phedge/internal/problem"
)

// QP is the problem
//
//	minimize   ½ xᵀ diag(P) x + Qᵀx
//	subject to L <= A x <= U
//
// Bounds on x are expressed as rows of A.
type QP struct {
	P []float64
	Q []float64
	A *mat.Dense
	L []float64
	U []float64
}

// Dims returns the number of variables and of constraint rows.
func (qp *QP) Dims() (n, m int) {
	return len(qp.P), len(qp.L)
}

// BuildQP writes the proximal problem of a scenario model as a QP:
// P = Quad + penalty and Q = Cost − penalty·target.
func BuildQP(m *problem.Model, penalty float64, target []float64) *QP {
	n := m.Dim
	qp := &QP{P: make([]float64, n), Q: make([]float64, n)}
	for i := 0; i < n; i++ {
		qp.P[i] = m.Quad[i] + penalty
		qp.Q[i] = m.Cost[i]
		if target != nil {
			qp.Q[i] -= penalty * target[i]
		}
	}

	rows := len(m.Rows)
	for i := 0; i < n; i++ {
		if !math.IsInf(m.Lower[i], -1) || !math.IsInf(m.Upper[i], 1) {
			rows++
		}
	}
	qp.L = make([]float64, 0, rows)
	qp.U = make([]float64, 0, rows)
	if rows == 0 {
		return qp
	}
	qp.A = mat.NewDense(rows, n, nil)
	r := 0
	for _, row := range m.Rows {
		for k, i := range row.Index {
			qp.A.Set(r, i, qp.A.At(r, i)+row.Coef[k])
		}
		qp.L = append(qp.L, row.Lo)
		qp.U = append(qp.U, row.Hi)
		r++
	}
	for i := 0; i < n; i++ {
		if math.IsInf(m.Lower[i], -1) && math.IsInf(m.Upper[i], 1) {
			continue
		}
		qp.A.Set(r, i, 1)
		qp.L = append(qp.L, m.Lower[i])
		qp.U = append(qp.U, m.Upper[i])
		r++
	}
	return qp
}

// Settings tune the ADMM iteration.
type Settings struct {
	MaxIter       int
	EpsAbs        float64
	EpsRel        float64
	EpsInfeasible float64
	Rho           float64
	Sigma         float64
	Alpha         float64
	AdaptiveRho   bool
	AdaptInterval int
}

func DefaultSettings() Settings {
	return Settings{
		MaxIter:       20000,
		EpsAbs:        1e-7,
		EpsRel:        1e-7,
		EpsInfeasible: 1e-6,
		Rho:           0.1,
		Sigma:         1e-6,
		Alpha:         1.6,
		AdaptiveRho:   true,
		AdaptInterval: 25,
	}
}

func (s Settings) Validate() error {
	switch {
	case s.MaxIter < 1:
		return fmt.Errorf("max iterations must be positive, got %d", s.MaxIter)
	case s.EpsAbs < 0 || s.EpsRel < 0 || s.EpsAbs+s.EpsRel == 0:
		return fmt.Errorf("tolerances must be non-negative and not both zero")
	case s.Rho <= 0 || s.Sigma <= 0:
		return fmt.Errorf("rho and sigma must be positive")
	case s.Alpha <= 0 || s.Alpha >= 2:
		return fmt.Errorf("relaxation %g outside (0, 2)", s.Alpha)
	}
	return nil
}

const (
	rhoMin         = 1e-6
	rhoMax         = 1e6
	rhoEqScale     = 1e3
	rhoAdaptFactor = 5
	ctxCheckEvery  = 64

	infeasibilityEvery = 25
)

// workspace carries the iterates and the factorisation between solves so a
// changed linear term restarts from the previous solution.
type workspace struct {
	qp  *QP
	set Settings
	n   int
	m   int

	x []float64
	z []float64
	y []float64

	rho    float64
	rhoVec []float64
	chol   mat.Cholesky

	rhs   []float64
	xt    []float64
	rhsV  *mat.VecDense
	xtV   *mat.VecDense
	ax    []float64
	aty   []float64
	px    []float64
	dy    []float64
	iters int
}

func newWorkspace(qp *QP, set Settings) (*workspace, error) {
	n, m := qp.Dims()
	if len(qp.Q) != n || len(qp.U) != m {
		return nil, fmt.Errorf("%w: inconsistent QP dimensions", ErrSolverFailure)
	}
	if m > 0 {
		if r, c := qp.A.Dims(); r != m || c != n {
			return nil, fmt.Errorf("%w: constraint matrix is %dx%d, want %dx%d", ErrSolverFailure, r, c, m, n)
		}
	}
	for i := 0; i < m; i++ {
		if qp.L[i] > qp.U[i] {
			return nil, fmt.Errorf("%w: row %d has empty interval [%g, %g]", ErrInfeasible, i, qp.L[i], qp.U[i])
		}
	}

	w := &workspace{
		qp:     qp,
		set:    set,
		n:      n,
		m:      m,
		x:      make([]float64, n),
		z:      make([]float64, m),
		y:      make([]float64, m),
		rhoVec: make([]float64, m),
		rhs:    make([]float64, n),
		xt:     make([]float64, n),
		ax:     make([]float64, m),
		aty:    make([]float64, n),
		px:     make([]float64, n),
		dy:     make([]float64, m),
	}
	w.rhsV = mat.NewVecDense(n, w.rhs)
	w.xtV = mat.NewVecDense(n, w.xt)
	w.setRho(set.Rho)
	if err := w.factor(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *workspace) setRho(rho float64) {
	w.rho = math.Min(math.Max(rho, rhoMin), rhoMax)
	for i := 0; i < w.m; i++ {
		switch {
		case w.qp.L[i] == w.qp.U[i]:
			w.rhoVec[i] = rhoEqScale * w.rho
		case math.IsInf(w.qp.L[i], -1) && math.IsInf(w.qp.U[i], 1):
			w.rhoVec[i] = rhoMin
		default:
			w.rhoVec[i] = w.rho
		}
	}
}

// factor computes the Cholesky factor of P + σI + Aᵀ diag(ρ) A.
func (w *workspace) factor() error {
	k := mat.NewSymDense(w.n, nil)
	for i := 0; i < w.n; i++ {
		k.SetSym(i, i, w.qp.P[i]+w.set.Sigma)
	}
	for r := 0; r < w.m; r++ {
		row := w.qp.A.RawRowView(r)
		for i, ai := range row {
			if ai == 0 {
				continue
			}
			for j := i; j < w.n; j++ {
				if row[j] == 0 {
					continue
				}
				k.SetSym(i, j, k.At(i, j)+w.rhoVec[r]*ai*row[j])
			}
		}
	}
	if ok := w.chol.Factorize(k); !ok {
		return fmt.Errorf("%w: reduced KKT matrix is not positive definite", ErrSolverFailure)
	}
	return nil
}

type residuals struct {
	prim, dual       float64
	epsPrim, epsDual float64
	normAx, normZ    float64
	normPx, normAty  float64
	normQ            float64
}

func (w *workspace) solve(ctx context.Context) error {
	qp := w.qp
	alpha := w.set.Alpha
	for it := 1; it <= w.set.MaxIter; it++ {
		if it%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		for i := 0; i < w.n; i++ {
			w.rhs[i] = w.set.Sigma*w.x[i] - qp.Q[i]
		}
		for r := 0; r < w.m; r++ {
			coef := w.rhoVec[r]*w.z[r] - w.y[r]
			floats.AddScaled(w.rhs, coef, qp.A.RawRowView(r))
		}
		if err := w.chol.SolveVecTo(w.xtV, w.rhsV); err != nil {
			return fmt.Errorf("%w: %v", ErrSolverFailure, err)
		}

		for r := 0; r < w.m; r++ {
			zt := floats.Dot(qp.A.RawRowView(r), w.xt)
			zh := alpha*zt + (1-alpha)*w.z[r]
			zn := math.Min(math.Max(zh+w.y[r]/w.rhoVec[r], qp.L[r]), qp.U[r])
			w.dy[r] = w.rhoVec[r] * (zh - zn)
			w.y[r] += w.dy[r]
			w.z[r] = zn
		}
		for i := 0; i < w.n; i++ {
			w.x[i] = alpha*w.xt[i] + (1-alpha)*w.x[i]
		}
		w.iters++

		res := w.residuals()
		if res.prim <= res.epsPrim && res.dual <= res.epsDual {
			return nil
		}
		if it%infeasibilityEvery == 0 && w.primalInfeasible() {
			return fmt.Errorf("%w: certificate found after %d iterations", ErrInfeasible, it)
		}
		if w.set.AdaptiveRho && w.set.AdaptInterval > 0 && it%w.set.AdaptInterval == 0 {
			if err := w.adapt(res); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: no convergence after %d iterations", ErrSolverFailure, w.set.MaxIter)
}

func (w *workspace) residuals() residuals {
	qp := w.qp
	var res residuals
	for r := 0; r < w.m; r++ {
		w.ax[r] = floats.Dot(qp.A.RawRowView(r), w.x)
		res.prim = math.Max(res.prim, math.Abs(w.ax[r]-w.z[r]))
		res.normAx = math.Max(res.normAx, math.Abs(w.ax[r]))
		res.normZ = math.Max(res.normZ, math.Abs(w.z[r]))
	}
	w.atMul(w.aty, w.y)
	for i := 0; i < w.n; i++ {
		w.px[i] = qp.P[i] * w.x[i]
		res.dual = math.Max(res.dual, math.Abs(w.px[i]+qp.Q[i]+w.aty[i]))
		res.normPx = math.Max(res.normPx, math.Abs(w.px[i]))
		res.normAty = math.Max(res.normAty, math.Abs(w.aty[i]))
		res.normQ = math.Max(res.normQ, math.Abs(qp.Q[i]))
	}
	res.epsPrim = w.set.EpsAbs + w.set.EpsRel*math.Max(res.normAx, res.normZ)
	res.epsDual = w.set.EpsAbs + w.set.EpsRel*math.Max(res.normPx, math.Max(res.normAty, res.normQ))
	return res
}

// atMul writes Aᵀv into dst.
func (w *workspace) atMul(dst, v []float64) {
	for i := range dst {
		dst[i] = 0
	}
	for r := 0; r < w.m; r++ {
		if v[r] != 0 {
			floats.AddScaled(dst, v[r], w.qp.A.RawRowView(r))
		}
	}
}

// primalInfeasible tests the last dual step δy against the Farkas
// conditions ‖Aᵀδy‖ ≈ 0 and uᵀ(δy)₊ + lᵀ(δy)₋ < 0, after projecting δy onto
// the polar cone of the unbounded sides.
func (w *workspace) primalInfeasible() bool {
	if w.m == 0 {
		return false
	}
	qp := w.qp
	norm := 0.0
	for r := 0; r < w.m; r++ {
		d := w.dy[r]
		if (d > 0 && math.IsInf(qp.U[r], 1)) || (d < 0 && math.IsInf(qp.L[r], -1)) {
			d = 0
		}
		w.dy[r] = d
		norm = math.Max(norm, math.Abs(d))
	}
	eps := w.set.EpsInfeasible
	if norm <= eps {
		return false
	}
	support := 0.0
	for r := 0; r < w.m; r++ {
		switch d := w.dy[r]; {
		case d > 0:
			support += qp.U[r] * d
		case d < 0:
			support += qp.L[r] * d
		}
	}
	if support >= -eps*norm {
		return false
	}
	w.atMul(w.aty, w.dy)
	return floats.Norm(w.aty, math.Inf(1)) <= eps*norm
}

func (w *workspace) adapt(res residuals) error {
	const tiny = 1e-30
	primScale := math.Max(math.Max(res.normAx, res.normZ), tiny)
	dualScale := math.Max(math.Max(res.normPx, math.Max(res.normAty, res.normQ)), tiny)
	if res.dual <= 0 || res.prim <= 0 {
		return nil
	}
	ratio := math.Sqrt((res.prim / primScale) / (res.dual / dualScale))
	next := w.rho * ratio
	if next > rhoAdaptFactor*w.rho || next < w.rho/rhoAdaptFactor {
		w.setRho(next)
		return w.factor()
	}
	return nil
}

// setLinear replaces the linear term, keeping iterates and factorisation.
func (w *workspace) setLinear(q []float64) {
	copy(w.qp.Q, q)
}

// SolveQP solves qp from a cold start.
func SolveQP(ctx context.Context, qp *QP, set Settings) ([]float64, error) {
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSolverFailure, err)
	}
	w, err := newWorkspace(qp, set)
	if err != nil {
		return nil, err
	}
	if err := w.solve(ctx); err != nil {
		return nil, err
	}
	return append([]float64(nil), w.x...), nil
}
