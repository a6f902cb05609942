// Package projection implements the orthogonal projection onto the
// non-anticipativity subspace under the probability-weighted inner product
// ⟨a, b⟩ = Σ_s p_s a_sᵀb_s.
//
// A trajectory is non-anticipative when, for every tree node, the columns of
// the node's scenarios agree on the node's stage coordinates. The projection
// replaces each such block by its probability-weighted average.
package projection

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/phedge/internal/problem"
)

// Project returns the projection of y as a new matrix.
func Project(pb *problem.Problem, y *mat.Dense) *mat.Dense {
	dst := mat.DenseCopyOf(y)
	ProjectInto(pb, dst, dst)
	return dst
}

// ProjectInto writes the projection of y into dst. dst and y may be the same
// matrix; the result is bitwise identical to Project.
func ProjectInto(pb *problem.Problem, dst, y *mat.Dense) {
	if dst != y {
		dst.Copy(y)
	}
	t := pb.Tree()
	for d := t.Depth() - 1; d >= 0; d-- {
		for _, node := range t.NodesAtDepth(d) {
			average(pb, dst, dst, node)
		}
	}
}

// ProjectPath updates dst, assumed to hold the projection of y before column
// s of y changed, so that it holds the projection of the new y. Only the
// nodes on the path of s are recomputed.
func ProjectPath(pb *problem.Problem, dst, y *mat.Dense, s int) {
	path := pb.Tree().Path(s)
	for d := len(path) - 1; d >= 0; d-- {
		average(pb, dst, y, path[d])
	}
}

// average writes the weighted mean of src over the node's scenarios into the
// node's block of dst.
func average(pb *problem.Problem, dst, src *mat.Dense, node int) {
	n := pb.Tree().Node(node)
	coords := pb.StageRange(n.Depth)
	mass := pb.NodeMass(node)
	for i := coords.Lo; i < coords.Hi; i++ {
		sum := 0.0
		for s := n.Scenarios.Lo; s < n.Scenarios.Hi; s++ {
			sum += pb.Proba(s) * src.At(i, s)
		}
		avg := sum / mass
		for s := n.Scenarios.Lo; s < n.Scenarios.Hi; s++ {
			dst.Set(i, s, avg)
		}
	}
}

// Dot is the probability-weighted inner product of two trajectories.
func Dot(pb *problem.Problem, a, b mat.Matrix) float64 {
	r, c := a.Dims()
	v := 0.0
	for s := 0; s < c; s++ {
		col := 0.0
		for i := 0; i < r; i++ {
			col += a.At(i, s) * b.At(i, s)
		}
		v += pb.Proba(s) * col
	}
	return v
}

func Norm(pb *problem.Problem, a mat.Matrix) float64 {
	return math.Sqrt(Dot(pb, a, a))
}

// Distance is Norm(a - b) without allocating the difference.
func Distance(pb *problem.Problem, a, b mat.Matrix) float64 {
	r, c := a.Dims()
	v := 0.0
	for s := 0; s < c; s++ {
		col := 0.0
		for i := 0; i < r; i++ {
			d := a.At(i, s) - b.At(i, s)
			col += d * d
		}
		v += pb.Proba(s) * col
	}
	return math.Sqrt(v)
}

// IsNonAnticipative reports whether every node block of x is constant up to
// tol.
func IsNonAnticipative(pb *problem.Problem, x mat.Matrix, tol float64) bool {
	t := pb.Tree()
	for id := 0; id < t.NumNodes(); id++ {
		n := t.Node(id)
		coords := pb.StageRange(n.Depth)
		for i := coords.Lo; i < coords.Hi; i++ {
			ref := x.At(i, n.Scenarios.Lo)
			for s := n.Scenarios.Lo + 1; s < n.Scenarios.Hi; s++ {
				if math.Abs(x.At(i, s)-ref) > tol {
					return false
				}
			}
		}
	}
	return true
}
