// Package problem holds the immutable description of a multistage stochastic
// program: scenario models, probabilities, the stage to coordinate map and the
// scenario tree that couples them.
package problem

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/phedge/internal/tree"
)

// Scenario builds the deterministic model of one scenario.
type Scenario interface {
	Model(id int) (*Model, error)
}

// ModelFunc adapts a plain callback to Scenario.
type ModelFunc func(id int) (*Model, error)

func (f ModelFunc) Model(id int) (*Model, error) {
	return f(id)
}

const probabilityTolerance = 1e-8

type Problem struct {
	scenarios []Scenario
	models    []*Model
	probas    []float64
	stageDims []tree.Range
	dim       int
	tree      *tree.Tree
	nodeMass  []float64
}

// New validates its arguments and builds every scenario model once.
// stageDims[t] is the coordinate range of stage t; together the ranges must
// tile [0, Dim) in stage order.
func New(scenarios []Scenario, probas []float64, stages int, stageDims []tree.Range, t *tree.Tree) (*Problem, error) {
	n := len(scenarios)
	if n == 0 {
		return nil, fmt.Errorf("%w: no scenarios", ErrConstruction)
	}
	if len(probas) != n {
		return nil, fmt.Errorf("%w: %d probabilities for %d scenarios", ErrBadProbabilities, len(probas), n)
	}
	sum := 0.0
	for s, p := range probas {
		if !(p > 0) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("%w: probability of scenario %d is %g", ErrBadProbabilities, s, p)
		}
		sum += p
	}
	if math.Abs(sum-1) > probabilityTolerance {
		return nil, fmt.Errorf("%w: probabilities sum to %.12g", ErrBadProbabilities, sum)
	}

	if t == nil {
		return nil, fmt.Errorf("%w: nil tree", ErrTreeMismatch)
	}
	if stages < 1 || len(stageDims) != stages {
		return nil, fmt.Errorf("%w: %d ranges for %d stages", ErrStageMap, len(stageDims), stages)
	}
	if t.Depth() != stages {
		return nil, fmt.Errorf("%w: %d stages for a tree of depth %d", ErrStageMap, stages, t.Depth())
	}
	next := 0
	for st, r := range stageDims {
		if r.Lo != next || r.Len() < 1 {
			return nil, fmt.Errorf("%w: stage %d range %v does not continue at %d", ErrStageMap, st, r, next)
		}
		next = r.Hi
	}
	dim := next

	if t.NumScenarios() != n {
		return nil, fmt.Errorf("%w: tree holds %d scenarios, got %d", ErrTreeMismatch, t.NumScenarios(), n)
	}

	pb := &Problem{
		scenarios: append([]Scenario(nil), scenarios...),
		models:    make([]*Model, n),
		probas:    append([]float64(nil), probas...),
		stageDims: append([]tree.Range(nil), stageDims...),
		dim:       dim,
		tree:      t,
	}
	for s, sc := range pb.scenarios {
		m, err := sc.Model(s)
		if err != nil {
			return nil, &ModelError{Scenario: s, Wrapped: fmt.Errorf("%w: %w", ErrInvalidModel, err)}
		}
		if m == nil {
			return nil, &ModelError{Scenario: s, Wrapped: fmt.Errorf("%w: nil model", ErrInvalidModel)}
		}
		if m.Dim != dim {
			return nil, &ModelError{Scenario: s, Wrapped: fmt.Errorf("%w: dimension %d, problem has %d", ErrInvalidModel, m.Dim, dim)}
		}
		if err := m.Validate(); err != nil {
			return nil, &ModelError{Scenario: s, Wrapped: fmt.Errorf("%w: %w", ErrInvalidModel, err)}
		}
		pb.models[s] = m
	}

	pb.nodeMass = make([]float64, t.NumNodes())
	for id := range pb.nodeMass {
		r := t.Node(id).Scenarios
		for s := r.Lo; s < r.Hi; s++ {
			pb.nodeMass[id] += pb.probas[s]
		}
	}
	return pb, nil
}

func (pb *Problem) NumScenarios() int {
	return len(pb.scenarios)
}

func (pb *Problem) NumStages() int {
	return len(pb.stageDims)
}

// Dim is the number of coordinates of one scenario's decision vector.
func (pb *Problem) Dim() int {
	return pb.dim
}

func (pb *Problem) Tree() *tree.Tree {
	return pb.tree
}

func (pb *Problem) Scenario(s int) Scenario {
	return pb.scenarios[s]
}

// Model returns the cached model of scenario s. It must not be modified.
func (pb *Problem) Model(s int) *Model {
	return pb.models[s]
}

func (pb *Problem) Proba(s int) float64 {
	return pb.probas[s]
}

func (pb *Problem) Probas() []float64 {
	return append([]float64(nil), pb.probas...)
}

// StageRange is the coordinate range of stage t.
func (pb *Problem) StageRange(t int) tree.Range {
	return pb.stageDims[t]
}

// NodeMass is the total probability of the scenarios under a tree node.
func (pb *Problem) NodeMass(node int) float64 {
	return pb.nodeMass[node]
}

// NewTrajectory allocates a zero Dim × NumScenarios matrix. Column s holds
// the decision vector of scenario s.
func (pb *Problem) NewTrajectory() *mat.Dense {
	return mat.NewDense(pb.dim, len(pb.scenarios), nil)
}

// CheckTrajectory reports whether x has the shape of a trajectory of pb.
func (pb *Problem) CheckTrajectory(x mat.Matrix) error {
	r, c := x.Dims()
	if r != pb.dim || c != len(pb.scenarios) {
		return fmt.Errorf("trajectory is %dx%d, want %dx%d", r, c, pb.dim, len(pb.scenarios))
	}
	return nil
}

// ObjectiveValue is the expected cost Σ p_s f_s(x_s).
func ObjectiveValue(pb *Problem, x mat.Matrix) float64 {
	v := 0.0
	for s := range pb.scenarios {
		v += pb.probas[s] * ObjectiveValueScenario(pb, x, s)
	}
	return v
}

// ObjectiveValueScenario is f_s(x_s), without the probability weight.
func ObjectiveValueScenario(pb *Problem, x mat.Matrix, s int) float64 {
	return pb.models[s].Objective(mat.Col(nil, s, x))
}
