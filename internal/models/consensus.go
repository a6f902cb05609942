package models

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/phedge/internal/problem"
	"github.com/san-kum/phedge/internal/projection"
	"github.com/san-kum/phedge/internal/tree"
)

// Consensus is the strictly convex test problem
//
//	minimize Σ_s p_s ½‖x_s − a_s‖²  subject to x non-anticipative,
//
// whose solution is the projection of the targets a.
type Consensus struct {
	Targets  [][]float64
	Probas   []float64
	Sets     [][][]int
	PerStage int
}

// NewConsensus returns the three-scenario instance on the tree
// {0,1,2} → {0}{1,2} → {0}{1}{2} with one coordinate per stage.
func NewConsensus() *Consensus {
	return &Consensus{
		Targets: [][]float64{
			{1, 2, 3},
			{-1, 0, 4},
			{3, -2, 1},
		},
		Probas:   []float64{0.2, 0.5, 0.3},
		Sets:     [][][]int{{{0, 1, 2}}, {{0}, {1, 2}}, {{0}, {1}, {2}}},
		PerStage: 1,
	}
}

// NewRandomConsensus draws uniform targets on a regular tree.
func NewRandomConsensus(depth, branching, perStage int, seed int64) (*Consensus, error) {
	tr, err := tree.NewRegular(depth, branching)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(uint64(seed)))
	n := tr.NumScenarios()
	c := &Consensus{
		Targets:  make([][]float64, n),
		Probas:   make([]float64, n),
		Sets:     make([][][]int, depth),
		PerStage: perStage,
	}
	for s := 0; s < n; s++ {
		c.Probas[s] = 1 / float64(n)
		c.Targets[s] = make([]float64, depth*perStage)
		for i := range c.Targets[s] {
			c.Targets[s][i] = 10*rng.Float64() - 5
		}
	}
	for d := 0; d < depth; d++ {
		for _, id := range tr.NodesAtDepth(d) {
			r := tr.Node(id).Scenarios
			set := make([]int, 0, r.Len())
			for s := r.Lo; s < r.Hi; s++ {
				set = append(set, s)
			}
			c.Sets[d] = append(c.Sets[d], set)
		}
	}
	return c, nil
}

// ConsensusScenario is the quadratic ½‖x − Target‖².
type ConsensusScenario struct {
	Target []float64
}

func (sc ConsensusScenario) Model(int) (*problem.Model, error) {
	m := problem.NewModel(len(sc.Target))
	for i, a := range sc.Target {
		m.Quad[i] = 1
		m.Cost[i] = -a
		m.Offset += 0.5 * a * a
	}
	return m, nil
}

func (c *Consensus) Problem() (*problem.Problem, error) {
	if c.PerStage < 1 {
		return nil, fmt.Errorf("%w: at least one coordinate per stage", problem.ErrConstruction)
	}
	tr, err := tree.FromSets(c.Sets)
	if err != nil {
		return nil, err
	}
	scenarios := make([]problem.Scenario, len(c.Targets))
	for s, a := range c.Targets {
		scenarios[s] = ConsensusScenario{Target: a}
	}
	stages := make([]tree.Range, len(c.Sets))
	for t := range stages {
		stages[t] = tree.Range{Lo: t * c.PerStage, Hi: (t + 1) * c.PerStage}
	}
	return problem.New(scenarios, c.Probas, len(c.Sets), stages, tr)
}

// Solution is the exact minimiser: the projection of the targets.
func (c *Consensus) Solution(pb *problem.Problem) *mat.Dense {
	a := pb.NewTrajectory()
	for s, t := range c.Targets {
		a.SetCol(s, t)
	}
	return projection.Project(pb, a)
}
