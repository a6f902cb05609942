// Package tree implements the scenario tree that encodes which scenarios share
// history at each stage.
//
// Scenario ids are the integers [0, n). Every node of the tree owns a
// contiguous half-open range of ids; the root owns all of them, every leaf
// owns exactly one, and the children of a node partition its range in order.
// Contiguity is what lets the projection and the engines address the
// scenarios of a node as a column slice of a trajectory matrix.
//
// # Thread Safety
//
// A Tree is immutable once built and may be shared freely between goroutines.
package tree

import (
	"fmt"
	"iter"
	"sort"
	"strings"
)

// Range is the half-open interval [Lo, Hi).
type Range struct {
	Lo int
	Hi int
}

func (r Range) Len() int {
	return r.Hi - r.Lo
}

func (r Range) Contains(i int) bool {
	return i >= r.Lo && i < r.Hi
}

func (r Range) String() string {
	if r.Len() == 1 {
		return fmt.Sprintf("{%d}", r.Lo)
	}
	return fmt.Sprintf("[%d,%d)", r.Lo, r.Hi)
}

type Node struct {
	Parent    int
	Children  []int
	Depth     int
	Scenarios Range
}

// Tree is a rooted tree stored as a flat node array. Node 0 is the root and
// nodes are ordered by depth, then by scenario range.
type Tree struct {
	nodes   []Node
	byDepth [][]int
	paths   [][]int
	n       int
}

// NewRegular builds a perfect tree of the given depth where every inner node
// has branching children. It holds branching^(depth-1) scenarios.
func NewRegular(depth, branching int) (*Tree, error) {
	if depth < 1 {
		return nil, fmt.Errorf("%w: depth must be at least 1, got %d", ErrConstruction, depth)
	}
	if branching < 1 {
		return nil, fmt.Errorf("%w: branching must be at least 1, got %d", ErrConstruction, branching)
	}

	n := 1
	for d := 1; d < depth; d++ {
		n *= branching
	}

	stages := make([][]Range, depth)
	blocks := 1
	for d := 0; d < depth; d++ {
		size := n / blocks
		stage := make([]Range, blocks)
		for b := range stage {
			stage[b] = Range{Lo: b * size, Hi: (b + 1) * size}
		}
		stages[d] = stage
		blocks *= branching
	}
	return FromPartition(stages)
}

// FromPartition builds a tree from one partition of the scenario ids per
// stage. Stage 0 must be a single range covering all ids, the last stage
// must be singletons, and each stage must refine the previous one.
func FromPartition(stages [][]Range) (*Tree, error) {
	if len(stages) == 0 {
		return nil, &PartitionError{Stage: 0, Set: -1, Reason: "no stages"}
	}
	if len(stages[0]) != 1 {
		return nil, &PartitionError{Stage: 0, Set: -1, Reason: fmt.Sprintf("first stage must be a single set, got %d", len(stages[0]))}
	}
	root := stages[0][0]
	if root.Lo != 0 || root.Len() < 1 {
		return nil, &PartitionError{Stage: 0, Set: 0, Reason: fmt.Sprintf("root range %v must start at 0 and be non-empty", root)}
	}

	sorted := make([][]Range, len(stages))
	for t, stage := range stages {
		s := append([]Range(nil), stage...)
		sort.Slice(s, func(i, j int) bool { return s[i].Lo < s[j].Lo })
		next := 0
		for i, r := range s {
			if r.Len() < 1 {
				return nil, &PartitionError{Stage: t, Set: i, Reason: fmt.Sprintf("empty range %v", r)}
			}
			if r.Lo != next {
				return nil, &PartitionError{Stage: t, Set: i, Reason: fmt.Sprintf("range %v leaves a gap or overlaps at %d", r, next)}
			}
			next = r.Hi
		}
		if next != root.Hi {
			return nil, &PartitionError{Stage: t, Set: -1, Reason: fmt.Sprintf("covers [0,%d), want [0,%d)", next, root.Hi)}
		}
		sorted[t] = s
	}
	for i, r := range sorted[len(sorted)-1] {
		if r.Len() != 1 {
			return nil, &PartitionError{Stage: len(sorted) - 1, Set: i, Reason: fmt.Sprintf("last stage must be singletons, got %v", r)}
		}
	}

	t := &Tree{n: root.Hi, byDepth: make([][]int, len(sorted))}
	t.nodes = append(t.nodes, Node{Parent: -1, Depth: 0, Scenarios: root})
	t.byDepth[0] = []int{0}

	for d := 1; d < len(sorted); d++ {
		parents := t.byDepth[d-1]
		p := 0
		for i, r := range sorted[d] {
			for p < len(parents) && t.nodes[parents[p]].Scenarios.Hi <= r.Lo {
				p++
			}
			if p == len(parents) {
				return nil, &PartitionError{Stage: d, Set: i, Reason: fmt.Sprintf("range %v has no parent", r)}
			}
			parent := parents[p]
			pr := t.nodes[parent].Scenarios
			if r.Lo < pr.Lo || r.Hi > pr.Hi {
				return nil, &PartitionError{Stage: d, Set: i, Reason: fmt.Sprintf("range %v is not nested in %v", r, pr)}
			}
			id := len(t.nodes)
			t.nodes = append(t.nodes, Node{Parent: parent, Depth: d, Scenarios: r})
			t.nodes[parent].Children = append(t.nodes[parent].Children, id)
			t.byDepth[d] = append(t.byDepth[d], id)
		}
	}

	t.paths = make([][]int, t.n)
	for _, leaf := range t.byDepth[len(sorted)-1] {
		path := make([]int, len(sorted))
		for node := leaf; node >= 0; node = t.nodes[node].Parent {
			path[t.nodes[node].Depth] = node
		}
		t.paths[t.nodes[leaf].Scenarios.Lo] = path
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// FromSets is FromPartition for partitions written as explicit id sets.
// Every set must hold consecutive integers.
func FromSets(stages [][][]int) (*Tree, error) {
	ranges := make([][]Range, len(stages))
	for t, stage := range stages {
		ranges[t] = make([]Range, len(stage))
		for i, set := range stage {
			if len(set) == 0 {
				return nil, &PartitionError{Stage: t, Set: i, Reason: "empty set"}
			}
			ids := append([]int(nil), set...)
			sort.Ints(ids)
			for k := 1; k < len(ids); k++ {
				if ids[k] != ids[k-1]+1 {
					return nil, &PartitionError{Stage: t, Set: i, Reason: fmt.Sprintf("set %v is not a contiguous range", set)}
				}
			}
			ranges[t][i] = Range{Lo: ids[0], Hi: ids[len(ids)-1] + 1}
		}
	}
	return FromPartition(ranges)
}

// Validate checks the structural invariants: contiguous non-empty ranges,
// children that partition their parent in order, singleton leaves.
func (t *Tree) Validate() error {
	if len(t.nodes) == 0 {
		return fmt.Errorf("%w: empty tree", ErrConstruction)
	}
	if r := t.nodes[0].Scenarios; r.Lo != 0 || r.Hi != t.n {
		return &PartitionError{Stage: 0, Set: 0, Reason: fmt.Sprintf("root range %v must be [0,%d)", r, t.n)}
	}
	last := len(t.byDepth) - 1
	for id, node := range t.nodes {
		if node.Scenarios.Len() < 1 {
			return &PartitionError{Stage: node.Depth, Set: id, Reason: "empty node"}
		}
		if node.Depth == last {
			if node.Scenarios.Len() != 1 || len(node.Children) != 0 {
				return &PartitionError{Stage: node.Depth, Set: id, Reason: "leaf must hold one scenario"}
			}
			continue
		}
		if len(node.Children) == 0 {
			return &PartitionError{Stage: node.Depth, Set: id, Reason: "inner node without children"}
		}
		next := node.Scenarios.Lo
		for _, c := range node.Children {
			cr := t.nodes[c].Scenarios
			if cr.Lo != next || t.nodes[c].Depth != node.Depth+1 {
				return &PartitionError{Stage: node.Depth + 1, Set: c, Reason: fmt.Sprintf("child %v does not continue parent %v at %d", cr, node.Scenarios, next)}
			}
			next = cr.Hi
		}
		if next != node.Scenarios.Hi {
			return &PartitionError{Stage: node.Depth + 1, Set: id, Reason: fmt.Sprintf("children stop at %d inside %v", next, node.Scenarios)}
		}
	}
	return nil
}

// Depth is the number of stages.
func (t *Tree) Depth() int {
	return len(t.byDepth)
}

func (t *Tree) NumScenarios() int {
	return t.n
}

func (t *Tree) NumNodes() int {
	return len(t.nodes)
}

func (t *Tree) Node(id int) Node {
	return t.nodes[id]
}

// NodesAtDepth returns the node indices of a stage, ordered by range.
// The returned slice must not be modified.
func (t *Tree) NodesAtDepth(d int) []int {
	return t.byDepth[d]
}

// Path returns the node indices from the root to the leaf of scenario id.
// The returned slice must not be modified.
func (t *Tree) Path(id int) []int {
	return t.paths[id]
}

func (t *Tree) Leaf(id int) int {
	return t.paths[id][len(t.paths[id])-1]
}

// NeighborsByDepth yields, for every depth from the root down, the range of
// scenarios that share their history with id up to that depth. The sequence
// is finite and may be ranged over any number of times.
func (t *Tree) NeighborsByDepth(id int) iter.Seq2[int, Range] {
	return func(yield func(int, Range) bool) {
		if id < 0 || id >= t.n {
			return
		}
		for d, node := range t.paths[id] {
			if !yield(d, t.nodes[node].Scenarios) {
				return
			}
		}
	}
}

// String renders the tree one stage per line.
func (t *Tree) String() string {
	var b strings.Builder
	for d, ids := range t.byDepth {
		fmt.Fprintf(&b, "stage %d:", d)
		for _, id := range ids {
			fmt.Fprintf(&b, " %v", t.nodes[id].Scenarios)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
