package tree_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/phedge/internal/tree"
)

var _ = Describe("NewRegular", func() {
	It("partitions scenarios into contiguous blocks per depth", func() {
		t, err := tree.NewRegular(5, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.Depth()).To(Equal(5))
		Expect(t.NumScenarios()).To(Equal(16))
		Expect(t.NumNodes()).To(Equal(31))

		for d := 0; d < t.Depth(); d++ {
			next := 0
			for _, id := range t.NodesAtDepth(d) {
				r := t.Node(id).Scenarios
				Expect(r.Lo).To(Equal(next))
				Expect(r.Len()).To(Equal(16 >> d))
				next = r.Hi
			}
			Expect(next).To(Equal(16))
		}
	})

	It("has children that partition their parent", func() {
		t, err := tree.NewRegular(4, 3)
		Expect(err).NotTo(HaveOccurred())
		for id := 0; id < t.NumNodes(); id++ {
			node := t.Node(id)
			if len(node.Children) == 0 {
				Expect(node.Scenarios.Len()).To(Equal(1))
				continue
			}
			total := 0
			for _, c := range node.Children {
				Expect(t.Node(c).Parent).To(Equal(id))
				total += t.Node(c).Scenarios.Len()
			}
			Expect(total).To(Equal(node.Scenarios.Len()))
		}
		Expect(t.Validate()).To(Succeed())
	})

	It("supports a single stage", func() {
		t, err := tree.NewRegular(1, 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.NumScenarios()).To(Equal(1))
		Expect(t.Path(0)).To(Equal([]int{0}))
	})

	It("rejects degenerate shapes", func() {
		_, err := tree.NewRegular(0, 2)
		Expect(errors.Is(err, tree.ErrConstruction)).To(BeTrue())
		_, err = tree.NewRegular(3, 0)
		Expect(errors.Is(err, tree.ErrConstruction)).To(BeTrue())
	})
})

var _ = Describe("FromSets", func() {
	var sets [][][]int

	BeforeEach(func() {
		sets = [][][]int{
			{{0, 1, 2}},
			{{0}, {1, 2}},
			{{0}, {1}, {2}},
		}
	})

	It("builds the three-scenario tree", func() {
		t, err := tree.FromSets(sets)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.Depth()).To(Equal(3))
		Expect(t.NumNodes()).To(Equal(6))
		Expect(t.Node(t.Path(2)[1]).Scenarios).To(Equal(tree.Range{Lo: 1, Hi: 3}))
		Expect(t.Node(t.Leaf(1)).Scenarios).To(Equal(tree.Range{Lo: 1, Hi: 2}))
	})

	It("accepts sets listed out of order", func() {
		sets[1] = [][]int{{2, 1}, {0}}
		t, err := tree.FromSets(sets)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.Node(t.NodesAtDepth(1)[0]).Scenarios).To(Equal(tree.Range{Lo: 0, Hi: 1}))
	})

	It("rejects a non-contiguous set", func() {
		sets[1] = [][]int{{0, 2}, {1}}
		_, err := tree.FromSets(sets)
		Expect(err).To(MatchError(tree.ErrInvalidPartition))
		Expect(errors.Is(err, tree.ErrConstruction)).To(BeTrue())

		var perr *tree.PartitionError
		Expect(errors.As(err, &perr)).To(BeTrue())
		Expect(perr.Stage).To(Equal(1))
	})

	It("rejects a stage that is not a refinement", func() {
		sets[1] = [][]int{{0, 1}, {2}}
		sets = append(sets[:2], [][]int{{0}, {1, 2}}, [][]int{{0}, {1}, {2}})
		_, err := tree.FromSets(sets)
		Expect(err).To(MatchError(tree.ErrInvalidPartition))
	})

	It("rejects overlapping and missing ids", func() {
		sets[1] = [][]int{{0, 1}, {1, 2}}
		_, err := tree.FromSets(sets)
		Expect(err).To(MatchError(tree.ErrInvalidPartition))

		sets[1] = [][]int{{0}, {1}}
		_, err = tree.FromSets(sets)
		Expect(err).To(MatchError(tree.ErrInvalidPartition))
	})

	It("rejects a root split into several sets", func() {
		sets[0] = [][]int{{0}, {1, 2}}
		_, err := tree.FromSets(sets)
		Expect(err).To(MatchError(tree.ErrInvalidPartition))
	})

	It("rejects leaves that are not singletons", func() {
		_, err := tree.FromSets(sets[:2])
		Expect(err).To(MatchError(tree.ErrInvalidPartition))
	})
})

var _ = Describe("NeighborsByDepth", func() {
	It("yields one range per depth and can be restarted", func() {
		t, err := tree.NewRegular(3, 2)
		Expect(err).NotTo(HaveOccurred())

		seq := t.NeighborsByDepth(2)
		collect := func() []tree.Range {
			var out []tree.Range
			for d, r := range seq {
				Expect(r.Contains(2)).To(BeTrue())
				Expect(d).To(Equal(len(out)))
				out = append(out, r)
			}
			return out
		}
		first := collect()
		Expect(first).To(Equal([]tree.Range{{Lo: 0, Hi: 4}, {Lo: 2, Hi: 4}, {Lo: 2, Hi: 3}}))
		Expect(collect()).To(Equal(first))
	})

	It("stops early when the consumer breaks", func() {
		t, err := tree.NewRegular(4, 2)
		Expect(err).NotTo(HaveOccurred())
		count := 0
		for range t.NeighborsByDepth(5) {
			count++
			if count == 2 {
				break
			}
		}
		Expect(count).To(Equal(2))
	})

	It("is empty for unknown ids", func() {
		t, err := tree.NewRegular(2, 2)
		Expect(err).NotTo(HaveOccurred())
		for range t.NeighborsByDepth(9) {
			Fail("unexpected element")
		}
	})
})
