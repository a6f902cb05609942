package projection

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/phedge/internal/problem"
	"github.com/san-kum/phedge/internal/tree"
)

func freeProblem(t *testing.T, tr *tree.Tree, perStage int, probas []float64) *problem.Problem {
	t.Helper()
	stages := make([]tree.Range, tr.Depth())
	for d := range stages {
		stages[d] = tree.Range{Lo: d * perStage, Hi: (d + 1) * perStage}
	}
	dim := perStage * tr.Depth()
	sc := problem.ModelFunc(func(int) (*problem.Model, error) { return problem.NewModel(dim), nil })
	scenarios := make([]problem.Scenario, tr.NumScenarios())
	for i := range scenarios {
		scenarios[i] = sc
	}
	pb, err := problem.New(scenarios, probas, tr.Depth(), stages, tr)
	require.NoError(t, err)
	return pb
}

func threeScenario(t *testing.T) *problem.Problem {
	tr, err := tree.FromSets([][][]int{{{0, 1, 2}}, {{0}, {1, 2}}, {{0}, {1}, {2}}})
	require.NoError(t, err)
	return freeProblem(t, tr, 1, []float64{0.2, 0.5, 0.3})
}

func hydroShaped(t *testing.T) *problem.Problem {
	tr, err := tree.NewRegular(5, 2)
	require.NoError(t, err)
	probas := make([]float64, 16)
	sum := 0.0
	for i := range probas {
		probas[i] = float64(i%5 + 1)
		sum += probas[i]
	}
	for i := range probas {
		probas[i] /= sum
	}
	return freeProblem(t, tr, 3, probas)
}

func randomTrajectory(pb *problem.Problem, rng *rand.Rand) *mat.Dense {
	x := pb.NewTrajectory()
	r, c := x.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x.Set(i, j, rng.NormFloat64()*3)
		}
	}
	return x
}

func TestProjectThreeScenario(t *testing.T) {
	pb := threeScenario(t)
	y := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	x := Project(pb, y)

	first := 0.2*1 + 0.5*2 + 0.3*3
	for s := 0; s < 3; s++ {
		require.InDelta(t, first, x.At(0, s), 1e-12)
	}
	require.Equal(t, 4.0, x.At(1, 0))
	second := (0.5*5 + 0.3*6) / 0.8
	require.InDelta(t, second, x.At(1, 1), 1e-12)
	require.InDelta(t, second, x.At(1, 2), 1e-12)
	for s := 0; s < 3; s++ {
		require.Equal(t, y.At(2, s), x.At(2, s))
	}
	require.True(t, IsNonAnticipative(pb, x, 0))
	require.False(t, IsNonAnticipative(pb, y, 1e-9))
}

func TestProjectIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, pb := range []*problem.Problem{threeScenario(t), hydroShaped(t)} {
		y := randomTrajectory(pb, rng)
		once := Project(pb, y)
		twice := Project(pb, once)
		require.True(t, mat.EqualApprox(once, twice, 1e-12))
	}
}

func TestProjectLinear(t *testing.T) {
	pb := hydroShaped(t)
	rng := rand.New(rand.NewSource(11))
	a := randomTrajectory(pb, rng)
	b := randomTrajectory(pb, rng)
	const alpha, beta = 1.7, -0.4

	var comb, scaled mat.Dense
	comb.Scale(alpha, a)
	scaled.Scale(beta, b)
	comb.Add(&comb, &scaled)

	var want mat.Dense
	want.Scale(alpha, Project(pb, a))
	scaled.Scale(beta, Project(pb, b))
	want.Add(&want, &scaled)

	require.True(t, mat.EqualApprox(Project(pb, &comb), &want, 1e-10))
}

func TestProjectIsOrthogonal(t *testing.T) {
	pb := hydroShaped(t)
	rng := rand.New(rand.NewSource(3))
	y := randomTrajectory(pb, rng)
	w := Project(pb, randomTrajectory(pb, rng))

	var res mat.Dense
	res.Sub(y, Project(pb, y))
	require.InDelta(t, 0, Dot(pb, &res, w), 1e-9)
}

func TestProjectIntoMatchesProject(t *testing.T) {
	pb := hydroShaped(t)
	y := randomTrajectory(pb, rand.New(rand.NewSource(5)))
	want := Project(pb, y)

	dst := pb.NewTrajectory()
	ProjectInto(pb, dst, y)
	require.True(t, mat.Equal(want, dst))

	inPlace := mat.DenseCopyOf(y)
	ProjectInto(pb, inPlace, inPlace)
	require.True(t, mat.Equal(want, inPlace))
}

func TestProjectPathMatchesFullProjection(t *testing.T) {
	pb := hydroShaped(t)
	rng := rand.New(rand.NewSource(9))
	z := randomTrajectory(pb, rng)
	x := Project(pb, z)

	for step := 0; step < 20; step++ {
		s := rng.Intn(pb.NumScenarios())
		for i := 0; i < pb.Dim(); i++ {
			z.Set(i, s, z.At(i, s)+rng.NormFloat64())
		}
		ProjectPath(pb, x, z, s)
		require.True(t, mat.Equal(Project(pb, z), x), "step %d", step)
	}
}

func TestDistance(t *testing.T) {
	pb := threeScenario(t)
	a := mat.NewDense(3, 3, nil)
	b := mat.NewDense(3, 3, nil)
	b.Set(0, 1, 2)
	require.InDelta(t, 2*0.7071067811865476, Distance(pb, a, b), 1e-12)
	require.InDelta(t, Norm(pb, b), Distance(pb, a, b), 1e-12)
}
