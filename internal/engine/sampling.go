package engine

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"

	"github.com/san-kum/phedge/internal/problem"
)

// Sampling chooses the distribution q over scenarios used by the randomized
// engines. Every scenario must have positive probability.
type Sampling interface {
	Probabilities(pb *problem.Problem) ([]float64, error)
}

// Uniform samples every scenario with probability 1/S.
type Uniform struct{}

func (Uniform) Probabilities(pb *problem.Problem) ([]float64, error) {
	n := pb.NumScenarios()
	q := make([]float64, n)
	for i := range q {
		q[i] = 1 / float64(n)
	}
	return q, nil
}

// ByProbability samples scenarios with their own probabilities.
type ByProbability struct{}

func (ByProbability) Probabilities(pb *problem.Problem) ([]float64, error) {
	return pb.Probas(), nil
}

// Weights samples proportionally to the given non-negative weights.
type Weights []float64

func (w Weights) Probabilities(pb *problem.Problem) ([]float64, error) {
	if len(w) != pb.NumScenarios() {
		return nil, fmt.Errorf("%w: %d sampling weights for %d scenarios", ErrInvalidOptions, len(w), pb.NumScenarios())
	}
	sum := 0.0
	for s, v := range w {
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: sampling weight of scenario %d is %g", ErrInvalidOptions, s, v)
		}
		sum += v
	}
	q := make([]float64, len(w))
	for i, v := range w {
		q[i] = v / sum
	}
	return q, nil
}

// sampler draws scenario ids from a categorical distribution by inverting
// the cumulative distribution.
type sampler struct {
	q    []float64
	cum  []float64
	minQ float64
	rng  *rand.Rand
}

func newSampler(pb *problem.Problem, dist Sampling, seed int64) (*sampler, error) {
	q, err := dist.Probabilities(pb)
	if err != nil {
		return nil, err
	}
	if len(q) != pb.NumScenarios() {
		return nil, fmt.Errorf("%w: sampling distribution has %d entries for %d scenarios", ErrInvalidOptions, len(q), pb.NumScenarios())
	}
	s := &sampler{
		q:    q,
		cum:  make([]float64, len(q)),
		minQ: math.Inf(1),
		rng:  rand.New(rand.NewSource(uint64(seed))),
	}
	total := 0.0
	for i, v := range q {
		if !(v > 0) {
			return nil, fmt.Errorf("%w: scenario %d is never sampled", ErrInvalidOptions, i)
		}
		total += v
		s.cum[i] = total
		s.minQ = math.Min(s.minQ, v)
	}
	return s, nil
}

func (s *sampler) draw() int {
	u := s.rng.Float64() * s.cum[len(s.cum)-1]
	i := sort.Search(len(s.cum), func(i int) bool { return s.cum[i] > u })
	if i == len(s.cum) {
		i--
	}
	return i
}

// drawBatch returns up to n distinct ids drawn independently. Repeated draws
// of the same id within a batch collapse to one update.
//
// A scenario then enters a batch with probability 1-(1-q_s)^n, not q_s, while
// the step size is still computed from q_s. Steps on scenarios with large q_s
// are therefore smaller than an unbiased batch step would be, so the
// randomized_par update is biased towards low-probability scenarios when n is
// large compared to 1/q_s.
func (s *sampler) drawBatch(n int, dst []int) []int {
	dst = dst[:0]
	for k := 0; k < n; k++ {
		id := s.draw()
		dup := false
		for _, prev := range dst {
			if prev == id {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, id)
		}
	}
	return dst
}
