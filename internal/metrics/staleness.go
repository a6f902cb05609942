package metrics

import "github.com/san-kum/phedge/internal/engine"

// Staleness is the mean staleness of applied updates.
type Staleness struct {
	name    string
	sum     float64
	max     int
	samples int
}

func NewStaleness() *Staleness {
	return &Staleness{name: "mean_staleness"}
}

func (s *Staleness) Name() string { return s.name }

func (s *Staleness) OnIteration(ev engine.Event) {
	s.sum += float64(ev.Staleness)
	s.max = max(s.max, ev.Staleness)
	s.samples++
}

func (s *Staleness) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return s.sum / float64(s.samples)
}

// Max is the largest staleness seen so far.
func (s *Staleness) Max() int { return s.max }

func (s *Staleness) Reset() {
	s.sum = 0
	s.max = 0
	s.samples = 0
}
