package metrics

import (
	"context"
	"math"
	"testing"

	"github.com/san-kum/phedge/internal/engine"
	"github.com/san-kum/phedge/internal/models"
)

func TestStaleness(t *testing.T) {
	m := NewStaleness()
	if m.Value() != 0 {
		t.Error("expected zero before any update")
	}
	for _, s := range []int{0, 2, 4} {
		m.OnIteration(engine.Event{Staleness: s})
	}
	if m.Value() != 2 {
		t.Errorf("expected mean staleness 2, got %f", m.Value())
	}
	if m.Max() != 4 {
		t.Errorf("expected max staleness 4, got %d", m.Max())
	}
	m.Reset()
	if m.Value() != 0 || m.Max() != 0 {
		t.Error("expected zero after reset")
	}
}

func TestUtilization(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		waiting []int
		want    float64
	}{
		{"all busy", 4, []int{0, 0}, 1},
		{"half", 4, []int{2, 2}, 0.5},
		{"mixed", 2, []int{0, 1, 2, 1}, 0.5},
		{"clamped", 2, []int{5}, 0},
		{"no workers", 0, []int{1}, 0},
	}
	for _, tt := range tests {
		m := NewUtilization(tt.workers)
		for _, w := range tt.waiting {
			m.OnIteration(engine.Event{WaitingWorkers: w})
		}
		if math.Abs(m.Value()-tt.want) > 1e-12 {
			t.Errorf("%s: expected %f, got %f", tt.name, tt.want, m.Value())
		}
	}
}

func TestResidual(t *testing.T) {
	m := NewResidual()
	if m.Reduction() != 1 || !math.IsInf(m.Best(), 1) {
		t.Error("unexpected initial state")
	}
	for _, r := range []float64{4, 1, 2} {
		m.OnIteration(engine.Event{PrimalResidual: r})
	}
	if m.Value() != 2 || m.Best() != 1 || m.Reduction() != 0.5 {
		t.Errorf("got value %f best %f reduction %f", m.Value(), m.Best(), m.Reduction())
	}
	m.Reset()
	if m.Value() != 0 || m.Reduction() != 1 {
		t.Error("expected initial state after reset")
	}
}

func TestTrackersFollowAsyncSolve(t *testing.T) {
	pb, err := models.NewConsensus().Problem()
	if err != nil {
		t.Fatal(err)
	}
	stale := NewStaleness()
	util := NewUtilization(2)
	resid := NewResidual()

	opts := append(Observers(stale, util, resid),
		engine.WithWorkers(2), engine.WithMaxIter(300), engine.WithSeed(3))
	res, err := engine.SolveRandomizedAsync(context.Background(), pb, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if stale.Max() != res.Stats.MaxStaleness {
		t.Errorf("tracked max staleness %d, engine reports %d", stale.Max(), res.Stats.MaxStaleness)
	}
	if util.Value() < 0 || util.Value() > 1 {
		t.Errorf("utilization out of range: %f", util.Value())
	}
	if resid.Value() != res.PrimalResidual {
		t.Errorf("last residual %f, engine reports %f", resid.Value(), res.PrimalResidual)
	}

	summary := Summary(stale, util, resid)
	if len(summary) != 3 || summary["mean_staleness"] != stale.Value() {
		t.Errorf("unexpected summary %v", summary)
	}
}
