package models

import (
	"math"
	"testing"

	"github.com/san-kum/phedge/internal/problem"
)

func TestHydroThermalDimensions(t *testing.T) {
	h := NewHydroThermal()
	pb, err := h.Problem()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pb.NumScenarios() != 16 {
		t.Errorf("expected 16 scenarios, got %d", pb.NumScenarios())
	}
	if pb.Dim() != 15 {
		t.Errorf("expected 15 coordinates, got %d", pb.Dim())
	}
	if pb.NumStages() != 5 {
		t.Errorf("expected 5 stages, got %d", pb.NumStages())
	}

	sum := 0.0
	for s := 0; s < pb.NumScenarios(); s++ {
		sum += pb.Proba(s)
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("probabilities sum to %f", sum)
	}
}

func TestHydroThermalWeatherIsContiguous(t *testing.T) {
	h := NewHydroThermal()
	tests := []struct {
		id   int
		want []int
	}{
		{0, []int{0, 0, 0, 0}},
		{1, []int{0, 0, 0, 1}},
		{8, []int{1, 0, 0, 0}},
		{15, []int{1, 1, 1, 1}},
	}
	for _, tt := range tests {
		got := h.Weather(tt.id)
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("Weather(%d) = %v, want %v", tt.id, got, tt.want)
				break
			}
		}
	}
}

func TestHydroThermalProbabilities(t *testing.T) {
	h := NewHydroThermal()
	h.RainProb = 0.25
	pb, err := h.Problem()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p := pb.Proba(15); math.Abs(p-math.Pow(0.25, 4)) > 1e-15 {
		t.Errorf("all-rain probability = %g", p)
	}
	if p := pb.Proba(0); math.Abs(p-math.Pow(0.75, 4)) > 1e-15 {
		t.Errorf("no-rain probability = %g", p)
	}
}

func TestHydroThermalFeasiblePlan(t *testing.T) {
	h := NewHydroThermal()
	pb, err := h.Problem()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Burn thermal only and keep the inflow in the dam.
	for s := 0; s < pb.NumScenarios(); s++ {
		m := pb.Model(s)
		w := h.Weather(s)
		y := make([]float64, pb.Dim())
		level := 0.0
		for st := 0; st < h.Stages; st++ {
			if st == 0 {
				level = h.meanRain()
			} else {
				level += h.Rain[w[st-1]]
			}
			release := math.Max(0, level-h.Capacity)
			level -= release
			y[3*st+VarLevel] = level
			y[3*st+VarHydro] = release
			y[3*st+VarThermal] = math.Max(0, h.Demand-release)
		}
		if v := m.Violation(y); v > 1e-9 {
			t.Errorf("scenario %d: plan violates constraints by %g", s, v)
		}
	}
}

func TestHydroThermalRejectsBadParameters(t *testing.T) {
	h := NewHydroThermal()
	h.RainProb = 1
	if _, err := h.Problem(); err == nil {
		t.Error("expected an error for rain probability 1")
	}
	h = NewHydroThermal()
	h.Stages = 0
	if _, err := h.Problem(); err == nil {
		t.Error("expected an error for zero stages")
	}
	sc := HydroThermalScenario{Params: NewHydroThermal(), Weather: []int{0}}
	if _, err := sc.Model(0); err == nil {
		t.Error("expected an error for a short weather history")
	}
	var _ problem.Scenario = sc
}
