package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/san-kum/phedge/internal/engine"
	"github.com/san-kum/phedge/internal/models"
)

func TestCollectorRecordsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.OnIteration(engine.Event{Algorithm: "randomized_async", Staleness: 3, MaxStaleness: 3, WaitingWorkers: 1, PrimalResidual: 0.5})
	c.OnIteration(engine.Event{
		Algorithm:      "randomized_async",
		Staleness:      1,
		MaxStaleness:   3,
		PrimalResidual: 0.25,
		Sample:         &engine.Sample{Objective: 7},
	})

	if got := testutil.ToFloat64(c.Iterations.WithLabelValues("randomized_async")); got != 2 {
		t.Fatalf("phedge_iterations_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.MaxStaleness.WithLabelValues("randomized_async")); got != 3 {
		t.Fatalf("phedge_max_staleness = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.WaitingWorkers.WithLabelValues("randomized_async")); got != 0 {
		t.Fatalf("phedge_waiting_workers = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.PrimalResidual.WithLabelValues("randomized_async")); got != 0.25 {
		t.Fatalf("phedge_primal_residual = %v, want 0.25", got)
	}
	if got := testutil.ToFloat64(c.Objective.WithLabelValues("randomized_async")); got != 7 {
		t.Fatalf("phedge_objective = %v, want 7", got)
	}
	if n := testutil.CollectAndCount(c.Staleness, "phedge_update_staleness"); n != 1 {
		t.Fatalf("expected one staleness series, got %d", n)
	}
}

func TestCollectorObserveResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	res := &engine.Result{
		Algorithm: "randomized_async",
		Status:    engine.StatusStopped,
		Elapsed:   20 * time.Millisecond,
		Objective: -1.5,
		Stats:     engine.Stats{Discarded: 2, MaxStaleness: 4},
	}
	c.ObserveResult(res)
	c.ObserveResult(res)

	if got := testutil.ToFloat64(c.Solves.WithLabelValues("randomized_async", "stopped")); got != 2 {
		t.Fatalf("phedge_solves_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Discarded.WithLabelValues("randomized_async")); got != 4 {
		t.Fatalf("phedge_discarded_results_total = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.Objective.WithLabelValues("randomized_async")); got != -1.5 {
		t.Fatalf("phedge_objective = %v, want -1.5", got)
	}
}

func TestCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	first.OnIteration(engine.Event{Algorithm: "progressivehedging"})
	if got := testutil.ToFloat64(second.Iterations.WithLabelValues("progressivehedging")); got != 1 {
		t.Fatalf("second collector sees %v iterations, want 1", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.OnIteration(engine.Event{})
	c.ObserveResult(&engine.Result{})
}

func TestCollectorCountsEngineIterations(t *testing.T) {
	pb, err := models.NewConsensus().Problem()
	if err != nil {
		t.Fatal(err)
	}
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	res, err := engine.SolveRandomizedSync(context.Background(), pb,
		engine.WithObserver(c), engine.WithMaxIter(40), engine.WithSeed(5), engine.WithTolerance(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	c.ObserveResult(res)

	if got := testutil.ToFloat64(c.Iterations.WithLabelValues(engine.AlgorithmRandomizedSync)); int(got) != res.Iterations {
		t.Fatalf("collector counted %v iterations, engine ran %d", got, res.Iterations)
	}
	if got := testutil.ToFloat64(c.Solves.WithLabelValues(engine.AlgorithmRandomizedSync, res.Status.String())); got != 1 {
		t.Fatalf("phedge_solves_total = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	c.OnIteration(engine.Event{Algorithm: "randomized_sync", PrimalResidual: 1})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	for _, want := range []string{"phedge_iterations_total", `phedge_primal_residual{algorithm="randomized_sync"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
