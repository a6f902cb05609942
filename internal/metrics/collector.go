package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/san-kum/phedge/internal/engine"
)

// Collector exports engine progress as Prometheus metrics. It is an
// engine.Observer; a nil *Collector ignores every call.
type Collector struct {
	gatherer prometheus.Gatherer

	Iterations     *prometheus.CounterVec
	Staleness      *prometheus.HistogramVec
	MaxStaleness   *prometheus.GaugeVec
	WaitingWorkers *prometheus.GaugeVec
	PrimalResidual *prometheus.GaugeVec
	DualResidual   *prometheus.GaugeVec
	Objective      *prometheus.GaugeVec

	Solves        *prometheus.CounterVec
	SolveDuration *prometheus.HistogramVec
	Discarded     *prometheus.CounterVec
}

// NewCollector registers the solver metrics against reg, or the default
// registry when reg is nil. Registering twice on the same registry returns
// collectors bound to the existing metrics.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &Collector{gatherer: gatherer}
	algo := []string{"algorithm"}

	var err error
	if c.Iterations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phedge_iterations_total",
		Help: "Updates applied to the iterate, by algorithm.",
	}, algo), "phedge_iterations_total"); err != nil {
		return nil, err
	}
	if c.Staleness, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "phedge_update_staleness",
		Help:    "Updates applied between the dispatch and the application of a subproblem result.",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
	}, algo), "phedge_update_staleness"); err != nil {
		return nil, err
	}
	if c.MaxStaleness, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "phedge_max_staleness",
		Help: "Largest staleness of an applied update in the current solve.",
	}, algo), "phedge_max_staleness"); err != nil {
		return nil, err
	}
	if c.WaitingWorkers, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "phedge_waiting_workers",
		Help: "Idle workers after the last applied update.",
	}, algo), "phedge_waiting_workers"); err != nil {
		return nil, err
	}
	if c.PrimalResidual, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "phedge_primal_residual",
		Help: "Primal residual after the last applied update.",
	}, algo), "phedge_primal_residual"); err != nil {
		return nil, err
	}
	if c.DualResidual, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "phedge_dual_residual",
		Help: "Dual residual after the last applied update.",
	}, algo), "phedge_dual_residual"); err != nil {
		return nil, err
	}
	if c.Objective, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "phedge_objective",
		Help: "Expected objective of the current iterate, updated at every log step.",
	}, algo), "phedge_objective"); err != nil {
		return nil, err
	}
	if c.Solves, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phedge_solves_total",
		Help: "Finished solves, by algorithm and final status.",
	}, []string{"algorithm", "status"}), "phedge_solves_total"); err != nil {
		return nil, err
	}
	if c.SolveDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "phedge_solve_duration_seconds",
		Help:    "Wall clock time of finished solves.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, algo), "phedge_solve_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Discarded, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phedge_discarded_results_total",
		Help: "Subproblem results dropped when the asynchronous master stopped.",
	}, algo), "phedge_discarded_results_total"); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collector) OnIteration(ev engine.Event) {
	if c == nil {
		return
	}
	a := ev.Algorithm
	c.Iterations.WithLabelValues(a).Inc()
	c.Staleness.WithLabelValues(a).Observe(float64(ev.Staleness))
	c.MaxStaleness.WithLabelValues(a).Set(float64(ev.MaxStaleness))
	c.WaitingWorkers.WithLabelValues(a).Set(float64(ev.WaitingWorkers))
	c.PrimalResidual.WithLabelValues(a).Set(ev.PrimalResidual)
	c.DualResidual.WithLabelValues(a).Set(ev.DualResidual)
	if ev.Sample != nil {
		c.Objective.WithLabelValues(a).Set(ev.Sample.Objective)
	}
}

// ObserveResult records a finished solve.
func (c *Collector) ObserveResult(res *engine.Result) {
	if c == nil || res == nil {
		return
	}
	a := res.Algorithm
	c.Solves.WithLabelValues(a, res.Status.String()).Inc()
	c.SolveDuration.WithLabelValues(a).Observe(res.Elapsed.Seconds())
	c.Discarded.WithLabelValues(a).Add(float64(res.Stats.Discarded))
	c.Objective.WithLabelValues(a).Set(res.Objective)
	c.MaxStaleness.WithLabelValues(a).Set(float64(res.Stats.MaxStaleness))
}

// Handler serves the registry the collector was registered with.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		var zero T
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return zero, err
	}
	return col, nil
}
