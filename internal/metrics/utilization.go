package metrics

import "github.com/san-kum/phedge/internal/engine"

// Utilization is the mean fraction of busy workers, measured after every
// applied update of the asynchronous engine.
type Utilization struct {
	name    string
	workers int
	busy    float64
	samples int
}

func NewUtilization(workers int) *Utilization {
	return &Utilization{
		name:    "worker_utilization",
		workers: workers,
	}
}

func (u *Utilization) Name() string { return u.name }

func (u *Utilization) OnIteration(ev engine.Event) {
	if u.workers < 1 {
		return
	}
	idle := min(ev.WaitingWorkers, u.workers)
	u.busy += float64(u.workers-idle) / float64(u.workers)
	u.samples++
}

func (u *Utilization) Value() float64 {
	if u.samples == 0 {
		return 0
	}
	return u.busy / float64(u.samples)
}

func (u *Utilization) Reset() {
	u.busy = 0
	u.samples = 0
}
