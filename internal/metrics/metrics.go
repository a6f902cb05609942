// Package metrics holds engine observers: small trackers that summarise a
// solve into one number, and a Prometheus collector.
package metrics

import "github.com/san-kum/phedge/internal/engine"

// Metric is an engine observer reduced to a single value. Trackers are fed
// from the engine's master goroutine and are not safe for concurrent use.
type Metric interface {
	engine.Observer
	Name() string
	Value() float64
	Reset()
}

// Observers adapts trackers to engine options.
func Observers(ms ...Metric) []engine.Option {
	opts := make([]engine.Option, len(ms))
	for i, m := range ms {
		opts[i] = engine.WithObserver(m)
	}
	return opts
}

// Summary collects the values of ms by name.
func Summary(ms ...Metric) map[string]float64 {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		out[m.Name()] = m.Value()
	}
	return out
}
