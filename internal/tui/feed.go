package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/phedge/internal/engine"
)

// ProgressMsg carries one engine event to the dashboard.
type ProgressMsg struct {
	Event engine.Event
}

// DoneMsg ends a solve.
type DoneMsg struct {
	Result *engine.Result
	Err    error
}

// Feed is an engine observer that forwards events to the dashboard. It
// never blocks the engine: events arriving faster than interval, or while
// the buffer is full, are dropped. Events carrying a history sample are
// only dropped when the buffer is full.
type Feed struct {
	ch       chan ProgressMsg
	done     chan struct{}
	final    DoneMsg
	interval time.Duration
	last     time.Time
}

func NewFeed(buffer int, interval time.Duration) *Feed {
	return &Feed{
		ch:       make(chan ProgressMsg, buffer),
		done:     make(chan struct{}),
		interval: interval,
	}
}

func (f *Feed) OnIteration(ev engine.Event) {
	now := time.Now()
	if ev.Sample == nil && now.Sub(f.last) < f.interval {
		return
	}
	select {
	case f.ch <- ProgressMsg{Event: ev}:
		f.last = now
	default:
	}
}

// Done records the outcome of the solve. It must be called exactly once.
func (f *Feed) Done(res *engine.Result, err error) {
	f.final = DoneMsg{Result: res, Err: err}
	close(f.done)
}

// Next waits for the next message: a buffered event, or the final DoneMsg
// once the solve is over.
func (f *Feed) Next() tea.Msg {
	select {
	case msg := <-f.ch:
		return msg
	case <-f.done:
		return f.final
	}
}

func (f *Feed) listen() tea.Cmd {
	return f.Next
}
