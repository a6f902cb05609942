// Package tui renders a live terminal dashboard for a running solve.
package tui

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/phedge/internal/engine"
	"github.com/san-kum/phedge/internal/experiment"
)

const (
	historyLen   = 120
	tickInterval = time.Second / 10
)

type tickMsg time.Time

// Model is the Bubble Tea model of the dashboard.
type Model struct {
	title     string
	algorithm string
	maxIter   int
	workers   int
	feed      *Feed

	last      engine.Event
	residuals []float64
	objective []float64
	frame     int
	done      bool
	result    *engine.Result
	err       error
	showHelp  bool
	logScale  bool
}

func NewModel(title, algorithm string, maxIter, workers int, feed *Feed) Model {
	return Model{
		title:     title,
		algorithm: algorithm,
		maxIter:   maxIter,
		workers:   workers,
		feed:      feed,
		logScale:  true,
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.feed.listen(), tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "?":
			m.showHelp = !m.showHelp
		case "l":
			m.logScale = !m.logScale
		}
	case ProgressMsg:
		m.last = msg.Event
		m.residuals = push(m.residuals, msg.Event.PrimalResidual)
		if msg.Event.Sample != nil {
			m.objective = push(m.objective, msg.Event.Sample.Objective)
		}
		return m, m.feed.listen()
	case DoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		if msg.Result != nil {
			m.objective = push(m.objective, msg.Result.Objective)
		}
		return m, nil
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame++
		return m, tick()
	}
	return m, nil
}

func push(h []float64, v float64) []float64 {
	h = append(h, v)
	if len(h) > historyLen {
		h = h[len(h)-historyLen:]
	}
	return h
}

func (m Model) status() string {
	switch {
	case m.done && m.err != nil:
		return statusFailed.Render("FAILED")
	case m.done && m.result != nil:
		return statusDone.Render(strings.ToUpper(m.result.Status.String()))
	}
	return statusRunning.Render(spinner(m.frame) + " RUNNING")
}

func (m Model) View() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render(strings.ToUpper(m.title)+"  "+m.algorithm) + "\n")
	s.WriteString(m.status() + "\n\n")

	iter, elapsed := m.last.Iteration, m.last.Elapsed
	if m.result != nil {
		iter, elapsed = m.result.Iterations, m.result.Elapsed
	}
	if m.maxIter > 0 {
		frac := float64(iter) / float64(m.maxIter)
		s.WriteString(ProgressBar(frac, 30) + fmt.Sprintf(" %d/%d\n\n", iter, m.maxIter))
	}

	row := func(label, value string) {
		s.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}
	row("Iteration", fmt.Sprintf("%d", iter))
	row("Elapsed", elapsed.Round(time.Millisecond).String())
	row("Primal residual", fmt.Sprintf("%.3e", m.last.PrimalResidual))
	row("Dual residual", fmt.Sprintf("%.3e", m.last.DualResidual))
	if len(m.objective) > 0 {
		row("Objective", fmt.Sprintf("%.6g", m.objective[len(m.objective)-1]))
	}
	if m.workers > 1 {
		row("Waiting workers", fmt.Sprintf("%d/%d", m.last.WaitingWorkers, m.workers))
		row("Max staleness", fmt.Sprintf("%d", m.last.MaxStaleness))
	}
	if m.result != nil && m.result.Stats.Dispatched > 0 {
		st := m.result.Stats
		row("Dispatched", fmt.Sprintf("%d", st.Dispatched))
		row("Discarded", fmt.Sprintf("%d", st.Discarded))
	}
	if m.err != nil {
		s.WriteString("\n" + statusFailed.Render(m.err.Error()) + "\n")
	}
	stats := panelStyle.Render(s.String())

	var charts []string
	if len(m.residuals) > 1 {
		data, caption := m.residuals, "primal residual"
		if m.logScale {
			data, caption = log10(data), "log10 primal residual"
		}
		charts = append(charts, graphStyle.Render(asciigraph.Plot(data,
			asciigraph.Height(8), asciigraph.Width(50), asciigraph.Caption(caption))))
	}
	if len(m.objective) > 1 {
		charts = append(charts, graphStyle.Render(asciigraph.Plot(m.objective,
			asciigraph.Height(6), asciigraph.Width(50), asciigraph.Caption("objective"))))
	}
	view := lipgloss.JoinHorizontal(lipgloss.Top, stats, lipgloss.JoinVertical(lipgloss.Left, charts...))

	help := "q:quit  l:log scale  ?:help"
	if m.showHelp {
		help = "q/esc  stop the solve and quit\nl      toggle log scale of the residual\n?      toggle this help"
	}
	return view + "\n" + helpStyle.Render(help)
}

func log10(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = math.Log10(math.Max(x, 1e-16))
	}
	return out
}

// Run solves exp while showing the dashboard. Quitting the dashboard
// cancels the solve; Run returns once the solve has stopped.
func Run(ctx context.Context, title string, exp *experiment.Experiment, opts ...tea.ProgramOption) (*experiment.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	feed := NewFeed(64, 50*time.Millisecond)
	exp.AddObserver(feed)
	cfg := exp.Config()

	type outcome struct {
		rep *experiment.Report
		err error
	}
	finished := make(chan outcome, 1)
	go func() {
		rep, err := exp.Run(ctx)
		var res *engine.Result
		if rep != nil {
			res = rep.Result
		}
		feed.Done(res, err)
		finished <- outcome{rep, err}
	}()

	workers := cfg.Solver.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	if cfg.Algorithm == engine.AlgorithmProgressiveHedging || cfg.Algorithm == engine.AlgorithmDirect ||
		cfg.Algorithm == engine.AlgorithmRandomizedSync {
		workers = 1
	}
	m := NewModel(title, cfg.Algorithm, cfg.Solver.MaxIter, workers, feed)
	_, perr := tea.NewProgram(m, opts...).Run()
	cancel()

	out := <-finished
	if perr != nil && out.err == nil {
		return out.rep, perr
	}
	return out.rep, out.err
}
