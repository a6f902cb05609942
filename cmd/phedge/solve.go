package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/san-kum/phedge/internal/config"
	"github.com/san-kum/phedge/internal/engine"
	"github.com/san-kum/phedge/internal/experiment"
	"github.com/san-kum/phedge/internal/logging"
	"github.com/san-kum/phedge/internal/metrics"
	"github.com/san-kum/phedge/internal/storage"
	"github.com/san-kum/phedge/internal/tui"
)

// buildConfig layers the preset or config file over the defaults. Flags only
// win when set explicitly.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	problem := ""
	if len(args) > 0 {
		problem = args[0]
	}

	cfg := config.DefaultConfig()
	if preset != "" {
		name := problem
		if name == "" {
			name = cfg.Problem
		}
		cfg = config.GetPreset(name, preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(name))
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if problem != "" {
		cfg.Problem = problem
	}

	f := cmd.Flags()
	if f.Changed("algorithm") {
		cfg.Algorithm = algorithm
	}
	if f.Changed("penalty") {
		cfg.Solver.Penalty = penalty
	}
	if f.Changed("tol") {
		cfg.Solver.PrimalTol = tolerance
		cfg.Solver.DualTol = tolerance
	}
	if f.Changed("max-iter") {
		cfg.Solver.MaxIter = maxIter
	}
	if f.Changed("max-time") {
		d, err := time.ParseDuration(maxTime)
		if err != nil {
			return nil, fmt.Errorf("--max-time: %w", err)
		}
		cfg.Solver.MaxTime = d
	}
	if f.Changed("log-interval") {
		cfg.Solver.LogInterval = logInterval
	}
	if f.Changed("workers") {
		cfg.Solver.Workers = workers
	}
	if f.Changed("seed") {
		s := seed
		cfg.Solver.Seed = &s
	}
	if f.Changed("sampling") {
		cfg.Solver.Sampling = sampling
	}
	if f.Changed("stepsize") {
		cfg.Solver.StepSize = stepSize
	}
	if f.Changed("step") {
		cfg.Solver.Step = step
	}
	// Runs started from the command line keep their history unless told
	// otherwise, so that plot and export-csv have something to show.
	if f.Changed("history") || configFile == "" {
		cfg.Solver.History = history
	}
	if f.Changed("stages") {
		cfg.Params.Stages = stages
	}
	if f.Changed("branching") {
		cfg.Params.Branching = branching
	}
	if f.Changed("per-stage") {
		cfg.Params.PerStage = perStage
	}
	if f.Changed("rain-prob") {
		cfg.Params.RainProb = rainProb
	}
	if f.Changed("cvar-alpha") {
		cfg.Params.CVaRAlpha = cvarAlpha
	}
	if f.Changed("cvar-weight") {
		cfg.Params.CVaRWeight = cvarWeight
	}
	if f.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if f.Changed("pretty") {
		cfg.Log.Pretty = logPretty
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(cfg.Log.Level, cfg.Log.Pretty)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func solveProblem(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	exp, err := experiment.New(cfg, experiment.NewRegistry())
	if err != nil {
		return err
	}
	exp.SetLogger(log)

	var collector *metrics.Collector
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		collector, err = metrics.NewCollector(reg)
		if err != nil {
			return err
		}
		exp.AddObserver(collector)
		stop, err := serveMetrics(metricsAddr, collector, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	ctx, cancel := signalContext()
	defer cancel()

	pb := exp.Problem()
	fmt.Printf("solving %s with %s (%d scenarios, %d stages, %d variables)...\n",
		cfg.Problem, cfg.Algorithm, pb.NumScenarios(), pb.NumStages(), pb.Dim())

	rep, solveErr := exp.Run(ctx)
	if rep == nil {
		return solveErr
	}
	collector.ObserveResult(rep.Result)

	runID, err := st.Save(cfg.Problem, cfg.Solver.Seed, rep.Result, rep.Metrics)
	if err != nil {
		return err
	}
	printReport(runID, rep)
	return solveErr
}

func serveMetrics(addr string, c *metrics.Collector, log zerolog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func printReport(runID string, rep *experiment.Report) {
	res := rep.Result
	fmt.Printf("\nstatus: %s\n", res.Status)
	if runID != "" {
		fmt.Printf("run id: %s\n", runID)
	}
	fmt.Printf("iterations: %d\n", res.Iterations)
	fmt.Printf("elapsed: %v\n", res.Elapsed.Round(time.Millisecond))
	fmt.Printf("objective: %.8g\n", res.Objective)
	fmt.Printf("primal residual: %.3e\n", res.PrimalResidual)
	if res.Stats.Dispatched > 0 {
		fmt.Printf("dispatched: %d  applied: %d  discarded: %d  max staleness: %d\n",
			res.Stats.Dispatched, res.Stats.Applied, res.Stats.Discarded, res.Stats.MaxStaleness)
	}
	if len(rep.Metrics) > 0 {
		fmt.Println("\nmetrics:")
		for _, name := range slices.Sorted(maps.Keys(rep.Metrics)) {
			fmt.Printf("  %s: %.6f\n", name, rep.Metrics[name])
		}
	}
}

func compareAlgorithms(cmd *cobra.Command, args []string) error {
	base, err := buildConfig(cmd, args[:1])
	if err != nil {
		return err
	}
	log := newLogger(base)
	registry := experiment.NewRegistry()
	ctx, cancel := signalContext()
	defer cancel()

	type row struct {
		alg string
		res *engine.Result
		err error
	}
	var rows []row
	for _, alg := range args[1:] {
		cfg := base.Clone()
		cfg.Algorithm = alg
		exp, err := experiment.New(cfg, registry)
		if err != nil {
			return fmt.Errorf("%s: %w", alg, err)
		}
		exp.SetLogger(log)
		fmt.Printf("running %s...\n", alg)
		rep, err := exp.Run(ctx)
		r := row{alg: alg, err: err}
		if rep != nil {
			r.res = rep.Result
		}
		rows = append(rows, r)
	}

	ref := 0.0
	for _, r := range rows {
		if r.res != nil && (r.alg == engine.AlgorithmDirect || ref == 0) {
			ref = r.res.Objective
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nALGORITHM\tSTATUS\tITER\tTIME\tOBJECTIVE\tREL GAP")
	for _, r := range rows {
		if r.res == nil {
			fmt.Fprintf(w, "%s\terror\t-\t-\t-\t%v\n", r.alg, r.err)
			continue
		}
		gap := "-"
		if ref != 0 {
			gap = fmt.Sprintf("%.2e", (r.res.Objective-ref)/math.Abs(ref))
		}
		status := r.res.Status.String()
		if r.err != nil {
			status = "failed"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%v\t%.8g\t%s\n",
			r.alg, status, r.res.Iterations, r.res.Elapsed.Round(time.Millisecond), r.res.Objective, gap)
	}
	return w.Flush()
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	exp, err := experiment.New(cfg, experiment.NewRegistry())
	if err != nil {
		return err
	}
	// The dashboard owns the terminal; only errors are logged.
	lvl := cfg.Log.Level
	cfg.Log.Level = "error"
	exp.SetLogger(newLogger(cfg))
	cfg.Log.Level = lvl

	ctx, cancel := signalContext()
	defer cancel()
	rep, solveErr := tui.Run(ctx, cfg.Problem, exp)
	if rep == nil {
		return solveErr
	}
	runID, err := st.Save(cfg.Problem, cfg.Solver.Seed, rep.Result, rep.Metrics)
	if err != nil {
		return err
	}
	printReport(runID, rep)
	return solveErr
}
