package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/phedge/internal/automation"
	"github.com/san-kum/phedge/internal/config"
	"github.com/san-kum/phedge/internal/experiment"
	"github.com/san-kum/phedge/internal/logging"
	"github.com/san-kum/phedge/internal/optim"
	"github.com/san-kum/phedge/internal/storage"
)

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROBLEM\tALGORITHM\tSTATUS\tITER\tOBJECTIVE\tTIMESTAMP")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.6g\t%s\n",
			r.ID, r.Problem, r.Algorithm, r.Status, r.Iterations, r.Objective,
			r.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	hist, err := st.LoadHistory(args[0])
	if err != nil {
		return err
	}
	if len(hist) < 2 {
		return fmt.Errorf("run %s has no history to plot (solve with --history)", args[0])
	}

	objective := make([]float64, len(hist))
	residual := make([]float64, len(hist))
	var dist []float64
	for i, s := range hist {
		objective[i] = s.Objective
		residual[i] = math.Log10(math.Max(s.PrimalResidual, 1e-16))
		if s.DistOpt >= 0 {
			dist = append(dist, math.Log10(math.Max(s.DistOpt, 1e-16)))
		}
	}

	fmt.Printf("run: %s (%s, %s)\n\n", meta.ID, meta.Problem, meta.Algorithm)
	fmt.Println(asciigraph.Plot(objective,
		asciigraph.Height(10), asciigraph.Width(70), asciigraph.Caption("objective")))
	fmt.Println()
	fmt.Println(asciigraph.Plot(residual,
		asciigraph.Height(10), asciigraph.Width(70), asciigraph.Caption("log10 primal residual")))
	if len(dist) > 1 {
		fmt.Println()
		fmt.Println(asciigraph.Plot(dist,
			asciigraph.Height(10), asciigraph.Width(70), asciigraph.Caption("log10 distance to reference")))
	}
	return nil
}

// output returns the writer for --out and a function closing it.
func output() (io.Writer, func() error, error) {
	if outFile == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(outFile)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	w, closeOut, err := output()
	if err != nil {
		return err
	}
	if err := storage.New(dataDir).Export(args[0], w); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

func exportCSV(cmd *cobra.Command, args []string) error {
	hist, err := storage.New(dataDir).LoadHistory(args[0])
	if err != nil {
		return err
	}
	w, closeOut, err := output()
	if err != nil {
		return err
	}
	if err := storage.WriteHistoryCSV(w, hist); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

func runBench(cmd *cobra.Command, args []string) error {
	suite := automation.DefaultSuite()
	if len(args) > 0 {
		var err error
		suite, err = automation.LoadSuite(args[0])
		if err != nil {
			return err
		}
	}
	log := logging.New(logLevel, logPretty)
	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("running suite %s: %d problems, %d algorithms, %d repeats\n",
		suite.Name, len(suite.Problems), len(suite.Algorithms), suite.Repeats)
	bench, err := automation.RunSuite(ctx, suite, experiment.NewRegistry(), log)
	if bench != nil && len(bench.ProblemNames) > 0 {
		if werr := bench.WriteJSON(outFile); werr != nil {
			return werr
		}
		fmt.Printf("wrote %s\n\n", outFile)
		printBench(bench)
	}
	return err
}

func printBench(b *automation.Benchmark) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROBLEM\tALGORITHM\tREPEAT\tSTATUS\tITER\tTIME\tFINAL\tFOPT\tMAX DELAY")
	for _, name := range b.ProblemNames {
		runs := b.Runs[name]
		algs := make([]string, 0, len(runs))
		for alg := range runs {
			algs = append(algs, alg)
		}
		slices.Sort(algs)
		for _, alg := range algs {
			reps := make([]string, 0, len(runs[alg]))
			for k := range runs[alg] {
				reps = append(reps, k)
			}
			slices.Sort(reps)
			for _, k := range reps {
				r := runs[alg][k]
				final, elapsed := math.NaN(), 0.0
				if n := len(r.FunctionalValue); n > 0 {
					final, elapsed = r.FunctionalValue[n-1], r.Time[n-1]
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.3fs\t%.6g\t%.6g\t%d\n",
					name, alg, k, r.Status, r.Iterations, elapsed, final, r.Fopt, r.MaxDelay)
			}
		}
	}
	w.Flush()
}

func tuneProblem(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	gs, err := optim.NewGridSearch([]string{tuneParam}, [][]float64{tuneVals})
	if err != nil {
		return fmt.Errorf("%w (tunable: %v)", err, optim.Params())
	}
	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("tuning %s on %s with %s, score %s\n", tuneParam, cfg.Problem, cfg.Algorithm, tuneScore)
	best, score, trials, err := gs.Search(ctx, cfg, experiment.NewRegistry(), optim.ScoreByName(tuneScore))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tSCORE\tERROR\n", tuneParam)
	for _, t := range trials {
		msg := ""
		if t.Err != nil {
			msg = t.Err.Error()
		}
		fmt.Fprintf(w, "%g\t%.6g\t%s\n", t.Params[tuneParam], t.Score, msg)
	}
	w.Flush()
	if err != nil {
		return err
	}
	fmt.Printf("\nbest %s = %g (score %.6g)\n", tuneParam, best[tuneParam], score)
	return nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	names := config.ListPresets(args[0])
	if len(names) == 0 {
		return fmt.Errorf("no presets for problem: %s", args[0])
	}
	fmt.Printf("presets for %s:\n", args[0])
	for _, name := range names {
		cfg := config.GetPreset(args[0], name)
		fmt.Printf("  %-10s %s, max %d iterations, %v\n",
			name, cfg.Algorithm, cfg.Solver.MaxIter, cfg.Solver.MaxTime.Round(time.Second))
	}
	return nil
}

func showTree(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	pb, _, err := experiment.NewRegistry().GetProblem(cfg.Problem, cfg.Params)
	if err != nil {
		return err
	}
	t := pb.Tree()
	fmt.Print(t.String())
	fmt.Printf("\n%d scenarios, %d nodes, %d stages, %d variables per scenario\n",
		t.NumScenarios(), t.NumNodes(), pb.NumStages(), pb.Dim())
	return nil
}
