package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	dataDir     string
	logLevel    string
	logPretty   bool
	metricsAddr string

	configFile string
	preset     string
	algorithm  string

	// solver
	penalty     float64
	tolerance   float64
	maxIter     int
	maxTime     string
	logInterval int
	workers     int
	seed        int64
	sampling    string
	stepSize    string
	step        float64
	history     bool

	// problem
	stages     int
	branching  int
	perStage   int
	rainProb   float64
	cvarAlpha  float64
	cvarWeight float64

	outFile   string
	tuneParam string
	tuneVals  []float64
	tuneScore string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "phedge",
		Short:         "progressive hedging solvers for multistage stochastic problems",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".phedge", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error, disabled)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "pretty", true, "human readable logs")

	solveCmd := &cobra.Command{
		Use:   "solve [problem]",
		Short: "solve a problem and store the run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  solveProblem,
	}
	addSolveFlags(solveCmd)
	solveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while solving")

	compareCmd := &cobra.Command{
		Use:   "compare [problem] [algorithm] [algorithm] ...",
		Short: "solve the same problem with several algorithms",
		Args:  cobra.MinimumNArgs(2),
		RunE:  compareAlgorithms,
	}
	addSolveFlags(compareCmd)

	liveCmd := &cobra.Command{
		Use:   "live [problem]",
		Short: "solve with a live dashboard",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLive,
	}
	addSolveFlags(liveCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot the history of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export a run to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export the history of a run to CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportCSVCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")

	benchCmd := &cobra.Command{
		Use:   "bench [suite.yaml]",
		Short: "run a benchmark suite and write the benchmark JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBench,
	}
	benchCmd.Flags().StringVarP(&outFile, "out", "o", "benchmark.json", "output file")

	tuneCmd := &cobra.Command{
		Use:   "tune [problem]",
		Short: "grid search over one solver parameter",
		Args:  cobra.MaximumNArgs(1),
		RunE:  tuneProblem,
	}
	addSolveFlags(tuneCmd)
	tuneCmd.Flags().StringVar(&tuneParam, "param", "penalty", "parameter to tune")
	tuneCmd.Flags().Float64SliceVar(&tuneVals, "values", []float64{0.3, 1, 3, 10}, "values to try")
	tuneCmd.Flags().StringVar(&tuneScore, "score", "iterations", "score to minimise (iterations, elapsed, objective, primal_residual or a metric)")

	presetsCmd := &cobra.Command{
		Use:   "presets [problem]",
		Short: "list available presets for a problem",
		Args:  cobra.ExactArgs(1),
		RunE:  listPresets,
	}

	treeCmd := &cobra.Command{
		Use:   "tree [problem]",
		Short: "show the scenario tree of a problem",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showTree,
	}
	addProblemFlags(treeCmd)
	treeCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	treeCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")

	rootCmd.AddCommand(solveCmd, compareCmd, liveCmd, listCmd, plotCmd, exportJSONCmd, exportCSVCmd,
		benchCmd, tuneCmd, presetsCmd, treeCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addSolveFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "config file path (yaml)")
	f.StringVar(&preset, "preset", "", "use preset configuration")
	f.StringVar(&algorithm, "algorithm", "progressivehedging", "algorithm")
	f.Float64Var(&penalty, "penalty", 3, "penalty parameter μ")
	f.Float64Var(&tolerance, "tol", 1e-4, "primal and dual tolerance")
	f.IntVar(&maxIter, "max-iter", 1000, "maximum iterations (dispatched tasks for randomized_async)")
	f.StringVar(&maxTime, "max-time", "1h", "time budget")
	f.IntVar(&logInterval, "log-interval", 10, "iterations between history samples")
	f.IntVar(&workers, "workers", 0, "workers for randomized_par and randomized_async (0 = one per CPU)")
	f.Int64Var(&seed, "seed", 0, "sampling seed")
	f.StringVar(&sampling, "sampling", "uniform", "scenario sampling (uniform, probability)")
	f.StringVar(&stepSize, "stepsize", "theoretical", "step size strategy (theoretical, constant)")
	f.Float64Var(&step, "step", 1, "step size scale or constant step")
	f.BoolVar(&history, "history", true, "record the solve history")
	addProblemFlags(cmd)
}

func addProblemFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&stages, "stages", 5, "number of stages")
	f.IntVar(&branching, "branching", 2, "branching factor (random_consensus)")
	f.IntVar(&perStage, "per-stage", 1, "variables per stage (random_consensus)")
	f.Float64Var(&rainProb, "rain-prob", 0.5, "probability of heavy rain (hydrothermal)")
	f.Float64Var(&cvarAlpha, "cvar-alpha", 0.8, "cvar level α in [0, 1) (hydrothermal_cvar)")
	f.Float64Var(&cvarWeight, "cvar-weight", 0.5, "weight of cvar against the expectation (hydrothermal_cvar)")
}
