package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"torchprof/internal/cache"
	"torchprof/internal/config"
	"torchprof/internal/metrics"
	"torchprof/internal/orchestrator"
	"torchprof/internal/profiler"
	"torchprof/internal/report"
	"torchprof/internal/trace"
	"torchprof/pkg/logutil"
)

// errRunsFailed is returned when at least one trace could not be analysed.
var errRunsFailed = errors.New("one or more traces failed")

type analyzeOptions struct {
	configPath  string
	outputFile  string
	stepsFile   string
	logLevel    string
	workers     int
	tempDir     string
	metricsFile string
	showSummary bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "torchprof",
		Short: "Analyse PyTorch profiler traces",
		Long: `torchprof decodes Kineto trace files, splits each run into steps and
reports where the time went: kernels, communication, memory copies,
runtime calls, data loading and host operators.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAnalyzeCmd(), newWorkerCmd())
	return root
}

func newAnalyzeCmd() *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze <trace files...>",
		Short: "Analyse one or more trace files",
		Example: `  torchprof analyze worker0.pt.trace.json.gz
  torchprof analyze --workers 8 --output report.xlsx traces/*.pt.trace.json.gz
  torchprof analyze --config torchprof.yaml --output kernels.csv run.pt.trace.json
  torchprof analyze --steps-output steps.csv run.pt.trace.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runAnalyze(ctx, opts, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "YAML config file (defaults are used when empty)")
	flags.StringVarP(&opts.outputFile, "output", "o", "", "Output file (.csv, .json, .xlsx, or anything else for a text summary)")
	flags.StringVar(&opts.stepsFile, "steps-output", "", "Write per-step role costs as CSV to this file")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flags.IntVar(&opts.workers, "workers", 0, "Traces analysed in parallel (overrides config)")
	flags.StringVar(&opts.tempDir, "temp-dir", "", "Directory for repaired trace artifacts")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "Write pipeline metrics in Prometheus text format to this file")
	flags.BoolVar(&opts.showSummary, "summary", true, "Print summary to stderr")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker <path>",
		Short: "Print the worker name encoded in a trace file name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			worker, span, ok := trace.WorkerName(args[0])
			if !ok {
				return fmt.Errorf("not a trace file name: %s", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), worker)
			if span != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "span: %s\n", span)
			}
			return nil
		},
	}
}

func runAnalyze(ctx context.Context, opts *analyzeOptions, paths []string, stdout, stderr io.Writer) (err error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}

	logutil.InitLogger(cfg.LogLevel)
	log := logutil.GetLogger()
	defer log.Sync() //nolint:errcheck

	reg := prometheus.NewRegistry()
	fc := cache.NewFileCache()
	defer func() {
		if cleanupErr := fc.Cleanup(); cleanupErr != nil {
			log.Warn("Failed to remove temp artifacts", zap.Error(cleanupErr))
		}
	}()

	startTime := time.Now()
	runOpts := profiler.Options{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics.New(reg),
		TempDir: opts.tempDir,
	}
	runs, err := orchestrator.LoadRuns(ctx, fc, paths, runOpts, cfg.Workers)
	if err != nil {
		return err
	}

	var loaded []*profiler.RunProfileData
	var failed int
	for _, r := range runs {
		if r.Failed() {
			failed++
			fmt.Fprintf(stderr, "Error analysing %s: %v\n", r.Path, r.Err)
			continue
		}
		loaded = append(loaded, r.Data)
	}
	log.Info("Analysis finished",
		zap.Int("runs", len(runs)),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(startTime)))

	if opts.showSummary {
		report.WriteSummary(stderr, loaded)
	}

	if opts.outputFile != "" {
		if err := report.WriteToFile(opts.outputFile, loaded); err != nil {
			return fmt.Errorf("failed to write %s: %w", opts.outputFile, err)
		}
		fmt.Fprintf(stderr, "Results written to: %s\n", opts.outputFile)
	} else if err := report.WriteKernelCSV(stdout, loaded); err != nil {
		return err
	}

	if opts.stepsFile != "" {
		if err := writeStepsFile(opts.stepsFile, loaded); err != nil {
			return fmt.Errorf("failed to write %s: %w", opts.stepsFile, err)
		}
		fmt.Fprintf(stderr, "Step costs written to: %s\n", opts.stepsFile)
	}

	if opts.metricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.metricsFile, reg); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	fmt.Fprintf(stderr, "Total execution time: %v\n", time.Since(startTime))
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errRunsFailed, failed, len(runs))
	}
	return nil
}

func writeStepsFile(path string, runs []*profiler.RunProfileData) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := report.WriteStepCSV(file, runs); err != nil {
		return err
	}
	return file.Close()
}
