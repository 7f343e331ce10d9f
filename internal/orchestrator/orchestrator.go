package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"torchprof/internal/cache"
	"torchprof/internal/profiler"
	"torchprof/internal/trace"
)

// Run is the outcome of loading one trace file.
type Run struct {
	Path   string
	Worker string
	Data   *profiler.RunProfileData
	Err    error
}

// Failed reports whether the run could not be analysed.
func (r *Run) Failed() bool { return r.Err != nil }

// LoadRuns decodes and analyses every trace in paths with at most workers
// runs in flight. Results come back in input order. A failing run is recorded
// in its Run and does not stop the others; only cancellation of ctx is
// returned as an error.
func LoadRuns(ctx context.Context, c cache.Registry, paths []string, opts profiler.Options, workers int) ([]Run, error) {
	runs := make([]Run, len(paths))
	if len(paths) == 0 {
		return runs, nil
	}
	if workers <= 0 {
		workers = 1
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(workers, len(paths)))

	for i, path := range paths {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			// each index is written by exactly one goroutine
			runs[i] = loadRun(c, path, opts)
			if runs[i].Failed() {
				opts.Metrics.RunFinished("error")
				log.Error("Failed to load run",
					zap.String("worker", runs[i].Worker),
					zap.String("path", path),
					zap.Error(runs[i].Err))
				return nil
			}
			opts.Metrics.RunFinished("ok")
			log.Info("Loaded run",
				zap.String("worker", runs[i].Worker),
				zap.Int("events", len(runs[i].Data.Events)),
				zap.Int("steps", len(runs[i].Data.StepsNames)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return runs, err
	}
	return runs, nil
}

func loadRun(c cache.Registry, path string, opts profiler.Options) Run {
	worker, _, ok := trace.WorkerName(path)
	if !ok {
		worker = filepath.Base(path)
	}
	run := Run{Path: path, Worker: worker}

	data, err := profiler.Parse(c, worker, path, opts)
	if err != nil {
		run.Err = fmt.Errorf("parse %s: %w", path, err)
		return run
	}
	if err := data.Process(); err != nil {
		run.Err = fmt.Errorf("process %s: %w", worker, err)
		return run
	}
	data.CommunicationParse()
	data.Analyze()
	run.Data = data
	return run
}
