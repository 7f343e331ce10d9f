package profiler

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"torchprof/internal/cache"
	"torchprof/internal/config"
	"torchprof/internal/decode"
	"torchprof/internal/metrics"
	"torchprof/internal/trace"
)

// ErrInvariant marks a violated internal invariant. It is a programming
// error, distinct from malformed input, and aborts the run.
var ErrInvariant = errors.New("analysis invariant violated")

// Options carries the collaborators shared by the passes of a run.
type Options struct {
	Config  config.Config
	Logger  *zap.Logger
	Metrics *metrics.Pipeline
	// TempDir receives repaired trace artifacts; empty means os.TempDir().
	TempDir string
}

// RunProfileData owns one worker's decoded events and every pass output.
// It is not safe for concurrent use; distinct runs share nothing.
type RunProfileData struct {
	Worker            string
	Span              string
	Node              string
	Pid               string
	DataSchemaVersion string
	TraceFilePath     string

	Events      []trace.Event
	DeviceProps []trace.DeviceProperties
	DistInfo    *trace.DistributedInfo

	HasRuntime        bool
	HasKernel         bool
	HasCommunication  bool
	HasMemcpyOrMemset bool

	StepsCosts       []StepCost
	StepsNames       []string
	AvgCosts         *StepCost
	CommOverlapCosts *CommOverlap

	// Ratios over the summed step time; zero without kernels.
	GPUUtilization float64
	SMEfficiency   float64
	// Duration-weighted mean achieved occupancy in percent.
	Occupancy      float64

	OpListGroupByName          []*OperatorAgg
	OpListGroupByNameInput     []*OperatorAgg
	StackListsGroupByName      []*OperatorAgg
	StackListsGroupByNameInput []*OperatorAgg
	KernelListGroupByNameOp    []*KernelAggByOp
	KernelStat                 []KernelStat

	MemoryStats []MemoryStat

	CommNodeList   []*CommNode
	StepCommStats  map[string]*StepCommStat
	TotalCommStats map[string]*CommOpStat

	Recommendations []string
	Warnings        []Warning

	opts Options
}

// NewRunProfileData creates an empty run for worker.
func NewRunProfileData(worker string, opts Options) *RunProfileData {
	p := &RunProfileData{
		Worker:         worker,
		StepCommStats:  make(map[string]*StepCommStat),
		TotalCommStats: make(map[string]*CommOpStat),
		opts:           opts,
	}
	if node, pid, ok := trace.NodeAndProcess(worker); ok {
		p.Node, p.Pid = node, pid
	}
	return p
}

func (p *RunProfileData) logger() *zap.Logger {
	if p.opts.Logger == nil {
		return zap.NewNop()
	}
	return p.opts.Logger
}

// Parse decodes the trace at path into a new run. When the trace had to be
// repaired, the re-encoded artifact is registered with c for cleanup and
// becomes the run's TraceFilePath.
func Parse(c cache.Registry, worker, path string, opts Options) (*RunProfileData, error) {
	p := NewRunProfileData(worker, opts)
	log := p.logger()
	log.Debug("Parse trace", zap.String("worker", worker), zap.String("path", path))

	start := time.Now()
	res, err := decode.Decode(c, path, decode.Options{TempDir: opts.TempDir})
	opts.Metrics.ObservePass("decode", start)
	if err != nil {
		return nil, err
	}

	p.TraceFilePath = path
	if res.ReplacementPath != "" {
		c.RegisterTemp(res.ReplacementPath)
		p.TraceFilePath = res.ReplacementPath
		opts.Metrics.Repaired()
		log.Warn("Trace needed repair, re-encoded to temp file",
			zap.String("worker", worker),
			zap.String("stage", res.Stage.String()),
			zap.NamedError("decode_error", res.DecodeErr),
			zap.String("temp_file", res.ReplacementPath))
	}
	opts.Metrics.EventsDecoded(res.Stage.String(), len(res.Events))

	if _, span, ok := trace.WorkerName(path); ok {
		p.Span = span
	}
	p.DataSchemaVersion = res.SchemaVersion
	p.Events = res.Events
	p.DeviceProps = res.DeviceProperties
	p.DistInfo = res.Distributed
	return p, nil
}

// Process runs the hierarchy, step, module, overall, kernel and memory passes
// in order. On error no pass output is published.
func (p *RunProfileData) Process() error {
	log := p.logger()
	cls := p.opts.Config.Classification
	m := p.opts.Metrics

	start := time.Now()
	np := newNodeParser(cls)
	h := np.parse(p.Events)
	m.ObservePass("node", start)

	start = time.Now()
	sp := &stepParser{cls: cls}
	steps := sp.parse(h)
	m.ObservePass("step", start)

	log.Debug("ModuleParser", zap.String("worker", p.Worker))
	start = time.Now()
	modules := aggregateModules(h, np.tc)
	m.ObservePass("module", start)

	log.Debug("OverallParser", zap.String("worker", p.Worker))
	start = time.Now()
	overall, err := aggregateOverall(steps.steps)
	m.ObservePass("overall", start)
	if err != nil {
		return fmt.Errorf("overall pass: %w", err)
	}

	var kernels []KernelStat
	var ksum kernelSummary
	if steps.hasKernel {
		log.Debug("KernelParser", zap.String("worker", p.Worker))
		start = time.Now()
		kernels, ksum, err = newKernelParser(cls, p.DeviceProps).parse(h, stepRanges(steps.steps))
		m.ObservePass("kernel", start)
		if err != nil {
			return fmt.Errorf("kernel pass: %w", err)
		}
	}

	start = time.Now()
	memory := aggregateMemory(p.Events)
	m.ObservePass("memory", start)

	p.HasRuntime = steps.hasRuntime
	p.HasKernel = steps.hasKernel
	p.HasCommunication = steps.hasCommunication
	p.HasMemcpyOrMemset = steps.hasMemcpyOrMemset

	p.StepsCosts = overall.stepsCosts
	p.StepsNames = make([]string, len(steps.steps))
	for i, s := range steps.steps {
		p.StepsNames[i] = s.name
	}
	avg := overall.avgCosts
	p.AvgCosts = &avg
	p.CommOverlapCosts = &overall.overlap
	p.GPUUtilization = overall.gpuUtilization()
	if overall.stepsTime > 0 {
		p.SMEfficiency = ksum.smWeighted / overall.stepsTime
	}
	p.Occupancy = ksum.occupancy()
	p.CommNodeList = h.commNodes

	p.OpListGroupByName = modules.byName
	p.OpListGroupByNameInput = modules.byNameInput
	p.StackListsGroupByName = modules.stackByName
	p.StackListsGroupByNameInput = modules.stackByNameInput
	p.KernelListGroupByNameOp = modules.kernelsByNameOp
	p.KernelStat = kernels
	p.MemoryStats = memory
	return nil
}
