package report

import (
	"torchprof/internal/profiler"
	"torchprof/internal/trace"
)

// runDocument is the JSON shape of one analysed run.
type runDocument struct {
	Worker            string             `json:"worker"`
	Span              string             `json:"span,omitempty"`
	Node              string             `json:"node,omitempty"`
	Pid               string             `json:"pid,omitempty"`
	DataSchemaVersion string             `json:"data_schema_version,omitempty"`
	TraceFile         string             `json:"trace_file"`
	HasRuntime        bool               `json:"has_runtime"`
	HasKernel         bool               `json:"has_kernel"`
	HasCommunication  bool               `json:"has_communication"`
	HasMemcpyOrMemset bool               `json:"has_memcpy_or_memset"`
	Steps             []stepDocument     `json:"steps"`
	Average           map[string]float64 `json:"average_costs_us,omitempty"`
	CommOverlapTotal  float64            `json:"comm_overlap_total_us"`
	GPUUtilization    float64            `json:"gpu_utilization"`
	SMEfficiency      float64            `json:"sm_efficiency"`
	Occupancy         float64            `json:"achieved_occupancy_pct"`

	Distributed *trace.DistributedInfo `json:"distributed,omitempty"`

	Operators []*profiler.OperatorAgg `json:"operators"`
	Kernels   []profiler.KernelStat   `json:"kernels"`
	Memory    []profiler.MemoryStat   `json:"memory,omitempty"`

	StepComm  map[string]*profiler.StepCommStat `json:"step_comm,omitempty"`
	TotalComm map[string]*profiler.CommOpStat   `json:"total_comm,omitempty"`

	Recommendations []string           `json:"recommendations"`
	Warnings        []profiler.Warning `json:"warnings,omitempty"`
}

type stepDocument struct {
	Name    string             `json:"name"`
	Start   float64            `json:"start_us"`
	End     float64            `json:"end_us"`
	Costs   map[string]float64 `json:"costs_us"`
	Overlap float64            `json:"comm_overlap_us"`
}

func roleCosts(c *profiler.StepCost) map[string]float64 {
	out := make(map[string]float64, len(profiler.Roles()))
	for _, role := range profiler.Roles() {
		out[roleKey(role)] = c.Cost(role)
	}
	return out
}

func newRunDocument(r *profiler.RunProfileData) runDocument {
	doc := runDocument{
		Worker:            r.Worker,
		Span:              r.Span,
		Node:              r.Node,
		Pid:               r.Pid,
		DataSchemaVersion: r.DataSchemaVersion,
		TraceFile:         r.TraceFilePath,
		HasRuntime:        r.HasRuntime,
		HasKernel:         r.HasKernel,
		HasCommunication:  r.HasCommunication,
		HasMemcpyOrMemset: r.HasMemcpyOrMemset,
		GPUUtilization:    r.GPUUtilization,
		SMEfficiency:      r.SMEfficiency,
		Occupancy:         r.Occupancy,
		Distributed:       r.DistInfo,
		Steps:             make([]stepDocument, 0, len(r.StepsCosts)),
		Operators:         r.OpListGroupByName,
		Kernels:           r.KernelStat,
		Memory:            r.MemoryStats,
		StepComm:          r.StepCommStats,
		TotalComm:         r.TotalCommStats,
		Recommendations:   r.Recommendations,
		Warnings:          r.Warnings,
	}
	if r.AvgCosts != nil {
		doc.Average = roleCosts(r.AvgCosts)
	}
	if r.CommOverlapCosts != nil {
		doc.CommOverlapTotal = r.CommOverlapCosts.Total
	}
	for i := range r.StepsCosts {
		c := &r.StepsCosts[i]
		step := stepDocument{
			Name:  stepName(r, i),
			Start: c.Start,
			End:   c.End,
			Costs: roleCosts(c),
		}
		if r.CommOverlapCosts != nil && i < len(r.CommOverlapCosts.Steps) {
			step.Overlap = r.CommOverlapCosts.Steps[i]
		}
		doc.Steps = append(doc.Steps, step)
	}
	if doc.Recommendations == nil {
		doc.Recommendations = []string{}
	}
	return doc
}
