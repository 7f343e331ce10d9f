package profiler

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"torchprof/internal/trace"
)

// OperatorAgg accumulates every call of an operator under one grouping key.
type OperatorAgg struct {
	Name        string `json:"name"`
	InputShapes string `json:"input_shapes,omitempty"`
	CallStack   string `json:"call_stack,omitempty"`

	Calls              int     `json:"calls"`
	HostDuration       float64 `json:"host_duration_us"`
	SelfHostDuration   float64 `json:"self_host_duration_us"`
	DeviceDuration     float64 `json:"device_duration_us"`
	SelfDeviceDuration float64 `json:"self_device_duration_us"`
	TCSelfDuration     float64 `json:"tc_self_duration_us"`
	TCEligible         bool    `json:"tc_eligible"`
}

// TCSelfRatio is the share of self device time spent in tensor core kernels.
func (a *OperatorAgg) TCSelfRatio() float64 {
	if a.SelfDeviceDuration == 0 {
		return 0
	}
	return a.TCSelfDuration / a.SelfDeviceDuration
}

// KernelAggByOp accumulates one kernel launched by one operator.
type KernelAggByOp struct {
	Name          string
	OpName        string
	Calls         int
	TotalDuration float64
	MinDuration   float64
	MaxDuration   float64
	// duration-weighted; zero when unavailable
	BlocksPerSM  float64
	Occupancy    float64
	TCUsed       bool
	OpTCEligible bool

	bpsWeight float64
	occWeight float64
}

// MeanDuration is TotalDuration / Calls.
func (k *KernelAggByOp) MeanDuration() float64 {
	if k.Calls == 0 {
		return 0
	}
	return k.TotalDuration / float64(k.Calls)
}

type moduleResult struct {
	byName           []*OperatorAgg
	byNameInput      []*OperatorAgg
	stackByName      []*OperatorAgg
	stackByNameInput []*OperatorAgg
	kernelsByNameOp  []*KernelAggByOp
}

// opGrouping is an insertion-ordered accumulator keyed by string.
type opGrouping struct {
	index map[string]*OperatorAgg
	order []*OperatorAgg
}

func newOpGrouping() *opGrouping {
	return &opGrouping{index: make(map[string]*OperatorAgg)}
}

// get returns the aggregate for key, creating a zeroed one on first use.
func (g *opGrouping) get(key string, init OperatorAgg) *OperatorAgg {
	if agg, ok := g.index[key]; ok {
		return agg
	}
	agg := &init
	g.index[key] = agg
	g.order = append(g.order, agg)
	return agg
}

func (g *opGrouping) add(key string, init OperatorAgg, op *OperatorNode) {
	agg := g.get(key, init)
	agg.Calls++
	agg.HostDuration += op.HostDuration
	agg.SelfHostDuration += op.SelfHostDuration
	agg.DeviceDuration += op.DeviceDuration
	agg.SelfDeviceDuration += op.SelfDeviceDuration
	agg.TCSelfDuration += op.TCSelfDuration
	agg.TCEligible = agg.TCEligible || op.TCEligible
}

func (g *opGrouping) sorted() []*OperatorAgg {
	out := append([]*OperatorAgg(nil), g.order...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DeviceDuration != out[j].DeviceDuration {
			return out[i].DeviceDuration > out[j].DeviceDuration
		}
		if out[i].HostDuration != out[j].HostDuration {
			return out[i].HostDuration > out[j].HostDuration
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// aggregateModules groups operator calls four ways and kernels by launching
// operator. It is run-wide and independent of step boundaries.
func aggregateModules(h *hierarchy, tc *tensorCoreMatcher) *moduleResult {
	byName := newOpGrouping()
	byNameInput := newOpGrouping()
	stackByName := newOpGrouping()
	stackByNameInput := newOpGrouping()

	for _, op := range h.ops {
		payload := h.events[op.EventID].Operator
		shapes := FormatShapes(payload.InputShapes)
		stack := payload.CallStack

		byName.add(op.Name, OperatorAgg{Name: op.Name}, op)
		byNameInput.add(op.Name+"|"+shapes, OperatorAgg{Name: op.Name, InputShapes: shapes}, op)
		stackByName.add(op.Name+"|"+stack, OperatorAgg{Name: op.Name, CallStack: stack}, op)
		stackByNameInput.add(op.Name+"|"+shapes+"|"+stack,
			OperatorAgg{Name: op.Name, InputShapes: shapes, CallStack: stack}, op)
	}

	kernels := make(map[string]*KernelAggByOp)
	var kernelOrder []*KernelAggByOp
	for i := range h.events {
		ev := &h.events[i]
		op := h.launchOp[i]
		if ev.Kind != trace.KindKernel || op == nil {
			continue
		}
		key := ev.Name + "|" + op.Name
		k, ok := kernels[key]
		if !ok {
			k = &KernelAggByOp{
				Name:         ev.Name,
				OpName:       op.Name,
				MinDuration:  math.Inf(1),
				TCUsed:       tc.used(ev.Name),
				OpTCEligible: op.TCEligible,
			}
			kernels[key] = k
			kernelOrder = append(kernelOrder, k)
		}
		k.Calls++
		k.TotalDuration += ev.Dur
		k.MinDuration = min(k.MinDuration, ev.Dur)
		k.MaxDuration = max(k.MaxDuration, ev.Dur)
		if bps := ev.Device.BlocksPerSM; bps != nil {
			k.BlocksPerSM += *bps * ev.Dur
			k.bpsWeight += ev.Dur
		}
		if occ := ev.Device.Occupancy; occ != nil {
			k.Occupancy += *occ * ev.Dur
			k.occWeight += ev.Dur
		}
	}
	for _, k := range kernelOrder {
		if k.bpsWeight > 0 {
			k.BlocksPerSM /= k.bpsWeight
		}
		if k.occWeight > 0 {
			k.Occupancy /= k.occWeight
		}
	}
	sort.SliceStable(kernelOrder, func(i, j int) bool {
		a, b := kernelOrder[i], kernelOrder[j]
		if a.TotalDuration != b.TotalDuration {
			return a.TotalDuration > b.TotalDuration
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.OpName < b.OpName
	})

	return &moduleResult{
		byName:           byName.sorted(),
		byNameInput:      byNameInput.sorted(),
		stackByName:      stackByName.sorted(),
		stackByNameInput: stackByNameInput.sorted(),
		kernelsByNameOp:  kernelOrder,
	}
}

// FormatShapes renders input shapes as "[[2, 3], []]".
func FormatShapes(shapes [][]int64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, shape := range shapes {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('[')
		for j, d := range shape {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%d", d)
		}
		b.WriteByte(']')
	}
	b.WriteByte(']')
	return b.String()
}
