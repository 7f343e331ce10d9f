package profiler

import (
	"sort"
	"strings"

	"torchprof/internal/config"
	"torchprof/internal/trace"
)

// OperatorNode is one CPU operator call with its derived call-tree data.
type OperatorNode struct {
	EventID  int
	Name     string
	Parent   *OperatorNode
	Children []*OperatorNode

	// Runtime event ids issued directly by this operator.
	Runtimes []int
	// Device event ids launched directly by this operator.
	Devices []int

	HostDuration       float64
	SelfHostDuration   float64
	DeviceDuration     float64
	SelfDeviceDuration float64
	// Self device time of kernels that used tensor cores.
	TCSelfDuration float64

	TCEligible bool
	IsComm     bool
}

// CommNode is one communication operation instance. StepName is empty when
// the operation starts outside every step.
type CommNode struct {
	EventID     int
	Name        string
	StepName    string
	Ts          float64
	TotalTime   float64
	RealTime    float64
	InputShapes [][]int64
	InputTypes  []string
}

// hierarchy is the output of the node pass. Slices are indexed by event id.
type hierarchy struct {
	events []trace.Event

	// enclosing host frame of each host event, -1 for roots and device events
	parent []int
	// launching runtime call of each device event, -1 when unknown
	launchRuntime []int
	// launching operator of each runtime/device event, nil when unknown
	launchOp []*OperatorNode
	// device events issued under a communication operator or by a comm library
	commDevice []bool

	ops       []*OperatorNode
	opByEvent map[int]*OperatorNode
	roots     []*OperatorNode
	commNodes []*CommNode
}

type nodeParser struct {
	cls config.Classification
	tc  *tensorCoreMatcher
}

func newNodeParser(cls config.Classification) *nodeParser {
	return &nodeParser{cls: cls, tc: newTensorCoreMatcher(cls)}
}

func (p *nodeParser) isCommOp(name string) bool {
	for _, prefix := range p.cls.CommOpPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	for _, n := range p.cls.CommOpNames {
		if name == n {
			return true
		}
	}
	return false
}

func (p *nodeParser) isCommKernel(name string) bool {
	for _, prefix := range p.cls.CommKernelPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// parse builds the per-thread call trees, links device activity to the
// operators that launched it and extracts communication nodes.
func (p *nodeParser) parse(events []trace.Event) *hierarchy {
	n := len(events)
	h := &hierarchy{
		events:        events,
		parent:        make([]int, n),
		launchRuntime: make([]int, n),
		launchOp:      make([]*OperatorNode, n),
		commDevice:    make([]bool, n),
		opByEvent:     make(map[int]*OperatorNode),
	}
	for i := range h.parent {
		h.parent[i] = -1
		h.launchRuntime[i] = -1
	}

	p.buildThreadTrees(h)
	p.linkDevices(h)
	p.accumulate(h)
	p.extractComm(h)
	return h
}

type threadKey struct {
	pid string
	tid string
}

func (p *nodeParser) buildThreadTrees(h *hierarchy) {
	threads := make(map[threadKey][]int)
	var keys []threadKey
	for i := range h.events {
		ev := &h.events[i]
		if !ev.Kind.IsHostFrame() && ev.Kind != trace.KindRuntime {
			continue
		}
		k := threadKey{ev.Pid, ev.Tid}
		if _, ok := threads[k]; !ok {
			keys = append(keys, k)
		}
		threads[k] = append(threads[k], i)
	}

	for _, k := range keys {
		ids := threads[k]
		sort.SliceStable(ids, func(a, b int) bool {
			ea, eb := &h.events[ids[a]], &h.events[ids[b]]
			if ea.Ts != eb.Ts {
				return ea.Ts < eb.Ts
			}
			if ea.Dur != eb.Dur {
				return ea.Dur > eb.Dur
			}
			// a frame encloses a runtime call of identical extent
			return ea.Kind.IsHostFrame() && !eb.Kind.IsHostFrame()
		})

		var stack []int
		for _, id := range ids {
			ev := &h.events[id]
			for len(stack) > 0 {
				top := &h.events[stack[len(stack)-1]]
				if top.Ts <= ev.Ts && ev.End() <= top.End() {
					break
				}
				stack = stack[:len(stack)-1]
			}
			if len(stack) > 0 {
				h.parent[id] = stack[len(stack)-1]
			}
			opParent := innermostOperator(h, stack)

			switch ev.Kind {
			case trace.KindOperator:
				op := &OperatorNode{
					EventID:      id,
					Name:         ev.Name,
					Parent:       opParent,
					HostDuration: ev.Dur,
					TCEligible:   p.tc.eligible(ev.Name),
					IsComm:       p.isCommOp(ev.Name),
				}
				h.ops = append(h.ops, op)
				h.opByEvent[id] = op
				if opParent != nil {
					opParent.Children = append(opParent.Children, op)
				} else {
					h.roots = append(h.roots, op)
				}
				stack = append(stack, id)
			case trace.KindRuntime:
				if opParent != nil {
					opParent.Runtimes = append(opParent.Runtimes, id)
					h.launchOp[id] = opParent
				}
			default:
				stack = append(stack, id)
			}
		}
	}
}

func innermostOperator(h *hierarchy, stack []int) *OperatorNode {
	for i := len(stack) - 1; i >= 0; i-- {
		if op, ok := h.opByEvent[stack[i]]; ok {
			return op
		}
	}
	return nil
}

// linkDevices ties device events to runtime calls by correlation id, falling
// back to the operator external id.
func (p *nodeParser) linkDevices(h *hierarchy) {
	byCorrelation := make(map[int64]int)
	opByExternal := make(map[int64]*OperatorNode)
	for i := range h.events {
		ev := &h.events[i]
		switch {
		case ev.Kind == trace.KindRuntime && ev.Runtime.Correlation != 0:
			byCorrelation[ev.Runtime.Correlation] = i
		case ev.Kind == trace.KindOperator && ev.Operator.ExternalID != 0:
			if op := h.opByEvent[i]; op != nil {
				if _, dup := opByExternal[ev.Operator.ExternalID]; !dup {
					opByExternal[ev.Operator.ExternalID] = op
				}
			}
		}
	}

	for i := range h.events {
		ev := &h.events[i]
		if !ev.Kind.IsDevice() {
			continue
		}
		var op *OperatorNode
		if rt, ok := byCorrelation[ev.Device.Correlation]; ok && ev.Device.Correlation != 0 {
			h.launchRuntime[i] = rt
			op = h.launchOp[rt]
		}
		if op == nil && ev.Device.ExternalID != 0 {
			op = opByExternal[ev.Device.ExternalID]
		}
		if op != nil {
			h.launchOp[i] = op
			op.Devices = append(op.Devices, i)
		}
		if ev.Kind == trace.KindKernel && p.isCommKernel(ev.Name) {
			h.commDevice[i] = true
		}
	}
}

// accumulate fills host/device durations bottom-up.
func (p *nodeParser) accumulate(h *hierarchy) {
	var visit func(op *OperatorNode, underComm bool)
	visit = func(op *OperatorNode, underComm bool) {
		underComm = underComm || op.IsComm
		var childHost, childDevice float64
		for _, c := range op.Children {
			visit(c, underComm)
			childHost += c.HostDuration
			childDevice += c.DeviceDuration
		}
		for _, d := range op.Devices {
			dev := &h.events[d]
			op.SelfDeviceDuration += dev.Dur
			if dev.Kind == trace.KindKernel && p.tc.used(dev.Name) {
				op.TCSelfDuration += dev.Dur
			}
			if underComm && dev.Kind == trace.KindKernel {
				h.commDevice[d] = true
			}
		}
		op.SelfHostDuration = max(op.HostDuration-childHost, 0)
		op.DeviceDuration = op.SelfDeviceDuration + childDevice
	}
	for _, r := range h.roots {
		visit(r, false)
	}
}

// extractComm creates one CommNode per outermost communication operator, in
// the order the operator events were observed.
func (p *nodeParser) extractComm(h *hierarchy) {
	computeByDevice := make(map[int64][]interval)
	for i := range h.events {
		ev := &h.events[i]
		if ev.Kind == trace.KindKernel && !h.commDevice[i] {
			computeByDevice[ev.Device.Device] = append(computeByDevice[ev.Device.Device], interval{ev.Ts, ev.End()})
		}
	}
	for dev, ivs := range computeByDevice {
		computeByDevice[dev] = mergeIntervals(ivs)
	}

	for i := range h.events {
		op, ok := h.opByEvent[i]
		if !ok || !op.IsComm || hasCommAncestor(op) {
			continue
		}
		ev := &h.events[i]
		node := &CommNode{
			EventID:     i,
			Name:        op.Name,
			Ts:          ev.Ts,
			InputShapes: ev.Operator.InputShapes,
			InputTypes:  ev.Operator.InputTypes,
		}

		devices := subtreeDevices(op)
		if len(devices) == 0 {
			node.TotalTime = op.HostDuration
			node.RealTime = op.HostDuration
		} else {
			perDevice := make(map[int64][]interval)
			for _, d := range devices {
				dev := &h.events[d]
				node.TotalTime += dev.Dur
				perDevice[dev.Device.Device] = append(perDevice[dev.Device.Device], interval{dev.Ts, dev.End()})
			}
			var overlapped float64
			for dev, ivs := range perDevice {
				overlapped += totalLength(intersectIntervals(mergeIntervals(ivs), computeByDevice[dev]))
			}
			node.RealTime = max(node.TotalTime-overlapped, 0)
		}
		h.commNodes = append(h.commNodes, node)
	}
}

func hasCommAncestor(op *OperatorNode) bool {
	for p := op.Parent; p != nil; p = p.Parent {
		if p.IsComm {
			return true
		}
	}
	return false
}

func subtreeDevices(op *OperatorNode) []int {
	out := append([]int(nil), op.Devices...)
	for _, c := range op.Children {
		out = append(out, subtreeDevices(c)...)
	}
	return out
}
