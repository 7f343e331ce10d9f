package profiler

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"torchprof/internal/config"
	"torchprof/internal/trace"
)

// stepSpan is one segmented step with the role ranges that fall inside it.
type stepSpan struct {
	name  string
	start float64
	end   float64
	// merged ranges per role, clipped to [start, end)
	ranges [numRoles][]interval
	// time with at least one kernel running, compute or communication
	busy []interval
}

type stepResult struct {
	steps []*stepSpan

	hasRuntime        bool
	hasKernel         bool
	hasCommunication  bool
	hasMemcpyOrMemset bool
}

type stepParser struct {
	cls config.Classification
}

func (p *stepParser) isDataLoader(name string) bool {
	for _, prefix := range p.cls.DataLoaderPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// role classifies one event, or returns false when the event is not charged
// to any role.
func (p *stepParser) role(h *hierarchy, id int) (Role, bool) {
	ev := &h.events[id]
	switch ev.Kind {
	case trace.KindKernel:
		if h.commDevice[id] {
			return RoleCommunication, true
		}
		return RoleKernel, true
	case trace.KindMemcpy, trace.KindMemset:
		return RoleMemcpy, true
	case trace.KindRuntime:
		return RoleRuntime, true
	case trace.KindOperator:
		if p.isDataLoader(ev.Name) {
			return RoleDataLoader, true
		}
		if op := h.opByEvent[id]; op != nil && op.IsComm && op.DeviceDuration == 0 {
			return RoleCommunication, true
		}
		return RoleCpuOp, true
	}
	return 0, false
}

// parse segments the timeline into steps and computes per-role ranges.
func (p *stepParser) parse(h *hierarchy) *stepResult {
	res := &stepResult{}

	var roleRanges [numRoles][]interval
	var kernels []interval
	for i := range h.events {
		ev := &h.events[i]
		role, ok := p.role(h, i)
		if !ok {
			continue
		}
		roleRanges[role] = append(roleRanges[role], interval{ev.Ts, ev.End()})
		if ev.Kind == trace.KindKernel {
			kernels = append(kernels, interval{ev.Ts, ev.End()})
		}
		switch ev.Kind {
		case trace.KindRuntime:
			res.hasRuntime = true
		case trace.KindKernel:
			res.hasKernel = true
		case trace.KindMemcpy, trace.KindMemset:
			res.hasMemcpyOrMemset = true
		}
		if role == RoleCommunication {
			res.hasCommunication = true
		}
	}
	if len(h.commNodes) > 0 {
		res.hasCommunication = true
	}
	for r := range roleRanges {
		roleRanges[r] = mergeIntervals(roleRanges[r])
	}
	kernels = mergeIntervals(kernels)

	res.steps = p.segment(h)
	for _, s := range res.steps {
		for r := Role(0); r < numRoles; r++ {
			s.ranges[r] = clipIntervals(roleRanges[r], s.start, s.end)
		}
		s.busy = clipIntervals(kernels, s.start, s.end)
	}

	for _, n := range h.commNodes {
		n.StepName = owningStep(res.steps, n.Ts)
	}
	return res
}

// segment finds step boundaries from ProfilerStep markers. The device side of
// a step extends to the end of the last device event launched from inside the
// step, but never past the start of the next step.
func (p *stepParser) segment(h *hierarchy) []*stepSpan {
	var markers []int
	for i := range h.events {
		if h.events[i].Kind == trace.KindProfilerStep {
			markers = append(markers, i)
		}
	}

	if len(markers) == 0 {
		start, end := math.Inf(1), math.Inf(-1)
		for i := range h.events {
			ev := &h.events[i]
			if ev.Kind == trace.KindMemory {
				continue
			}
			start = min(start, ev.Ts)
			end = max(end, ev.End())
		}
		if start > end {
			start, end = 0, 0
		}
		return []*stepSpan{{name: "0", start: start, end: end}}
	}

	sort.SliceStable(markers, func(a, b int) bool {
		return h.events[markers[a]].Ts < h.events[markers[b]].Ts
	})

	steps := make([]*stepSpan, len(markers))
	for i, id := range markers {
		ev := &h.events[id]
		name := strconv.Itoa(i)
		if ev.Step != nil && ev.Step.Step >= 0 {
			name = strconv.Itoa(ev.Step.Step)
		}
		steps[i] = &stepSpan{name: name, start: ev.Ts, end: ev.End()}
	}

	hostEnds := make([]float64, len(steps))
	for i, s := range steps {
		hostEnds[i] = s.end
	}
	for i := range h.events {
		ev := &h.events[i]
		if !ev.Kind.IsDevice() {
			continue
		}
		rt := h.launchRuntime[i]
		if rt < 0 {
			continue
		}
		launchTs := h.events[rt].Ts
		idx := sort.Search(len(steps), func(k int) bool { return steps[k].start > launchTs }) - 1
		if idx < 0 || launchTs >= hostEnds[idx] {
			continue
		}
		if end := ev.End(); end > steps[idx].end {
			steps[idx].end = end
		}
	}
	for i := 0; i+1 < len(steps); i++ {
		if steps[i].end > steps[i+1].start {
			steps[i].end = max(steps[i+1].start, hostEnds[i])
		}
	}
	return steps
}

// owningStep returns the name of the step whose [start, end) range contains
// ts, or "" when ts falls before, between or after the steps.
func owningStep(steps []*stepSpan, ts float64) string {
	idx := sort.Search(len(steps), func(k int) bool { return steps[k].start > ts }) - 1
	if idx < 0 || ts >= steps[idx].end {
		return ""
	}
	return steps[idx].name
}

// stepRanges returns the merged time covered by the steps.
func stepRanges(steps []*stepSpan) []interval {
	ivs := make([]interval, len(steps))
	for i, s := range steps {
		ivs[i] = interval{s.start, s.end}
	}
	return mergeIntervals(ivs)
}

// costs splits one step among the exclusive roles.
func (s *stepSpan) costs() StepCost {
	c := StepCost{Start: s.start, End: s.end}
	c.Costs[RoleTotal] = s.end - s.start

	remaining := []interval{{s.start, s.end}}
	var claimed float64
	for _, r := range exclusiveOrder {
		got := intersectIntervals(s.ranges[r], remaining)
		c.Costs[r] = totalLength(got)
		claimed += c.Costs[r]
		remaining = subtractIntervals(remaining, mergeIntervals(got))
	}
	c.Costs[RoleOther] = c.Costs[RoleTotal] - claimed
	return c
}
