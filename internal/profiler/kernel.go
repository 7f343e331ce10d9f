package profiler

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/DataDog/sketches-go/ddsketch"

	"torchprof/internal/config"
	"torchprof/internal/trace"
)

// sketchAccuracy is the relative accuracy of kernel duration quantiles.
const sketchAccuracy = 0.01

type tensorCoreMatcher struct {
	kernelPatterns []string
	eligibleOps    map[string]struct{}
}

func newTensorCoreMatcher(cls config.Classification) *tensorCoreMatcher {
	m := &tensorCoreMatcher{
		kernelPatterns: cls.TensorCoreKernelPatterns,
		eligibleOps:    make(map[string]struct{}, len(cls.TensorCoreEligibleOps)),
	}
	for _, op := range cls.TensorCoreEligibleOps {
		m.eligibleOps[op] = struct{}{}
	}
	return m
}

// used reports whether a kernel name indicates tensor core instructions.
func (m *tensorCoreMatcher) used(kernel string) bool {
	for _, p := range m.kernelPatterns {
		if strings.Contains(kernel, p) {
			return true
		}
	}
	return false
}

func (m *tensorCoreMatcher) eligible(op string) bool {
	_, ok := m.eligibleOps[op]
	return ok
}

// KernelStat aggregates every call of one kernel signature.
type KernelStat struct {
	Name          string  `json:"name"`
	Calls         int     `json:"calls"`
	TotalDuration float64 `json:"total_duration_us"`
	MinDuration   float64 `json:"min_duration_us"`
	MaxDuration   float64 `json:"max_duration_us"`
	MeanDuration  float64 `json:"mean_duration_us"`
	P50Duration   float64 `json:"p50_duration_us"`
	P90Duration   float64 `json:"p90_duration_us"`

	TCUsed       bool `json:"tc_used"`
	OpTCEligible bool `json:"op_tc_eligible"`

	// Duration-weighted means; zero when the trace carries no data for them.
	MeanBlocksPerSM  float64 `json:"mean_blocks_per_sm"`
	MeanOccupancy    float64 `json:"mean_occupancy_pct"`
	MeanSMEfficiency float64 `json:"mean_sm_efficiency"`
}

type kernelAcc struct {
	stat   KernelStat
	sketch *ddsketch.DDSketch

	bpsSum, bpsWeight float64
	occSum, occWeight float64
	smSum, smWeight   float64
}

// kernelSummary holds run-level sums over kernel time inside the steps.
type kernelSummary struct {
	smWeighted        float64
	occSum, occWeight float64
}

// occupancy is the duration-weighted mean achieved occupancy.
func (s kernelSummary) occupancy() float64 {
	if s.occWeight <= 0 {
		return 0
	}
	return s.occSum / s.occWeight
}

type kernelParser struct {
	tc       *tensorCoreMatcher
	smCounts map[int64]int64
}

func newKernelParser(cls config.Classification, props []trace.DeviceProperties) *kernelParser {
	p := &kernelParser{tc: newTensorCoreMatcher(cls), smCounts: make(map[int64]int64)}
	for _, d := range props {
		if d.NumSms > 0 {
			p.smCounts[d.ID] = d.NumSms
		}
	}
	return p
}

// blocksPerSM prefers the exporter's value and otherwise derives it from the
// launch grid and the device's SM count.
func (p *kernelParser) blocksPerSM(d *trace.DevicePayload) (float64, bool) {
	if d.BlocksPerSM != nil {
		return *d.BlocksPerSM, true
	}
	sms, ok := p.smCounts[d.Device]
	if !ok || d.GridBlocks() <= 0 {
		return 0, false
	}
	return float64(d.GridBlocks()) / float64(sms), true
}

// parse builds the kernel table keyed by kernel name. The summary only
// counts kernel time inside the merged within ranges.
func (p *kernelParser) parse(h *hierarchy, within []interval) ([]KernelStat, kernelSummary, error) {
	accs := make(map[string]*kernelAcc)
	var order []string
	var sum kernelSummary

	for i := range h.events {
		ev := &h.events[i]
		if ev.Kind != trace.KindKernel {
			continue
		}
		acc, ok := accs[ev.Name]
		if !ok {
			sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
			if err != nil {
				return nil, sum, fmt.Errorf("kernel sketch: %w", err)
			}
			acc = &kernelAcc{
				stat: KernelStat{
					Name:        ev.Name,
					MinDuration: math.Inf(1),
					TCUsed:      p.tc.used(ev.Name),
				},
				sketch: sketch,
			}
			accs[ev.Name] = acc
			order = append(order, ev.Name)
		}

		st := &acc.stat
		st.Calls++
		st.TotalDuration += ev.Dur
		st.MinDuration = min(st.MinDuration, ev.Dur)
		st.MaxDuration = max(st.MaxDuration, ev.Dur)
		if err := acc.sketch.Add(ev.Dur); err != nil {
			return nil, sum, fmt.Errorf("kernel %s: %w", ev.Name, err)
		}
		if op := h.launchOp[i]; op != nil && op.TCEligible {
			st.OpTCEligible = true
		}

		inSteps := totalLength(intersectIntervals([]interval{{ev.Ts, ev.End()}}, within))
		if bps, ok := p.blocksPerSM(ev.Device); ok {
			acc.bpsSum += bps * ev.Dur
			acc.bpsWeight += ev.Dur
			acc.smSum += min(bps, 1) * ev.Dur
			acc.smWeight += ev.Dur
			sum.smWeighted += min(bps, 1) * inSteps
		}
		if occ := ev.Device.Occupancy; occ != nil {
			acc.occSum += *occ * ev.Dur
			acc.occWeight += ev.Dur
			sum.occSum += *occ * inSteps
			sum.occWeight += inSteps
		}
	}

	stats := make([]KernelStat, 0, len(order))
	for _, name := range order {
		acc := accs[name]
		st := acc.stat
		st.MeanDuration = st.TotalDuration / float64(st.Calls)
		st.P50Duration, _ = acc.sketch.GetValueAtQuantile(0.5)
		st.P90Duration, _ = acc.sketch.GetValueAtQuantile(0.9)
		if acc.bpsWeight > 0 {
			st.MeanBlocksPerSM = acc.bpsSum / acc.bpsWeight
			st.MeanSMEfficiency = acc.smSum / acc.smWeight
		}
		if acc.occWeight > 0 {
			st.MeanOccupancy = acc.occSum / acc.occWeight
		}
		stats = append(stats, st)
	}

	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].TotalDuration != stats[j].TotalDuration {
			return stats[i].TotalDuration > stats[j].TotalDuration
		}
		return stats[i].Name < stats[j].Name
	})
	return stats, sum, nil
}
