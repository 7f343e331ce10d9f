package profiler

import "fmt"

type recommendationRule struct {
	role      Role
	threshold func(p *RunProfileData) float64
	text      func(pct string) string
}

// recommendationRules are evaluated in order; each one that fires appends
// its text independently of the others.
var recommendationRules = []recommendationRule{
	{
		role:      RoleDataLoader,
		threshold: func(p *RunProfileData) float64 { return p.opts.Config.Thresholds.DataLoader },
		text: func(pct string) string {
			return "This run has high time cost on input data loading. " + pct +
				" of the step time is in DataLoader. You could try to set num_workers on " +
				"DataLoader's construction and enable multi-processes on data loading."
		},
	},
	{
		role:      RoleMemcpy,
		threshold: func(p *RunProfileData) float64 { return p.opts.Config.Thresholds.Memcpy },
		text: func(pct string) string {
			return "This run spends " + pct + " of the step time in memory copies and sets. " +
				"Consider pinned host memory, non_blocking transfers, or keeping tensors on the device."
		},
	},
	{
		role:      RoleRuntime,
		threshold: func(p *RunProfileData) float64 { return p.opts.Config.Thresholds.Runtime },
		text: func(pct string) string {
			return "This run spends " + pct + " of the step time in runtime launch calls. " +
				"Many small kernels are being launched; consider larger batches, fused operators, or graph capture."
		},
	},
	{
		role:      RoleCommunication,
		threshold: func(p *RunProfileData) float64 { return p.opts.Config.Thresholds.Communication },
		text: func(pct string) string {
			return "This run has " + pct + " of the step time in communication not overlapped with computation. " +
				"Consider gradient bucketing or overlapping communication with the backward pass."
		},
	},
}

// Analyze derives recommendations from the run-level average costs. It is a
// pure function of AvgCosts and the thresholds.
func (p *RunProfileData) Analyze() {
	p.Recommendations = nil
	if p.AvgCosts == nil {
		return
	}
	total := p.AvgCosts.Cost(RoleTotal)
	if total <= 0 {
		return
	}
	for _, rule := range recommendationRules {
		ratio := p.AvgCosts.Cost(rule.role) / total
		if ratio > rule.threshold(p) {
			p.Recommendations = append(p.Recommendations, rule.text(formatPercent(ratio)))
		}
	}
}

// formatPercent renders a ratio as a percentage with one decimal, e.g. "10.0%".
func formatPercent(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}
