package profiler

import (
	"fmt"
)

// epsilon absorbs floating point noise when checking µs invariants.
const epsilon = 1e-6

// CommOverlap is the time where communication and compute kernels ran
// concurrently, per step and summed over the run.
type CommOverlap struct {
	Steps []float64
	Total float64
}

type overallResult struct {
	stepsCosts []StepCost
	avgCosts   StepCost
	overlap    CommOverlap

	// summed over all steps
	stepsTime float64
	gpuBusy   float64
}

// gpuUtilization is the share of step time with at least one kernel running.
func (r *overallResult) gpuUtilization() float64 {
	if r.stepsTime <= 0 {
		return 0
	}
	return r.gpuBusy / r.stepsTime
}

// aggregateOverall validates per-step costs, averages them and computes the
// communication/computation overlap.
func aggregateOverall(steps []*stepSpan) (*overallResult, error) {
	res := &overallResult{
		stepsCosts: make([]StepCost, 0, len(steps)),
		overlap:    CommOverlap{Steps: make([]float64, 0, len(steps))},
	}

	for _, s := range steps {
		c := s.costs()
		if err := validateStepCost(s.name, &c); err != nil {
			return nil, err
		}
		res.stepsCosts = append(res.stepsCosts, c)
		res.stepsTime += c.Costs[RoleTotal]

		busy := totalLength(s.busy)
		if busy > c.Costs[RoleTotal]+epsilon {
			return nil, fmt.Errorf("%w: step %s gpu busy time %.3f exceeds step length %.3f",
				ErrInvariant, s.name, busy, c.Costs[RoleTotal])
		}
		res.gpuBusy += busy

		comm := s.ranges[RoleCommunication]
		kernel := s.ranges[RoleKernel]
		overlap := totalLength(intersectIntervals(comm, kernel))
		if bound := min(totalLength(comm), totalLength(kernel)); overlap > bound+epsilon {
			return nil, fmt.Errorf("%w: step %s overlap %.3f exceeds min(comm, kernel) %.3f",
				ErrInvariant, s.name, overlap, bound)
		}
		res.overlap.Steps = append(res.overlap.Steps, overlap)
		res.overlap.Total += overlap
	}

	if n := len(res.stepsCosts); n > 0 {
		for _, c := range res.stepsCosts {
			for r := range c.Costs {
				res.avgCosts.Costs[r] += c.Costs[r]
			}
		}
		for r := range res.avgCosts.Costs {
			res.avgCosts.Costs[r] /= float64(n)
		}
		res.avgCosts.Start = res.stepsCosts[0].Start
		res.avgCosts.End = res.stepsCosts[n-1].End
	}
	return res, nil
}

func validateStepCost(name string, c *StepCost) error {
	total := c.Costs[RoleTotal]
	if total < 0 {
		return fmt.Errorf("%w: step %s has negative length %.3f", ErrInvariant, name, total)
	}
	for r := RoleKernel; r <= RoleOther; r++ {
		if c.Costs[r] < -epsilon {
			return fmt.Errorf("%w: step %s role %s has negative cost %.3f", ErrInvariant, name, r, c.Costs[r])
		}
		if c.Costs[r] < 0 {
			c.Costs[r] = 0
		}
	}
	if sum := c.ExclusiveSum(); sum > total+epsilon {
		return fmt.Errorf("%w: step %s exclusive costs %.3f exceed total %.3f", ErrInvariant, name, sum, total)
	}
	return nil
}
