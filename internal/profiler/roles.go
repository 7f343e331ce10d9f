package profiler

// Role is where time within a step was spent. Roles up to RoleOther are
// mutually exclusive; RoleTotal is the step length.
type Role int

const (
	RoleKernel Role = iota
	RoleCommunication
	RoleMemcpy
	RoleRuntime
	RoleDataLoader
	RoleCpuOp
	RoleOther
	RoleTotal
	numRoles
)

// exclusiveOrder is the claim order used to split a step among roles: a
// moment covered by several roles is charged to the earliest one here.
var exclusiveOrder = []Role{
	RoleKernel,
	RoleCommunication,
	RoleMemcpy,
	RoleRuntime,
	RoleDataLoader,
	RoleCpuOp,
}

func (r Role) String() string {
	switch r {
	case RoleKernel:
		return "Kernel"
	case RoleCommunication:
		return "Communication"
	case RoleMemcpy:
		return "Memcpy"
	case RoleRuntime:
		return "Runtime"
	case RoleDataLoader:
		return "DataLoader"
	case RoleCpuOp:
		return "CPU Exec"
	case RoleOther:
		return "Other"
	case RoleTotal:
		return "Total"
	}
	return "Unknown"
}

// Roles lists every role in display order.
func Roles() []Role {
	out := make([]Role, 0, numRoles)
	for r := Role(0); r < numRoles; r++ {
		out = append(out, r)
	}
	return out
}

// StepCost is the time (µs) spent per role in one step, or the run average.
type StepCost struct {
	Start float64
	End   float64
	Costs [numRoles]float64
}

// Cost returns the time charged to role r.
func (s *StepCost) Cost(r Role) float64 {
	return s.Costs[r]
}

// ExclusiveSum is the sum of all mutually exclusive roles, Other included.
func (s *StepCost) ExclusiveSum() float64 {
	var sum float64
	for r := RoleKernel; r <= RoleOther; r++ {
		sum += s.Costs[r]
	}
	return sum
}
