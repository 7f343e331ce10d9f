package profiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func avgRun(costs map[Role]float64) *RunProfileData {
	p := NewRunProfileData("worker0", testOptions())
	c := StepCost{}
	for r, v := range costs {
		c.Costs[r] = v
	}
	p.AvgCosts = &c
	return p
}

func TestAnalyzeDataLoader(t *testing.T) {
	p := avgRun(map[Role]float64{RoleTotal: 100, RoleDataLoader: 10})
	p.Analyze()
	require.Len(t, p.Recommendations, 1)
	assert.Contains(t, p.Recommendations[0], "10.0%")
	assert.Contains(t, p.Recommendations[0], "DataLoader")
}

func TestAnalyzeThresholdIsExclusive(t *testing.T) {
	p := avgRun(map[Role]float64{RoleTotal: 100, RoleDataLoader: 5})
	p.Analyze()
	assert.Empty(t, p.Recommendations)
}

func TestAnalyzeRulesInOrder(t *testing.T) {
	p := avgRun(map[Role]float64{
		RoleTotal:         100,
		RoleDataLoader:    6,
		RoleMemcpy:        11,
		RoleRuntime:       12,
		RoleCommunication: 25,
	})
	p.Analyze()
	require.Len(t, p.Recommendations, 4)
	assert.Contains(t, p.Recommendations[0], "6.0%")
	assert.Contains(t, p.Recommendations[1], "11.0%")
	assert.Contains(t, p.Recommendations[2], "12.0%")
	assert.Contains(t, p.Recommendations[3], "25.0%")
}

func TestAnalyzeNoData(t *testing.T) {
	p := NewRunProfileData("worker0", testOptions())
	p.Analyze()
	assert.Empty(t, p.Recommendations)

	p = avgRun(map[Role]float64{RoleDataLoader: 10})
	p.Analyze()
	assert.Empty(t, p.Recommendations)
}

func TestAnalyzeDeterministic(t *testing.T) {
	p := avgRun(map[Role]float64{RoleTotal: 80, RoleDataLoader: 20, RoleRuntime: 9})
	p.Analyze()
	first := append([]string(nil), p.Recommendations...)
	p.Analyze()
	assert.Equal(t, first, p.Recommendations)
}

func TestAnalyzeProcessedRun(t *testing.T) {
	p := processed(t, twoStepTrace())
	p.Analyze()
	// dataloader averages exactly 5% which does not exceed the threshold
	assert.Empty(t, p.Recommendations)
}
