package trace

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEventKinds(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		kind Kind
		ok   bool
	}{
		{"cpu op", map[string]any{"ph": "X", "cat": "cpu_op", "name": "aten::mm", "ts": 1.0, "dur": 2.0}, KindOperator, true},
		{"legacy operator", map[string]any{"ph": "X", "cat": "Operator", "name": "aten::add", "ts": 1.0, "dur": 2.0}, KindOperator, true},
		{"step marker", map[string]any{"ph": "X", "cat": "user_annotation", "name": "ProfilerStep#3", "ts": 1.0, "dur": 2.0}, KindProfilerStep, true},
		{"runtime", map[string]any{"ph": "X", "cat": "cuda_runtime", "name": "cudaLaunchKernel", "ts": 1.0, "dur": 2.0}, KindRuntime, true},
		{"kernel", map[string]any{"ph": "X", "cat": "kernel", "name": "volta_sgemm", "ts": 1.0, "dur": 2.0}, KindKernel, true},
		{"memcpy", map[string]any{"ph": "X", "cat": "gpu_memcpy", "name": "Memcpy HtoD", "ts": 1.0, "dur": 2.0}, KindMemcpy, true},
		{"memset", map[string]any{"ph": "X", "cat": "gpu_memset", "name": "Memset", "ts": 1.0, "dur": 2.0}, KindMemset, true},
		{"python", map[string]any{"ph": "X", "cat": "python_function", "name": "train.py(10): step", "ts": 1.0, "dur": 2.0}, KindPython, true},
		{"memory", map[string]any{"ph": "i", "name": "[memory]", "ts": 1.0}, KindMemory, true},
		{"metadata", map[string]any{"ph": "M", "name": "process_name"}, 0, false},
		{"flow", map[string]any{"ph": "s", "cat": "ac2g", "name": "ac2g"}, 0, false},
		{"gpu step annotation", map[string]any{"ph": "X", "cat": "gpu_user_annotation", "name": "ProfilerStep#1"}, 0, false},
		{"unknown category", map[string]any{"ph": "X", "cat": "Trace", "name": "PyTorch Profiler"}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := CreateEvent(7, tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.kind, ev.Kind)
				assert.Equal(t, 7, ev.ID)
			}
		})
	}
}

func TestCreateEventOperatorPayload(t *testing.T) {
	var raw map[string]any
	doc := `{"ph":"X","cat":"cpu_op","name":"nccl:all_reduce","pid":12,"tid":"34","ts":100,"dur":50,
		"args":{"Input Dims":[[2,3],[]],"Input type":["long int","float"],"Call stack":"a.py(1);b.py(2)","External id":9}}`
	require.NoError(t, json.Unmarshal([]byte(doc), &raw))

	ev, ok := CreateEvent(0, raw)
	require.True(t, ok)
	require.NotNil(t, ev.Operator)
	assert.Equal(t, "12", ev.Pid)
	assert.Equal(t, "34", ev.Tid)
	assert.Equal(t, 150.0, ev.End())
	assert.Equal(t, [][]int64{{2, 3}, {}}, ev.Operator.InputShapes)
	assert.Equal(t, []string{"long int", "float"}, ev.Operator.InputTypes)
	assert.Equal(t, "a.py(1);b.py(2)", ev.Operator.CallStack)
	assert.Equal(t, int64(9), ev.Operator.ExternalID)
}

func TestCreateEventKernelPayloadToleratesNA(t *testing.T) {
	raw := map[string]any{
		"ph": "X", "cat": "kernel", "name": "k", "ts": 1.0, "dur": 4.0,
		"args": map[string]any{
			"device": 0.0, "stream": 7.0, "correlation": 42.0,
			"grid": []any{4.0, 2.0, 1.0}, "block": []any{128.0, 1.0, 1.0},
			"blocks per SM": "N/A",
			"est. achieved occupancy %": 25.0,
		},
	}
	ev, ok := CreateEvent(1, raw)
	require.True(t, ok)
	require.NotNil(t, ev.Device)
	assert.Equal(t, int64(42), ev.Device.Correlation)
	assert.Equal(t, int64(8), ev.Device.GridBlocks())
	assert.Nil(t, ev.Device.BlocksPerSM)
	require.NotNil(t, ev.Device.Occupancy)
	assert.Equal(t, 25.0, *ev.Device.Occupancy)
}

func TestCreateEventNegativeDurationClamped(t *testing.T) {
	ev, ok := CreateEvent(0, map[string]any{"ph": "X", "cat": "kernel", "name": "k", "ts": 5.0, "dur": -3.0})
	require.True(t, ok)
	assert.Equal(t, 0.0, ev.Dur)
}

func TestWorkerName(t *testing.T) {
	tests := []struct {
		path   string
		worker string
		span   string
		ok     bool
	}{
		{"run/worker7.1619499959628.pt.trace.json.gz", "worker7", "1619499959628", true},
		{"worker0.pt.trace.json", "worker0", "", true},
		{"host_123.pt.trace.json.gz", "host_123", "", true},
		{"trace.json", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			worker, span, ok := WorkerName(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.worker, worker)
			assert.Equal(t, tt.span, span)
		})
	}
}

func TestNodeAndProcess(t *testing.T) {
	node, pid, ok := NodeAndProcess("gpu-node-1_4242")
	require.True(t, ok)
	assert.Equal(t, "gpu-node-1", node)
	assert.Equal(t, "4242", pid)

	_, _, ok = NodeAndProcess("worker7")
	assert.False(t, ok)
}
