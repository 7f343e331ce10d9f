package profiler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"torchprof/internal/config"
	"torchprof/internal/trace"
)

// traceBuilder assembles raw Kineto-style records for tests.
type traceBuilder struct {
	records []map[string]any
}

func (b *traceBuilder) add(r map[string]any) *traceBuilder {
	b.records = append(b.records, r)
	return b
}

func (b *traceBuilder) step(n int, ts, dur float64) *traceBuilder {
	return b.add(map[string]any{
		"ph": "X", "cat": "user_annotation", "name": "ProfilerStep#" + itoa(n),
		"pid": 1.0, "tid": 1.0, "ts": ts, "dur": dur,
	})
}

func (b *traceBuilder) op(name string, ts, dur float64, args map[string]any) *traceBuilder {
	if args == nil {
		args = map[string]any{}
	}
	return b.add(map[string]any{
		"ph": "X", "cat": "cpu_op", "name": name,
		"pid": 1.0, "tid": 1.0, "ts": ts, "dur": dur, "args": args,
	})
}

func (b *traceBuilder) runtime(name string, ts, dur float64, corr int) *traceBuilder {
	return b.add(map[string]any{
		"ph": "X", "cat": "cuda_runtime", "name": name,
		"pid": 1.0, "tid": 1.0, "ts": ts, "dur": dur,
		"args": map[string]any{"correlation": float64(corr)},
	})
}

func (b *traceBuilder) device(cat, name string, ts, dur float64, corr int, extra map[string]any) *traceBuilder {
	args := map[string]any{"device": 0.0, "stream": 7.0, "correlation": float64(corr)}
	for k, v := range extra {
		args[k] = v
	}
	return b.add(map[string]any{
		"ph": "X", "cat": cat, "name": name,
		"pid": 0.0, "tid": 7.0, "ts": ts, "dur": dur, "args": args,
	})
}

func (b *traceBuilder) events() []trace.Event {
	var out []trace.Event
	for _, r := range b.records {
		if ev, ok := trace.CreateEvent(len(out), r); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (b *traceBuilder) json(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"profilerMetadata": map[string]any{"DataSchemaVersion": "1.0.0"},
		"traceEvents":      b.records,
	})
	require.NoError(t, err)
	return data
}

func itoa(n int) string {
	data, _ := json.Marshal(n)
	return string(data)
}

// twoStepTrace is a small two-step run:
//
//	step 1 [0,100): dataloader [0,10), aten::mm [20,50) launching a tensor
//	core gemm on [40,60), nccl:all_reduce [60,70) launching a comm kernel on
//	[50,80), aten::copy_ [72,82) launching a memcpy on [85,90)
//	step 2 [100,200): aten::mm [110,130) launching the gemm on [120,160)
func twoStepTrace() *traceBuilder {
	b := &traceBuilder{}
	b.step(1, 0, 100)
	b.op("enumerate(DataLoader)#_SingleProcessDataLoaderIter.__next__", 0, 10, nil)
	b.op("aten::mm", 20, 30, map[string]any{
		"Input Dims": []any{[]any{4.0, 8.0}, []any{8.0, 2.0}},
		"Input type": []any{"float", "float"},
		"Call stack": "train.py(10): forward",
	})
	b.runtime("cudaLaunchKernel", 25, 5, 1)
	b.device("kernel", "volta_h884gemm_64x64", 40, 20, 1, map[string]any{
		"blocks per SM": 0.5, "est. achieved occupancy %": 50.0,
	})
	b.op("nccl:all_reduce", 60, 10, map[string]any{
		"Input Dims": []any{[]any{2.0, 3.0}},
		"Input type": []any{"long int"},
	})
	b.runtime("cudaLaunchKernel", 62, 3, 2)
	b.device("kernel", "ncclKernel_AllReduce_RING_LL_Sum_float", 50, 30, 2, nil)
	b.op("aten::copy_", 72, 10, nil)
	b.runtime("cudaMemcpyAsync", 75, 5, 3)
	b.device("gpu_memcpy", "Memcpy HtoD (Pageable -> Device)", 85, 5, 3, nil)

	b.step(2, 100, 100)
	b.op("aten::mm", 110, 20, map[string]any{
		"Input Dims": []any{[]any{4.0, 8.0}, []any{8.0, 2.0}},
		"Input type": []any{"float", "float"},
		"Call stack": "train.py(20): eval",
	})
	b.runtime("cudaLaunchKernel", 112, 4, 4)
	b.device("kernel", "volta_h884gemm_64x64", 120, 40, 4, nil)
	return b
}

func testOptions() Options {
	return Options{Config: config.Default()}
}

func processed(t *testing.T, b *traceBuilder) *RunProfileData {
	t.Helper()
	p := NewRunProfileData("worker0", testOptions())
	p.Events = b.events()
	require.NoError(t, p.Process())
	return p
}
