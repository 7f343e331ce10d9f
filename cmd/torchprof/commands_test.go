package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTrace = `{"traceEvents": [
	{"ph": "X", "cat": "user_annotation", "name": "ProfilerStep#1", "pid": 1, "tid": 1, "ts": 0, "dur": 100},
	{"ph": "X", "cat": "cpu_op", "name": "aten::mm", "pid": 1, "tid": 1, "ts": 10, "dur": 30},
	{"ph": "X", "cat": "cuda_runtime", "name": "cudaLaunchKernel", "pid": 1, "tid": 1, "ts": 15, "dur": 5, "args": {"correlation": 1}},
	{"ph": "X", "cat": "kernel", "name": "volta_sgemm_128x64_nn", "pid": 0, "tid": 7, "ts": 30, "dur": 40, "args": {"device": 0, "stream": 7, "correlation": 1}}
]}`

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestWorkerCommand(t *testing.T) {
	out, _, err := execute(t, "worker", "/traces/host_123.1619499959628.pt.trace.json.gz")
	require.NoError(t, err)
	assert.Equal(t, "host_123\n", out)

	_, _, err = execute(t, "worker", "notes.txt")
	assert.Error(t, err)
}

func TestAnalyzeWritesKernelCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker0.pt.trace.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleTrace), 0o644))

	out, stderr, err := execute(t, "analyze", "--temp-dir", dir, path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "worker0,volta_sgemm_128x64_nn,GEMM/BLAS,1,40.000"))
	assert.Contains(t, stderr, "Run Summary: worker0")
}

func TestAnalyzeOutputAndMetricsFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker0.pt.trace.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleTrace), 0o644))
	output := filepath.Join(dir, "report.json")
	metricsFile := filepath.Join(dir, "metrics.prom")

	_, _, err := execute(t, "analyze", "--summary=false", "--workers", "2",
		"--output", output, "--metrics-file", metricsFile, path)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"worker": "worker0"`)

	data, err = os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "torchprof_runs_total")
}

func TestAnalyzeWritesStepCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker0.pt.trace.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleTrace), 0o644))
	steps := filepath.Join(dir, "steps.csv")

	out, stderr, err := execute(t, "analyze", "--summary=false", "--steps-output", steps, path)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Step costs written to: "+steps)
	// kernel table still goes to stdout
	assert.Contains(t, out, "volta_sgemm_128x64_nn")

	data, err := os.ReadFile(steps)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "worker,step,start_us,end_us,kernel_us"))
	assert.True(t, strings.HasPrefix(lines[1], "worker0,1,0.000,100.000,40.000"))
}

func TestAnalyzeReportsFailedRuns(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.pt.trace.json")
	require.NoError(t, os.WriteFile(good, []byte(sampleTrace), 0o644))
	missing := filepath.Join(dir, "missing.pt.trace.json")

	out, stderr, err := execute(t, "analyze", "--summary=false", good, missing)
	assert.ErrorIs(t, err, errRunsFailed)
	assert.Contains(t, stderr, "missing.pt.trace.json")
	assert.Contains(t, out, "good,volta_sgemm_128x64_nn")
}

func TestAnalyzeRequiresFiles(t *testing.T) {
	_, _, err := execute(t, "analyze")
	assert.Error(t, err)
}
