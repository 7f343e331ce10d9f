package decode

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torchprof/internal/cache"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDecodeObjectWithMetadata(t *testing.T) {
	doc := `{
		"profilerMetadata": {"DataSchemaVersion": "1.0.1"},
		"deviceProperties": [{"id": 0, "name": "A100", "numSms": 108, "maxThreadsPerMultiprocessor": 2048}],
		"distributedInfo": {"backend": "nccl", "rank": 1, "world_size": 2},
		"traceEvents": [
			{"ph": "M", "name": "process_name", "pid": 1, "args": {"name": "python"}},
			{"ph": "X", "cat": "cpu_op", "name": "aten::mm", "pid": 1, "tid": 1, "ts": 10, "dur": 5},
			{"ph": "X", "cat": "kernel", "name": "sgemm", "pid": 0, "tid": 7, "ts": 12, "dur": 2}
		]
	}`
	c := cache.NewMemCache(map[string][]byte{"w.pt.trace.json.gz": gzipBytes(t, []byte(doc))})

	res, err := Decode(c, "w.pt.trace.json.gz", Options{})
	require.NoError(t, err)
	assert.Equal(t, StageStrict, res.Stage)
	assert.Empty(t, res.ReplacementPath)
	assert.Equal(t, "1.0.1", res.SchemaVersion)
	assert.Equal(t, 3, res.Records)
	require.Len(t, res.Events, 2)
	assert.Equal(t, 0, res.Events[0].ID)
	assert.Equal(t, 1, res.Events[1].ID)
	require.Len(t, res.DeviceProperties, 1)
	assert.Equal(t, int64(108), res.DeviceProperties[0].NumSms)
	require.NotNil(t, res.Distributed)
	assert.Equal(t, int64(2), res.Distributed.WorldSize)
}

func TestDecodeBareArray(t *testing.T) {
	doc := `[{"ph": "X", "cat": "cpu_op", "name": "aten::add", "ts": 1, "dur": 1}, {"ph": "f", "name": "flow"}]`
	c := cache.NewMemCache(map[string][]byte{"w.json": []byte(doc)})

	res, err := Decode(c, "w.json", Options{})
	require.NoError(t, err)
	assert.Empty(t, res.SchemaVersion)
	assert.Len(t, res.Events, 1)
}

func TestDecodeRepairsBareNA(t *testing.T) {
	doc := `{"traceEvents": [
		{"ph": "X", "cat": "kernel", "name": "k", "ts": 1, "dur": 2,
		 "args": {"blocks per SM": N/A, "est. achieved occupancy %": N/A, "note": "N/A"}},
		{"ph": "X", "cat": "cpu_op", "name": "value N/A inside", "ts": 0, "dur": 10}
	]}`
	dir := t.TempDir()
	c := cache.NewMemCache(map[string][]byte{"w.pt.trace.json": []byte(doc)})

	res, err := Decode(c, "w.pt.trace.json", Options{TempDir: dir})
	require.NoError(t, err)
	assert.Equal(t, StageRepaired, res.Stage)
	assert.Error(t, res.DecodeErr)
	require.NotEmpty(t, res.ReplacementPath)
	assert.Equal(t, dir, filepath.Dir(res.ReplacementPath))

	require.Len(t, res.Events, 2)
	assert.Nil(t, res.Events[0].Device.BlocksPerSM)
	assert.Equal(t, "value N/A inside", res.Events[1].Name)

	// decoding the repaired artifact must give the same events
	again, err := Decode(cache.NewFileCache(), res.ReplacementPath, Options{TempDir: dir})
	require.NoError(t, err)
	assert.Equal(t, StageStrict, again.Stage)
	assert.Equal(t, res.Events, again.Events)
}

func TestQuoteBareNA(t *testing.T) {
	in := []byte(`{"a": N/A, "b": "N/A", "c": "x N/A y", "d": [N/A,N/A], "e": "esc \" N/A"}`)
	want := `{"a": "N/A", "b": "N/A", "c": "x N/A y", "d": ["N/A","N/A"], "e": "esc \" N/A"}`
	assert.Equal(t, want, string(QuoteBareNA(in)))

	plain := []byte(`{"a": 1}`)
	assert.Equal(t, plain, QuoteBareNA(plain))
}

func TestDecodeToleratesControlCharacters(t *testing.T) {
	doc := "[{\"ph\": \"X\", \"cat\": \"cpu_op\", \"name\": \"a\tb\nc\x01\", \"ts\": 1, \"dur\": 1}]"
	dir := t.TempDir()
	c := cache.NewMemCache(map[string][]byte{"w.json": []byte(doc)})

	res, err := Decode(c, "w.json", Options{TempDir: dir})
	require.NoError(t, err)
	assert.Equal(t, StageLenient, res.Stage)
	assert.Error(t, res.DecodeErr)
	require.NotEmpty(t, res.ReplacementPath)
	assert.Equal(t, dir, filepath.Dir(res.ReplacementPath))
	require.Len(t, res.Events, 1)
	assert.Equal(t, "a\tb\nc\x01", res.Events[0].Name)
}

func TestDecodeErrors(t *testing.T) {
	c := cache.NewMemCache(map[string][]byte{
		"bad.pt.trace.json.gz": []byte("not gzip at all"),
		"bad.pt.trace.json":    []byte(`{"traceEvents": [`),
		"noevents.json":        []byte(`{"schema": 1}`),
		"scalar.json":          []byte(`42`),
	})

	_, err := Decode(c, "bad.pt.trace.json.gz", Options{})
	assert.ErrorIs(t, err, ErrCorruptArchive)

	_, err = Decode(c, "bad.pt.trace.json", Options{TempDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrMalformedTrace)

	_, err = Decode(c, "noevents.json", Options{})
	assert.ErrorIs(t, err, ErrMalformedTrace)

	_, err = Decode(c, "scalar.json", Options{})
	assert.ErrorIs(t, err, ErrMalformedTrace)

	_, err = Decode(c, filepath.Join(t.TempDir(), "missing.pt.trace.json"), Options{})
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestWriteArtifactIsGzip(t *testing.T) {
	dir := t.TempDir()
	path, err := writeArtifact(map[string]any{"traceEvents": []any{}}, dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	plain, err := gunzip(data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"traceEvents": []}`, string(plain))
}
