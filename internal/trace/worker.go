package trace

import (
	"path/filepath"
	"regexp"
)

var (
	workerPattern      = regexp.MustCompile(`^(.*?)(\.\d+)?\.pt\.trace\.json(?:\.gz)?$`)
	nodeProcessPattern = regexp.MustCompile(`^(.*)_(\d+)`)
)

// WorkerName extracts the worker name and optional span id from a trace file
// path of the form <worker>[.<span>].pt.trace.json[.gz].
func WorkerName(path string) (worker, span string, ok bool) {
	m := workerPattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "", "", false
	}
	span = m[2]
	if span != "" {
		span = span[1:]
	}
	return m[1], span, true
}

// NodeAndProcess splits a worker name like "host_1234" into node and pid.
func NodeAndProcess(worker string) (node, pid string, ok bool) {
	m := nodeProcessPattern.FindStringSubmatch(worker)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// DeviceProperties describes one accelerator as recorded in the trace header.
type DeviceProperties struct {
	ID                          int64  `json:"id"`
	Name                        string `json:"name"`
	TotalGlobalMem              int64  `json:"totalGlobalMem"`
	ComputeMajor                int64  `json:"computeMajor"`
	ComputeMinor                int64  `json:"computeMinor"`
	MaxThreadsPerBlock          int64  `json:"maxThreadsPerBlock"`
	MaxThreadsPerMultiprocessor int64  `json:"maxThreadsPerMultiprocessor"`
	RegsPerBlock                int64  `json:"regsPerBlock"`
	RegsPerMultiprocessor       int64  `json:"regsPerMultiprocessor"`
	WarpSize                    int64  `json:"warpSize"`
	SharedMemPerBlock           int64  `json:"sharedMemPerBlock"`
	SharedMemPerMultiprocessor  int64  `json:"sharedMemPerMultiprocessor"`
	NumSms                      int64  `json:"numSms"`
}

// DistributedInfo is the optional distributed-training header of a trace.
type DistributedInfo struct {
	Backend   string `json:"backend"`
	Rank      int64  `json:"rank"`
	WorldSize int64  `json:"world_size"`
}
