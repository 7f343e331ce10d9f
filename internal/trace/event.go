package trace

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind classifies a trace record. It is decided once, when the event is created.
type Kind int

const (
	KindOperator Kind = iota
	KindProfilerStep
	KindRuntime
	KindKernel
	KindMemcpy
	KindMemset
	KindPython
	KindMemory
)

func (k Kind) String() string {
	switch k {
	case KindOperator:
		return "Operator"
	case KindProfilerStep:
		return "ProfilerStep"
	case KindRuntime:
		return "Runtime"
	case KindKernel:
		return "Kernel"
	case KindMemcpy:
		return "Memcpy"
	case KindMemset:
		return "Memset"
	case KindPython:
		return "Python"
	case KindMemory:
		return "Memory"
	}
	return "Unknown"
}

// IsDevice reports whether the event executes on the accelerator.
func (k Kind) IsDevice() bool {
	return k == KindKernel || k == KindMemcpy || k == KindMemset
}

// IsHostFrame reports whether the event can enclose other host events.
func (k Kind) IsHostFrame() bool {
	return k == KindOperator || k == KindProfilerStep || k == KindPython
}

// Event is one decoded trace record. Times are in microseconds.
// Exactly one payload pointer is set, matching Kind; KindPython carries none.
type Event struct {
	ID   int
	Kind Kind
	Name string
	Ts   float64
	Dur  float64
	Pid  string
	Tid  string

	Operator *OperatorPayload
	Runtime  *RuntimePayload
	Device   *DevicePayload
	Step     *StepPayload
	Memory   *MemoryPayload
}

// End returns Ts + Dur.
func (e *Event) End() float64 {
	return e.Ts + e.Dur
}

// OperatorPayload is carried by CPU operator events.
type OperatorPayload struct {
	InputShapes [][]int64
	InputTypes  []string
	CallStack   string
	ExternalID  int64
}

// RuntimePayload is carried by host-side runtime API calls.
type RuntimePayload struct {
	Correlation int64
	ExternalID  int64
}

// DevicePayload is carried by kernel, memcpy and memset events.
type DevicePayload struct {
	Device             int64
	Stream             int64
	Correlation        int64
	ExternalID         int64
	Grid               [3]int64
	Block              [3]int64
	RegistersPerThread int64
	SharedMemory       int64
	Bytes              int64
	// nil when the exporter did not record the value (or wrote "N/A")
	BlocksPerSM *float64
	Occupancy   *float64
}

// GridBlocks returns the total number of thread blocks of a launch.
func (d *DevicePayload) GridBlocks() int64 {
	return d.Grid[0] * d.Grid[1] * d.Grid[2]
}

// StepPayload is carried by step boundary markers.
type StepPayload struct {
	Step int
}

// MemoryPayload is carried by allocator instant events.
type MemoryPayload struct {
	Device         int64
	Bytes          int64
	TotalAllocated int64
}

const stepMarkerPrefix = "ProfilerStep#"

// CreateEvent converts one raw record into an Event. Records that are not
// part of the event model (metadata, flows, counters, unknown categories)
// yield false. It never fails.
func CreateEvent(id int, raw map[string]any) (Event, bool) {
	ph, _ := raw["ph"].(string)
	name, _ := raw["name"].(string)
	cat, _ := raw["cat"].(string)
	args, _ := raw["args"].(map[string]any)

	ev := Event{
		ID:   id,
		Name: name,
		Pid:  idString(raw["pid"]),
		Tid:  idString(raw["tid"]),
	}
	ev.Ts, _ = toFloat(raw["ts"])

	if ph == "i" && name == "[memory]" {
		ev.Kind = KindMemory
		ev.Memory = &MemoryPayload{
			Device:         argInt(args, "Device Id"),
			Bytes:          argInt(args, "Bytes"),
			TotalAllocated: argInt(args, "Total Allocated"),
		}
		return ev, true
	}
	if ph != "X" {
		return Event{}, false
	}

	dur, ok := toFloat(raw["dur"])
	if !ok || dur < 0 {
		dur = 0
	}
	ev.Dur = dur

	switch strings.ToLower(cat) {
	case "operator", "cpu_op", "user_annotation", "gpu_user_annotation":
		if strings.HasPrefix(name, stepMarkerPrefix) {
			if strings.ToLower(cat) == "gpu_user_annotation" {
				return Event{}, false
			}
			step, err := strconv.Atoi(strings.TrimPrefix(name, stepMarkerPrefix))
			if err != nil {
				step = -1
			}
			ev.Kind = KindProfilerStep
			ev.Step = &StepPayload{Step: step}
			return ev, true
		}
		if strings.ToLower(cat) == "gpu_user_annotation" {
			return Event{}, false
		}
		ev.Kind = KindOperator
		ev.Operator = &OperatorPayload{
			InputShapes: argShapes(args),
			InputTypes:  argStrings(args, "Input type"),
			CallStack:   argString(args, "Call stack"),
			ExternalID:  argInt(args, "External id"),
		}
	case "runtime", "cuda_runtime", "cuda_driver":
		ev.Kind = KindRuntime
		ev.Runtime = &RuntimePayload{
			Correlation: argInt(args, "correlation"),
			ExternalID:  argInt(args, "external id"),
		}
	case "kernel":
		ev.Kind = KindKernel
		ev.Device = devicePayload(args)
	case "memcpy", "gpu_memcpy":
		ev.Kind = KindMemcpy
		ev.Device = devicePayload(args)
	case "memset", "gpu_memset":
		ev.Kind = KindMemset
		ev.Device = devicePayload(args)
	case "python", "python_function":
		ev.Kind = KindPython
	default:
		return Event{}, false
	}
	return ev, true
}

func devicePayload(args map[string]any) *DevicePayload {
	d := &DevicePayload{
		Device:             argInt(args, "device"),
		Stream:             argInt(args, "stream"),
		Correlation:        argInt(args, "correlation"),
		ExternalID:         argInt(args, "external id"),
		RegistersPerThread: argInt(args, "registers per thread"),
		SharedMemory:       argInt(args, "shared memory"),
		Bytes:              argInt(args, "bytes"),
		BlocksPerSM:        argFloatPtr(args, "blocks per SM"),
		Occupancy:          argFloatPtr(args, "est. achieved occupancy %"),
	}
	copy(d.Grid[:], argInts(args, "grid"))
	copy(d.Block[:], argInts(args, "block"))
	return d
}

func argShapes(args map[string]any) [][]int64 {
	v, ok := args["Input Dims"]
	if !ok {
		v, ok = args["Input dims"]
	}
	if !ok {
		return nil
	}
	outer, ok := v.([]any)
	if !ok {
		return nil
	}
	shapes := make([][]int64, 0, len(outer))
	for _, inner := range outer {
		dims, _ := inner.([]any)
		shape := make([]int64, 0, len(dims))
		for _, d := range dims {
			n, _ := toInt(d)
			shape = append(shape, n)
		}
		shapes = append(shapes, shape)
	}
	return shapes
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argStrings(args map[string]any, key string) []string {
	list, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, _ := v.(string)
		out = append(out, s)
	}
	return out
}

func argInt(args map[string]any, key string) int64 {
	n, _ := toInt(args[key])
	return n
}

func argInts(args map[string]any, key string) []int64 {
	list, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(list))
	for _, v := range list {
		n, _ := toInt(v)
		out = append(out, n)
	}
	return out
}

func argFloatPtr(args map[string]any, key string) *float64 {
	f, ok := toFloat(args[key])
	if !ok {
		return nil
	}
	return &f
}

// toFloat accepts JSON numbers (float64 or json.Number) and numeric strings.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	f, ok := toFloat(v)
	return int64(f), ok
}

// idString normalises pid/tid, which exporters write as numbers or strings.
func idString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	}
	return ""
}
