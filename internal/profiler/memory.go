package profiler

import (
	"sort"

	"torchprof/internal/trace"
)

// HostDevice is the allocator device id of host memory.
const HostDevice int64 = -1

// MemoryStat summarises allocator activity on one device.
type MemoryStat struct {
	Device         int64 `json:"device"`
	Allocations    int   `json:"allocations"`
	Frees          int   `json:"frees"`
	AllocatedBytes int64 `json:"allocated_bytes"`
	FreedBytes     int64 `json:"freed_bytes"`
	PeakAllocated  int64 `json:"peak_allocated_bytes"`
}

// aggregateMemory folds allocator events into per-device stats sorted by
// device id. Positive sizes are allocations, negative sizes are frees.
func aggregateMemory(events []trace.Event) []MemoryStat {
	byDevice := make(map[int64]*MemoryStat)
	for i := range events {
		m := events[i].Memory
		if events[i].Kind != trace.KindMemory || m == nil {
			continue
		}
		st, ok := byDevice[m.Device]
		if !ok {
			st = &MemoryStat{Device: m.Device}
			byDevice[m.Device] = st
		}
		switch {
		case m.Bytes > 0:
			st.Allocations++
			st.AllocatedBytes += m.Bytes
		case m.Bytes < 0:
			st.Frees++
			st.FreedBytes -= m.Bytes
		}
		st.PeakAllocated = max(st.PeakAllocated, m.TotalAllocated)
	}

	stats := make([]MemoryStat, 0, len(byDevice))
	for _, st := range byDevice {
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Device < stats[j].Device })
	return stats
}
