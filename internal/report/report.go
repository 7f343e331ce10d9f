package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"torchprof/internal/profiler"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WriteSummary writes a human-readable overview of each run.
func WriteSummary(w io.Writer, runs []*profiler.RunProfileData) {
	for _, r := range runs {
		fmt.Fprintf(w, "\n=== Run Summary: %s ===\n", r.Worker)
		if r.Span != "" {
			fmt.Fprintf(w, "Span: %s\n", r.Span)
		}
		if r.Node != "" {
			fmt.Fprintf(w, "Node: %s | PID: %s\n", r.Node, r.Pid)
		}
		if d := r.DistInfo; d != nil {
			fmt.Fprintf(w, "Distributed: %s, rank %d of %d\n", d.Backend, d.Rank, d.WorldSize)
		}
		fmt.Fprintf(w, "Steps: %d\n", len(r.StepsNames))
		if r.AvgCosts != nil {
			total := r.AvgCosts.Cost(profiler.RoleTotal)
			fmt.Fprintf(w, "Average Step Time: %.2f µs (%.4f ms)\n", total, total/1000)
			for _, role := range profiler.Roles() {
				if role == profiler.RoleTotal {
					continue
				}
				cost := r.AvgCosts.Cost(role)
				fmt.Fprintf(w, "  %-20s: %10.2f µs (%5.1f%%)\n", role, cost, percent(cost, total))
			}
		}
		if r.CommOverlapCosts != nil && r.HasCommunication {
			fmt.Fprintf(w, "Comm/Compute Overlap: %.2f µs\n", r.CommOverlapCosts.Total)
		}
		if r.HasKernel {
			fmt.Fprintf(w, "GPU Utilization: %.2f%%\n", r.GPUUtilization*100)
			fmt.Fprintf(w, "Est. SM Efficiency: %.2f%%\n", r.SMEfficiency*100)
			fmt.Fprintf(w, "Est. Achieved Occupancy: %.2f%%\n", r.Occupancy)
		}
		fmt.Fprintf(w, "\n")

		if len(r.KernelStat) > 0 {
			fmt.Fprintf(w, "=== Top 10 Kernels by Total Duration ===\n")
			for i := 0; i < min(10, len(r.KernelStat)); i++ {
				k := r.KernelStat[i]
				fmt.Fprintf(w, "%2d. %s\n", i+1, truncateString(k.Name, 80))
				fmt.Fprintf(w, "          Calls: %d | Total: %.2f µs | Mean: %.2f | P50: %.2f | P90: %.2f\n",
					k.Calls, k.TotalDuration, k.MeanDuration, k.P50Duration, k.P90Duration)
			}
			fmt.Fprintf(w, "\n")
			writeKernelTypes(w, r.KernelStat)
		}

		if len(r.TotalCommStats) > 0 {
			fmt.Fprintf(w, "=== Communication ===\n")
			for _, name := range sortedKeys(r.TotalCommStats) {
				op := r.TotalCommStats[name]
				fmt.Fprintf(w, "  %-30s: %4d calls, %d bytes, total %.2f µs, real %.2f µs\n",
					truncateString(name, 30), op.Calls, op.Bytes, op.TotalTime, op.RealTime)
			}
			fmt.Fprintf(w, "\n")
		}

		if len(r.MemoryStats) > 0 {
			fmt.Fprintf(w, "=== Memory ===\n")
			for _, m := range r.MemoryStats {
				fmt.Fprintf(w, "  %-8s: peak %d bytes, %d allocs (%d bytes), %d frees (%d bytes)\n",
					deviceLabel(m.Device), m.PeakAllocated, m.Allocations, m.AllocatedBytes, m.Frees, m.FreedBytes)
			}
			fmt.Fprintf(w, "\n")
		}

		if len(r.Recommendations) > 0 {
			fmt.Fprintf(w, "=== Recommendations ===\n")
			for _, rec := range r.Recommendations {
				fmt.Fprintf(w, "- %s\n", rec)
			}
		}
	}
}

func writeKernelTypes(w io.Writer, kernels []profiler.KernelStat) {
	fmt.Fprintf(w, "=== Kernel Type Distribution ===\n")
	type typeInfo struct {
		name  string
		count int
		dur   float64
	}
	index := make(map[string]*typeInfo)
	var types []*typeInfo
	var total float64
	for _, k := range kernels {
		category := CategorizeKernel(k.Name)
		info, ok := index[category]
		if !ok {
			info = &typeInfo{name: category}
			index[category] = info
			types = append(types, info)
		}
		info.count++
		info.dur += k.TotalDuration
		total += k.TotalDuration
	}
	sort.SliceStable(types, func(i, j int) bool {
		return types[i].dur > types[j].dur
	})
	for _, t := range types {
		fmt.Fprintf(w, "  %-20s: %4d kernels, %.2f µs (%.1f%%)\n", t.name, t.count, t.dur, percent(t.dur, total))
	}
	fmt.Fprintf(w, "\n")
}

var kernelCategories = []struct {
	substr   string
	category string
}{
	{"nccl", "Communication"},
	{"gemm", "GEMM/BLAS"},
	{"cutlass", "GEMM/BLAS"},
	{"conv", "Convolution"},
	{"fmha", "FlashAttention"},
	{"flash", "FlashAttention"},
	{"attention", "Attention"},
	{"triton_", "Triton"},
	{"elementwise", "Elementwise"},
	{"reduce", "Reduce"},
	{"norm", "Normalization"},
	{"softmax", "Softmax"},
	{"embedding", "Embedding"},
	{"memcpy", "Memory"},
	{"copy", "Memory"},
	{"fill", "Memory"},
	{"transpose", "Memory"},
}

// CategorizeKernel buckets a kernel by well-known substrings of its name.
func CategorizeKernel(name string) string {
	lower := strings.ToLower(name)
	for _, p := range kernelCategories {
		if strings.Contains(lower, p.substr) {
			return p.category
		}
	}
	return "Other"
}

// WriteKernelCSV writes the kernel table of every run, one row per kernel.
func WriteKernelCSV(w io.Writer, runs []*profiler.RunProfileData) error {
	writer := csv.NewWriter(w)
	headers := []string{
		"worker", "kernel_name", "category", "calls",
		"total_duration_us", "mean_duration_us", "min_duration_us", "max_duration_us",
		"p50_duration_us", "p90_duration_us",
		"tc_used", "op_tc_eligible", "mean_blocks_per_sm", "mean_occupancy_pct", "mean_sm_efficiency",
	}
	if err := writer.Write(headers); err != nil {
		return err
	}
	for _, r := range runs {
		for _, k := range r.KernelStat {
			row := []string{
				r.Worker,
				k.Name,
				CategorizeKernel(k.Name),
				strconv.Itoa(k.Calls),
				formatFloat(k.TotalDuration),
				formatFloat(k.MeanDuration),
				formatFloat(k.MinDuration),
				formatFloat(k.MaxDuration),
				formatFloat(k.P50Duration),
				formatFloat(k.P90Duration),
				strconv.FormatBool(k.TCUsed),
				strconv.FormatBool(k.OpTCEligible),
				fmt.Sprintf("%.4f", k.MeanBlocksPerSM),
				fmt.Sprintf("%.2f", k.MeanOccupancy),
				fmt.Sprintf("%.4f", k.MeanSMEfficiency),
			}
			if err := writer.Write(row); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteStepCSV writes one row per step and run with the exclusive role costs.
func WriteStepCSV(w io.Writer, runs []*profiler.RunProfileData) error {
	writer := csv.NewWriter(w)
	headers := []string{"worker", "step", "start_us", "end_us"}
	for _, role := range profiler.Roles() {
		headers = append(headers, roleKey(role)+"_us")
	}
	headers = append(headers, "comm_overlap_us")
	if err := writer.Write(headers); err != nil {
		return err
	}

	for _, r := range runs {
		for i, c := range r.StepsCosts {
			row := []string{r.Worker, stepName(r, i), formatFloat(c.Start), formatFloat(c.End)}
			for _, role := range profiler.Roles() {
				row = append(row, formatFloat(c.Cost(role)))
			}
			var overlap float64
			if r.CommOverlapCosts != nil && i < len(r.CommOverlapCosts.Steps) {
				overlap = r.CommOverlapCosts.Steps[i]
			}
			row = append(row, formatFloat(overlap))
			if err := writer.Write(row); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteJSON writes every run as an indented JSON array.
func WriteJSON(w io.Writer, runs []*profiler.RunProfileData) error {
	docs := make([]runDocument, 0, len(runs))
	for _, r := range runs {
		docs = append(docs, newRunDocument(r))
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(docs)
}

// WriteToFile writes runs to filename, choosing the format from its
// extension: .json, .csv (kernels), .xlsx, otherwise the text summary.
func WriteToFile(filename string, runs []*profiler.RunProfileData) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".xlsx" {
		return WriteXLSX(filename, runs)
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch ext {
	case ".json":
		err = WriteJSON(file, runs)
	case ".csv":
		err = WriteKernelCSV(file, runs)
	default:
		WriteSummary(file, runs)
	}
	if err != nil {
		return err
	}
	return file.Close()
}

func stepName(r *profiler.RunProfileData, i int) string {
	if i < len(r.StepsNames) {
		return r.StepsNames[i]
	}
	return strconv.Itoa(i)
}

// deviceLabel names an allocator device, e.g. "CPU" or "GPU 0".
func deviceLabel(device int64) string {
	if device == profiler.HostDevice {
		return "CPU"
	}
	return "GPU " + strconv.FormatInt(device, 10)
}

// roleKey is the snake_case column name of a role, e.g. "cpu_exec".
func roleKey(r profiler.Role) string {
	return strings.ReplaceAll(strings.ToLower(r.String()), " ", "_")
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.3f", v)
}

func percent(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return part / total * 100
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
