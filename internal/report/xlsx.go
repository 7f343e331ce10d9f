package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"torchprof/internal/profiler"
)

const (
	sheetOverview      = "Overview"
	sheetOperators     = "Operators"
	sheetKernels       = "Kernels"
	sheetCommunication = "Communication"
	sheetMemory        = "Memory"
)

// Heatmap cutoffs for a role's share of the step.
const (
	hotShare  = 0.30
	warmShare = 0.10
)

type workbookStyles struct {
	header int
	hot    int
	warm   int
	cool   int
	tc     int
}

func newWorkbookStyles(f *excelize.File) (*workbookStyles, error) {
	var s workbookStyles
	var err error
	if s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	}); err != nil {
		return nil, err
	}
	if s.hot, err = f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FF0000"}, Pattern: 1},
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
	}); err != nil {
		return nil, err
	}
	if s.warm, err = f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFC000"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	}); err != nil {
		return nil, err
	}
	if s.cool, err = f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
	}); err != nil {
		return nil, err
	}
	if s.tc, err = f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	}); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *workbookStyles) share(ratio float64) int {
	switch {
	case ratio >= hotShare:
		return s.hot
	case ratio >= warmShare:
		return s.warm
	default:
		return s.cool
	}
}

// WriteXLSX writes every run into a workbook with Overview, Operators,
// Kernels, Communication and Memory sheets. Role shares on the overview are heatmap
// colored.
func WriteXLSX(filename string, runs []*profiler.RunProfileData) error {
	f := excelize.NewFile()
	defer f.Close()

	styles, err := newWorkbookStyles(f)
	if err != nil {
		return fmt.Errorf("failed to create styles: %w", err)
	}

	for i, name := range []string{sheetOverview, sheetOperators, sheetKernels, sheetCommunication, sheetMemory} {
		index, err := f.NewSheet(name)
		if err != nil {
			return err
		}
		if i == 0 {
			f.SetActiveSheet(index)
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	writers := []func(*excelize.File, *workbookStyles, []*profiler.RunProfileData) error{
		writeOverviewSheet,
		writeOperatorSheet,
		writeKernelSheet,
		writeCommunicationSheet,
		writeMemorySheet,
	}
	for _, write := range writers {
		if err := write(f, styles, runs); err != nil {
			return err
		}
	}
	return f.SaveAs(filename)
}

func writeHeader(f *excelize.File, sheet string, style int, headers []string) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func finishSheet(f *excelize.File, sheet string, columns, lastRow int) error {
	if lastRow < 2 {
		return nil
	}
	last, err := excelize.CoordinatesToCellName(columns, lastRow)
	if err != nil {
		return err
	}
	return f.AutoFilter(sheet, "A1:"+last, nil)
}

func writeOverviewSheet(f *excelize.File, styles *workbookStyles, runs []*profiler.RunProfileData) error {
	headers := []string{"Worker", "Step", "Start (µs)", "End (µs)"}
	roles := profiler.Roles()
	for _, role := range roles {
		headers = append(headers, role.String()+" (µs)")
	}
	headers = append(headers, "Comm Overlap (µs)",
		"GPU Utilization", "SM Efficiency", "Occupancy (%)",
		"Node", "PID", "Rank", "World Size", "Backend")
	if err := writeHeader(f, sheetOverview, styles.header, headers); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetOverview, "A", "A", 30); err != nil {
		return err
	}

	row := 2
	for _, r := range runs {
		for i := range r.StepsCosts {
			c := &r.StepsCosts[i]
			var overlap float64
			if r.CommOverlapCosts != nil && i < len(r.CommOverlapCosts.Steps) {
				overlap = r.CommOverlapCosts.Steps[i]
			}
			if err := writeOverviewRow(f, styles, row, r, stepName(r, i), c, overlap); err != nil {
				return err
			}
			row++
		}
		if r.AvgCosts != nil && r.CommOverlapCosts != nil {
			var avgOverlap float64
			if n := len(r.CommOverlapCosts.Steps); n > 0 {
				avgOverlap = r.CommOverlapCosts.Total / float64(n)
			}
			if err := writeOverviewRow(f, styles, row, r, "average", r.AvgCosts, avgOverlap); err != nil {
				return err
			}
			row++
		}
	}
	return finishSheet(f, sheetOverview, len(headers), row-1)
}

func writeOverviewRow(f *excelize.File, styles *workbookStyles, row int, r *profiler.RunProfileData, step string, c *profiler.StepCost, overlap float64) error {
	values := []any{r.Worker, step, c.Start, c.End}
	for _, role := range profiler.Roles() {
		values = append(values, c.Cost(role))
	}
	values = append(values, overlap, r.GPUUtilization, r.SMEfficiency, r.Occupancy, r.Node, r.Pid)
	if d := r.DistInfo; d != nil {
		values = append(values, d.Rank, d.WorldSize, d.Backend)
	}
	if err := writeRow(f, sheetOverview, row, values); err != nil {
		return err
	}

	total := c.Cost(profiler.RoleTotal)
	if total <= 0 {
		return nil
	}
	for i, role := range profiler.Roles() {
		if role == profiler.RoleTotal {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(5+i, row)
		if err != nil {
			return err
		}
		style := styles.share(c.Cost(role) / total)
		if err := f.SetCellStyle(sheetOverview, cell, cell, style); err != nil {
			return err
		}
	}
	return nil
}

func writeOperatorSheet(f *excelize.File, styles *workbookStyles, runs []*profiler.RunProfileData) error {
	headers := []string{
		"Worker", "Operator", "Input Shapes", "Calls",
		"Host (µs)", "Self Host (µs)", "Device (µs)", "Self Device (µs)",
		"TC Eligible", "TC Self Ratio",
	}
	if err := writeHeader(f, sheetOperators, styles.header, headers); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetOperators, "B", "C", 40); err != nil {
		return err
	}

	row := 2
	for _, r := range runs {
		for _, op := range r.OpListGroupByNameInput {
			values := []any{
				r.Worker, op.Name, op.InputShapes, op.Calls,
				op.HostDuration, op.SelfHostDuration, op.DeviceDuration, op.SelfDeviceDuration,
				op.TCEligible, op.TCSelfRatio(),
			}
			if err := writeRow(f, sheetOperators, row, values); err != nil {
				return err
			}
			row++
		}
	}
	return finishSheet(f, sheetOperators, len(headers), row-1)
}

func writeKernelSheet(f *excelize.File, styles *workbookStyles, runs []*profiler.RunProfileData) error {
	headers := []string{
		"Worker", "Kernel", "Category", "Calls",
		"Total (µs)", "Mean (µs)", "Min (µs)", "Max (µs)", "P50 (µs)", "P90 (µs)",
		"TC Used", "Op TC Eligible", "Blocks per SM", "Occupancy (%)", "SM Efficiency",
	}
	if err := writeHeader(f, sheetKernels, styles.header, headers); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetKernels, "B", "B", 55); err != nil {
		return err
	}

	row := 2
	for _, r := range runs {
		for _, k := range r.KernelStat {
			values := []any{
				r.Worker, k.Name, CategorizeKernel(k.Name), k.Calls,
				k.TotalDuration, k.MeanDuration, k.MinDuration, k.MaxDuration, k.P50Duration, k.P90Duration,
				k.TCUsed, k.OpTCEligible, k.MeanBlocksPerSM, k.MeanOccupancy, k.MeanSMEfficiency,
			}
			if err := writeRow(f, sheetKernels, row, values); err != nil {
				return err
			}
			if k.TCUsed {
				start, _ := excelize.CoordinatesToCellName(1, row)
				end, _ := excelize.CoordinatesToCellName(len(headers), row)
				if err := f.SetCellStyle(sheetKernels, start, end, styles.tc); err != nil {
					return err
				}
			}
			row++
		}
	}
	return finishSheet(f, sheetKernels, len(headers), row-1)
}

func writeCommunicationSheet(f *excelize.File, styles *workbookStyles, runs []*profiler.RunProfileData) error {
	headers := []string{"Worker", "Operator", "Calls", "Bytes", "Total (µs)", "Real (µs)"}
	if err := writeHeader(f, sheetCommunication, styles.header, headers); err != nil {
		return err
	}

	row := 2
	for _, r := range runs {
		for _, name := range sortedKeys(r.TotalCommStats) {
			op := r.TotalCommStats[name]
			values := []any{r.Worker, name, op.Calls, op.Bytes, op.TotalTime, op.RealTime}
			if err := writeRow(f, sheetCommunication, row, values); err != nil {
				return err
			}
			row++
		}
	}
	return finishSheet(f, sheetCommunication, len(headers), row-1)
}

func writeMemorySheet(f *excelize.File, styles *workbookStyles, runs []*profiler.RunProfileData) error {
	headers := []string{
		"Worker", "Device", "Peak Allocated (B)",
		"Allocations", "Allocated (B)", "Frees", "Freed (B)",
	}
	if err := writeHeader(f, sheetMemory, styles.header, headers); err != nil {
		return err
	}

	row := 2
	for _, r := range runs {
		for _, m := range r.MemoryStats {
			values := []any{
				r.Worker, deviceLabel(m.Device), m.PeakAllocated,
				m.Allocations, m.AllocatedBytes, m.Frees, m.FreedBytes,
			}
			if err := writeRow(f, sheetMemory, row, values); err != nil {
				return err
			}
			row++
		}
	}
	return finishSheet(f, sheetMemory, len(headers), row-1)
}
