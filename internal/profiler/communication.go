package profiler

import (
	"fmt"

	"go.uber.org/zap"
)

// WarningKind names a class of non-fatal analysis problems.
type WarningKind string

// WarningUnknownElementType is raised when a communication input declares an
// element type missing from the byte-width table.
const WarningUnknownElementType WarningKind = "unknown_element_type"

// Warning is a non-fatal diagnostic collected while analysing a run.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

// StepCommStat is the communication time accumulated in one step.
type StepCommStat struct {
	TotalTime float64 `json:"total_time_us"`
	RealTime  float64 `json:"real_time_us"`
}

// CommOpStat is the accumulated cost of one communication operator.
type CommOpStat struct {
	Calls     int     `json:"calls"`
	Bytes     int64   `json:"bytes"`
	TotalTime float64 `json:"total_time_us"`
	RealTime  float64 `json:"real_time_us"`
}

// CommunicationParse accumulates the communication node list into
// StepCommStats and TotalCommStats. Nodes outside every step only count
// towards TotalCommStats. Unknown element types add zero bytes and a warning.
func (p *RunProfileData) CommunicationParse() {
	if p.StepCommStats == nil {
		p.StepCommStats = make(map[string]*StepCommStat)
	}
	if p.TotalCommStats == nil {
		p.TotalCommStats = make(map[string]*CommOpStat)
	}

	for _, node := range p.CommNodeList {
		if node.StepName != "" {
			step, ok := p.StepCommStats[node.StepName]
			if !ok {
				step = &StepCommStat{}
				p.StepCommStats[node.StepName] = step
			}
			step.TotalTime += node.TotalTime
			step.RealTime += node.RealTime
		}

		op, ok := p.TotalCommStats[node.Name]
		if !ok {
			op = &CommOpStat{}
			p.TotalCommStats[node.Name] = op
		}
		op.Calls++
		op.Bytes += p.commBytes(node)
		op.TotalTime += node.TotalTime
		op.RealTime += node.RealTime
	}
}

// commBytes estimates the payload of a node: per input, the product of its
// dimensions times the byte width of its element type.
func (p *RunProfileData) commBytes(node *CommNode) int64 {
	widths := p.opts.Config.Classification.ElementBytes

	var total int64
	for i, shape := range node.InputShapes {
		var typ string
		if i < len(node.InputTypes) {
			typ = node.InputTypes[i]
		}
		width, ok := widths[typ]
		if !ok {
			p.warn(WarningUnknownElementType,
				fmt.Sprintf("found an unknown tensor type %q in %s", typ, node.Name),
				zap.String("type", typ), zap.String("op", node.Name))
			continue
		}
		size := int64(1)
		for _, d := range shape {
			size *= d
		}
		total += size * width
	}
	return total
}

func (p *RunProfileData) warn(kind WarningKind, msg string, fields ...zap.Field) {
	p.Warnings = append(p.Warnings, Warning{Kind: kind, Message: msg})
	p.opts.Metrics.Warning(string(kind))
	p.logger().Warn(msg, append(fields, zap.String("worker", p.Worker))...)
}
