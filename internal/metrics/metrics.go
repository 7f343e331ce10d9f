package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline holds the collectors updated while runs are decoded and analysed.
// A nil *Pipeline is valid and records nothing.
type Pipeline struct {
	eventsDecoded *prometheus.CounterVec
	repairs       prometheus.Counter
	passDuration  *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	warnings      *prometheus.CounterVec
}

// New registers the pipeline collectors on reg.
func New(reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		eventsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "torchprof",
			Name:      "events_decoded_total",
			Help:      "Trace events decoded, by decoding stage.",
		}, []string{"stage"}),
		repairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "torchprof",
			Name:      "trace_repairs_total",
			Help:      "Traces that needed lenient decoding or textual repair.",
		}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "torchprof",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of each analysis pass.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"pass"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "torchprof",
			Name:      "runs_total",
			Help:      "Worker runs processed, by result.",
		}, []string{"result"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "torchprof",
			Name:      "warnings_total",
			Help:      "Non-fatal analysis warnings, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(p.eventsDecoded, p.repairs, p.passDuration, p.runs, p.warnings)
	return p
}

// EventsDecoded adds n events decoded at the given stage.
func (p *Pipeline) EventsDecoded(stage string, n int) {
	if p == nil {
		return
	}
	p.eventsDecoded.WithLabelValues(stage).Add(float64(n))
}

// Repaired counts one repaired trace.
func (p *Pipeline) Repaired() {
	if p == nil {
		return
	}
	p.repairs.Inc()
}

// ObservePass records how long a pass took since start.
func (p *Pipeline) ObservePass(pass string, start time.Time) {
	if p == nil {
		return
	}
	p.passDuration.WithLabelValues(pass).Observe(time.Since(start).Seconds())
}

// RunFinished counts a run by result ("ok" or "error").
func (p *Pipeline) RunFinished(result string) {
	if p == nil {
		return
	}
	p.runs.WithLabelValues(result).Inc()
}

// Warning counts one non-fatal warning.
func (p *Pipeline) Warning(kind string) {
	if p == nil {
		return
	}
	p.warnings.WithLabelValues(kind).Inc()
}
