package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPipelineCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := New(reg)

	p.EventsDecoded("strict", 10)
	p.EventsDecoded("repaired", 3)
	p.Repaired()
	p.RunFinished("ok")
	p.RunFinished("ok")
	p.Warning("unknown_element_type")
	p.ObservePass("step", time.Now())

	assert.Equal(t, 10.0, testutil.ToFloat64(p.eventsDecoded.WithLabelValues("strict")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.eventsDecoded.WithLabelValues("repaired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.repairs))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.runs.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.warnings.WithLabelValues("unknown_element_type")))
	assert.Equal(t, 1, testutil.CollectAndCount(p.passDuration))
}

func TestNilPipelineIsNoop(t *testing.T) {
	var p *Pipeline
	assert.NotPanics(t, func() {
		p.EventsDecoded("strict", 1)
		p.Repaired()
		p.ObservePass("node", time.Now())
		p.RunFinished("error")
		p.Warning("x")
	})
}
