package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Emitted     prometheus.Counter
	Dropped     prometheus.Counter
	Failures    prometheus.Counter
	BreakerOpen prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Emitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "iinportal_audit_events_emitted_total",
			Help: "Total number of audit events delivered to the sink",
		}),
		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "iinportal_audit_events_dropped_total",
			Help: "Total number of audit events dropped (buffer full or circuit open)",
		}),
		Failures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "iinportal_audit_sink_failures_total",
			Help: "Total number of failed audit sink writes",
		}),
		BreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "iinportal_audit_sink_circuit_open",
			Help: "Audit sink circuit breaker state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) incEmitted() {
	if m != nil {
		m.Emitted.Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *Metrics) incFailures() {
	if m != nil {
		m.Failures.Inc()
	}
}

func (m *Metrics) setBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
	} else {
		m.BreakerOpen.Set(0)
	}
}
