package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the survey gate.
type Metrics struct {
	Checks       *prometheus.CounterVec
	Completions  *prometheus.CounterVec
	Downloads    *prometheus.CounterVec
	BreakerState prometheus.Gauge
}

// New registers the survey metrics with the default registry. Call once per
// process.
func New() *Metrics {
	return &Metrics{
		Checks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "iinportal_survey_checks_total",
			Help: "Survey completion checks, by result (completed, pending, degraded)",
		}, []string{"result"}),
		Completions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "iinportal_survey_completions_recorded_total",
			Help: "Survey completion recordings, by outcome (created, duplicate)",
		}, []string{"outcome"}),
		Downloads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "iinportal_survey_downloads_total",
			Help: "Gated certificate downloads, by what opened the gate (completion, dwell)",
		}, []string{"via"}),
		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "iinportal_survey_breaker_open",
			Help: "1 while the completion store circuit breaker is open",
		}),
	}
}

func (m *Metrics) IncrementCheck(result string) {
	m.Checks.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementCompletion(outcome string) {
	m.Completions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementDownload(via string) {
	m.Downloads.WithLabelValues(via).Inc()
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.BreakerState.Set(1)
		return
	}
	m.BreakerState.Set(0)
}
