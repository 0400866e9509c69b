package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commandBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics provides observability for the application lifecycle module.
type Metrics struct {
	Submitted         *prometheus.CounterVec
	Transitions       *prometheus.CounterVec
	GuardViolations   *prometheus.CounterVec
	DocumentsAttached *prometheus.CounterVec
	StorageFaults     *prometheus.CounterVec
	CommandDuration   *prometheus.HistogramVec
}

// New registers the lifecycle metrics with the default registry. Call once
// per process.
func New() *Metrics {
	return &Metrics{
		Submitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "iinportal_applications_submitted_total",
			Help: "Applications submitted, by kind",
		}, []string{"kind"}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "iinportal_status_transitions_total",
			Help: "Committed status transitions, by kind and target status",
		}, []string{"kind", "from", "to"}),
		GuardViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "iinportal_guard_violations_total",
			Help: "Commands refused by a lifecycle guard",
		}, []string{"operation"}),
		DocumentsAttached: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "iinportal_documents_attached_total",
			Help: "Files stored into document slots",
		}, []string{"slot"}),
		StorageFaults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "iinportal_storage_faults_total",
			Help: "Commands aborted by a store or blob failure",
		}, []string{"operation"}),
		CommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "iinportal_command_duration_seconds",
			Help:    "Duration of lifecycle commands",
			Buckets: commandBuckets,
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementSubmitted(kind string) {
	m.Submitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementTransition(kind, from, to string) {
	m.Transitions.WithLabelValues(kind, from, to).Inc()
}

func (m *Metrics) IncrementGuardViolation(operation string) {
	m.GuardViolations.WithLabelValues(operation).Inc()
}

func (m *Metrics) AddDocumentsAttached(slot string, n int) {
	m.DocumentsAttached.WithLabelValues(slot).Add(float64(n))
}

func (m *Metrics) IncrementStorageFault(operation string) {
	m.StorageFaults.WithLabelValues(operation).Inc()
}

// ObserveCommand records the duration of a command.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveCommand(operation string, start time.Time) {
	m.CommandDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
