package metrics

import "github.com/prometheus/client_golang/prometheus"

// DeadlineMetrics counts deadline scan outcomes per entity.
type DeadlineMetrics struct {
	outcomes *prometheus.CounterVec
}

// Deadline scan outcomes.
const (
	DeadlineEmitted    = "emitted"
	DeadlineSuppressed = "suppressed"
	DeadlineSkipped    = "skipped"
	DeadlineFailed     = "failed"
)

// NewDeadlineMetrics registers the deadline scan counters on reg. A nil reg yields a no-op recorder.
func NewDeadlineMetrics(reg prometheus.Registerer) *DeadlineMetrics {
	if reg == nil {
		return &DeadlineMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "deadlines",
		Name:      "alerts_total",
		Help:      "Deadline scan outcomes per candidate entity.",
	}, []string{"entity_type", "outcome"})
	reg.MustRegister(outcomes)
	return &DeadlineMetrics{outcomes: outcomes}
}

// Inc counts one outcome for entityType.
func (m *DeadlineMetrics) Inc(entityType, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(entityType), normalizeLabel(outcome)).Inc()
}
