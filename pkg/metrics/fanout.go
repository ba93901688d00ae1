package metrics

import "github.com/prometheus/client_golang/prometheus"

// FanoutMetrics counts realtime deliveries per topic kind.
type FanoutMetrics struct {
	delivered   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	resyncs     *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	subscribers prometheus.Gauge
}

// NewFanoutMetrics registers the fanout metrics on reg. A nil reg yields a no-op recorder.
func NewFanoutMetrics(reg prometheus.Registerer) *FanoutMetrics {
	if reg == nil {
		return &FanoutMetrics{}
	}
	m := &FanoutMetrics{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "delivered_total",
			Help:      "Activity records handed to a live subscriber.",
		}, []string{"topic"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "dropped_total",
			Help:      "Activity records dropped because a subscriber buffer was full.",
		}, []string{"topic"}),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "resync_total",
			Help:      "Resync signals sent to subscribers.",
		}, []string{"reason"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "alerts_total",
			Help:      "Push alert dispatch outcomes.",
		}, []string{"outcome"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "subscribers",
			Help:      "Currently registered bus subscribers.",
		}),
	}
	reg.MustRegister(m.delivered, m.dropped, m.resyncs, m.alerts, m.subscribers)
	return m
}

// IncDelivered counts one delivery on topic.
func (m *FanoutMetrics) IncDelivered(topic string) {
	if m == nil || m.delivered == nil {
		return
	}
	m.delivered.WithLabelValues(normalizeLabel(topic)).Inc()
}

// IncDropped counts one dropped delivery on topic.
func (m *FanoutMetrics) IncDropped(topic string) {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.WithLabelValues(normalizeLabel(topic)).Inc()
}

// IncResync counts one resync signal.
func (m *FanoutMetrics) IncResync(reason string) {
	if m == nil || m.resyncs == nil {
		return
	}
	m.resyncs.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncAlert counts one push alert outcome (sent, skipped, failed).
func (m *FanoutMetrics) IncAlert(outcome string) {
	if m == nil || m.alerts == nil {
		return
	}
	m.alerts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// SetSubscribers reports the current subscriber count.
func (m *FanoutMetrics) SetSubscribers(n int) {
	if m == nil || m.subscribers == nil {
		return
	}
	m.subscribers.Set(float64(n))
}
