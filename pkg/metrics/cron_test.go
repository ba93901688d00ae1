package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.ObserveDuration("deadline-scan", 250*time.Millisecond)
	m.IncSuccess("deadline-scan")
	m.IncFailure("")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(t, mfs, "dispatch_job_success_total", map[string]string{"job": "deadline-scan"}))
	assert.Equal(t, 1.0, counterValue(t, mfs, "dispatch_job_failure_total", map[string]string{"job": "unknown"}))

	metric := findMetric(t, mfs, "dispatch_job_duration_seconds", map[string]string{"job": "deadline-scan"})
	assert.InDelta(t, 0.25, metric.GetHistogram().GetSampleSum(), 0.001)
}

func TestFanoutMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFanoutMetrics(reg)
	m.IncDelivered("recipient")
	m.IncDelivered("recipient")
	m.IncDropped("entity")
	m.IncResync("overflow")
	m.IncAlert("sent")
	m.SetSubscribers(3)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	assert.Equal(t, 2.0, counterValue(t, mfs, "dispatch_fanout_delivered_total", map[string]string{"topic": "recipient"}))
	assert.Equal(t, 1.0, counterValue(t, mfs, "dispatch_fanout_dropped_total", map[string]string{"topic": "entity"}))
	assert.Equal(t, 1.0, counterValue(t, mfs, "dispatch_fanout_resync_total", map[string]string{"reason": "overflow"}))
	assert.Equal(t, 1.0, counterValue(t, mfs, "dispatch_fanout_alerts_total", map[string]string{"outcome": "sent"}))
	assert.Equal(t, 3.0, findMetric(t, mfs, "dispatch_fanout_subscribers", nil).GetGauge().GetValue())
}

func TestDeadlineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDeadlineMetrics(reg)
	m.Inc("job", DeadlineEmitted)
	m.Inc("job", DeadlineSuppressed)
	m.Inc("job_task", DeadlineSkipped)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(t, mfs, "dispatch_deadlines_alerts_total", map[string]string{"entity_type": "job", "outcome": "emitted"}))
	assert.Equal(t, 1.0, counterValue(t, mfs, "dispatch_deadlines_alerts_total", map[string]string{"entity_type": "job_task", "outcome": "skipped"}))
}

func TestNilRecordersAreNoops(t *testing.T) {
	var cron *CronJobMetrics
	var fan *FanoutMetrics
	var dl *DeadlineMetrics
	assert.NotPanics(t, func() {
		cron.IncSuccess("x")
		fan.IncDelivered("x")
		fan.SetSubscribers(1)
		dl.Inc("job", DeadlineEmitted)
		NewFanoutMetrics(nil).IncDropped("x")
	})
}

func counterValue(t *testing.T, mfs []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	return findMetric(t, mfs, name, labels).GetCounter().GetValue()
}

func findMetric(t *testing.T, mfs []*dto.MetricFamily, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if matchesLabels(metric.GetLabel(), labels) {
				return metric
			}
		}
	}
	t.Fatalf("metric %q with labels %v not found", name, labels)
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
