// Package metrics holds the Prometheus collectors of the inbox.
//
// Metrics:
//   - inbox_activities_received_total{platform,event_type}
//   - inbox_activities_duplicate_total{platform}
//   - inbox_trigger_matches_total{platform}
//   - inbox_executions_total{status}
//   - inbox_execution_duration_seconds
//   - inbox_dispatch_duration_seconds{platform}
//   - inbox_executions_reaped_total
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ActivitiesReceived  *prometheus.CounterVec
	DuplicateDeliveries *prometheus.CounterVec
	TriggerMatches      *prometheus.CounterVec
	Executions          *prometheus.CounterVec
	ExecutionDuration   prometheus.Histogram
	DispatchDuration    *prometheus.HistogramVec
	ExecutionsReaped    prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActivitiesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inbox_activities_received_total",
				Help: "Activities stored per platform and event type",
			},
			[]string{"platform", "event_type"},
		),
		DuplicateDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inbox_activities_duplicate_total",
				Help: "Webhook redeliveries recognised as already stored",
			},
			[]string{"platform"},
		),
		TriggerMatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inbox_trigger_matches_total",
				Help: "Triggers whose conditions matched an activity",
			},
			[]string{"platform"},
		),
		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inbox_executions_total",
				Help: "Executions that reached a terminal status",
			},
			[]string{"status"},
		),
		ExecutionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "inbox_execution_duration_seconds",
				Help:    "Wall-clock duration of agent actions",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
			},
		),
		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inbox_dispatch_duration_seconds",
				Help:    "Time to evaluate and run every trigger for one activity",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"platform"},
		),
		ExecutionsReaped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "inbox_executions_reaped_total",
				Help: "Abandoned executions closed by the reaper",
			},
		),
	}
}

func (m *Metrics) RecordActivity(platform, eventType string, duplicate bool) {
	if m == nil {
		return
	}

	if duplicate {
		m.DuplicateDeliveries.WithLabelValues(platform).Inc()

		return
	}

	m.ActivitiesReceived.WithLabelValues(platform, eventType).Inc()
}

func (m *Metrics) RecordMatch(platform string) {
	if m == nil {
		return
	}

	m.TriggerMatches.WithLabelValues(platform).Inc()
}

func (m *Metrics) RecordExecution(status string, duration time.Duration) {
	if m == nil {
		return
	}

	m.Executions.WithLabelValues(status).Inc()
	m.ExecutionDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordDispatch(platform string, duration time.Duration) {
	if m == nil {
		return
	}

	m.DispatchDuration.WithLabelValues(platform).Observe(duration.Seconds())
}

func (m *Metrics) RecordReaped(count int) {
	if m == nil || count <= 0 {
		return
	}

	m.ExecutionsReaped.Add(float64(count))
}
