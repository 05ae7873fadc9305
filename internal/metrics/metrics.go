// Package metrics exposes Prometheus instrumentation for writes, reads and
// subscriptions. All methods are safe on a nil *Metrics, which records
// nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mestor"

// Metrics holds the store's collectors.
type Metrics struct {
	MessagesWritten   *prometheus.CounterVec
	VersionConflicts  *prometheus.CounterVec
	WriteDuration     prometheus.Histogram
	MessagesRead      *prometheus.CounterVec
	MessagesHandled   *prometheus.CounterVec
	Checkpoints       *prometheus.CounterVec
	SubscriptionState *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		MessagesWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "writer",
				Name:      "messages_total",
				Help:      "Total number of messages written",
			},
			[]string{"category"},
		),

		VersionConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "writer",
				Name:      "version_conflicts_total",
				Help:      "Total number of writes rejected by the expected version check",
			},
			[]string{"category"},
		),

		WriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "writer",
				Name:      "duration_seconds",
				Help:      "Write duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		MessagesRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reader",
				Name:      "messages_total",
				Help:      "Total number of messages returned by reads",
			},
			[]string{"category"},
		),

		MessagesHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "subscription",
				Name:      "messages_handled_total",
				Help:      "Total number of messages dispatched to subscription handlers",
			},
			[]string{"subscriber", "status"},
		),

		Checkpoints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "subscription",
				Name:      "checkpoints_total",
				Help:      "Total number of checkpoints written",
			},
			[]string{"subscriber"},
		),

		SubscriptionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "subscription",
				Name:      "state",
				Help:      "Subscription state (0=stopped, 1=polling)",
			},
			[]string{"subscriber"},
		),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesWritten,
		m.VersionConflicts,
		m.WriteDuration,
		m.MessagesRead,
		m.MessagesHandled,
		m.Checkpoints,
		m.SubscriptionState,
	}
}

// ObserveWrite records a successful write.
func (m *Metrics) ObserveWrite(category string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.MessagesWritten.WithLabelValues(category).Inc()
	m.WriteDuration.Observe(elapsed.Seconds())
}

// ObserveVersionConflict records a rejected write.
func (m *Metrics) ObserveVersionConflict(category string) {
	if m == nil {
		return
	}
	m.VersionConflicts.WithLabelValues(category).Inc()
}

// ObserveRead records the number of messages a read returned.
func (m *Metrics) ObserveRead(category string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.MessagesRead.WithLabelValues(category).Add(float64(n))
}

// ObserveHandled records one handler dispatch. ok is false when the
// handler failed.
func (m *Metrics) ObserveHandled(subscriber string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.MessagesHandled.WithLabelValues(subscriber, status).Inc()
}

// ObserveCheckpoint records a persisted checkpoint.
func (m *Metrics) ObserveCheckpoint(subscriber string) {
	if m == nil {
		return
	}
	m.Checkpoints.WithLabelValues(subscriber).Inc()
}

// SetPolling reports whether a subscription is polling.
func (m *Metrics) SetPolling(subscriber string, polling bool) {
	if m == nil {
		return
	}
	v := 0.0
	if polling {
		v = 1
	}
	m.SubscriptionState.WithLabelValues(subscriber).Set(v)
}
