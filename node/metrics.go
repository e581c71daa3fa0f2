package node

import (
	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "reactor"

// Metrics holds the reactor collectors. Each Server owns its own set so that
// several servers, e.g. in tests, never collide on a registry.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsRejected *prometheus.CounterVec
	ConnectionsClosed   prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	TasksSubmitted      prometheus.Counter
	TasksDropped        prometheus.Counter
	TasksProcessed      prometheus.Counter
	QueueLength         prometheus.Gauge
	OwnershipViolations prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "connections_accepted_total",
			Help:      "Count of connections accepted and bound to a slot.",
		}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "connections_rejected_total",
			Help:      "Count of accepted connections closed immediately, by reason.",
		}, []string{"reason"}),
		ConnectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "connections_closed_total",
			Help:      "Count of slots deactivated.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "connections_active",
			Help:      "Number of live connections.",
		}),
		TasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "tasks_submitted_total",
			Help:      "Count of tasks accepted by the worker pool.",
		}),
		TasksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "tasks_dropped_total",
			Help:      "Count of tasks rejected because the work queue was full.",
		}),
		TasksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "tasks_processed_total",
			Help:      "Count of tasks processed by workers.",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "queue_length",
			Help:      "Number of tasks pending in the work queue.",
		}),
		OwnershipViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "ownership_violations_total",
			Help:      "Count of illegal slot state transitions.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnectionsAccepted,
			m.ConnectionsRejected,
			m.ConnectionsClosed,
			m.ConnectionsActive,
			m.TasksSubmitted,
			m.TasksDropped,
			m.TasksProcessed,
			m.QueueLength,
			m.OwnershipViolations,
		)
	}
	return m
}
