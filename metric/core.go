package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains platform-level metrics shared by all components.
// Domain-specific metrics (queue depth, connected clients, notification
// counters) live with the components that own them and are registered
// through the MetricsRegistry.
type Metrics struct {
	ServiceStatus *prometheus.GaugeVec
	ErrorsTotal   *prometheus.CounterVec

	// Bus metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter

	// Storage metrics
	DatabaseHealthy prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamd",
				Subsystem: "service",
				Name:      "status",
				Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"service"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamd",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streamd",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "Whether the NATS connection is established (0 or 1)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamd",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		DatabaseHealthy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streamd",
				Subsystem: "database",
				Name:      "healthy",
				Help:      "Whether the database connection pool is healthy (0 or 1)",
			},
		),
	}
}
