package streamer

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hypothesis/h-sub005/metric"
)

// streamerMetrics holds the core's Prometheus collectors. A nil receiver
// is a no-op, so every call site stays unconditional when no registry is
// configured.
type streamerMetrics struct {
	clientsConnected  prometheus.Gauge
	queueDepth        prometheus.Gauge
	messagesReceived  *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
	notificationsSent prometheus.Counter
	handlerFailures   prometheus.Counter

	// Shared platform counter, registered by the metrics registry.
	errorsTotal *prometheus.CounterVec
}

func newStreamerMetrics(registry *metric.MetricsRegistry) *streamerMetrics {
	if registry == nil {
		return nil
	}

	m := &streamerMetrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamd",
			Subsystem: "streamer",
			Name:      "clients_connected",
			Help:      "Currently connected websocket clients",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamd",
			Subsystem: "streamer",
			Name:      "queue_depth",
			Help:      "Current work queue depth",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamd",
			Subsystem: "streamer",
			Name:      "messages_received_total",
			Help:      "Messages accepted onto the work queue",
		}, []string{"source"}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamd",
			Subsystem: "streamer",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped because the work queue was full",
		}, []string{"source"}),
		notificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamd",
			Subsystem: "streamer",
			Name:      "notifications_sent_total",
			Help:      "Notifications delivered to clients",
		}),
		handlerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamd",
			Subsystem: "streamer",
			Name:      "handler_failures_total",
			Help:      "Dispatched messages whose handling failed",
		}),
		errorsTotal: registry.CoreMetrics().ErrorsTotal,
	}

	registry.PrometheusRegistry().MustRegister(
		m.clientsConnected,
		m.queueDepth,
		m.messagesReceived,
		m.messagesDropped,
		m.notificationsSent,
		m.handlerFailures,
	)

	return m
}

func (m *streamerMetrics) receivedMessage(source string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(source).Inc()
}

func (m *streamerMetrics) droppedMessage(source string) {
	if m == nil {
		return
	}
	m.messagesDropped.WithLabelValues(source).Inc()
}

func (m *streamerMetrics) sentNotification() {
	if m == nil {
		return
	}
	m.notificationsSent.Inc()
}

func (m *streamerMetrics) handlerFailure(class string) {
	if m == nil {
		return
	}
	m.handlerFailures.Inc()
	m.errorsTotal.WithLabelValues("streamer", class).Inc()
}

func (m *streamerMetrics) sample(connections, depth int) {
	if m == nil {
		return
	}
	m.clientsConnected.Set(float64(connections))
	m.queueDepth.Set(float64(depth))
}

// sampleLoop periodically records connection count and queue depth.
// Read-only with respect to the core's state.
func (s *Streamer) sampleLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.metrics.sample(s.registry.Len(), s.queue.Len())
		}
	}
}
