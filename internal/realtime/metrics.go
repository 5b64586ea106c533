package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use as a nil pointer; every method becomes a no-op.
type Metrics struct {
	connections prometheus.Gauge
	onlineUsers prometheus.Gauge
	events      *prometheus.CounterVec
	dropped     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "chat_ws_connections",
			Help: "Open websocket sessions.",
		}),
		onlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Users with at least one announced session.",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Inbound websocket events by type.",
		}, []string{"event"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_relay_dropped_total",
			Help: "Outbound events dropped because a session queue was full or closing.",
		}),
	}
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) setOnline(n int) {
	if m != nil {
		m.onlineUsers.Set(float64(n))
	}
}

func (m *Metrics) event(name string) {
	if m != nil {
		m.events.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) drop() {
	if m != nil {
		m.dropped.Inc()
	}
}
