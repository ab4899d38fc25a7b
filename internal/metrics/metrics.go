// Package metrics holds the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mesh_relay"

// Drop reasons for inbound signaling frames.
const (
	DropReasonRateLimited = "rate_limited"
	DropReasonMalformed   = "malformed"
	DropReasonNotJoined   = "not_joined"
	DropReasonUnknownPeer = "unknown_peer"
	DropReasonRoomFull    = "room_full"
	DropReasonSendQueue   = "send_queue_full"
)

// Metrics owns a private registry so tests and multiple servers in one
// process never collide.
type Metrics struct {
	registry *prometheus.Registry

	Rooms        prometheus.Gauge
	Participants prometheus.Gauge
	Messages     *prometheus.CounterVec
	Drops        *prometheus.CounterVec
	AuthFailures *prometheus.CounterVec
	Connections  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one participant.",
		}),
		Participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants",
			Help:      "Joined participants across all rooms.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound signaling frames accepted, by type.",
		}, []string{"type"}),
		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drops_total",
			Help:      "Inbound signaling frames rejected, by reason.",
		}, []string{"reason"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected signaling connections, by reason.",
		}, []string{"reason"}),
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted signaling WebSocket connections.",
		}),
	}
	m.registry.MustRegister(
		m.Rooms,
		m.Participants,
		m.Messages,
		m.Drops,
		m.AuthFailures,
		m.Connections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Message(msgType string) {
	m.Messages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) Drop(reason string) {
	m.Drops.WithLabelValues(reason).Inc()
}

func (m *Metrics) AuthFailure(reason string) {
	m.AuthFailures.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
