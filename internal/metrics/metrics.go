// Package metrics exposes the service's operational counters. Each Metrics
// value owns its own registry so tests can run isolated instances.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label values for JoinDenials.
const (
	DenialNotEntitled = "denied"
	DenialLookupError = "lookup_error"
)

// Label values for BridgeEvents.
const (
	BridgeAccepted     = "accepted"
	BridgeUnauthorized = "unauthorized"
	BridgeRejected     = "rejected"
)

type Metrics struct {
	registry *prometheus.Registry

	ActiveConnections prometheus.Gauge
	OnlineUsers       prometheus.Gauge
	EventsBroadcast   *prometheus.CounterVec
	JoinDenials       *prometheus.CounterVec
	BridgeEvents      *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_active_connections",
			Help: "Number of currently open socket connections.",
		}),
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_online_users",
			Help: "Number of distinct users with at least one open connection.",
		}),
		EventsBroadcast: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_broadcast_total",
			Help: "Domain events fanned out, by event type.",
		}, []string{"type"}),
		JoinDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_room_join_denials_total",
			Help: "Denied room joins, split by entitlement denials and backend lookup errors.",
		}, []string{"outcome"}),
		BridgeEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_bridge_events_total",
			Help: "Events submitted through the HTTP bridge, by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
