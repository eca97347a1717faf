// Package metrics provides Prometheus instrumentation for the forum chat
// server: connection gauges, broadcast throughput, and delivery-failure
// counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connections tracks the current number of live WebSocket sessions.
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "forum_connections",
		Help: "Current number of live WebSocket sessions",
	})

	// EventsBroadcast counts fan-out invocations, labeled by event type.
	EventsBroadcast = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forum_events_broadcast_total",
		Help: "Total number of events fanned out to sessions",
	}, []string{"type"})

	// SendsDropped counts frames dropped because a session's outbound
	// queue was full or its transport had failed.
	SendsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "forum_sends_dropped_total",
		Help: "Total number of outbound frames dropped on slow or dead sessions",
	})

	// HeartbeatEvictions counts sessions terminated by the liveness sweep.
	HeartbeatEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "forum_heartbeat_evictions_total",
		Help: "Total number of sessions evicted for missing a heartbeat",
	})

	// Messages counts message writes, labeled by action: "created",
	// "updated", or "deleted".
	Messages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forum_messages_total",
		Help: "Total number of message writes",
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(
		Connections,
		EventsBroadcast,
		SendsDropped,
		HeartbeatEvictions,
		Messages,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
