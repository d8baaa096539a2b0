// Package metrics holds the prometheus collectors of the realtime service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_sessions",
			Help: "Number of non-empty sessions per registry",
		},
		[]string{"registry"},
	)

	LiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Number of registered connections per registry",
		},
		[]string{"registry"},
	)

	FramesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_frames_delivered_total",
			Help: "Frames enqueued to receivers, by router and delivery scope",
		},
		[]string{"router", "scope"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_frames_dropped_total",
			Help: "Frames not delivered, by router and reason",
		},
		[]string{"router", "reason"},
	)

	CallTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_call_transitions_total",
			Help: "Call lifecycle transitions",
		},
		[]string{"transition"},
	)

	PersistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_persistence_errors_total",
			Help: "Failed writes to the call store, by operation",
		},
		[]string{"op"},
	)
)

// Drop reasons.
const (
	ReasonMalformed    = "malformed"
	ReasonBackpressure = "backpressure"
	ReasonClosed       = "closed"
)
