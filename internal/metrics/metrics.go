// Package metrics provides Prometheus metrics for the cast bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels stay low cardinality: no client ids, no media URLs.

var (
	// EventsEmittedTotal counts bridge events by name.
	EventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castbridge_events_emitted_total",
		Help: "Total number of events emitted to the host bridge, by event name.",
	}, []string{"event"})

	// QueueRejectedTotal counts tasks the UI queue refused, by reason.
	QueueRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castbridge_queue_rejected_total",
		Help: "Total number of tasks rejected by the UI queue, by reason (full/closed).",
	}, []string{"reason"})

	// QueueTaskPanicsTotal counts recovered task panics.
	QueueTaskPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castbridge_queue_task_panics_total",
		Help: "Total number of recovered panics in UI queue tasks.",
	})

	// BridgeClients tracks currently connected bridge clients.
	BridgeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "castbridge_clients",
		Help: "Current number of connected bridge clients.",
	})

	// BridgeFramesDroppedTotal counts frames dropped for slow clients.
	BridgeFramesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castbridge_frames_dropped_total",
		Help: "Total number of frames dropped because a client send buffer was full.",
	})

	// CommandsTotal counts remote control commands by command and result.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castbridge_commands_total",
		Help: "Total number of client commands, by command and result (ok/error/rejected).",
	}, []string{"command", "result"})
)
