package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "boardsync",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Number of open websocket connections.",
	})
	activeDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "boardsync",
		Subsystem: "ws",
		Name:      "active_documents",
		Help:      "Number of documents with at least one connection.",
	})
	deltasReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "boardsync",
		Subsystem: "ws",
		Name:      "deltas_received_total",
		Help:      "Binary update frames received from clients.",
	})
	deltasBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "boardsync",
		Subsystem: "ws",
		Name:      "deltas_broadcast_total",
		Help:      "Binary update frames fanned out to clients.",
	})
	sendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "boardsync",
		Subsystem: "ws",
		Name:      "send_failures_total",
		Help:      "Frames dropped because a client could not keep up.",
	})
	rejectedDeltas = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "boardsync",
		Subsystem: "ws",
		Name:      "rejected_deltas_total",
		Help:      "Incoming frames that failed to decode or persist.",
	})
)
