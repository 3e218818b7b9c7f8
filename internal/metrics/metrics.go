// Package metrics exposes Prometheus instrumentation for the peer-service
// manager: view sizes, frame traffic, and timer activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "hyparview"
)

var (
	// ActiveViewSize tracks the current size of the active view.
	ActiveViewSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_view_size",
			Help:      "Current number of peers in the active view",
		},
	)

	// PassiveViewSize tracks the current size of the passive view.
	PassiveViewSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "passive_view_size",
			Help:      "Current number of peers in the passive view",
		},
	)

	// FramesSent counts outbound protocol frames by tag.
	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total number of outbound protocol frames",
		},
		[]string{"tag"},
	)

	// FramesReceived counts inbound protocol frames by tag.
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of inbound protocol frames",
		},
		[]string{"tag"},
	)

	// FramesDropped counts frames discarded as stale or unknown.
	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total number of frames dropped (stale id, unknown tag)",
		},
		[]string{"reason"},
	)

	// ActiveViewEvictions counts random active-view evictions on admission.
	ActiveViewEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "active_view_evictions_total",
			Help:      "Total number of peers evicted from the active view to admit a new peer",
		},
	)

	// Promotions counts passive-to-active promotions via NEIGHBOR_REQUEST.
	Promotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Total number of passive peers promoted to the active view",
		},
		[]string{"reason"}, // "timer" or "repair"
	)

	// ShuffleRounds counts shuffle exchanges initiated by this node.
	ShuffleRounds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shuffle_rounds_total",
			Help:      "Total number of passive-view shuffle rounds initiated",
		},
	)

	// Partitions tracks the number of (ref, peer) partition entries currently recorded.
	Partitions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partitions_active",
			Help:      "Number of peers currently marked as partitioned",
		},
	)

	// Uptime tracks process uptime in seconds.
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
	)

	// Info exposes static build info as a labeled gauge.
	Info = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Peer-service manager build info",
		},
		[]string{"version", "go_version", "os", "arch"},
	)
)

// InitInfo sets the static info gauge once at startup.
func InitInfo(version, goVersion, os, arch string) {
	Info.WithLabelValues(version, goVersion, os, arch).Set(1)
}
