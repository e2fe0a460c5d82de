// Package metrics exposes Prometheus counters for the real-time layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bottled",
		Subsystem: "push",
		Name:      "delivered_total",
		Help:      "Envelopes pushed to an online recipient",
	})

	MessagesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bottled",
		Subsystem: "push",
		Name:      "skipped_total",
		Help:      "Envelopes skipped because the recipient was offline",
	})

	FramesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bottled",
		Subsystem: "signaling",
		Name:      "frames_forwarded_total",
		Help:      "WebRTC signaling frames relayed between call participants",
	})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bottled",
		Subsystem: "signaling",
		Name:      "frames_dropped_total",
		Help:      "Signaling frames dropped and the reason why",
	}, []string{"reason"})

	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bottled",
		Subsystem: "calls",
		Name:      "active",
		Help:      "Call sessions in a non-terminal state",
	})

	CallsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bottled",
		Subsystem: "calls",
		Name:      "completed_total",
		Help:      "Call sessions by terminal outcome",
	}, []string{"outcome"})

	CallsRefused = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bottled",
		Subsystem: "calls",
		Name:      "refused_total",
		Help:      "Initiate requests refused because a participant was busy",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
