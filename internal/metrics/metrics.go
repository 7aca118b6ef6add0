// Package metrics exposes the process's Prometheus instrumentation,
// grounded on the teacher's infrastructure/prometheus/promclient.go
// (one registry, a handful of gauges, served on /metrics). That file wires
// exactly two hardcoded per-provider gauges because the bridge only needed
// to know "is this book open"; this mirror is single-venue but
// many-symbol, so the per-diff counters here are symbol-labelled vectors
// instead, alongside a few process-wide gauges and a reconnect counter.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	OpenBooksGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "obmirror_open_order_books",
		Help: "number of order books currently tracked",
	})

	ActiveSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "obmirror_active_subscribers",
		Help: "number of connected push-surface subscribers",
	})

	VenueConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "obmirror_venue_connected",
		Help: "1 if the venue stream connection is open, else 0",
	})

	ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "obmirror_reconnect_attempts_total",
		Help: "total venue reconnect attempts made",
	})

	DiffsAppliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "obmirror_diffs_applied_total",
		Help: "depth diffs successfully applied, per symbol",
	}, []string{"symbol"})

	DiffsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "obmirror_diffs_dropped_total",
		Help: "depth diffs dropped for failing sequence continuity, per symbol",
	}, []string{"symbol"})

	ResyncTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "obmirror_resync_total",
		Help: "large sequence-gap resyncs accepted, per symbol",
	}, []string{"symbol"})
)

func init() {
	Registry.MustRegister(
		OpenBooksGauge,
		ActiveSubscribers,
		VenueConnected,
		ReconnectAttempts,
		DiffsAppliedTotal,
		DiffsDroppedTotal,
		ResyncTotal,
		collectors.NewGoCollector(),
	)
}

// Handler returns the HTTP handler to mount at /metrics. The supervisor
// mounts this on its own gracefully-shutdownable *http.Server rather than
// this package owning a listener, so there is no package-level Serve here.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
