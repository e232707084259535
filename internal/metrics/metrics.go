// Package metrics provides Prometheus metrics for the vsharefs client and
// host daemon.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	remoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsharefs_remote_calls_total",
			Help: "Total remote calls issued to the share host",
		},
		[]string{"op", "status"},
	)

	remoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vsharefs_remote_call_duration_seconds",
			Help:    "Remote call round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	bytesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vsharefs_remote_bytes_read_total",
			Help: "Total bytes read from the share host",
		},
	)

	bytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vsharefs_remote_bytes_written_total",
			Help: "Total bytes written to the share host",
		},
	)

	openHandles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vsharefs_open_handles",
			Help: "Remote handles currently open",
		},
	)

	writebackRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vsharefs_writeback_retries_total",
			Help: "Writeback pages kept for retry after a failed remote write",
		},
	)

	writebackPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vsharefs_writeback_pending_pages",
			Help: "Writeback pages currently pending retry",
		},
	)
)

// ObserveRemoteCall records the outcome and latency of one remote call.
func ObserveRemoteCall(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	remoteCallsTotal.WithLabelValues(op, status).Inc()
	remoteCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// AddBytesRead accounts bytes returned by remote reads.
func AddBytesRead(n int) { bytesRead.Add(float64(n)) }

// AddBytesWritten accounts bytes accepted by remote writes.
func AddBytesWritten(n int) { bytesWritten.Add(float64(n)) }

// HandleOpened and HandleClosed track the open-handle gauge.
func HandleOpened() { openHandles.Inc() }

// HandleClosed decrements the open-handle gauge.
func HandleClosed() { openHandles.Dec() }

// WritebackRetryQueued records a page parked for retry.
func WritebackRetryQueued() {
	writebackRetries.Inc()
	writebackPending.Inc()
}

// WritebackRetryDrained records a parked page leaving the tracker.
func WritebackRetryDrained() { writebackPending.Dec() }

// Handler returns the scrape endpoint handler.
func Handler() http.Handler { return promhttp.Handler() }
