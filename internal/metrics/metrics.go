// Package metrics provides Prometheus metrics for the spool server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enigma_spool_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Fetch metrics
	fetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enigma_spool_fetch_requests_total",
			Help: "Total fetch requests by terminal status",
		},
		[]string{"status"},
	)

	fetchBytesStreamed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enigma_spool_fetch_bytes_streamed_total",
			Help: "Total capture bytes streamed to fetch clients",
		},
	)

	// Export metrics
	exportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "enigma_spool_export_duration_seconds",
			Help:    "Time spent scanning spool files for one export",
			Buckets: prometheus.DefBuckets,
		},
	)

	exportFilesScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enigma_spool_export_files_scanned_total",
			Help: "Total capture files opened by exports",
		},
	)

	exportPacketsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enigma_spool_export_packets_written_total",
			Help: "Total packets written by exports",
		},
	)

	// Retention metrics
	retentionFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enigma_spool_retention_files_total",
			Help: "Capture files handled by retention, by result",
		},
		[]string{"result"},
	)

	retentionBytesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enigma_spool_retention_bytes_deleted_total",
			Help: "Total bytes freed by retention",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

// RecordFetch records the terminal status of a fetch.
func RecordFetch(status string) {
	fetchRequestsTotal.WithLabelValues(status).Inc()
}

// RecordBytesStreamed records bytes sent to a fetch client.
func RecordBytesStreamed(n int) {
	fetchBytesStreamed.Add(float64(n))
}

// RecordExport records a finished export scan.
func RecordExport(duration time.Duration, files, packets int) {
	exportDuration.Observe(duration.Seconds())
	exportFilesScanned.Add(float64(files))
	exportPacketsWritten.Add(float64(packets))
}

// RecordRetention records one retention cycle.
func RecordRetention(deleted, failed int, bytes int64) {
	retentionFilesTotal.WithLabelValues("deleted").Add(float64(deleted))
	retentionFilesTotal.WithLabelValues("failed").Add(float64(failed))
	retentionBytesDeleted.Add(float64(bytes))
}
