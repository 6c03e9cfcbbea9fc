// Package metrics provides Prometheus metrics for the converter.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the conversion metrics.
type Metrics struct {
	// Per-column throughput
	ColumnsWritten prometheus.Counter
	VectorsRead    prometheus.Counter

	// Failures
	ReadFailures prometheus.Counter
	SinkFailures prometheus.Counter

	// Timing
	ReadDuration      prometheus.Histogram
	TransposeDuration prometheus.Histogram
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // address for the metrics HTTP server (e.g. ":9090")
}

var defaultMetrics *Metrics

// Init registers the global metrics. Call once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "hydromat"
	}

	m := &Metrics{
		ColumnsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "columns_written_total",
			Help:      "Total matrix columns written to the sink",
		}),
		VectorsRead: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vectors_read_total",
			Help:      "Total per-timestep vectors read from the archive",
		}),
		ReadFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_failures_total",
			Help:      "Total archive read failures",
		}),
		SinkFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Total sink write failures",
		}),
		ReadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "read_duration_seconds",
			Help:      "Time to read one vector from the archive",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		TransposeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transpose_duration_seconds",
			Help:      "Time of the final time-major transpose pass",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics, or nil when Init was never called.
func Get() *Metrics {
	return defaultMetrics
}

// Serve exposes /metrics on the given address. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
