package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "n8nctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served.",
		},
		[]string{"server", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "n8nctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"server", "method", "path", "status"},
	)
	remoteRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "n8nctl",
			Subsystem: "remote",
			Name:      "requests_total",
			Help:      "Remote store API requests by operation and final status.",
		},
		[]string{"operation", "status", "success"},
	)
	remoteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "n8nctl",
			Subsystem: "remote",
			Name:      "request_duration_seconds",
			Help:      "Remote store API request duration in seconds, retries included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	remoteRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "n8nctl",
			Subsystem: "remote",
			Name:      "retries_total",
			Help:      "Remote store API retries after a transient failure.",
		},
		[]string{"operation"},
	)
	reconcileActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "n8nctl",
			Subsystem: "reconcile",
			Name:      "actions_total",
			Help:      "Reconciliation actions by kind and result.",
		},
		[]string{"kind", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, remoteRequests, remoteDuration, remoteRetries, reconcileActions)
	})
}

func RecordHTTPRequest(server, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(server, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(server, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordRemoteCall records one logical remote call. status is 0 when no
// response was received.
func RecordRemoteCall(operation string, status int, duration time.Duration, success bool) {
	RegisterMetrics()
	remoteRequests.WithLabelValues(operation, strconv.Itoa(status), strconv.FormatBool(success)).Inc()
	remoteDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordRemoteRetry(operation string) {
	RegisterMetrics()
	remoteRetries.WithLabelValues(operation).Inc()
}

func RecordAction(kind string, result string) {
	RegisterMetrics()
	reconcileActions.WithLabelValues(kind, result).Inc()
}

// WriteTextfile writes the default registry in text exposition format.
func WriteTextfile(path string) error {
	RegisterMetrics()
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
