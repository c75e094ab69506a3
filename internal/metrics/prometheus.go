package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/skypro1111/flux-loadgen/internal/stats"
)

// Metrics contains all Prometheus metrics for the load generator
type Metrics struct {
	// Audio source metrics
	FramesPublished prometheus.Counter
	BytesPublished  prometheus.Counter

	// Worker metrics
	WorkersSpawned  prometheus.Counter
	WorkersFailed   prometheus.Counter
	ConnectFailures prometheus.Counter
	ActiveWorkers   prometheus.Gauge

	// Aggregate connection metrics, refreshed from the stats table
	BytesSent     prometheus.Gauge
	BytesReceived prometheus.Gauge
	FramesSent    prometheus.Gauge
	FramesDropped prometheus.Gauge
	Events        *prometheus.GaugeVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Audio source metrics
		FramesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loadgen_frames_published_total",
			Help: "Total number of audio frames published to the fanout",
		}),
		BytesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loadgen_bytes_published_total",
			Help: "Total number of audio bytes published to the fanout",
		}),

		// Worker metrics
		WorkersSpawned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loadgen_workers_spawned_total",
			Help: "Total number of workers started",
		}),
		WorkersFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loadgen_workers_failed_total",
			Help: "Total number of workers that ended in failure",
		}),
		ConnectFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loadgen_connect_failures_total",
			Help: "Total number of failed connection attempts",
		}),
		ActiveWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loadgen_active_workers",
			Help: "Current number of running workers",
		}),

		// Aggregate connection metrics
		BytesSent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loadgen_bytes_sent",
			Help: "Total audio bytes sent across all connections",
		}),
		BytesReceived: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loadgen_bytes_received",
			Help: "Total bytes received across all connections",
		}),
		FramesSent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loadgen_frames_sent",
			Help: "Total audio frames sent across all connections",
		}),
		FramesDropped: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loadgen_frames_dropped",
			Help: "Total frames dropped due to subscriber lag",
		}),
		Events: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loadgen_events_received",
			Help: "Total service events received, by kind",
		}, []string{"kind"}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loadgen_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loadgen_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loadgen_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFramePublished accounts one frame handed to the fanout
func (m *Metrics) RecordFramePublished(sizeBytes int) {
	m.FramesPublished.Inc()
	m.BytesPublished.Add(float64(sizeBytes))
}

// RecordWorkerSpawned increments the spawned counter and the active gauge
func (m *Metrics) RecordWorkerSpawned() {
	m.WorkersSpawned.Inc()
	m.ActiveWorkers.Inc()
}

// RecordWorkerFinished decrements the active gauge and counts failures
func (m *Metrics) RecordWorkerFinished(failed bool) {
	m.ActiveWorkers.Dec()
	if failed {
		m.WorkersFailed.Inc()
	}
}

// RecordConnectFailure increments the connect failures counter
func (m *Metrics) RecordConnectFailure() {
	m.ConnectFailures.Inc()
}

// UpdateFromSnapshot refreshes the aggregate gauges from a stats total
func (m *Metrics) UpdateFromSnapshot(total stats.Snapshot) {
	m.BytesSent.Set(float64(total.BytesSent))
	m.BytesReceived.Set(float64(total.BytesReceived))
	m.FramesSent.Set(float64(total.FramesSent))
	m.FramesDropped.Set(float64(total.FramesDropped))

	m.Events.WithLabelValues("results").Set(float64(total.Results))
	m.Events.WithLabelValues("speech_started").Set(float64(total.SpeechStarted))
	m.Events.WithLabelValues("utterance_end").Set(float64(total.UtteranceEnd))
	m.Events.WithLabelValues("metadata").Set(float64(total.Metadata))
	m.Events.WithLabelValues("other").Set(float64(total.Other))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
