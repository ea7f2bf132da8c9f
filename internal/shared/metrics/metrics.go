package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors. Compositions, renders
// and jobs are labelled by composition operation (merge_audio,
// images_to_video, videos_to_video, burn_captions).
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	CompositionsTotal   *prometheus.CounterVec
	CompositionDuration *prometheus.HistogramVec
	ProbeFallbacksTotal *prometheus.CounterVec
	SettingsFallbacks   prometheus.Counter

	JobsTotal          *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	JobQueueDepth      prometheus.Gauge
	ActiveJobs         prometheus.Gauge
	JobsProcessedTotal *prometheus.CounterVec

	FFmpegOperationsTotal *prometheus.CounterVec
	FFmpegOperationErrors *prometheus.CounterVec
	FFmpegProcessingTime  *prometheus.HistogramVec

	WebSocketConnections   prometheus.Gauge
	WebSocketMessagesTotal *prometheus.CounterVec

	StagedFilesTotal *prometheus.CounterVec
	StagedBytesTotal *prometheus.CounterVec
}

// Renders run from seconds up to the render timeout.
var renderBuckets = []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600}

var httpLabels = []string{"method", "path", "status"}

type builder struct {
	f promauto.Factory
}

func (b builder) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return b.f.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
}

func (b builder) histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return b.f.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
}

func (b builder) gauge(name, help string) prometheus.Gauge {
	return b.f.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
}

// New creates all metrics and registers them with reg. Passing nil uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	b := builder{f: promauto.With(reg)}

	return &Metrics{
		HTTPRequestsTotal:   b.counter("http_requests_total", "HTTP requests by route pattern and status class", httpLabels...),
		HTTPRequestDuration: b.histogram("http_request_duration_seconds", "HTTP request latency", prometheus.DefBuckets, httpLabels...),
		HTTPResponseSize:    b.histogram("http_response_size_bytes", "HTTP response body size", prometheus.ExponentialBuckets(100, 10, 8), httpLabels...),

		CompositionsTotal:   b.counter("compositions_total", "Compositions by operation and outcome", "operation", "status"),
		CompositionDuration: b.histogram("composition_duration_seconds", "Composition time from probe to rendered bytes", renderBuckets, "operation"),
		ProbeFallbacksTotal: b.counter("probe_fallbacks_total", "Durations that could not be probed and fell back to defaults", "operation"),
		SettingsFallbacks: b.f.NewCounter(prometheus.CounterOpts{
			Name: "settings_fallbacks_total",
			Help: "Malformed settings payloads replaced by defaults",
		}),

		JobsTotal:          b.counter("jobs_total", "Composition jobs by lifecycle status", "status", "operation"),
		JobDuration:        b.histogram("job_duration_seconds", "Composition job run time", renderBuckets, "operation", "status"),
		JobQueueDepth:      b.gauge("job_queue_depth", "Jobs queued and not yet picked up"),
		ActiveJobs:         b.gauge("active_jobs", "Jobs currently rendering"),
		JobsProcessedTotal: b.counter("jobs_processed_total", "Jobs that reached a terminal status", "status"),

		FFmpegOperationsTotal: b.counter("ffmpeg_operations_total", "ffmpeg renders by operation and outcome", "operation", "status"),
		FFmpegOperationErrors: b.counter("ffmpeg_operation_errors_total", "ffmpeg render failures by cause", "operation", "error_type"),
		FFmpegProcessingTime:  b.histogram("ffmpeg_processing_time_seconds", "ffmpeg wall time", renderBuckets, "operation"),

		WebSocketConnections:   b.gauge("websocket_connections", "Open progress websocket connections"),
		WebSocketMessagesTotal: b.counter("websocket_messages_total", "Job events pushed to websocket clients", "type"),

		StagedFilesTotal: b.counter("staged_files_total", "Uploaded files written to request workspaces", "field"),
		StagedBytesTotal: b.counter("staged_bytes_total", "Bytes written to request workspaces", "field"),
	}
}

// RecordHTTPRequest records one served request. path is the route pattern,
// not the raw URL.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, responseSize int64) {
	labels := prometheus.Labels{"method": method, "path": path, "status": statusCodeToString(statusCode)}
	m.HTTPRequestsTotal.With(labels).Inc()
	m.HTTPRequestDuration.With(labels).Observe(duration.Seconds())
	if responseSize > 0 {
		m.HTTPResponseSize.With(labels).Observe(float64(responseSize))
	}
}

func (m *Metrics) RecordComposition(operation string, success bool, duration time.Duration) {
	m.CompositionsTotal.WithLabelValues(operation, outcome(success)).Inc()
	m.CompositionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordProbeFallback(operation string) {
	m.ProbeFallbacksTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordSettingsFallback() {
	m.SettingsFallbacks.Inc()
}

// RecordJobCreated counts a queued job.
func (m *Metrics) RecordJobCreated(operation string) {
	m.JobsTotal.WithLabelValues("created", operation).Inc()
	m.JobQueueDepth.Inc()
}

// RecordJobStarted moves a job from the queue depth to the active gauge.
func (m *Metrics) RecordJobStarted() {
	m.JobQueueDepth.Dec()
	m.ActiveJobs.Inc()
}

// RecordJobCompleted records a terminal job with status completed or failed.
func (m *Metrics) RecordJobCompleted(operation, status string, duration time.Duration) {
	m.ActiveJobs.Dec()
	m.JobsTotal.WithLabelValues(status, operation).Inc()
	m.JobsProcessedTotal.WithLabelValues(status).Inc()
	m.JobDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

func (m *Metrics) RecordFFmpegOperation(operation string, success bool, duration time.Duration) {
	m.FFmpegOperationsTotal.WithLabelValues(operation, outcome(success)).Inc()
	m.FFmpegProcessingTime.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFFmpegError counts a failed render; errorType is timeout, canceled
// or exit.
func (m *Metrics) RecordFFmpegError(operation, errorType string) {
	m.FFmpegOperationErrors.WithLabelValues(operation, errorType).Inc()
}

func (m *Metrics) RecordWebSocketConnection(connected bool) {
	if connected {
		m.WebSocketConnections.Inc()
		return
	}
	m.WebSocketConnections.Dec()
}

func (m *Metrics) RecordWebSocketMessage(messageType string) {
	m.WebSocketMessagesTotal.WithLabelValues(messageType).Inc()
}

// RecordStagedFile records an upload written to a workspace.
func (m *Metrics) RecordStagedFile(field string, bytes int64) {
	m.StagedFilesTotal.WithLabelValues(field).Inc()
	m.StagedBytesTotal.WithLabelValues(field).Add(float64(bytes))
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func statusCodeToString(code int) string {
	if code < 200 || code >= 600 {
		return "unknown"
	}
	return string(rune('0'+code/100)) + "xx"
}
