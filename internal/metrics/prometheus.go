package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the pipeline
type Metrics struct {
	// Pipeline run metrics
	RunsStarted   prometheus.Counter
	RunsCompleted prometheus.Counter
	RunsFailed    *prometheus.CounterVec
	RunsRejected  *prometheus.CounterVec
	RunsInFlight  prometheus.Gauge
	StageDuration *prometheus.HistogramVec

	// Upstream metrics
	Transcriptions      *prometheus.CounterVec
	AnnotationFallbacks *prometheus.CounterVec

	// Recovery metrics
	StaleExpired prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "lingtin_pipeline_runs_started_total",
			Help: "Total number of pipeline runs that acquired the lock",
		}),
		RunsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "lingtin_pipeline_runs_completed_total",
			Help: "Total number of pipeline runs that produced a result",
		}),
		RunsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lingtin_pipeline_runs_failed_total",
			Help: "Total number of pipeline runs aborted by a fatal error",
		}, []string{"stage"}),
		RunsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lingtin_pipeline_runs_rejected_total",
			Help: "Total number of pipeline runs rejected as duplicates",
		}, []string{"reason"}),
		RunsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lingtin_pipeline_runs_in_flight",
			Help: "Number of recordings currently being processed",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lingtin_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		Transcriptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lingtin_transcriptions_total",
			Help: "Total number of transcriptions by termination reason",
		}, []string{"reason"}),
		AnnotationFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lingtin_annotation_fallbacks_total",
			Help: "Total number of annotations replaced by a fallback result",
		}, []string{"reason"}),
		StaleExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "lingtin_stale_recordings_expired_total",
			Help: "Total number of recordings released by the stale sweep",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lingtin_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lingtin_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordRunStarted increments the started counter and the in-flight gauge
func (m *Metrics) RecordRunStarted() {
	m.RunsStarted.Inc()
	m.RunsInFlight.Inc()
}

// RecordRunFinished decrements the in-flight gauge
func (m *Metrics) RecordRunFinished() {
	m.RunsInFlight.Dec()
}

// RecordRunCompleted increments the completed counter
func (m *Metrics) RecordRunCompleted() {
	m.RunsCompleted.Inc()
}

// RecordRunFailed records a run aborted in stage
func (m *Metrics) RecordRunFailed(stage string) {
	m.RunsFailed.WithLabelValues(stage).Inc()
}

// RecordRunRejected records a duplicate run
func (m *Metrics) RecordRunRejected(reason string) {
	m.RunsRejected.WithLabelValues(reason).Inc()
}

// ObserveStage records the duration of one stage
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordTranscription records how a transcription ended
func (m *Metrics) RecordTranscription(reason string) {
	m.Transcriptions.WithLabelValues(reason).Inc()
}

// ObserveAnnotationFallback implements llm.FallbackObserver
func (m *Metrics) ObserveAnnotationFallback(reason string) {
	m.AnnotationFallbacks.WithLabelValues(reason).Inc()
}

// RecordStaleExpired adds n released recordings
func (m *Metrics) RecordStaleExpired(n int) {
	m.StaleExpired.Add(float64(n))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, status string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
