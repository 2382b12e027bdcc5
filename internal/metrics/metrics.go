package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload metrics
var (
	// UploadsInitiated counts chunked upload tasks created.
	UploadsInitiated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "babylog",
			Subsystem: "upload",
			Name:      "tasks_initiated_total",
			Help:      "Total number of chunked upload tasks initiated",
		},
	)

	// ChunksReceived counts chunk writes by outcome.
	ChunksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "babylog",
			Subsystem: "upload",
			Name:      "chunks_received_total",
			Help:      "Total number of chunks received",
		},
		[]string{"outcome"},
	)

	// UploadsCompleted counts completed uploads by digest verification result.
	UploadsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "babylog",
			Subsystem: "upload",
			Name:      "tasks_completed_total",
			Help:      "Total number of chunked upload tasks completed",
		},
		[]string{"digest"},
	)

	// MergeDuration tracks the time taken to merge chunks into an artifact.
	MergeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "babylog",
			Subsystem: "upload",
			Name:      "merge_duration_seconds",
			Help:      "Time taken to merge chunks and compute the digest",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	// TasksReclaimed counts tasks removed by the expiry sweep.
	TasksReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "babylog",
			Subsystem: "upload",
			Name:      "tasks_reclaimed_total",
			Help:      "Total number of expired upload tasks reclaimed",
		},
	)
)

// Transcode metrics
var (
	// TranscodesProcessed counts transcode attempts by status.
	TranscodesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "babylog",
			Name:      "transcodes_processed_total",
			Help:      "Total number of transcode tasks processed",
		},
		[]string{"status"},
	)

	// TranscodeDuration tracks ffmpeg HLS encode duration.
	TranscodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "babylog",
			Name:      "transcode_duration_seconds",
			Help:      "Time taken for ffmpeg HLS transcoding",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200},
		},
	)

	// ActiveTranscodes tracks the number of in-flight transcode jobs.
	ActiveTranscodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "babylog",
			Name:      "active_transcodes",
			Help:      "Number of currently running transcode jobs",
		},
	)
)

// Reconciliation metrics
var (
	// ReconcileMatches counts fingerprint matches applied, by action taken.
	ReconcileMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "babylog",
			Name:      "reconcile_matches_total",
			Help:      "Total number of fingerprint matches applied",
		},
		[]string{"action"},
	)
)

// API metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "babylog",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// AuthFailures counts authentication failures by reason.
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "babylog",
			Subsystem: "api",
			Name:      "auth_failures_total",
			Help:      "Total number of authentication failures",
		},
		[]string{"reason"},
	)
)

// RecordTranscodeSuccess records a successful transcode.
func RecordTranscodeSuccess() {
	TranscodesProcessed.WithLabelValues("success").Inc()
}

// RecordTranscodeFailure records a failed transcode attempt.
func RecordTranscodeFailure() {
	TranscodesProcessed.WithLabelValues("failed").Inc()
}

// RecordTranscodeDeadLetter records a task moved to the dead-letter state.
func RecordTranscodeDeadLetter() {
	TranscodesProcessed.WithLabelValues("dead_letter").Inc()
}
