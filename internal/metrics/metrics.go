// Package metrics defines the Prometheus collectors exported by shiryo.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shiryo"

var (
	// DocumentsProcessedTotal counts finished pipeline runs by outcome (completed, skipped, failed).
	DocumentsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_processed_total",
			Help:      "Documents that left the pipeline, by outcome",
		},
		[]string{"outcome"},
	)

	// PipelineAttemptsTotal counts pipeline attempts by result (success, retry, fatal).
	PipelineAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_attempts_total",
			Help:      "Pipeline attempts by result",
		},
		[]string{"result"},
	)

	// StageDuration observes per-stage pipeline latency.
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
		},
		[]string{"stage"},
	)

	// QueueDepth reports documents waiting for a worker.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_queue_depth",
			Help:      "Documents waiting in the worker queue",
		},
	)

	// OCRRequestsTotal counts OCR worker calls by result (ok, empty, error).
	OCRRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_requests_total",
			Help:      "OCR worker requests by result",
		},
		[]string{"result"},
	)

	// EmbeddingRequestsTotal counts embedding calls by provider and status.
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding provider requests",
		},
		[]string{"provider", "status"},
	)

	// EmbeddingRequestDuration observes embedding call latency.
	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider"},
	)

	// IndexMode is 1 while the search engine serves requests and 0 in memory mode.
	IndexMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_engine_mode",
			Help:      "1 when the search engine backend is active, 0 when degraded to memory",
		},
	)

	// IndexFallbacksTotal counts engine operations served from memory instead.
	IndexFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_fallbacks_total",
			Help:      "Engine operations that degraded to the memory backend",
		},
		[]string{"op"},
	)

	// SearchRequestsTotal counts searches by index mode.
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Hybrid searches by index mode",
		},
		[]string{"mode"},
	)

	// SearchDuration observes end-to-end retrieval latency.
	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Hybrid search duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	// WatcherEventsTotal counts file system events acted on by kind (change, remove, directory).
	WatcherEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_events_total",
			Help:      "Watched directory events by kind",
		},
		[]string{"kind"},
	)

	// DedupClustersChangedTotal counts cluster writes by method.
	DedupClustersChangedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_clusters_changed_total",
			Help:      "Dedup cluster create/update/delete operations by method",
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(DocumentsProcessedTotal)
	prometheus.MustRegister(PipelineAttemptsTotal)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(OCRRequestsTotal)
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingRequestDuration)
	prometheus.MustRegister(IndexMode)
	prometheus.MustRegister(IndexFallbacksTotal)
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(DedupClustersChangedTotal)
	prometheus.MustRegister(WatcherEventsTotal)
}
