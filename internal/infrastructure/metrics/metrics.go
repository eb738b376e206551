package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Asset-API Metrics
var (
	// Request counters
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "closetspace",
			Subsystem: "asset_api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// Request duration histogram
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "closetspace",
			Subsystem: "asset_api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"method", "endpoint"},
	)

	// Pipeline run counters by flow (upload, generate) and outcome
	// (completed, degraded, failed)
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "closetspace",
			Subsystem: "asset_api",
			Name:      "pipeline_runs_total",
			Help:      "Total image pipeline runs",
		},
		[]string{"flow", "outcome"},
	)

	// Pipeline duration histogram
	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "closetspace",
			Subsystem: "asset_api",
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end pipeline duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 180},
		},
		[]string{"flow"},
	)

	// Background removal outcomes
	BackgroundRemovalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "closetspace",
			Subsystem: "asset_api",
			Name:      "background_removals_total",
			Help:      "Total background removal attempts by outcome",
		},
		[]string{"status"},
	)

	// Generation duration histogram
	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "closetspace",
			Subsystem: "asset_api",
			Name:      "generation_duration_seconds",
			Help:      "Image generation duration in seconds",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120},
		},
	)

	// Storage operations counter
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "closetspace",
			Subsystem: "asset_api",
			Name:      "storage_operations_total",
			Help:      "Total object storage operations",
		},
		[]string{"operation", "status"},
	)

	// Stale processing sweeps
	StaleItemsSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "closetspace",
			Subsystem: "asset_api",
			Name:      "stale_items_swept_total",
			Help:      "Items flipped from processing to failed by the janitor",
		},
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(durationSec)
}

// RecordPipelineRun records a pipeline run outcome
func RecordPipelineRun(flow, outcome string, durationSec float64) {
	PipelineRunsTotal.WithLabelValues(flow, outcome).Inc()
	PipelineDuration.WithLabelValues(flow).Observe(durationSec)
}

// RecordBackgroundRemoval records a background removal outcome
func RecordBackgroundRemoval(status string) {
	BackgroundRemovalsTotal.WithLabelValues(status).Inc()
}

// RecordGeneration records a completed generation
func RecordGeneration(durationSec float64) {
	GenerationDuration.Observe(durationSec)
}

// RecordStorageOperation records an object storage operation
func RecordStorageOperation(operation, status string) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordStaleSweep records janitor sweep results
func RecordStaleSweep(count int64) {
	if count > 0 {
		StaleItemsSweptTotal.Add(float64(count))
	}
}
