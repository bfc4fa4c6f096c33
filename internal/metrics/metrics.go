// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeFallback = "fallback"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audio_service_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "audio_service_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	InferenceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audio_service_inference_latency_seconds",
			Help:    "Model invocation latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"role"},
	)

	ModelLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audio_service_model_loads_total",
			Help: "Model construction attempts by outcome",
		},
		[]string{"model", "outcome"},
	)

	ModelLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audio_service_model_load_seconds",
			Help:    "Model construction time in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"model"},
	)

	ModelResident = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "audio_service_model_resident",
			Help: "1 when a handle exists for the model key",
		},
		[]string{"model"},
	)

	EmotionResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audio_service_emotion_resolved_total",
			Help: "Resolved emotion labels",
		},
		[]string{"emotion"},
	)
)
