// Package metrics exposes Prometheus instruments for runs, stages and
// backend calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gist_runs_started_total",
			Help: "Total number of runs created",
		},
	)

	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gist_runs_finished_total",
			Help: "Runs reaching a terminal state, by state",
		},
		[]string{"state"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gist_stage_duration_seconds",
			Help:    "Wall-clock duration of completed stages",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	InferenceCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gist_inference_calls_total",
			Help: "Inference calls by backend, stage and outcome",
		},
		[]string{"backend", "stage", "outcome"},
	)

	InferenceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gist_inference_latency_seconds",
			Help:    "Inference latency including retries",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"backend"},
	)

	InferenceRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gist_inference_retries_total",
			Help: "Retried backend calls by operation",
		},
		[]string{"op"},
	)

	TokensSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gist_tokens_saved_total",
			Help: "Estimated prompt tokens removed by the optimizer",
		},
		[]string{"stage"},
	)

	AwaitingHuman = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gist_runs_awaiting_human",
			Help: "Runs suspended for a human selection, as of the last check-in",
		},
	)
)

// ObserveStage records a completed stage.
func ObserveStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveInference records one logical inference call.
func ObserveInference(backend, stage, outcome string, d time.Duration) {
	InferenceCalls.WithLabelValues(backend, stage, outcome).Inc()
	InferenceLatency.WithLabelValues(backend).Observe(d.Seconds())
}
