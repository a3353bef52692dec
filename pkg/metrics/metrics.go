// Package metrics provides prometheus instrumentation for the generation
// pipeline and a query service for per-brief cost rollups.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//nolint:gochecknoglobals // Prometheus collectors are package-level by convention
var (
	modelCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "briefgen_model_calls_total",
		Help: "Total external model calls by operation and outcome.",
	}, []string{"op", "outcome"})

	modelCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "briefgen_model_call_duration_seconds",
		Help:    "Latency of external model calls by operation.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"op"})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "briefgen_tokens_total",
		Help: "Tokens consumed per brief, split by prompt/completion.",
	}, []string{"brief_id", "type"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "briefgen_stage_duration_seconds",
		Help:    "Duration of pipeline stages.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"stage"})

	refundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "briefgen_credit_refunds_total",
		Help: "Credits refunded for failed or below-threshold runs.",
	})
)

// ObserveModelCall records one external model call attempt.
func ObserveModelCall(op string, elapsed time.Duration, success bool) {
	outcome := "error"
	if success {
		outcome = "success"
	}
	modelCallsTotal.WithLabelValues(op, outcome).Inc()
	modelCallDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// AddTokens records token usage for a brief.
func AddTokens(briefID string, promptTokens, completionTokens int) {
	if promptTokens > 0 {
		tokensTotal.WithLabelValues(briefID, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		tokensTotal.WithLabelValues(briefID, "completion").Add(float64(completionTokens))
	}
}

// ObserveStage records the duration of one pipeline stage.
func ObserveStage(stage string, elapsed time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// IncRefund records one credit refund.
func IncRefund() {
	refundsTotal.Inc()
}

// Handler returns the scrape endpoint for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
