// Package metrics registers the Prometheus instruments exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	jobsTotal      *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	llmTokens      *prometheus.CounterVec
	sweeperExpired prometheus.Counter
)

func init() {
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_jobs_total",
			Help: "Jobs by terminal status",
		},
		[]string{"status"},
	)
	prometheus.MustRegister(jobsTotal)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nimbus_stage_duration_seconds",
			Help:    "Wall-clock duration of pipeline stages",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)
	prometheus.MustRegister(stageDuration)

	llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_llm_tokens_total",
			Help: "LLM tokens consumed by generation requests",
		},
		[]string{"kind"}, // kind: prompt, completion
	)
	prometheus.MustRegister(llmTokens)

	sweeperExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nimbus_sweeper_expired_total",
			Help: "Jobs expired by the cleanup sweeper",
		},
	)
	prometheus.MustRegister(sweeperExpired)
}

// JobFinished counts a job reaching a terminal status.
func JobFinished(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// AddLLMTokens records token usage from one generation call.
func AddLLMTokens(prompt, completion int) {
	llmTokens.WithLabelValues("prompt").Add(float64(prompt))
	llmTokens.WithLabelValues("completion").Add(float64(completion))
}

// SweeperExpired counts jobs removed by an expiry pass.
func SweeperExpired(n int) {
	sweeperExpired.Add(float64(n))
}
