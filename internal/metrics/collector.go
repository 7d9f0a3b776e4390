// Package metrics provides internal prometheus collectors for the
// conversation core. This package is internal and should not be imported
// by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Turn outcomes reported to TurnCompleted.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeStale     = "stale"
	OutcomeFallback  = "fallback"
)

// Collector bundles the conversation core's prometheus metrics.
type Collector struct {
	turnsTotal     *prometheus.CounterVec
	turnDuration   prometheus.Histogram
	llmTokens      *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	diffResults    *prometheus.CounterVec
	summarizations *prometheus.CounterVec
}

// NewCollector registers the collectors with reg. Pass
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of agent turns by outcome",
		}, []string{"outcome"}),
		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Agent turn duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		llmTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Total number of tokens exchanged with the model",
		}, []string{"kind"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "turn_queue_depth",
			Help:      "Number of pending turn requests",
		}),
		diffResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diff_edits_total",
			Help:      "Diff edit applications by outcome (exact, fuzzy, failed)",
		}, []string{"outcome"}),
		summarizations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarizations_total",
			Help:      "Conversation summarizations by status",
		}, []string{"status"}),
	}
}

// TurnCompleted records one finished turn.
func (c *Collector) TurnCompleted(outcome string, d time.Duration) {
	c.turnsTotal.WithLabelValues(outcome).Inc()
	c.turnDuration.Observe(d.Seconds())
}

// TokensUsed records token consumption.
func (c *Collector) TokensUsed(prompt, completion int) {
	c.llmTokens.WithLabelValues("prompt").Add(float64(prompt))
	c.llmTokens.WithLabelValues("completion").Add(float64(completion))
}

// QueueDepth reports the pending turn-request count.
func (c *Collector) QueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

// DiffEdit records the outcome of one diff edit.
func (c *Collector) DiffEdit(outcome string) {
	c.diffResults.WithLabelValues(outcome).Inc()
}

// Summarization records a summarization attempt.
func (c *Collector) Summarization(status string) {
	c.summarizations.WithLabelValues(status).Inc()
}
