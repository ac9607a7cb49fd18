// Package metrics holds the Prometheus instrumentation for the chat backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so wiring stays optional in tests.
type Metrics struct {
	// Turn metrics
	TurnsTotal          *prometheus.CounterVec
	TurnDurationSeconds *prometheus.HistogramVec

	// Model metrics
	ModelCallsTotal    *prometheus.CounterVec
	ModelTokensTotal   *prometheus.CounterVec
	ModelFallbackTotal prometheus.Counter

	// Tool metrics
	ToolCallsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Escalation metrics
	EscalationsTotal *prometheus.CounterVec
}

// New creates a Metrics instance registered on the given registry.
func New(registry *prometheus.Registry) *Metrics {
	return &Metrics{
		TurnsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagelink_turns_total",
				Help: "Total processed chat turns by flow and status",
			},
			[]string{"flow", "status"}, // flow: menu, open; status: success, error
		),

		TurnDurationSeconds: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stagelink_turn_duration_seconds",
				Help:    "Turn processing duration in seconds by flow",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"flow"},
		),

		ModelCallsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagelink_model_calls_total",
				Help: "Total LLM calls by model and status",
			},
			[]string{"model", "status"}, // status: success, overloaded, error
		),

		ModelTokensTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagelink_model_tokens_total",
				Help: "Total tokens consumed by model and kind",
			},
			[]string{"model", "kind"}, // kind: prompt, completion
		),

		ModelFallbackTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "stagelink_model_fallback_total",
				Help: "Total turns answered by the fallback model after primary overload",
			},
		),

		ToolCallsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagelink_tool_calls_total",
				Help: "Total tool executions by tool and status",
			},
			[]string{"tool", "status"}, // status: success, error, cached
		),

		CacheHitsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagelink_cache_hits_total",
				Help: "Total cache hits by cache name",
			},
			[]string{"cache"},
		),

		CacheMissesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagelink_cache_misses_total",
				Help: "Total cache misses by cache name",
			},
			[]string{"cache"},
		),

		EscalationsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagelink_escalations_total",
				Help: "Total escalations to human agents by outcome",
			},
			[]string{"outcome"}, // outcome: opened, no_agent, declined
		),
	}
}

// RecordTurn records one processed turn.
func (m *Metrics) RecordTurn(flow, status string, seconds float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(flow, status).Inc()
	m.TurnDurationSeconds.WithLabelValues(flow).Observe(seconds)
}

// RecordModelCall records one LLM call outcome.
func (m *Metrics) RecordModelCall(model, status string) {
	if m == nil {
		return
	}
	m.ModelCallsTotal.WithLabelValues(model, status).Inc()
}

// RecordTokens records token consumption for one completion.
func (m *Metrics) RecordTokens(model string, prompt, completion int64) {
	if m == nil {
		return
	}
	m.ModelTokensTotal.WithLabelValues(model, "prompt").Add(float64(prompt))
	m.ModelTokensTotal.WithLabelValues(model, "completion").Add(float64(completion))
}

// RecordModelFallback records a turn served by the fallback model.
func (m *Metrics) RecordModelFallback() {
	if m == nil {
		return
	}
	m.ModelFallbackTotal.Inc()
}

// RecordToolCall records one tool execution.
func (m *Metrics) RecordToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// RecordEscalation records an escalation attempt outcome.
func (m *Metrics) RecordEscalation(outcome string) {
	if m == nil {
		return
	}
	m.EscalationsTotal.WithLabelValues(outcome).Inc()
}
