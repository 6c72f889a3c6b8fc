// Package metrics exposes the orchestrator's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loomlabs/loom/pkg/models"
)

// Metrics holds the collectors the core feeds. Counters use atomic
// increments; nothing here blocks the turn loop.
type Metrics struct {
	registry *prometheus.Registry

	llmCalls       *prometheus.CounterVec
	llmDuration    *prometheus.HistogramVec
	tokens         *prometheus.CounterVec
	toolExecutions *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_llm_calls_total",
			Help: "LLM completion calls by provider and model.",
		}, []string{"provider", "model"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_llm_request_seconds",
			Help:    "LLM call wall time.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"provider", "model"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_tokens_total",
			Help: "Token usage by provider, model and kind.",
		}, []string{"provider", "model", "kind"}),
		toolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_tool_executions_total",
			Help: "Tool executions by tool and status.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_tool_duration_seconds",
			Help:    "Tool execution wall time.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"tool"}),
	}
	m.registry.MustRegister(m.llmCalls, m.llmDuration, m.tokens, m.toolExecutions, m.toolDuration)
	return m
}

// Registry returns the underlying registry for HTTP exposition.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveLLMCall records one completed LLM call.
func (m *Metrics) ObserveLLMCall(provider, model string, d time.Duration, u models.Usage) {
	m.llmCalls.WithLabelValues(provider, model).Inc()
	m.llmDuration.WithLabelValues(provider, model).Observe(d.Seconds())
	m.tokens.WithLabelValues(provider, model, "prompt").Add(float64(u.PromptTokens))
	m.tokens.WithLabelValues(provider, model, "completion").Add(float64(u.CompletionTokens))
	if u.CachedPromptTokens > 0 {
		m.tokens.WithLabelValues(provider, model, "cached_prompt").Add(float64(u.CachedPromptTokens))
	}
}

// ObserveToolExecution records one tool call outcome.
func (m *Metrics) ObserveToolExecution(tool string, status models.ToolStatus, d time.Duration) {
	m.toolExecutions.WithLabelValues(tool, string(status)).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}
