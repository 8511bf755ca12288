// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// CompletionDuration tracks provider completion call duration.
	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_completion_duration_seconds",
			Help:    "LLM provider completion duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"provider", "model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"provider", "model", "direction"},
	)

	// ToolExecutionDuration tracks generic API tool execution latency.
	ToolExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tool_execution_duration_seconds",
			Help:    "Generic API tool execution duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"tool", "status"},
	)

	// PlatformActionsTotal tracks outbound messaging actions.
	PlatformActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_actions_total",
			Help: "Outbound messaging actions by method and outcome",
		},
		[]string{"method", "status"},
	)

	// ToolTurns tracks how many provider round trips one inbound event needed.
	ToolTurns = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_tool_turns",
			Help:    "Provider round trips per inbound event",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
		},
	)

	// OrchestrationsTotal tracks inbound events by outcome.
	OrchestrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrations_total",
			Help: "Inbound events processed by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// MessagesTotal tracks persisted turns.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total turns persisted",
		},
		[]string{"role"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordCompletion records metrics for one provider completion call.
func RecordCompletion(provider, model, status string, duration float64, tokensIn, tokensOut int) {
	CompletionDuration.WithLabelValues(provider, model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(provider, model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(provider, model, "out").Add(float64(tokensOut))
}

// RecordToolExecution records metrics for one generic API tool execution.
func RecordToolExecution(tool, status string, duration float64) {
	ToolExecutionDuration.WithLabelValues(tool, status).Observe(duration)
}

// RecordPlatformAction records metrics for one outbound messaging action.
func RecordPlatformAction(method string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	PlatformActionsTotal.WithLabelValues(method, status).Inc()
}

// RecordOrchestration records the outcome of one inbound event.
func RecordOrchestration(provider, outcome string, roundTrips int) {
	OrchestrationsTotal.WithLabelValues(provider, outcome).Inc()
	ToolTurns.Observe(float64(roundTrips))
}

// RecordMessage counts a persisted turn.
func RecordMessage(role string) {
	MessagesTotal.WithLabelValues(role).Inc()
}
