package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Orchestration events recorded by RecordOrchestration.
const (
	EventContinuation           = "continuation"
	EventToolRound              = "tool_round"
	EventContinuationWrapUp     = "continuation_wrap_up"
	EventToolRoundWrapUp        = "tool_round_wrap_up"
	EventSafetyNet              = "safety_net"
	EventToolUseWithoutExecutor = "tool_use_without_executor"
	EventFallbackPlain          = "fallback_plain"
	EventApology                = "apology"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics track:
//   - LLM request volume, latency and token usage
//   - Orchestration loop events (continuations, tool rounds, wrap-ups, safety net)
//   - Tool execution patterns and latencies
//   - Artifact resolution outcomes
//   - Discord message flow and scheduled task runs
//
// A nil *Metrics is valid and records nothing.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordLLMRequest("anthropic", "stream", "success", time.Since(start).Seconds())
type Metrics struct {
	// LLMRequestCounter counts LLM requests.
	// Labels: provider (anthropic|openai|gemini), mode (stream|plain|count), status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, mode
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: type (input|output|cache_read|cache_write)
	LLMTokensUsed *prometheus.CounterVec

	// OrchestrationEvents counts controller loop events.
	// Labels: event
	OrchestrationEvents *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error|unknown)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// ArtifactCounter counts artifact resolutions.
	// Labels: result (resolved|oversized|failed)
	ArtifactCounter *prometheus.CounterVec

	// MessageCounter tracks Discord messages.
	// Labels: direction (inbound|outbound)
	MessageCounter *prometheus.CounterVec

	// ScheduledTaskCounter tracks scheduled task executions.
	// Labels: type (static|dynamic), result (success|error|stale)
	ScheduledTaskCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component, error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates all collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_llm_requests_total",
				Help: "Total number of LLM requests by provider, mode, and status",
			},
			[]string{"provider", "mode", "status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "mode"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_llm_tokens_total",
				Help: "Total number of tokens used by type",
			},
			[]string{"type"},
		),

		OrchestrationEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_orchestration_events_total",
				Help: "Total number of orchestration loop events by event type",
			},
			[]string{"event"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"tool"},
		),

		ArtifactCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_artifacts_total",
				Help: "Total number of artifact resolutions by result",
			},
			[]string{"result"},
		),

		MessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_messages_total",
				Help: "Total number of Discord messages by direction",
			},
			[]string{"direction"},
		),

		ScheduledTaskCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_scheduled_tasks_total",
				Help: "Total number of scheduled task executions by type and result",
			},
			[]string{"type", "result"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordLLMRequest records one LLM API request.
func (m *Metrics) RecordLLMRequest(provider, mode, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, mode, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, mode).Observe(durationSeconds)
}

// RecordTokens adds token usage; zero counts are skipped.
func (m *Metrics) RecordTokens(input, output, cacheRead, cacheWrite int64) {
	if m == nil {
		return
	}
	for label, n := range map[string]int64{
		"input":       input,
		"output":      output,
		"cache_read":  cacheRead,
		"cache_write": cacheWrite,
	} {
		if n > 0 {
			m.LLMTokensUsed.WithLabelValues(label).Add(float64(n))
		}
	}
}

// RecordOrchestration increments the counter for a loop event.
func (m *Metrics) RecordOrchestration(event string) {
	if m == nil {
		return
	}
	m.OrchestrationEvents.WithLabelValues(event).Inc()
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordArtifact increments the artifact counter for a result.
func (m *Metrics) RecordArtifact(result string) {
	if m == nil {
		return
	}
	m.ArtifactCounter.WithLabelValues(result).Inc()
}

// MessageReceived increments the inbound message counter.
func (m *Metrics) MessageReceived() {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues("inbound").Inc()
}

// MessageSent increments the outbound message counter.
func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues("outbound").Inc()
}

// RecordScheduledTask records a scheduled task execution.
func (m *Metrics) RecordScheduledTask(taskType, result string) {
	if m == nil {
		return
	}
	m.ScheduledTaskCounter.WithLabelValues(taskType, result).Inc()
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("discord", "send_failed")
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
