package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the conversation engine.
//
// Every Record method is safe on a nil *Metrics, which records nothing.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordToolExecution("lookup_status", "success", time.Since(start))
type Metrics struct {
	// TurnCounter counts finished turns.
	// Labels: path (policy|confirmation|model|clear|rejected), outcome (ok|fallback|error)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures turn latency in seconds.
	// Labels: path
	TurnDuration *prometheus.HistogramVec

	// StateTransitions counts controller state entries.
	// Labels: state
	StateTransitions *prometheus.CounterVec

	// LLMRequestDuration measures model call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model calls.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRetries counts alternate-shape retries.
	// Labels: provider, reason
	LLMRetries *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// CatalogDropped counts tools removed from over-limit catalogs.
	CatalogDropped prometheus.Counter

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// IntentTransitions counts pending intent state changes.
	// Labels: action_type, status (pending|confirmed|expired|cancelled)
	IntentTransitions *prometheus.CounterVec

	// StoreOperationDuration measures session store latency.
	// Labels: driver (memory|sqlite|postgres), operation
	StoreOperationDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component.
	// Labels: component (router|tool|store|controller), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests independent of the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatia_turns_total",
				Help: "Total number of turns by path and outcome",
			},
			[]string{"path", "outcome"},
		),
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatia_turn_duration_seconds",
				Help:    "Duration of turns in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"path"},
		),
		StateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatia_turn_states_total",
				Help: "Total number of controller state entries",
			},
			[]string{"state"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatia_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatia_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatia_llm_retries_total",
				Help: "Total number of alternate request shape retries",
			},
			[]string{"provider", "reason"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatia_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		CatalogDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatia_catalog_dropped_tools_total",
				Help: "Total number of tools dropped from over-limit catalogs",
			},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatia_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatia_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		IntentTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatia_intent_transitions_total",
				Help: "Total number of pending intent transitions",
			},
			[]string{"action_type", "status"},
		),
		StoreOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatia_store_operation_duration_seconds",
				Help:    "Duration of session store operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"driver", "operation"},
		),
		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatia_errors_total",
				Help: "Total number of errors by component and type",
			},
			[]string{"component", "error_type"},
		),
	}
}

func (m *Metrics) RecordTurn(path, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnCounter.WithLabelValues(path, outcome).Inc()
	m.TurnDuration.WithLabelValues(path).Observe(d.Seconds())
}

func (m *Metrics) RecordState(state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordLLMRequest(provider, model, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(d.Seconds())
}

func (m *Metrics) RecordLLMRetry(provider, reason string) {
	if m == nil {
		return
	}
	m.LLMRetries.WithLabelValues(provider, reason).Inc()
}

func (m *Metrics) RecordTokens(provider, model string, prompt, completion int) {
	if m == nil {
		return
	}
	if prompt > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completion))
	}
}

func (m *Metrics) RecordCatalogDrop(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CatalogDropped.Add(float64(n))
}

func (m *Metrics) RecordToolExecution(toolName, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(d.Seconds())
}

func (m *Metrics) RecordIntentTransition(actionType, status string) {
	if m == nil {
		return
	}
	m.IntentTransitions.WithLabelValues(actionType, status).Inc()
}

func (m *Metrics) RecordStoreOp(driver, operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.StoreOperationDuration.WithLabelValues(driver, operation).Observe(d.Seconds())
}

func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
