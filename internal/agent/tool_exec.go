package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/observability"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

// ToolExecConfig configures tool execution behavior.
type ToolExecConfig struct {
	// PerToolTimeout is the maximum time for a single tool call.
	PerToolTimeout time.Duration

	// Overrides sets a per-tool timeout by tool name.
	Overrides map[string]time.Duration
}

// DefaultToolExecConfig returns sensible defaults.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		PerToolTimeout: 30 * time.Second,
	}
}

func (c ToolExecConfig) timeoutFor(name string) time.Duration {
	if d, ok := c.Overrides[name]; ok && d > 0 {
		return d
	}
	return c.PerToolTimeout
}

// InvocationResult is the outcome of one invocation.
type InvocationResult struct {
	Index      int
	Invocation models.ToolInvocation
	Result     ToolResult
	StartTime  time.Time
	EndTime    time.Time
	TimedOut   bool
}

// Text returns the user-facing text of the result.
func (r InvocationResult) Text() string {
	return r.Result.Content
}

// EventCallback receives tool lifecycle events.
type EventCallback func(models.ToolEvent)

// Orchestrator executes tool invocations against a registry.
type Orchestrator struct {
	registry *ToolRegistry
	config   ToolExecConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithExecLogger sets the logger used for late and failed tool calls.
func WithExecLogger(l *observability.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithExecMetrics records per-tool counters and latencies.
func WithExecMetrics(m *observability.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithExecTracer opens a span per tool call.
func WithExecTracer(t *observability.Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = t }
}

// NewOrchestrator creates an orchestrator over registry.
func NewOrchestrator(registry *ToolRegistry, config ToolExecConfig, opts ...OrchestratorOption) *Orchestrator {
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	o := &Orchestrator{
		registry: registry,
		config:   config,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry returns the registry the orchestrator executes against.
func (o *Orchestrator) Registry() *ToolRegistry {
	return o.registry
}

// Execute runs invocations sequentially in the order given. Every call is
// isolated: a failure, timeout or panic marks only its own result. The
// returned slice has one entry per invocation, in input order.
func (o *Orchestrator) Execute(ctx context.Context, invocations []models.ToolInvocation, emit EventCallback) []InvocationResult {
	results := make([]InvocationResult, len(invocations))
	for i, inv := range invocations {
		results[i] = o.executeOne(ctx, i, inv, emit)
	}
	return results
}

func (o *Orchestrator) executeOne(ctx context.Context, idx int, inv models.ToolInvocation, emit EventCallback) InvocationResult {
	start := time.Now()
	if emit != nil {
		emit(models.ToolEvent{
			InvocationID: inv.ID,
			ToolName:     inv.ToolName,
			Source:       inv.Source,
			Stage:        models.ToolEventStarted,
			StartedAt:    start,
		})
	}

	ctx, span := o.tracer.Start(ctx, "tool."+inv.ToolName,
		attribute.String("tool.name", inv.ToolName),
		attribute.String("tool.source", string(inv.Source)),
	)
	defer span.End()

	var (
		result   ToolResult
		timedOut bool
	)
	if _, known := o.registry.Get(inv.ToolName); known && inv.Source == models.SourceModel && !o.registry.IsExposed(inv.ToolName) {
		result = ToolResult{
			Content:   "tool not available to the model: " + inv.ToolName,
			IsError:   true,
			ErrorKind: ToolErrorPermission,
		}
	} else {
		timeout := o.config.timeoutFor(inv.ToolName)
		toolCtx, cancel := context.WithTimeout(ctx, timeout)
		toolCtx = observability.AddInvocationID(toolCtx, inv.ID)
		result, timedOut = o.executeWithTimeout(toolCtx, inv, timeout)
		cancel()
	}

	end := time.Now()
	status := "success"
	stage := models.ToolEventSucceeded
	if result.IsError {
		status = "error"
		stage = models.ToolEventFailed
		observability.RecordSpanError(span, errors.New(result.Content))
		o.logger.Warn(ctx, "tool execution failed",
			"tool", inv.ToolName,
			"invocation_id", inv.ID,
			"error_kind", string(result.ErrorKind),
		)
	} else if result.RequiresConfirmation {
		stage = models.ToolEventConfirmationSent
	}
	o.metrics.RecordToolExecution(inv.ToolName, status, end.Sub(start))

	if emit != nil {
		ev := models.ToolEvent{
			InvocationID: inv.ID,
			ToolName:     inv.ToolName,
			Source:       inv.Source,
			Stage:        stage,
			StartedAt:    start,
			FinishedAt:   end,
		}
		if result.IsError {
			ev.Error = result.Content
		}
		emit(ev)
	}

	return InvocationResult{
		Index:      idx,
		Invocation: inv,
		Result:     result,
		StartTime:  start,
		EndTime:    end,
		TimedOut:   timedOut,
	}
}

func (o *Orchestrator) executeWithTimeout(ctx context.Context, inv models.ToolInvocation, timeout time.Duration) (ToolResult, bool) {
	type execResult struct {
		result *ToolResult
		err    error
	}

	resultChan := make(chan execResult, 1)

	go func() {
		var res execResult
		defer func() {
			if rec := recover(); rec != nil {
				res = execResult{err: fmt.Errorf("%w: %v", ErrToolPanic, rec)}
				o.logger.Error(ctx, "tool panicked",
					"tool", inv.ToolName,
					"panic", fmt.Sprint(rec),
					"stack", string(debug.Stack()),
				)
			}
			select {
			case resultChan <- res:
			default:
			}
		}()
		result, err := o.registry.Execute(ctx, inv.ToolName, inv.Arguments)
		res = execResult{result: result, err: err}
		if ctx.Err() != nil {
			o.logger.Warn(ctx, "tool execution completed after deadline, result discarded",
				"tool", inv.ToolName,
				"invocation_id", inv.ID,
			)
		}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ToolResult{
				Content:   fmt.Sprintf("tool execution timed out after %v", timeout),
				IsError:   true,
				ErrorKind: ToolErrorTimeout,
			}, true
		}
		return ToolResult{
			Content:   "tool execution canceled",
			IsError:   true,
			ErrorKind: ToolErrorCancelled,
		}, false
	case res := <-resultChan:
		if res.err != nil {
			toolErr := NewToolError(inv.ToolName, res.err).WithInvocationID(inv.ID)
			return *ErrorResult(toolErr), false
		}
		if res.result == nil {
			return ToolResult{}, false
		}
		out := *res.result
		if out.IsError && out.ErrorKind == ToolErrorNone {
			out.ErrorKind = ToolErrorExecution
		}
		return out, false
	}
}
