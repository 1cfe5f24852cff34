package models

import (
	"encoding/json"
	"time"
)

// InvocationSource tells who asked for a tool to run.
type InvocationSource string

const (
	SourcePolicy InvocationSource = "policy"
	SourceModel  InvocationSource = "model"
)

// ToolInvocation is a request to execute one registered tool.
type ToolInvocation struct {
	ID        string           `json:"id"`
	Source    InvocationSource `json:"source"`
	ToolName  string           `json:"tool_name"`
	Arguments json.RawMessage  `json:"arguments,omitempty"`

	// Refine asks the model to rewrite the tool text before it reaches the user.
	// Only meaningful for policy invocations.
	Refine bool `json:"refine,omitempty"`
}

// InvocationFromCall converts a model tool call into an invocation.
func InvocationFromCall(call ToolCall) ToolInvocation {
	return ToolInvocation{
		ID:        call.ID,
		Source:    SourceModel,
		ToolName:  call.Name,
		Arguments: call.Input,
	}
}

// ToolEventStage describes the lifecycle stage of a tool invocation for observability.
type ToolEventStage string

const (
	ToolEventStarted          ToolEventStage = "started"
	ToolEventSucceeded        ToolEventStage = "succeeded"
	ToolEventFailed           ToolEventStage = "failed"
	ToolEventConfirmationSent ToolEventStage = "confirmation_required"
)

// ToolEvent represents a lifecycle event for a tool call including timing and results.
type ToolEvent struct {
	InvocationID string           `json:"invocation_id"`
	ToolName     string           `json:"tool_name"`
	Source       InvocationSource `json:"source"`
	Stage        ToolEventStage   `json:"stage"`
	Error        string           `json:"error,omitempty"`
	StartedAt    time.Time        `json:"started_at,omitempty"`
	FinishedAt   time.Time        `json:"finished_at,omitempty"`
}
