package agent

import (
	"context"
	"encoding/json"
	"time"
)

// Tool defines the interface for executable tools.
//
// Tools are synchronous from the orchestrator's point of view. Long-running
// work must honor ctx so the per-tool timeout can cut it short.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	// Must match ^[a-zA-Z0-9_-]{1,64}$.
	Name() string

	// Description returns a natural language description of what the tool does.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters. It feeds
	// both the model catalog and local argument validation.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// Prioritized tools sort ahead of others in the model catalog. Higher is earlier.
type Prioritized interface {
	Priority() int
}

// Internal tools only run for confirmed intents. They are never offered to the
// model, and model-sourced calls to them are refused.
type Internal interface {
	Internal() bool
}

func isInternal(t Tool) bool {
	i, ok := t.(Internal)
	return ok && i.Internal()
}

// ToolResult contains the output from a tool execution.
type ToolResult struct {
	// Content is the user-facing text of the result.
	Content string `json:"content"`

	// Payload is the structured result, if any.
	Payload json.RawMessage `json:"payload,omitempty"`

	IsError   bool          `json:"is_error,omitempty"`
	ErrorKind ToolErrorType `json:"error_kind,omitempty"`

	// RequiresConfirmation means the tool did not perform its side effect and
	// ProposedIntent describes the action to confirm on a later turn.
	RequiresConfirmation bool            `json:"requires_confirmation,omitempty"`
	ProposedIntent       *ProposedIntent `json:"proposed_intent,omitempty"`

	// ContextUpdates are session facts the tool learned, e.g. the current subject.
	ContextUpdates []ContextFact `json:"context_updates,omitempty"`
}

// Success reports whether the tool completed without error.
func (r *ToolResult) Success() bool {
	return r != nil && !r.IsError
}

// ProposedIntent is a side-effecting action a tool wants confirmed first.
type ProposedIntent struct {
	ActionType string `json:"action_type"`

	// ExecuteTool is the registered tool that performs the action. Payload is
	// passed to it verbatim as arguments.
	ExecuteTool string          `json:"execute_tool"`
	Payload     json.RawMessage `json:"payload"`
	Summary     string          `json:"summary"`

	// TTL overrides the default intent lifetime when non-zero.
	TTL time.Duration `json:"ttl,omitempty"`
}

// ContextFact is a (kind, key, value) triple for the session context store.
type ContextFact struct {
	Kind  string `json:"kind"`
	Key   string `json:"key"`
	Value string `json:"value"`
}
