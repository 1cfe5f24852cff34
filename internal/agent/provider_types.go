package agent

import (
	"context"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of one vendor API while presenting a
// unified streaming interface to the router. They must be safe for concurrent
// use and must not retry on their own: retry policy belongs to the router.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response. The channel is
	// closed after a chunk with Done or Error set.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// RequestShape selects between the two request layouts completion endpoints accept.
type RequestShape int

const (
	// ShapeStandard sends max_tokens and temperature.
	ShapeStandard RequestShape = iota
	// ShapeAlternate sends max_completion_tokens and omits sampling parameters.
	ShapeAlternate
)

func (s RequestShape) String() string {
	if s == ShapeAlternate {
		return "alternate"
	}
	return "standard"
}

// Alternate returns the other shape.
func (s RequestShape) Alternate() RequestShape {
	if s == ShapeAlternate {
		return ShapeStandard
	}
	return ShapeAlternate
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Model specifies which model to use. Empty selects the provider default.
	Model string `json:"model"`

	System string `json:"system,omitempty"`

	Messages []CompletionMessage `json:"messages"`

	Tools []Tool `json:"-"`

	// ToolChoice is "auto", "none" or "required". Empty means auto.
	ToolChoice string `json:"tool_choice,omitempty"`

	// Temperature is omitted from the wire request when nil or when Shape is ShapeAlternate.
	Temperature *float64 `json:"temperature,omitempty"`

	MaxTokens int `json:"max_tokens,omitempty"`

	Shape RequestShape `json:"-"`
}

// CompletionMessage represents a single message in the conversation history.
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk is a piece of a streamed completion.
type CompletionChunk struct {
	// Text is an incremental text delta.
	Text string `json:"text,omitempty"`

	// ToolCall is a fully accumulated tool call.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done marks the final chunk of the stream.
	Done bool `json:"done,omitempty"`

	// ToolCalls carries every tool call of the completion on the Done chunk.
	// Providers may leave it empty; the router fills it in.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	Error error `json:"-"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// ResponseKind tags a ModelResponse.
type ResponseKind string

const (
	ResponseText      ResponseKind = "text"
	ResponseToolCalls ResponseKind = "tool_calls"
)

// ModelResponse is a collected, non-streaming completion.
type ModelResponse struct {
	Text      string
	ToolCalls []models.ToolCall

	Provider string
	Model    string
	Profile  string
	Attempts int

	InputTokens  int
	OutputTokens int
}

// Kind reports whether the model asked for tools or answered in text.
func (r *ModelResponse) Kind() ResponseKind {
	if len(r.ToolCalls) > 0 {
		return ResponseToolCalls
	}
	return ResponseText
}

// Invocations converts the model's tool calls into invocations in model order.
func (r *ModelResponse) Invocations() []models.ToolInvocation {
	if len(r.ToolCalls) == 0 {
		return nil
	}
	out := make([]models.ToolInvocation, 0, len(r.ToolCalls))
	for _, call := range r.ToolCalls {
		out = append(out, models.InvocationFromCall(call))
	}
	return out
}
