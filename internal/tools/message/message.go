// Package message sends outbound messages about a process. Sending is
// proposed first and only happens once the user confirms it.
package message

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/tools/backend"
)

const (
	ActionType  = "send_message"
	ToolName    = "send_message"
	ExecuteName = "execute_send_message"
)

// maxPreview bounds the message body quoted in the confirmation summary.
const maxPreview = 80

type input struct {
	To   string `json:"to" jsonschema:"description=Recipient name or address"`
	Body string `json:"body" jsonschema:"description=Message text"`
	Ref  string `json:"ref,omitempty" jsonschema:"description=Optional process reference the message is about"`
}

func parseInput(params json.RawMessage) (backend.MessageRequest, *agent.ToolResult) {
	var in input
	if err := json.Unmarshal(params, &in); err != nil {
		return backend.MessageRequest{}, toolError(fmt.Sprintf("Invalid parameters: %v", err))
	}
	req := backend.MessageRequest{
		To:   strings.TrimSpace(in.To),
		Body: strings.TrimSpace(in.Body),
		Ref:  backend.NormalizeRef(in.Ref),
	}
	if req.To == "" {
		return req, toolError("to is required")
	}
	if req.Body == "" {
		return req, toolError("body is required")
	}
	return req, nil
}

// Tool proposes an outbound message.
type Tool struct {
	ttl time.Duration
}

// NewTool proposes intents that live for ttl; zero uses the store default.
func NewTool(ttl time.Duration) *Tool {
	return &Tool{ttl: ttl}
}

func (t *Tool) Name() string  { return ToolName }
func (t *Tool) Priority() int { return 30 }

func (t *Tool) Description() string {
	return "Prepare a message to a contact, optionally about a process. The user must confirm before it is sent."
}

func (t *Tool) Schema() json.RawMessage { return agent.SchemaFor[input]() }

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	req, failed := parseInput(params)
	if failed != nil {
		return failed, nil
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return toolError(fmt.Sprintf("encode payload: %v", err)), nil
	}

	preview := req.Body
	if r := []rune(preview); len(r) > maxPreview {
		preview = string(r[:maxPreview]) + "…"
	}
	summary := fmt.Sprintf("Enviar mensagem para %s: %q", req.To, preview)
	return &agent.ToolResult{
		Content:              summary,
		RequiresConfirmation: true,
		ProposedIntent: &agent.ProposedIntent{
			ActionType:  ActionType,
			ExecuteTool: ExecuteName,
			Payload:     payload,
			Summary:     summary,
			TTL:         t.ttl,
		},
	}, nil
}

// ExecuteTool sends a confirmed message through the backend.
type ExecuteTool struct {
	backend backend.Backend
}

func NewExecuteTool(b backend.Backend) *ExecuteTool {
	return &ExecuteTool{backend: b}
}

func (t *ExecuteTool) Name() string   { return ExecuteName }
func (t *ExecuteTool) Internal() bool { return true }

func (t *ExecuteTool) Description() string { return "Send a confirmed message." }

func (t *ExecuteTool) Schema() json.RawMessage { return agent.SchemaFor[input]() }

func (t *ExecuteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	req, failed := parseInput(params)
	if failed != nil {
		return failed, nil
	}
	msg, err := t.backend.SendMessage(ctx, req)
	if err != nil {
		return toolError(fmt.Sprintf("send message: %v", err)), nil
	}
	payload, err := json.Marshal(map[string]string{
		"status":     "sent",
		"message_id": msg.ID,
	})
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{
		Content: fmt.Sprintf("Mensagem enviada para %s.", msg.To),
		Payload: payload,
	}, nil
}

func toolError(message string) *agent.ToolResult {
	return &agent.ToolResult{Content: message, IsError: true, ErrorKind: agent.ToolErrorInvalidInput}
}
