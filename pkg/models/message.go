package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation history handed to a turn.
type Message struct {
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the text of a tool execution as fed back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Turn is one user utterance addressed to a session.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Utterance string    `json:"utterance"`
	History   []Message `json:"history,omitempty"`

	// Profile pins the model profile for this turn. Empty lets the router classify.
	Profile string `json:"profile,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}
