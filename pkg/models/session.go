package models

import (
	"encoding/json"
	"time"
)

// Well-known context kinds.
const (
	ContextCurrentSubject  = "current_subject"
	ContextCurrentCategory = "current_category"
	ContextModeWindow      = "mode_window"
)

// ContextEntry is one session-scoped fact. There is at most one entry per
// (SessionID, Kind, Key); later writes overwrite earlier ones.
type ContextEntry struct {
	SessionID string         `json:"session_id"`
	Kind      string         `json:"kind"`
	Key       string         `json:"key"`
	Value     string         `json:"value"`
	Extra     map[string]any `json:"extra,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
	Revision  int64          `json:"revision"`
}

// IntentStatus is the lifecycle state of a pending intent.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentConfirmed IntentStatus = "confirmed"
	IntentExpired   IntentStatus = "expired"
	IntentCancelled IntentStatus = "cancelled"
)

// PendingIntent is a side-effecting action waiting for the user to confirm it
// on a later turn. Only one intent exists per (SessionID, ActionType).
type PendingIntent struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	ActionType string          `json:"action_type"`
	Status     IntentStatus    `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Summary    string          `json:"summary,omitempty"`

	// ExecuteTool names the registered tool that performs the action once confirmed.
	ExecuteTool string `json:"execute_tool,omitempty"`

	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
	Revision  int64         `json:"revision"`
}

// ExpiresAt returns the instant after which the intent can no longer be confirmed.
func (p *PendingIntent) ExpiresAt() time.Time {
	return p.CreatedAt.Add(p.TTL)
}

// Expired reports whether the intent is past its TTL at now.
func (p *PendingIntent) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt())
}

// Proposal is the input to a propose operation.
type Proposal struct {
	SessionID   string
	ActionType  string
	Payload     json.RawMessage
	Summary     string
	ExecuteTool string
	TTL         time.Duration
}
