// Package sessions persists per-session conversation state: context facts
// and pending intents awaiting confirmation.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("sessions: not found")

	// ErrInvalidKey is returned when a required key part is empty.
	ErrInvalidKey = errors.New("sessions: invalid key")
)

// ContextStore holds session-scoped facts, one row per (session, kind, key).
type ContextStore interface {
	// Set upserts the entry, bumping its revision.
	Set(ctx context.Context, entry models.ContextEntry) error

	// Get returns entries of kind, newest first. An empty key returns every
	// key of the kind.
	Get(ctx context.Context, sessionID, kind, key string) ([]models.ContextEntry, error)

	// Clear deletes entries of kind. An empty kind deletes every kind.
	Clear(ctx context.Context, sessionID, kind string) error
}

// IntentStore holds at most one pending intent per (session, action type).
type IntentStore interface {
	// Propose replaces any intent of the same action type with a new pending
	// one whose revision is the previous revision plus one.
	Propose(ctx context.Context, p models.Proposal) (*models.PendingIntent, error)

	// GetPending returns the live pending intent, or nil if there is none.
	// Expired intents are marked expired on the way.
	GetPending(ctx context.Context, sessionID, actionType string) (*models.PendingIntent, error)

	// ListPending returns every live pending intent of the session, newest first.
	ListPending(ctx context.Context, sessionID string) ([]models.PendingIntent, error)

	// ConfirmAndConsume moves the intent from pending to confirmed if its
	// revision still matches and it has not expired, returning its payload.
	// A mismatch returns nil, nil.
	ConfirmAndConsume(ctx context.Context, sessionID, actionType string, expectedRevision int64) (json.RawMessage, error)

	// Cancel cancels the pending intent of the action type. Idempotent.
	Cancel(ctx context.Context, sessionID, actionType string) error

	// CancelAll cancels every pending intent of the session.
	CancelAll(ctx context.Context, sessionID string) error

	// Intent returns the row for the action type whatever its status.
	Intent(ctx context.Context, sessionID, actionType string) (*models.PendingIntent, error)
}

// SweepResult counts rows touched by a maintenance sweep.
type SweepResult struct {
	Expired        int64
	PurgedIntents  int64
	PurgedContexts int64
}

// Store is the full session persistence surface.
type Store interface {
	ContextStore
	IntentStore

	// ClearSession deletes all context and cancels all pending intents of
	// the session atomically.
	ClearSession(ctx context.Context, sessionID string) error

	// Sweep marks overdue intents expired and deletes finished intents and
	// idle context older than retention.
	Sweep(ctx context.Context, retention time.Duration) (SweepResult, error)

	Close() error
}

// Clock returns the current time. Stores take one so expiry is testable.
type Clock func() time.Time

func requireKey(parts ...string) error {
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return ErrInvalidKey
		}
	}
	return nil
}

func validateEntry(e models.ContextEntry) error {
	if err := requireKey(e.SessionID, e.Kind, e.Key); err != nil {
		return fmt.Errorf("context entry %s/%s/%s: %w", e.SessionID, e.Kind, e.Key, err)
	}
	return nil
}

func validateProposal(p models.Proposal) error {
	if err := requireKey(p.SessionID, p.ActionType); err != nil {
		return fmt.Errorf("proposal %s/%s: %w", p.SessionID, p.ActionType, err)
	}
	if p.TTL <= 0 {
		return fmt.Errorf("proposal %s/%s: ttl must be positive", p.SessionID, p.ActionType)
	}
	return nil
}

func payloadOrEmpty(p json.RawMessage) json.RawMessage {
	if len(p) == 0 {
		return json.RawMessage(`{}`)
	}
	return p
}
