package sessions

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

type contextKey struct {
	kind string
	key  string
}

// MemoryStore is an in-process Store for tests and single-node runs.
type MemoryStore struct {
	mu       sync.Mutex
	now      Clock
	contexts map[string]map[contextKey]models.ContextEntry
	intents  map[string]map[string]*models.PendingIntent
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides time.Now.
func WithMemoryClock(c Clock) MemoryOption {
	return func(m *MemoryStore) { m.now = c }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		now:      time.Now,
		contexts: map[string]map[contextKey]models.ContextEntry{},
		intents:  map[string]map[string]*models.PendingIntent{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) Set(ctx context.Context, entry models.ContextEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := m.contexts[entry.SessionID]
	if bucket == nil {
		bucket = map[contextKey]models.ContextEntry{}
		m.contexts[entry.SessionID] = bucket
	}
	k := contextKey{kind: entry.Kind, key: entry.Key}
	entry.Revision = bucket[k].Revision + 1
	entry.UpdatedAt = m.now()
	entry.Extra = cloneExtra(entry.Extra)
	bucket[k] = entry
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, sessionID, kind, key string) ([]models.ContextEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ContextEntry
	for k, e := range m.contexts[sessionID] {
		if kind != "" && k.kind != kind {
			continue
		}
		if key != "" && k.key != key {
			continue
		}
		e.Extra = cloneExtra(e.Extra)
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (m *MemoryStore) Clear(ctx context.Context, sessionID, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if kind == "" {
		delete(m.contexts, sessionID)
		return nil
	}
	for k := range m.contexts[sessionID] {
		if k.kind == kind {
			delete(m.contexts[sessionID], k)
		}
	}
	return nil
}

func (m *MemoryStore) Propose(ctx context.Context, p models.Proposal) (*models.PendingIntent, error) {
	if err := validateProposal(p); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := m.intents[p.SessionID]
	if bucket == nil {
		bucket = map[string]*models.PendingIntent{}
		m.intents[p.SessionID] = bucket
	}
	var revision int64 = 1
	if prev := bucket[p.ActionType]; prev != nil {
		revision = prev.Revision + 1
	}
	intent := &models.PendingIntent{
		ID:          uuid.NewString(),
		SessionID:   p.SessionID,
		ActionType:  p.ActionType,
		Status:      models.IntentPending,
		Payload:     append(json.RawMessage(nil), payloadOrEmpty(p.Payload)...),
		Summary:     p.Summary,
		ExecuteTool: p.ExecuteTool,
		CreatedAt:   m.now(),
		TTL:         p.TTL,
		Revision:    revision,
	}
	bucket[p.ActionType] = intent
	return cloneIntent(intent), nil
}

// live returns the intent if it is pending and unexpired, expiring it
// otherwise. Callers hold mu.
func (m *MemoryStore) live(sessionID, actionType string, now time.Time) *models.PendingIntent {
	intent := m.intents[sessionID][actionType]
	if intent == nil || intent.Status != models.IntentPending {
		return nil
	}
	if intent.Expired(now) {
		intent.Status = models.IntentExpired
		return nil
	}
	return intent
}

func (m *MemoryStore) GetPending(ctx context.Context, sessionID, actionType string) (*models.PendingIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if intent := m.live(sessionID, actionType, m.now()); intent != nil {
		return cloneIntent(intent), nil
	}
	return nil, nil
}

func (m *MemoryStore) ListPending(ctx context.Context, sessionID string) ([]models.PendingIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []models.PendingIntent
	for actionType := range m.intents[sessionID] {
		if intent := m.live(sessionID, actionType, now); intent != nil {
			out = append(out, *cloneIntent(intent))
		}
	}
	sortIntents(out)
	return out, nil
}

func (m *MemoryStore) ConfirmAndConsume(ctx context.Context, sessionID, actionType string, expectedRevision int64) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent := m.live(sessionID, actionType, m.now())
	if intent == nil || intent.Revision != expectedRevision {
		return nil, nil
	}
	intent.Status = models.IntentConfirmed
	return append(json.RawMessage(nil), intent.Payload...), nil
}

func (m *MemoryStore) Cancel(ctx context.Context, sessionID, actionType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if intent := m.intents[sessionID][actionType]; intent != nil && intent.Status == models.IntentPending {
		intent.Status = models.IntentCancelled
	}
	return nil
}

func (m *MemoryStore) CancelAll(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelAllLocked(sessionID)
	return nil
}

func (m *MemoryStore) cancelAllLocked(sessionID string) {
	for _, intent := range m.intents[sessionID] {
		if intent.Status == models.IntentPending {
			intent.Status = models.IntentCancelled
		}
	}
}

func (m *MemoryStore) Intent(ctx context.Context, sessionID, actionType string) (*models.PendingIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent := m.intents[sessionID][actionType]
	if intent == nil {
		return nil, ErrNotFound
	}
	return cloneIntent(intent), nil
}

func (m *MemoryStore) ClearSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.contexts, sessionID)
	m.cancelAllLocked(sessionID)
	return nil
}

func (m *MemoryStore) Sweep(ctx context.Context, retention time.Duration) (SweepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res SweepResult
	now := m.now()
	cutoff := now.Add(-retention)
	for sessionID, bucket := range m.intents {
		for actionType, intent := range bucket {
			if intent.Status == models.IntentPending && intent.Expired(now) {
				intent.Status = models.IntentExpired
				res.Expired++
			}
			if intent.Status != models.IntentPending && intent.ExpiresAt().Before(cutoff) {
				delete(bucket, actionType)
				res.PurgedIntents++
			}
		}
		if len(bucket) == 0 {
			delete(m.intents, sessionID)
		}
	}
	for sessionID, bucket := range m.contexts {
		for k, e := range bucket {
			if e.UpdatedAt.Before(cutoff) {
				delete(bucket, k)
				res.PurgedContexts++
			}
		}
		if len(bucket) == 0 {
			delete(m.contexts, sessionID)
		}
	}
	return res, nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneIntent(p *models.PendingIntent) *models.PendingIntent {
	c := *p
	c.Payload = append(json.RawMessage(nil), p.Payload...)
	return &c
}

func cloneExtra(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// sortEntries orders newest first, then by key.
func sortEntries(entries []models.ContextEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
		}
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].Key < entries[j].Key
	})
}

func sortIntents(intents []models.PendingIntent) {
	sort.Slice(intents, func(i, j int) bool {
		if !intents[i].CreatedAt.Equal(intents[j].CreatedAt) {
			return intents[i].CreatedAt.After(intents[j].CreatedAt)
		}
		return intents[i].ActionType < intents[j].ActionType
	})
}
