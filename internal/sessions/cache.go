package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

// sessionView is the cached read state of one session.
type sessionView struct {
	entries []models.ContextEntry
	pending []models.PendingIntent
}

type generation struct {
	epoch uint64
	gen   uint64
}

// CachedStore fronts a Store with a per-session read cache. Every write
// invalidates the session; loads that raced with a write are discarded.
type CachedStore struct {
	inner Store
	cache *gocache.Cache
	group singleflight.Group
	now   Clock

	mu    sync.Mutex
	epoch uint64
	gens  map[string]uint64
}

// NewCachedStore caches session views for ttl. Expired views are never
// served; their memory is reclaimed by Sweep, so no cleanup goroutine runs.
func NewCachedStore(inner Store, ttl time.Duration, now Clock) *CachedStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &CachedStore{
		inner: inner,
		cache: gocache.New(ttl, 0),
		now:   now,
		gens:  map[string]uint64{},
	}
}

func (c *CachedStore) current(sessionID string) generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return generation{epoch: c.epoch, gen: c.gens[sessionID]}
}

func (c *CachedStore) invalidate(sessionID string) {
	c.mu.Lock()
	c.gens[sessionID]++
	c.mu.Unlock()
	c.cache.Delete(sessionID)
}

func (c *CachedStore) view(ctx context.Context, sessionID string) (*sessionView, error) {
	if v, ok := c.cache.Get(sessionID); ok {
		return v.(*sessionView), nil
	}
	g := c.current(sessionID)
	key := fmt.Sprintf("%s#%d.%d", sessionID, g.epoch, g.gen)
	v, err, _ := c.group.Do(key, func() (any, error) {
		entries, err := c.inner.Get(ctx, sessionID, "", "")
		if err != nil {
			return nil, err
		}
		pending, err := c.inner.ListPending(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		view := &sessionView{entries: entries, pending: pending}
		if c.current(sessionID) == g {
			c.cache.SetDefault(sessionID, view)
		}
		return view, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sessionView), nil
}

func (c *CachedStore) Set(ctx context.Context, entry models.ContextEntry) error {
	defer c.invalidate(entry.SessionID)
	return c.inner.Set(ctx, entry)
}

func (c *CachedStore) Get(ctx context.Context, sessionID, kind, key string) ([]models.ContextEntry, error) {
	view, err := c.view(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var out []models.ContextEntry
	for _, e := range view.entries {
		if (kind == "" || e.Kind == kind) && (key == "" || e.Key == key) {
			e.Extra = cloneExtra(e.Extra)
			out = append(out, e)
		}
	}
	return out, nil
}

func (c *CachedStore) Clear(ctx context.Context, sessionID, kind string) error {
	defer c.invalidate(sessionID)
	return c.inner.Clear(ctx, sessionID, kind)
}

func (c *CachedStore) Propose(ctx context.Context, p models.Proposal) (*models.PendingIntent, error) {
	defer c.invalidate(p.SessionID)
	return c.inner.Propose(ctx, p)
}

func (c *CachedStore) GetPending(ctx context.Context, sessionID, actionType string) (*models.PendingIntent, error) {
	view, err := c.view(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if c.stale(view) {
		c.invalidate(sessionID)
		return c.inner.GetPending(ctx, sessionID, actionType)
	}
	for i := range view.pending {
		if p := &view.pending[i]; p.ActionType == actionType {
			return cloneIntent(p), nil
		}
	}
	return nil, nil
}

func (c *CachedStore) ListPending(ctx context.Context, sessionID string) ([]models.PendingIntent, error) {
	view, err := c.view(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if c.stale(view) {
		c.invalidate(sessionID)
		return c.inner.ListPending(ctx, sessionID)
	}
	var out []models.PendingIntent
	for i := range view.pending {
		out = append(out, *cloneIntent(&view.pending[i]))
	}
	return out, nil
}

// stale reports whether a cached intent has passed its TTL. Such reads go to
// the backing store, which records the expiry.
func (c *CachedStore) stale(view *sessionView) bool {
	now := c.now()
	for i := range view.pending {
		if view.pending[i].Expired(now) {
			return true
		}
	}
	return false
}

// ConfirmAndConsume always goes to the backing store.
func (c *CachedStore) ConfirmAndConsume(ctx context.Context, sessionID, actionType string, expectedRevision int64) (json.RawMessage, error) {
	defer c.invalidate(sessionID)
	return c.inner.ConfirmAndConsume(ctx, sessionID, actionType, expectedRevision)
}

func (c *CachedStore) Cancel(ctx context.Context, sessionID, actionType string) error {
	defer c.invalidate(sessionID)
	return c.inner.Cancel(ctx, sessionID, actionType)
}

func (c *CachedStore) CancelAll(ctx context.Context, sessionID string) error {
	defer c.invalidate(sessionID)
	return c.inner.CancelAll(ctx, sessionID)
}

func (c *CachedStore) Intent(ctx context.Context, sessionID, actionType string) (*models.PendingIntent, error) {
	return c.inner.Intent(ctx, sessionID, actionType)
}

func (c *CachedStore) ClearSession(ctx context.Context, sessionID string) error {
	defer c.invalidate(sessionID)
	return c.inner.ClearSession(ctx, sessionID)
}

func (c *CachedStore) Sweep(ctx context.Context, retention time.Duration) (SweepResult, error) {
	defer func() {
		c.mu.Lock()
		c.epoch++
		c.mu.Unlock()
		c.cache.Flush()
	}()
	return c.inner.Sweep(ctx, retention)
}

func (c *CachedStore) Close() error {
	c.cache.Flush()
	return c.inner.Close()
}
