package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type storeFactory func(t *testing.T, clock *fakeClock) Store

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, clock *fakeClock) Store {
			return NewMemoryStore(WithMemoryClock(clock.Now))
		},
		"sqlite": func(t *testing.T, clock *fakeClock) Store {
			store, err := Open(context.Background(), DBConfig{
				Driver:      "sqlite",
				DSN:         filepath.Join(t.TempDir(), "sessions.db"),
				AutoMigrate: true,
			}, WithClock(clock.Now))
			if err != nil {
				t.Fatalf("Open sqlite: %v", err)
			}
			t.Cleanup(func() { store.Close() })
			return store
		},
		"cached": func(t *testing.T, clock *fakeClock) Store {
			return NewCachedStore(NewMemoryStore(WithMemoryClock(clock.Now)), time.Minute, clock.Now)
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, store Store, clock *fakeClock)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			fn(t, factory(t, clock), clock)
		})
	}
}

func proposal(session, action string, ttl time.Duration) models.Proposal {
	return models.Proposal{
		SessionID:   session,
		ActionType:  action,
		Payload:     json.RawMessage(`{"to":"ana"}`),
		Summary:     "send to ana",
		ExecuteTool: "execute_" + action,
		TTL:         ttl,
	}
}

func TestStore_ContextSetGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		entry := models.ContextEntry{SessionID: "s1", Kind: models.ContextCurrentSubject, Key: "ref", Value: "REF-001"}
		if err := store.Set(ctx, entry); err != nil {
			t.Fatalf("Set: %v", err)
		}
		clock.Advance(time.Second)
		entry.Value = "REF-002"
		entry.Extra = map[string]any{"source": "lookup_status"}
		if err := store.Set(ctx, entry); err != nil {
			t.Fatalf("Set: %v", err)
		}

		got, err := store.Get(ctx, "s1", models.ContextCurrentSubject, "ref")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(got))
		}
		if got[0].Value != "REF-002" || got[0].Revision != 2 {
			t.Errorf("entry = %q rev %d, want REF-002 rev 2", got[0].Value, got[0].Revision)
		}
		if !got[0].UpdatedAt.Equal(t0.Add(time.Second)) {
			t.Errorf("UpdatedAt = %v, want %v", got[0].UpdatedAt, t0.Add(time.Second))
		}
		if got[0].Extra["source"] != "lookup_status" {
			t.Errorf("Extra = %v", got[0].Extra)
		}
	})
}

func TestStore_ContextNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		for _, key := range []string{"a", "b", "c"} {
			if err := store.Set(ctx, models.ContextEntry{SessionID: "s1", Kind: "note", Key: key, Value: key}); err != nil {
				t.Fatalf("Set: %v", err)
			}
			clock.Advance(time.Second)
		}
		if err := store.Set(ctx, models.ContextEntry{SessionID: "s1", Kind: "other", Key: "x", Value: "x"}); err != nil {
			t.Fatalf("Set: %v", err)
		}

		got, err := store.Get(ctx, "s1", "note", "")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		var keys []string
		for _, e := range got {
			keys = append(keys, e.Key)
		}
		if diff := cmp.Diff([]string{"c", "b", "a"}, keys); diff != "" {
			t.Errorf("keys mismatch (-want +got):\n%s", diff)
		}

		all, err := store.Get(ctx, "s1", "", "")
		if err != nil {
			t.Fatalf("Get all: %v", err)
		}
		if len(all) != 4 || all[0].Kind != "other" {
			t.Errorf("expected 4 entries with the newest first, got %+v", all)
		}
	})
}

func TestStore_ContextClear(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		for _, kind := range []string{"a", "b"} {
			if err := store.Set(ctx, models.ContextEntry{SessionID: "s1", Kind: kind, Key: "k", Value: "v"}); err != nil {
				t.Fatalf("Set: %v", err)
			}
		}
		if err := store.Clear(ctx, "s1", "a"); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		got, _ := store.Get(ctx, "s1", "", "")
		if len(got) != 1 || got[0].Kind != "b" {
			t.Fatalf("after Clear(a) got %+v", got)
		}
		if err := store.Clear(ctx, "s1", ""); err != nil {
			t.Fatalf("Clear all: %v", err)
		}
		got, _ = store.Get(ctx, "s1", "", "")
		if len(got) != 0 {
			t.Fatalf("after Clear all got %+v", got)
		}
	})
}

func TestStore_InvalidKeys(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		err := store.Set(ctx, models.ContextEntry{Kind: "k", Key: "x"})
		if !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Set without session: err = %v, want ErrInvalidKey", err)
		}
		if _, err := store.Propose(ctx, proposal("s1", "", time.Minute)); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Propose without action: err = %v, want ErrInvalidKey", err)
		}
		if _, err := store.Propose(ctx, proposal("s1", "send_message", 0)); err == nil {
			t.Error("Propose with zero ttl should fail")
		}
	})
}

func TestStore_ProposeRevisions(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		first, err := store.Propose(ctx, proposal("s1", "send_message", 10*time.Minute))
		if err != nil {
			t.Fatalf("Propose: %v", err)
		}
		if first.Revision != 1 || first.Status != models.IntentPending {
			t.Fatalf("first = rev %d status %s", first.Revision, first.Status)
		}

		clock.Advance(time.Second)
		second, err := store.Propose(ctx, proposal("s1", "send_message", 10*time.Minute))
		if err != nil {
			t.Fatalf("Propose: %v", err)
		}
		if second.Revision != 2 {
			t.Fatalf("second revision = %d, want 2", second.Revision)
		}
		if second.ID == first.ID {
			t.Error("replacement kept the old intent id")
		}

		stale, err := store.ConfirmAndConsume(ctx, "s1", "send_message", first.Revision)
		if err != nil || stale != nil {
			t.Fatalf("stale confirm = %s, %v; want nil, nil", stale, err)
		}

		payload, err := store.ConfirmAndConsume(ctx, "s1", "send_message", second.Revision)
		if err != nil {
			t.Fatalf("ConfirmAndConsume: %v", err)
		}
		var decoded map[string]string
		if err := json.Unmarshal(payload, &decoded); err != nil || decoded["to"] != "ana" {
			t.Fatalf("payload = %s (%v)", payload, err)
		}

		again, err := store.ConfirmAndConsume(ctx, "s1", "send_message", second.Revision)
		if err != nil || again != nil {
			t.Fatalf("double confirm = %s, %v; want nil, nil", again, err)
		}

		row, err := store.Intent(ctx, "s1", "send_message")
		if err != nil {
			t.Fatalf("Intent: %v", err)
		}
		if row.Status != models.IntentConfirmed {
			t.Errorf("status = %s, want confirmed", row.Status)
		}
		if pending, _ := store.GetPending(ctx, "s1", "send_message"); pending != nil {
			t.Errorf("confirmed intent still pending: %+v", pending)
		}

		third, err := store.Propose(ctx, proposal("s1", "send_message", 10*time.Minute))
		if err != nil {
			t.Fatalf("Propose: %v", err)
		}
		if third.Revision != 3 || third.Status != models.IntentPending {
			t.Errorf("third = rev %d status %s, want 3 pending", third.Revision, third.Status)
		}
	})
}

func TestStore_Expiry(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		intent, err := store.Propose(ctx, proposal("s1", "create_declaration", 10*time.Minute))
		if err != nil {
			t.Fatalf("Propose: %v", err)
		}

		clock.Advance(10 * time.Minute)
		if p, _ := store.GetPending(ctx, "s1", "create_declaration"); p == nil {
			t.Fatal("intent should still be pending at its expiry instant")
		}

		clock.Advance(time.Millisecond)
		if p, _ := store.GetPending(ctx, "s1", "create_declaration"); p != nil {
			t.Fatalf("expired intent returned: %+v", p)
		}
		payload, err := store.ConfirmAndConsume(ctx, "s1", "create_declaration", intent.Revision)
		if err != nil || payload != nil {
			t.Fatalf("confirm after expiry = %s, %v", payload, err)
		}
		list, _ := store.ListPending(ctx, "s1")
		if len(list) != 0 {
			t.Errorf("ListPending = %+v, want empty", list)
		}
	})
}

func TestStore_CancelIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		if err := store.Cancel(ctx, "s1", "send_message"); err != nil {
			t.Fatalf("Cancel on nothing: %v", err)
		}
		if _, err := store.Intent(ctx, "s1", "send_message"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Intent err = %v, want ErrNotFound", err)
		}

		if _, err := store.Propose(ctx, proposal("s1", "send_message", time.Minute)); err != nil {
			t.Fatalf("Propose: %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := store.Cancel(ctx, "s1", "send_message"); err != nil {
				t.Fatalf("Cancel: %v", err)
			}
		}
		row, err := store.Intent(ctx, "s1", "send_message")
		if err != nil {
			t.Fatalf("Intent: %v", err)
		}
		if row.Status != models.IntentCancelled {
			t.Errorf("status = %s, want cancelled", row.Status)
		}
	})
}

func TestStore_ListPendingNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		for _, action := range []string{"send_message", "create_declaration"} {
			if _, err := store.Propose(ctx, proposal("s1", action, time.Hour)); err != nil {
				t.Fatalf("Propose: %v", err)
			}
			clock.Advance(time.Second)
		}
		list, err := store.ListPending(ctx, "s1")
		if err != nil {
			t.Fatalf("ListPending: %v", err)
		}
		var got []string
		for _, p := range list {
			got = append(got, p.ActionType)
		}
		if diff := cmp.Diff([]string{"create_declaration", "send_message"}, got); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}

		if err := store.CancelAll(ctx, "s1"); err != nil {
			t.Fatalf("CancelAll: %v", err)
		}
		list, _ = store.ListPending(ctx, "s1")
		if len(list) != 0 {
			t.Errorf("after CancelAll got %+v", list)
		}
	})
}

func TestStore_SessionIsolation(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		if err := store.Set(ctx, models.ContextEntry{SessionID: "a", Kind: "k", Key: "x", Value: "1"}); err != nil {
			t.Fatalf("Set: %v", err)
		}
		intent, err := store.Propose(ctx, proposal("a", "send_message", time.Hour))
		if err != nil {
			t.Fatalf("Propose: %v", err)
		}

		if got, _ := store.Get(ctx, "b", "", ""); len(got) != 0 {
			t.Errorf("session b sees context: %+v", got)
		}
		if got, _ := store.ListPending(ctx, "b"); len(got) != 0 {
			t.Errorf("session b sees intents: %+v", got)
		}
		if payload, _ := store.ConfirmAndConsume(ctx, "b", "send_message", intent.Revision); payload != nil {
			t.Error("session b confirmed session a's intent")
		}
	})
}

func TestStore_ClearSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		if err := store.Set(ctx, models.ContextEntry{SessionID: "s1", Kind: models.ContextModeWindow, Key: "strict", Value: "x"}); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if _, err := store.Propose(ctx, proposal("s1", "send_message", time.Hour)); err != nil {
			t.Fatalf("Propose: %v", err)
		}
		if err := store.ClearSession(ctx, "s1"); err != nil {
			t.Fatalf("ClearSession: %v", err)
		}
		if got, _ := store.Get(ctx, "s1", "", ""); len(got) != 0 {
			t.Errorf("context survived: %+v", got)
		}
		if got, _ := store.ListPending(ctx, "s1"); len(got) != 0 {
			t.Errorf("intents survived: %+v", got)
		}
		row, err := store.Intent(ctx, "s1", "send_message")
		if err != nil || row.Status != models.IntentCancelled {
			t.Errorf("intent row = %+v, %v; want cancelled", row, err)
		}
	})
}

func TestStore_ConcurrentConfirmSingleWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		intent, err := store.Propose(ctx, proposal("s1", "send_message", time.Hour))
		if err != nil {
			t.Fatalf("Propose: %v", err)
		}

		const workers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				payload, err := store.ConfirmAndConsume(ctx, "s1", "send_message", intent.Revision)
				if err != nil {
					t.Errorf("ConfirmAndConsume: %v", err)
					return
				}
				if payload != nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Errorf("wins = %d, want exactly 1", wins)
		}
	})
}

func TestStore_Sweep(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		if err := store.Set(ctx, models.ContextEntry{SessionID: "s1", Kind: "k", Key: "x", Value: "1"}); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if _, err := store.Propose(ctx, proposal("s1", "send_message", time.Minute)); err != nil {
			t.Fatalf("Propose: %v", err)
		}

		clock.Advance(2 * time.Minute)
		res, err := store.Sweep(ctx, time.Hour)
		if err != nil {
			t.Fatalf("Sweep: %v", err)
		}
		if diff := cmp.Diff(SweepResult{Expired: 1}, res); diff != "" {
			t.Errorf("first sweep mismatch (-want +got):\n%s", diff)
		}

		clock.Advance(2 * time.Hour)
		res, err = store.Sweep(ctx, time.Hour)
		if err != nil {
			t.Fatalf("Sweep: %v", err)
		}
		if diff := cmp.Diff(SweepResult{PurgedIntents: 1, PurgedContexts: 1}, res); diff != "" {
			t.Errorf("second sweep mismatch (-want +got):\n%s", diff)
		}
		if _, err := store.Intent(ctx, "s1", "send_message"); !errors.Is(err, ErrNotFound) {
			t.Errorf("purged intent still readable: %v", err)
		}
	})
}
