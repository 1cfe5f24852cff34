package sessions

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

type countingStore struct {
	*MemoryStore
	loads atomic.Int32
}

func (c *countingStore) Get(ctx context.Context, sessionID, kind, key string) ([]models.ContextEntry, error) {
	c.loads.Add(1)
	return c.MemoryStore.Get(ctx, sessionID, kind, key)
}

func TestCachedStore_ServesRepeatReads(t *testing.T) {
	clock := newFakeClock()
	inner := &countingStore{MemoryStore: NewMemoryStore(WithMemoryClock(clock.Now))}
	cached := NewCachedStore(inner, time.Minute, clock.Now)
	ctx := context.Background()

	if err := cached.Set(ctx, models.ContextEntry{SessionID: "s1", Kind: "k", Key: "x", Value: "1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for i := 0; i < 3; i++ {
		if got, _ := cached.Get(ctx, "s1", "k", ""); len(got) != 1 {
			t.Fatalf("Get returned %d entries", len(got))
		}
	}
	if n := inner.loads.Load(); n != 1 {
		t.Errorf("loads = %d, want 1", n)
	}

	if err := cached.Set(ctx, models.ContextEntry{SessionID: "s1", Kind: "k", Key: "x", Value: "2"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, _ := cached.Get(ctx, "s1", "k", "x")
	if len(got) != 1 || got[0].Value != "2" {
		t.Fatalf("after write got %+v", got)
	}
	if n := inner.loads.Load(); n != 2 {
		t.Errorf("loads = %d, want 2", n)
	}
}

func TestCachedStore_ExpiresIntentsPastTTL(t *testing.T) {
	clock := newFakeClock()
	cached := NewCachedStore(NewMemoryStore(WithMemoryClock(clock.Now)), time.Hour, clock.Now)
	ctx := context.Background()

	if _, err := cached.Propose(ctx, proposal("s1", "send_message", time.Minute)); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if p, _ := cached.GetPending(ctx, "s1", "send_message"); p == nil {
		t.Fatal("GetPending = nil before expiry")
	}
	clock.Advance(61 * time.Second)

	if p, _ := cached.GetPending(ctx, "s1", "send_message"); p != nil {
		t.Errorf("GetPending served expired intent: %+v", p)
	}
	intent, err := cached.Intent(ctx, "s1", "send_message")
	if err != nil {
		t.Fatalf("Intent: %v", err)
	}
	if intent.Status != models.IntentExpired {
		t.Errorf("status = %q, want %q", intent.Status, models.IntentExpired)
	}

	if _, err := cached.Propose(ctx, proposal("s1", "create_declaration", time.Minute)); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if list, _ := cached.ListPending(ctx, "s1"); len(list) != 1 {
		t.Fatalf("ListPending = %+v", list)
	}
	clock.Advance(2 * time.Minute)
	if list, _ := cached.ListPending(ctx, "s1"); len(list) != 0 {
		t.Errorf("expired intent served from cache: %+v", list)
	}
	intent, _ = cached.Intent(ctx, "s1", "create_declaration")
	if intent == nil || intent.Status != models.IntentExpired {
		t.Errorf("intent after ListPending = %+v, want expired", intent)
	}
}

func TestCachedStore_CloseLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	cached := NewCachedStore(NewMemoryStore(), time.Second, nil)
	if _, err := cached.Get(context.Background(), "s1", "", ""); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := cached.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCachedStore_ReturnsCopies(t *testing.T) {
	clock := newFakeClock()
	cached := NewCachedStore(NewMemoryStore(WithMemoryClock(clock.Now)), time.Hour, clock.Now)
	ctx := context.Background()

	if _, err := cached.Propose(ctx, proposal("s1", "send_message", time.Hour)); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	first, _ := cached.GetPending(ctx, "s1", "send_message")
	first.Payload[0] = 'X'
	second, _ := cached.GetPending(ctx, "s1", "send_message")
	if second.Payload[0] != '{' {
		t.Errorf("cached payload was mutated: %s", second.Payload)
	}
}
