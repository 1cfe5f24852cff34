package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2.0,
	}
}

func TestDo_Success(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})
	if res.Err != nil {
		t.Fatalf("expected no error, got %v", res.Err)
	}
	if res.Attempts != 1 || calls != 1 {
		t.Errorf("attempts=%d calls=%d, want 1/1", res.Attempts, calls)
	}
}

func TestDo_RetryThenSuccess(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if res.Err != nil {
		t.Fatalf("expected no error, got %v", res.Err)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
}

func TestDo_MaxAttempts(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return errors.New("always fails")
	})
	if res.Err == nil {
		t.Fatal("expected error")
	}
	if res.Attempts != 3 || calls != 3 {
		t.Errorf("attempts=%d calls=%d, want 3/3", res.Attempts, calls)
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	Do(context.Background(), Config{}, func() error {
		calls++
		return errors.New("fail")
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_PermanentStops(t *testing.T) {
	base := errors.New("constraint violation")
	calls := 0
	res := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return Permanent(base)
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !errors.Is(res.Err, base) {
		t.Errorf("expected wrapped base error, got %v", res.Err)
	}
}

func TestDo_RetryablePredicate(t *testing.T) {
	busy := errors.New("busy")
	cfg := fastConfig(5)
	cfg.Retryable = func(err error) bool { return errors.Is(err, busy) }

	calls := 0
	res := Do(context.Background(), cfg, func() error {
		calls++
		if calls == 1 {
			return busy
		}
		return errors.New("syntax error")
	})
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if res.Err == nil || errors.Is(res.Err, busy) {
		t.Errorf("expected the non-retryable error, got %v", res.Err)
	}
}

func TestDo_OnRetry(t *testing.T) {
	var seen []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error) { seen = append(seen, attempt) }

	Do(context.Background(), cfg, func() error { return errors.New("fail") })

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", seen)
	}
}

func TestDo_ContextCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	res := Do(ctx, fastConfig(3), func() error {
		calls++
		return nil
	})
	if calls != 0 {
		t.Errorf("expected no calls, got %d", calls)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", res.Err)
	}
}

func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Factor: 1}

	res := Do(ctx, cfg, func() error {
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", res.Err)
	}
	if res.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", res.Attempts)
	}
}

func TestDoWithValue(t *testing.T) {
	calls := 0
	v, res := DoWithValue(context.Background(), fastConfig(3), func() (int64, error) {
		calls++
		if calls < 2 {
			return -1, errors.New("busy")
		}
		return 7, nil
	})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if v != 7 {
		t.Errorf("value = %d, want 7", v)
	}
}

func TestDoWithValue_FailureKeepsZero(t *testing.T) {
	v, res := DoWithValue(context.Background(), fastConfig(2), func() (string, error) {
		return "partial", errors.New("fail")
	})
	if res.Err == nil {
		t.Fatal("expected error")
	}
	if v != "" {
		t.Errorf("value = %q, want empty", v)
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	if IsPermanent(errors.New("plain")) {
		t.Error("plain error reported permanent")
	}
	wrapped := errors.Join(errors.New("ctx"), Permanent(errors.New("bad")))
	if !IsPermanent(wrapped) {
		t.Error("joined permanent error not detected")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Millisecond},
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{10, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		got := Backoff(tt.attempt, 10*time.Millisecond, 100*time.Millisecond, 2)
		if got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
