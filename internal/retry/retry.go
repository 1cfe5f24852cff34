// Package retry re-runs transient storage and transport operations with
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts counts the first call.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	Jitter       bool

	// Retryable decides whether an error is worth another attempt. Nil
	// retries everything not marked Permanent.
	Retryable func(error) bool

	// OnRetry is called before each sleep with the attempt that failed.
	OnRetry func(attempt int, err error)
}

// DefaultConfig suits short lock contention on a local database.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Factor:       2.0,
		Jitter:       true,
	}
}

// Result reports what Do did.
type Result struct {
	Attempts int
	Err      error
	Duration time.Duration
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 20 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
	return c
}

func (c Config) shouldRetry(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if c.Retryable == nil {
		return true
	}
	return c.Retryable(err)
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done.
func Do(ctx context.Context, cfg Config, op func() error) Result {
	cfg = cfg.normalized()
	start := time.Now()
	var res Result

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}

		err := op()
		res.Err = err
		if err == nil || !cfg.shouldRetry(err) || attempt == cfg.MaxAttempts {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		sleep := Backoff(attempt, cfg.InitialDelay, cfg.MaxDelay, cfg.Factor)
		if cfg.Jitter {
			sleep = time.Duration(float64(sleep) * (0.5 + rand.Float64())) // #nosec G404 -- jitter only
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Err = ctx.Err()
			res.Duration = time.Since(start)
			return res
		case <-timer.C:
		}
	}

	res.Duration = time.Since(start)
	return res
}

// DoWithValue is Do for operations that return a value.
func DoWithValue[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, Result) {
	var value T
	res := Do(ctx, cfg, func() error {
		v, err := op()
		if err == nil {
			value = v
		}
		return err
	})
	return value, res
}

// PermanentError stops Do immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Backoff returns the un-jittered delay after the given failed attempt.
func Backoff(attempt int, initial, max time.Duration, factor float64) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	delay := float64(initial) * math.Pow(factor, float64(attempt-1))
	if delay > float64(max) {
		delay = float64(max)
	}
	return time.Duration(delay)
}
