package sessions

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a session lock cannot be acquired in time.
var ErrLockTimeout = errors.New("sessions: lock timeout")

// Locker serializes turns of the same session.
type Locker interface {
	Lock(ctx context.Context, sessionID string) error
	Unlock(sessionID string)
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is a process-local Locker. Entries are reference counted and
// dropped when no goroutine holds or waits for them.
type LocalLocker struct {
	mu      sync.Mutex
	locks   map[string]*sessionLock
	timeout time.Duration
}

// NewLocalLocker bounds each Lock call by timeout; zero waits on ctx only.
func NewLocalLocker(timeout time.Duration) *LocalLocker {
	return &LocalLocker{locks: map[string]*sessionLock{}, timeout: timeout}
}

func (l *LocalLocker) acquireRef(sessionID string) *sessionLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock := l.locks[sessionID]
	if lock == nil {
		lock = &sessionLock{ch: make(chan struct{}, 1)}
		l.locks[sessionID] = lock
	}
	lock.refs++
	return lock
}

func (l *LocalLocker) releaseRef(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock := l.locks[sessionID]
	if lock == nil {
		return
	}
	lock.refs--
	if lock.refs <= 0 {
		delete(l.locks, sessionID)
	}
}

func (l *LocalLocker) Lock(ctx context.Context, sessionID string) error {
	lock := l.acquireRef(sessionID)

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	select {
	case lock.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.releaseRef(sessionID)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrLockTimeout
		}
		return ctx.Err()
	}
}

func (l *LocalLocker) Unlock(sessionID string) {
	l.mu.Lock()
	lock := l.locks[sessionID]
	l.mu.Unlock()
	if lock == nil {
		return
	}
	select {
	case <-lock.ch:
		l.releaseRef(sessionID)
	default:
	}
}

// Len reports how many sessions have holders or waiters.
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
