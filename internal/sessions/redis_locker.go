package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client the locker needs.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// releaseScript deletes the key only if this holder still owns it.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// extendScript pushes the lease expiry out only if this holder still owns it.
const extendScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`

// RedisLockerConfig configures a RedisLocker.
type RedisLockerConfig struct {
	Prefix         string
	TTL            time.Duration
	AcquireTimeout time.Duration
	PollInterval   time.Duration
	// RenewInterval is how often a held lease is extended to TTL. Defaults
	// to TTL/3.
	RenewInterval time.Duration
}

func DefaultRedisLockerConfig() RedisLockerConfig {
	return RedisLockerConfig{
		Prefix:         "chatia:session-lock:",
		TTL:            2 * time.Minute,
		AcquireTimeout: 10 * time.Second,
		PollInterval:   50 * time.Millisecond,
	}
}

// RedisLocker serializes a session's turns across processes with a
// SET NX PX lease. The lease is extended while held, so a turn may outlive TTL;
// TTL only bounds how long a crashed holder blocks the session.
type RedisLocker struct {
	client RedisClient
	cfg    RedisLockerConfig

	mu     sync.Mutex
	leases map[string]*lease
}

type lease struct {
	token string
	stop  chan struct{}
	done  chan struct{}
}

func NewRedisLocker(client RedisClient, cfg RedisLockerConfig) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	def := DefaultRedisLockerConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RenewInterval <= 0 || cfg.RenewInterval >= cfg.TTL {
		cfg.RenewInterval = cfg.TTL / 3
	}
	return &RedisLocker{client: client, cfg: cfg, leases: map[string]*lease{}}, nil
}

func (l *RedisLocker) key(sessionID string) string { return l.cfg.Prefix + sessionID }

func (l *RedisLocker) Lock(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.AcquireTimeout)
	defer cancel()

	token := uuid.NewString()
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, l.key(sessionID), token, l.cfg.TTL).Result()
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			ls := &lease{token: token, stop: make(chan struct{}), done: make(chan struct{})}
			l.mu.Lock()
			l.leases[sessionID] = ls
			l.mu.Unlock()
			go l.renew(sessionID, ls)
			return nil
		}
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return ErrLockTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// renew extends the lease until Unlock or until another holder owns the key.
func (l *RedisLocker) renew(sessionID string, ls *lease) {
	defer close(ls.done)
	ticker := time.NewTicker(l.cfg.RenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ls.stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.RenewInterval)
		n, err := l.client.Eval(ctx, extendScript, []string{l.key(sessionID)}, ls.token, l.cfg.TTL.Milliseconds()).Int64()
		cancel()
		if err == nil && n == 0 {
			return
		}
	}
}

func (l *RedisLocker) Unlock(sessionID string) {
	l.mu.Lock()
	ls, ok := l.leases[sessionID]
	delete(l.leases, sessionID)
	l.mu.Unlock()
	if !ok {
		return
	}
	close(ls.stop)
	<-ls.done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.client.Eval(ctx, releaseScript, []string{l.key(sessionID)}, ls.token).Err()
}
