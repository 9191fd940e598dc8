package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/taskgraph/internal/core/clock"
	"github.com/vietddude/taskgraph/internal/infra/lock"
)

const (
	defaultLockTTL  = 30 * time.Second
	defaultLockPoll = 50 * time.Millisecond
)

// releaseScript deletes the lock only while it still holds our token, so an
// expired holder cannot release a lock taken over by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out only while the lock still holds our
// token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker is a lock.Locker shared by every process using the same Redis.
// A held lock is renewed every third of its ttl until released, so the ttl
// only bounds how long a crashed holder blocks everyone else.
type Locker struct {
	client *Client
	ttl    time.Duration
	poll   time.Duration
	clock  clock.Clock
	log    *slog.Logger
}

var _ lock.Locker = (*Locker)(nil)

// NewLocker creates a distributed locker. Locks expire after ttl if the
// holder dies without releasing.
func NewLocker(client *Client, ttl time.Duration, clk clock.Clock, log *slog.Logger) *Locker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Locker{client: client, ttl: ttl, poll: defaultLockPoll, clock: clk, log: log}
}

// AcquireLock makes one attempt to take key.
func (l *Locker) AcquireLock(ctx context.Context, key, token string) (bool, error) {
	ok, err := l.client.rdb.SetNX(ctx, lockKey(key), token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseLock releases key if token still owns it.
func (l *Locker) ReleaseLock(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.client.rdb, []string{lockKey(key)}, token).Err()
}

// ExtendLock resets the expiry of key to the lock ttl if token still owns
// it. It reports false when the lock has expired or changed hands.
func (l *Locker) ExtendLock(ctx context.Context, key, token string) (bool, error) {
	n, err := extendScript.Run(ctx, l.client.rdb, []string{lockKey(key)}, token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extend failed: %w", err)
	}
	return n == 1, nil
}

// Lock polls until key is acquired or ctx is done. The lease is renewed in
// the background until the returned func is called.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := l.AcquireLock(ctx, key, token)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.clock.After(l.poll):
		}
	}

	stop := make(chan struct{})
	go l.keepAlive(stop, l.clock.NewTicker(renewInterval(l.ttl)), key, func(ctx context.Context) (bool, error) {
		return l.ExtendLock(ctx, key, token)
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			// Release even if the caller's ctx is already cancelled.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.ReleaseLock(rctx, key, token); err != nil {
				l.log.Warn("Failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}

// keepAlive calls extend on every tick until stop is closed or the lease is
// found to belong to someone else.
func (l *Locker) keepAlive(stop <-chan struct{}, ticker clock.Ticker, key string, extend func(context.Context) (bool, error)) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			ctx, cancel := context.WithTimeout(context.Background(), renewInterval(l.ttl))
			ok, err := extend(ctx)
			cancel()
			switch {
			case err != nil:
				l.log.Warn("Failed to extend lock", "key", key, "error", err)
			case !ok:
				l.log.Error("Lost lock before release", "key", key)
				return
			}
		}
	}
}

func renewInterval(ttl time.Duration) time.Duration {
	if d := ttl / 3; d > 0 {
		return d
	}
	return time.Millisecond
}
