package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/govease-queue/internal/lock"
)

const retryInterval = 25 * time.Millisecond

// ScopeLocker guards token allocation per (center, department) across API
// instances with a per key Redis lock.
type ScopeLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

var _ lock.Locker = (*ScopeLocker)(nil)

// NewScopeLocker creates a locker that holds a key for at most ttl and waits
// up to wait for a busy key before giving up.
func NewScopeLocker(client *redis.Client, ttl, wait time.Duration) *ScopeLocker {
	return &ScopeLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func (l *ScopeLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	redisKey := fmt.Sprintf("lock:%s", key)
	token := uuid.NewString()

	if err := l.acquire(ctx, redisKey, token); err != nil {
		return err
	}

	defer func() {
		// released with a fresh context so a cancelled request still frees the key
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, redisKey, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *ScopeLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire scope lock: %w", err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return lock.ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return errors.Join(lock.ErrLockNotAcquired, ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *ScopeLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release scope lock: %w", err)
	}
	return nil
}
