package lock

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrLockNotAcquired = errors.New("scope lock not acquired")
)

// Locker serializes critical sections per key. Callers holding different keys
// never wait on each other.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Local is an in-process keyed mutex used when no Redis is configured.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	s := l.acquireSlot(key)
	defer l.releaseSlot(key, s)

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		return errors.Join(ErrLockNotAcquired, ctx.Err())
	}
	defer func() { <-s.ch }()

	return fn(ctx)
}

func (l *Local) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) releaseSlot(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
