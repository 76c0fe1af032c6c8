package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// GrantLocker serializes the read-then-write critical section of a token
// refresh per grant key, so concurrent callers for the same connection make
// a single provider call between them.
type GrantLocker interface {
	Acquire(ctx context.Context, key string) (LockHandle, error)
}

// MemoryGrantLocker is an in-process blocking keyed mutex. Acquire waits for
// the current holder rather than failing, honoring context cancellation.
type MemoryGrantLocker struct {
	mu    sync.Mutex
	locks map[string]*grantLock
}

type grantLock struct {
	sem  chan struct{}
	refs int
}

func NewMemoryGrantLocker() *MemoryGrantLocker {
	return &MemoryGrantLocker{locks: make(map[string]*grantLock)}
}

func (l *MemoryGrantLocker) Acquire(ctx context.Context, key string) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: grant locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: grant key is required for lock acquisition")
	}

	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &grantLock{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
		return &grantLockHandle{locker: l, key: key, entry: entry}, nil
	case <-ctx.Done():
		l.release(key, entry)
		return nil, ctx.Err()
	}
}

func (l *MemoryGrantLocker) release(key string, entry *grantLock) {
	l.mu.Lock()
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

type grantLockHandle struct {
	locker *MemoryGrantLocker
	key    string
	entry  *grantLock
	once   sync.Once
}

func (h *grantLockHandle) Unlock(context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		<-h.entry.sem
		h.locker.release(h.key, h.entry)
	})
	return nil
}
