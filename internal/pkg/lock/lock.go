// Package lock provides keyed mutual exclusion for in-process critical sections,
// such as the per-battle join/submit path.
package lock

import (
	"context"
	"sync"
	"time"
)

// keyMutex is a one-slot semaphore with a reference count covering the
// holder and every waiter, so idle keys can be dropped from the map.
type keyMutex struct {
	ch   chan struct{}
	refs int
}

// KeyLock provides one mutex per key. Entries are created on demand and
// removed once nobody holds or waits for them.
type KeyLock[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*keyMutex
}

// NewKeyLock creates a new KeyLock instance.
func NewKeyLock[K comparable]() *KeyLock[K] {
	return &KeyLock[K]{entries: make(map[K]*keyMutex)}
}

// ref retrieves or creates the mutex for key and registers interest in it.
func (kl *KeyLock[K]) ref(key K) *keyMutex {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m, ok := kl.entries[key]
	if !ok {
		m = &keyMutex{ch: make(chan struct{}, 1)}
		kl.entries[key] = m
	}
	m.refs++
	return m
}

func (kl *KeyLock[K]) unref(key K, m *keyMutex) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m.refs--
	if m.refs == 0 {
		delete(kl.entries, key)
	}
}

// Lock acquires the lock for key, blocking until it is available.
func (kl *KeyLock[K]) Lock(key K) {
	m := kl.ref(key)
	m.ch <- struct{}{}
}

// LockContext acquires the lock for key or returns ctx.Err() if ctx ends first.
func (kl *KeyLock[K]) LockContext(ctx context.Context, key K) error {
	m := kl.ref(key)
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		kl.unref(key, m)
		return ctx.Err()
	}
}

// TryLock attempts to acquire the lock without blocking.
func (kl *KeyLock[K]) TryLock(key K) bool {
	m := kl.ref(key)
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		kl.unref(key, m)
		return false
	}
}

// Unlock releases the lock for key. Unlocking a key that is not held is a no-op.
func (kl *KeyLock[K]) Unlock(key K) {
	kl.mu.Lock()
	m, ok := kl.entries[key]
	kl.mu.Unlock()
	if !ok {
		return
	}

	select {
	case <-m.ch:
		kl.unref(key, m)
	default:
	}
}

// WithLock executes fn while holding the lock for key.
func (kl *KeyLock[K]) WithLock(key K, fn func() error) error {
	kl.Lock(key)
	defer kl.Unlock(key)
	return fn()
}

// WithLockContext executes fn while holding the lock for key. It gives up
// with ErrLockTimeout after timeout, or with ctx.Err() if ctx is cancelled
// while waiting.
func (kl *KeyLock[K]) WithLockContext(ctx context.Context, key K, timeout time.Duration, fn func() error) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := kl.LockContext(waitCtx, key); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrLockTimeout
	}
	defer kl.Unlock(key)

	return fn()
}

// IsLocked checks if key is currently held.
// Note: This is a point-in-time check and may change immediately after.
func (kl *KeyLock[K]) IsLocked(key K) bool {
	kl.mu.Lock()
	m, ok := kl.entries[key]
	kl.mu.Unlock()
	return ok && len(m.ch) == 1
}

// Len returns the number of keys currently held or awaited.
func (kl *KeyLock[K]) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.entries)
}
