package memory

import (
	"context"
	"sync"
)

// keyLocks hands out exclusive locks by name. Waiting for a lock honours
// context cancellation, and idle entries are dropped once nobody holds or
// waits for them.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{m: make(map[string]*keyLock)}
}

func (k *keyLocks) acquire(ctx context.Context, key string) error {
	k.mu.Lock()
	l, ok := k.m[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.m[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.drop(key, false)
		return ctx.Err()
	}
}

func (k *keyLocks) release(key string) {
	k.drop(key, true)
}

func (k *keyLocks) drop(key string, held bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l := k.m[key]
	if held {
		<-l.ch
	}
	l.refs--
	if l.refs == 0 {
		delete(k.m, key)
	}
}
