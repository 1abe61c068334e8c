// Package locker serializes work on a key, in process or across processes through Redis.
package locker

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned when a lock could not be taken before the context ended.
var ErrNotAcquired = errors.New("lock not acquired")

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker hands out exclusive locks keyed by string.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Local is an in-process Locker backed by one mutex per key.
type Local struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{locks: make(map[string]*localLock)}
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()

	lock, ok := l.locks[key]
	if !ok {
		lock = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lock
	}

	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lock)

		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}

	var once sync.Once

	return func(context.Context) error {
		once.Do(func() {
			<-lock.ch
			l.release(key, lock)
		})

		return nil
	}, nil
}

func (l *Local) release(key string, lock *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
}
