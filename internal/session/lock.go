package session

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/brand-assistant/backend/internal/models"
)

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

// Locker hands out one exclusive lock per session key. Waiting on one key never
// delays another, and idle keys are forgotten.
type Locker struct {
	mu    sync.Mutex
	locks map[models.SessionKey]*keyLock
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[models.SessionKey]*keyLock)}
}

// Lock blocks until key is free or ctx is done. The returned func releases the
// lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, key models.SessionKey) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: semaphore.NewWeighted(1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	if err := kl.sem.Acquire(ctx, 1); err != nil {
		l.release(key, kl, false)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, kl, true) })
	}, nil
}

func (l *Locker) release(key models.SessionKey, kl *keyLock, held bool) {
	if held {
		kl.sem.Release(1)
	}
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// Held reports how many keys currently have holders or waiters.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
