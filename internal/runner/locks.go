package runner

import (
	"context"
	"sync"
)

// LockRegistry serializes runs that share a resume token. Entries are
// reference counted and removed once the last holder or waiter is gone, so
// the table does not grow with the number of sessions ever seen.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

// NewLockRegistry returns an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]*sessionLock)}
}

// Acquire blocks until the lock for key is held or ctx is done. The
// returned release function is idempotent and must be called once the
// critical section ends.
func (r *LockRegistry) Acquire(ctx context.Context, key string) (func(), error) {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		r.drop(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-l.ch
			r.drop(key, l)
		})
	}
	return release, nil
}

func (r *LockRegistry) drop(key string, l *sessionLock) {
	r.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, key)
	}
	r.mu.Unlock()
}

// Len reports how many keys currently have holders or waiters.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
