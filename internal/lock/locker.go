// Package lock serializes work per catalog directory id. Locks for distinct
// ids never block each other and idle entries are released.
package lock

import (
	"context"
	"sync"
)

type Locker interface {
	Lock(id int64) Unlocker
	ContextLock(ctx context.Context, id int64) (Unlocker, error)
}

type Unlocker interface {
	Unlock()
}

type lock struct {
	sem    chan struct{}
	ref    uint64
	locker *locker
	id     int64
}

// Unlock implements Unlocker.
func (lck *lock) Unlock() {
	<-lck.sem
	lck.locker.release(lck)
}

type locker struct {
	mu sync.Mutex
	l  map[int64]*lock
}

func (l *locker) getOrCreate(id int64) *lock {
	l.mu.Lock()
	defer l.mu.Unlock()

	result, ok := l.l[id]
	if !ok {
		result = &lock{sem: make(chan struct{}, 1), locker: l, id: id}
		l.l[id] = result
	}
	result.ref++
	return result
}

// ContextLock implements Locker. It gives up when ctx is done.
func (l *locker) ContextLock(ctx context.Context, id int64) (Unlocker, error) {
	itemLock := l.getOrCreate(id)

	select {
	case itemLock.sem <- struct{}{}:
		return itemLock, nil
	case <-ctx.Done():
		l.release(itemLock)
		return nil, ctx.Err()
	}
}

// Lock implements Locker.
func (l *locker) Lock(id int64) Unlocker {
	itemLock := l.getOrCreate(id)
	itemLock.sem <- struct{}{}
	return itemLock
}

func (l *locker) release(lck *lock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lck.ref--
	if lck.ref == 0 {
		delete(l.l, lck.id)
	}
}

// held reports how many ids currently have waiters or holders
func (l *locker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.l)
}

func NewLocker() Locker {
	return &locker{
		l: map[int64]*lock{},
	}
}
