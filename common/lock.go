package common

import (
	"sync"
	"time"
)

// KeyedLock provides mutual exclusion scoped to a string key. Two
// goroutines holding different keys never block each other; two holding the
// same key are serialized. Used to guard aggregation-bucket
// read-modify-write cycles and per-resource proxy sections.
type KeyedLock interface {
	Lock(key string)
	// TryLock acquires the key or gives up after timeout.
	TryLock(key string, timeout time.Duration) bool
	Unlock(key string)
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

type keyedLock struct {
	mu   sync.Mutex
	held map[string]*lockEntry
}

func NewKeyedLock() KeyedLock {
	return &keyedLock{held: make(map[string]*lockEntry)}
}

func (l *keyedLock) acquire(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.held[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.held[key] = e
	}
	e.refs++
	return e
}

func (l *keyedLock) release(key string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs <= 0 {
		delete(l.held, key)
	}
}

func (l *keyedLock) Lock(key string) {
	e := l.acquire(key)
	e.ch <- struct{}{}
}

func (l *keyedLock) TryLock(key string, timeout time.Duration) bool {
	e := l.acquire(key)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case e.ch <- struct{}{}:
		return true
	case <-timer.C:
		l.release(key, e)
		return false
	}
}

func (l *keyedLock) Unlock(key string) {
	l.mu.Lock()
	e, ok := l.held[key]
	l.mu.Unlock()
	if !ok {
		return
	}
	<-e.ch
	l.release(key, e)
}
