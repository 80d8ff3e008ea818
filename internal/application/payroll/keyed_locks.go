package payroll

import "sync"

// keyedLocks serializes work per key. An entry lives only while some caller
// holds or waits for it, so ids that are seen once do not accumulate.
type keyedLocks[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until key is free and returns the release func
func (l *keyedLocks[K]) lock(key K) func() {
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[K]*keyedLock)
	}
	e, ok := l.entries[key]
	if !ok {
		e = &keyedLock{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.entries, key)
			}
			l.mu.Unlock()
		})
	}
}

// held returns the number of keys currently locked or awaited
func (l *keyedLocks[K]) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
