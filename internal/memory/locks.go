package memory

import "sync"

// idLocks serializes mutations per memory id. Reads never take these locks;
// they tolerate a snapshot at most one in-flight mutation stale.
//
// Lock entries are reference-counted and removed once the last holder
// releases, so the map does not grow with the number of memories ever seen.
type idLocks struct {
	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

func newIDLocks() *idLocks {
	return &idLocks{locks: make(map[string]*idLock)}
}

// lock acquires the mutex for id and returns its unlock function.
func (l *idLocks) lock(id string) func() {
	l.mu.Lock()
	e, ok := l.locks[id]
	if !ok {
		e = &idLock{}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
