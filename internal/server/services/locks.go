package services

import "sync"

// pathLocks serializes writes per (principal, path). Version numbering must
// be gapless within a file, so two concurrent writes to the same file cannot
// both read the current version number; writes to different files proceed in
// parallel. Entries are reference-counted and removed when idle, so the map
// does not grow with the number of files ever written.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

func (l *pathLocks) lock(key string) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &pathLock{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

func (l *pathLocks) unlock(key string) {
	l.mu.Lock()
	entry := l.locks[key]
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()

	entry.mu.Unlock()
}
