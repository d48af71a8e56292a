package engine

import "sync"

// instanceLocks serializes commands per process instance inside one engine
type instanceLocks struct {
	mu   sync.Mutex
	held map[string]*instanceLock
}

type instanceLock struct {
	sync.Mutex
	refs int
}

func newInstanceLocks() *instanceLocks {
	return &instanceLocks{held: make(map[string]*instanceLock)}
}

// lock blocks until id is free and returns the release function
func (l *instanceLocks) lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.held[id]
	if !ok {
		entry = &instanceLock{}
		l.held[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.held, id)
		}
		l.mu.Unlock()
	}
}

// size reports how many instances are locked or waited on
func (l *instanceLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
