package guard

import "sync"

// LockSet provides process-wide named locks. A job holds its lock for its
// full duration, so an invocation can never overlap itself; TryAcquire never
// blocks.
type LockSet struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLockSet creates an empty lock set.
func NewLockSet() *LockSet {
	return &LockSet{held: make(map[string]bool)}
}

// TryAcquire takes the named lock if free. Returns false if already held.
func (ls *LockSet) TryAcquire(name string) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.held[name] {
		return false
	}
	ls.held[name] = true
	return true
}

// Release frees the named lock. Releasing an unheld lock is a no-op.
func (ls *LockSet) Release(name string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.held, name)
}

// Held reports whether the named lock is currently taken.
func (ls *LockSet) Held(name string) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.held[name]
}
