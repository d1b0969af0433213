package ledger

import "sync"

// lockArena hands out one RWMutex per group. Locks are created on first
// use and dropped once nobody holds or waits for them, so the arena only
// grows with the number of groups being touched concurrently.
type lockArena struct {
	mu    sync.Mutex
	locks map[string]*groupLock
}

type groupLock struct {
	sync.RWMutex
	refs int // guarded by lockArena.mu
}

func newLockArena() *lockArena {
	return &lockArena{locks: make(map[string]*groupLock)}
}

func (a *lockArena) acquire(groupID string) *groupLock {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[groupID]
	if !ok {
		l = &groupLock{}
		a.locks[groupID] = l
	}
	l.refs++
	return l
}

func (a *lockArena) release(groupID string, l *groupLock) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(a.locks, groupID)
	}
}

// lock takes the group's write lock and returns its release.
func (a *lockArena) lock(groupID string) (unlock func()) {
	l := a.acquire(groupID)
	l.Lock()
	return func() {
		l.Unlock()
		a.release(groupID, l)
	}
}

// rlock takes the group's read lock and returns its release.
func (a *lockArena) rlock(groupID string) (unlock func()) {
	l := a.acquire(groupID)
	l.RLock()
	return func() {
		l.RUnlock()
		a.release(groupID, l)
	}
}

// size reports how many groups currently have a live lock.
func (a *lockArena) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}
