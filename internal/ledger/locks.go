package ledger

import "sync"

// accountLocks hands out one mutex per user so read-modify-write sequences
// on the same account never interleave. Entries are dropped once unused.
type accountLocks struct {
	mu    sync.Mutex
	locks map[int64]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[int64]*accountLock)}
}

// lock blocks until userID is free and returns the matching unlock.
func (a *accountLocks) lock(userID int64) func() {
	a.mu.Lock()
	l, ok := a.locks[userID]
	if !ok {
		l = &accountLock{}
		a.locks[userID] = l
	}
	l.refs++
	a.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		a.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.locks, userID)
		}
		a.mu.Unlock()
	}
}

func (a *accountLocks) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}
