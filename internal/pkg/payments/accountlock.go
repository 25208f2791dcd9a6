package payments

import "sync"

// accountLocks serializes state-machine work per account while letting events
// for different accounts proceed in parallel. Mutexes are kept for the
// lifetime of the process; the map is bounded by the number of paying
// accounts seen since startup.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for accountID and returns the unlock function.
func (a *accountLocks) Lock(accountID string) func() {
	a.mu.Lock()
	m, ok := a.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		a.locks[accountID] = m
	}
	a.mu.Unlock()

	m.Lock()
	return m.Unlock
}
