package service

import "sync"

// leaseLocks hands out one mutex per lease id. Entries are dropped once no
// goroutine holds or waits on them.
type leaseLocks struct {
	mu    sync.Mutex
	locks map[string]*leaseLock
}

type leaseLock struct {
	mu   sync.Mutex
	refs int
}

func newLeaseLocks() *leaseLocks {
	return &leaseLocks{locks: make(map[string]*leaseLock)}
}

// lock blocks until leaseID is free and returns the matching unlock func.
func (l *leaseLocks) lock(leaseID string) func() {
	l.mu.Lock()
	ll, ok := l.locks[leaseID]
	if !ok {
		ll = &leaseLock{}
		l.locks[leaseID] = ll
	}
	ll.refs++
	l.mu.Unlock()

	ll.mu.Lock()

	return func() {
		ll.mu.Unlock()

		l.mu.Lock()
		ll.refs--
		if ll.refs == 0 {
			delete(l.locks, leaseID)
		}
		l.mu.Unlock()
	}
}

func (l *leaseLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
