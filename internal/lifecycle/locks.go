package lifecycle

import "sync"

// lockTable serializes lifecycle operations per contract id. Two concurrent
// Activate/Complete/Refund calls on the same contract must not both reach the
// ledger; the status-conditional update in the repository is the second guard
// for callers in other processes.
type lockTable struct {
	mu    sync.Mutex
	locks map[int64]*lockEntry
}

// lockEntry is reference-counted: the entry is dropped when the last holder
// releases it, so the table size tracks contention, not the total number of
// contract ids ever touched.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: map[int64]*lockEntry{}}
}

// acquire locks the contract and returns the unlock func.
func (t *lockTable) acquire(id int64) func() {
	t.mu.Lock()
	e, ok := t.locks[id]
	if !ok {
		e = &lockEntry{}
		t.locks[id] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		t.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}

// size reports the number of live entries.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
