package scenario

import "sync"

// lockTable hands out one RWMutex per scenario. The orchestrator is
// single-writer-per-scenario: read-only statements share the lock, any
// mutation holds it exclusively for the statement plus the post-mutation
// snapshot. No lock ever spans two scenarios.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.RWMutex)}
}

func (t *lockTable) get(scenarioID string) *sync.RWMutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[scenarioID]
	if !ok {
		l = &sync.RWMutex{}
		t.locks[scenarioID] = l
	}
	return l
}

func (t *lockTable) drop(scenarioID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locks, scenarioID)
}
