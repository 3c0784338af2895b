// Package lockmgr provides named mutexes keyed by (group, entity).
//
// Every ledger-mutating operation must hold the lock for each entity it
// touches. Operations spanning several entities acquire all locks up front
// in lexicographic key order; that total ordering is the only thing
// preventing deadlock, so callers must go through AcquireAll or AcquirePair
// rather than nesting Acquire calls themselves.
package lockmgr

import (
	"sort"
	"sync"
)

type Manager struct {
	namespace string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(namespace string) *Manager {
	return &Manager{
		namespace: namespace,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (m *Manager) key(group, entity string) string {
	return m.namespace + "/" + group + "/" + entity
}

func (m *Manager) lockFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// Acquire locks (group, entity) and returns the release function. Callers
// defer the release so every exit path unlocks.
func (m *Manager) Acquire(group, entity string) func() {
	l := m.lockFor(m.key(group, entity))
	l.Lock()
	return l.Unlock
}

// AcquirePair locks both entities in lexicographic key order and returns a
// single release for both. Locking the same entity twice would self-deadlock,
// so a == b degrades to a single Acquire.
func (m *Manager) AcquirePair(group, a, b string) func() {
	return m.AcquireAll(group, a, b)
}

// AcquireAll locks every listed entity in lexicographic key order and
// returns a single release that unlocks in reverse. Duplicates collapse to
// one lock, so a caller may list an entity twice without self-deadlocking.
func (m *Manager) AcquireAll(group string, ids ...string) func() {
	keys := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, id)
	}
	sort.Strings(keys)
	releases := make([]func(), 0, len(keys))
	for _, id := range keys {
		releases = append(releases, m.Acquire(group, id))
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}
