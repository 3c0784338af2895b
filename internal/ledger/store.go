package ledger

import (
	"sort"
	"sync"
	"time"
)

// Store is the in-memory account map: group id -> entity id -> account.
// Its mutex guards map access and the dirty/version pair; entity-level
// serialization is the lock manager's job.
//
// Records in the map are immutable once published: Get hands out a private
// copy, mutators change the copy under the entity lock, and Save publishes
// it. Lookup and Snapshot therefore never observe a half-applied mutation,
// with no lock shared between readers and writers.
type Store struct {
	mu      sync.Mutex
	groups  map[string]map[string]*Account
	dirty   bool
	version uint64

	initialCoins int64
}

func NewStore(initialCoins int64) *Store {
	return &Store{
		groups:       make(map[string]map[string]*Account),
		initialCoins: initialCoins,
	}
}

// Replace swaps in a freshly loaded data set, normalizing every record.
func (s *Store) Replace(data map[string]map[string]*Account, now time.Time) {
	if data == nil {
		data = make(map[string]map[string]*Account)
	}
	for _, grp := range data {
		for _, acc := range grp {
			acc.Normalize(now)
		}
	}
	s.mu.Lock()
	s.groups = data
	s.mu.Unlock()
}

// Get returns a private copy of the account for (group, entity), creating
// the record with starting defaults on first reference. Creation is a
// mutation and marks the store dirty. Callers hold the entity lock, change
// the copy, and publish it with Save; discarding the copy abandons the
// changes.
func (s *Store) Get(group, entity string) (*Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grp, ok := s.groups[group]
	if !ok {
		grp = make(map[string]*Account)
		s.groups[group] = grp
	}
	acc, ok := grp[entity]
	if ok {
		return acc.Clone(), false
	}
	acc = NewAccount(s.initialCoins, time.Now())
	grp[entity] = acc
	s.markDirtyLocked()
	return acc.Clone(), true
}

// Lookup returns the published account without creating it. The record is
// shared and read-only; use Get to mutate.
func (s *Store) Lookup(group, entity string) (*Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.groups[group][entity]
	return acc, ok
}

// Save stamps activity on the copy, publishes it, and marks the store
// dirty. The account is shared the moment it lands in the map: callers must
// not write to it afterwards, except to Save it again.
func (s *Store) Save(group, entity string, acc *Account) {
	s.mu.Lock()
	acc.LastActive = time.Now().Unix()
	grp, ok := s.groups[group]
	if !ok {
		grp = make(map[string]*Account)
		s.groups[group] = grp
	}
	grp[entity] = acc
	s.markDirtyLocked()
	s.mu.Unlock()
}

// Remove deletes an account (administrative wipe only).
func (s *Store) Remove(group, entity string) {
	s.mu.Lock()
	if grp, ok := s.groups[group]; ok {
		if _, ok := grp[entity]; ok {
			delete(grp, entity)
			s.markDirtyLocked()
		}
	}
	s.mu.Unlock()
}

func (s *Store) markDirtyLocked() {
	s.dirty = true
	s.version++
}

// MarkDirty records an out-of-band mutation.
func (s *Store) MarkDirty() {
	s.mu.Lock()
	s.markDirtyLocked()
	s.mu.Unlock()
}

// DirtyVersion reports the dirty flag and the current version counter.
func (s *Store) DirtyVersion() (bool, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty, s.version
}

// ClearDirty drops the dirty flag only if no mutation happened since the
// given version was observed; otherwise the snapshot is stale and the next
// cycle retries.
func (s *Store) ClearDirty(version uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != version {
		return false
	}
	s.dirty = false
	return true
}

// Snapshot deep-copies the whole store.
func (s *Store) Snapshot() map[string]map[string]*Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]*Account, len(s.groups))
	for gid, grp := range s.groups {
		cg := make(map[string]*Account, len(grp))
		for eid, acc := range grp {
			cg[eid] = acc.Clone()
		}
		out[gid] = cg
	}
	return out
}

// GroupSnapshot deep-copies one group, for rankings and read-only views.
func (s *Store) GroupSnapshot(group string) map[string]*Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	grp, ok := s.groups[group]
	if !ok {
		return map[string]*Account{}
	}
	out := make(map[string]*Account, len(grp))
	for eid, acc := range grp {
		out[eid] = acc.Clone()
	}
	return out
}

// GroupIDs lists known groups in sorted order.
func (s *Store) GroupIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.groups))
	for gid := range s.groups {
		ids = append(ids, gid)
	}
	sort.Strings(ids)
	return ids
}
