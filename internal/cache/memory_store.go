package cache

import (
	"context"
	"sync"
)

// MemoryStore keeps snapshots in memory. It is used by tests and dry runs
// that must not touch disk.
type MemoryStore struct {
	mu    sync.Mutex
	snap  *Snapshot
	saves int
	err   error
}

// NewMemoryStore returns a store preloaded with snap, or empty when snap is nil.
func NewMemoryStore(snap *Snapshot) *MemoryStore {
	if snap == nil {
		snap = emptySnapshot()
	}
	return &MemoryStore{snap: clone(snap)}
}

// WithSaveError makes every Save fail with err.
func (s *MemoryStore) WithSaveError(err error) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// Location implements Store.
func (s *MemoryStore) Location() string {
	return "memory"
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.snap), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, snap *Snapshot, _ []Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.snap = clone(snap)
	s.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Stored returns a copy of the last saved snapshot.
func (s *MemoryStore) Stored() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.snap)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

func clone(s *Snapshot) *Snapshot {
	out := emptySnapshot()
	out.Version = s.Version
	out.Syncs = append(out.Syncs, s.Syncs...)
	out.Favorites = append(out.Favorites, s.Favorites...)
	out.Watermarks = append(out.Watermarks, s.Watermarks...)
	out.normalize()
	return out
}
