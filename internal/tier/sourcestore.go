package tier

import (
	"sync"
	"sync/atomic"
)

// sourceRef is one shared source buffer, reference-counted the same way the
// teacher's file content store dedups file bytes by hash (see
// internal/core/file_content_store.go): identical source content found
// under different paths (or re-stored after a round trip) shares one
// backing array instead of copying it per Hot entry.
type sourceRef struct {
	data []byte
	rc   atomic.Int32
}

// SourceStore deduplicates the Hot tier's shared source buffers by content
// hash (§4.8 storage policy: "Shared source (Arc, dedup by hash)").
type SourceStore struct {
	mu      sync.RWMutex
	entries map[uint64]*sourceRef
}

func NewSourceStore() *SourceStore {
	return &SourceStore{entries: make(map[uint64]*sourceRef)}
}

// Acquire returns a shared reference to data under hash, inserting it (with
// rc=1) if this is the first caller, or incrementing rc and returning the
// previously stored buffer if data was already present under hash.
func (s *SourceStore) Acquire(hash uint64, data []byte) []byte {
	s.mu.RLock()
	if e, ok := s.entries[hash]; ok {
		e.rc.Add(1)
		s.mu.RUnlock()
		return e.data
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[hash]; ok {
		e.rc.Add(1)
		return e.data
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	e := &sourceRef{data: owned}
	e.rc.Store(1)
	s.entries[hash] = e
	return owned
}

// AcquireExisting increments the refcount of an already-stored hash without
// supplying new bytes, returning (nil, false) if not present.
func (s *SourceStore) AcquireExisting(hash uint64) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[hash]
	if !ok {
		return nil, false
	}
	e.rc.Add(1)
	return e.data, true
}

// Release decrements hash's refcount, removing the backing buffer once it
// reaches zero.
func (s *SourceStore) Release(hash uint64) {
	s.mu.RLock()
	e, ok := s.entries[hash]
	s.mu.RUnlock()
	if !ok {
		return
	}
	if e.rc.Add(-1) > 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[hash]; ok && cur.rc.Load() <= 0 {
		delete(s.entries, hash)
	}
}

// Len reports the number of distinct source buffers currently held.
func (s *SourceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
