package delta

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// chunkEntry is a reference-counted chunk payload, incremented each time a
// DeltaEntry cites it and decremented when that entry is released.
type chunkEntry struct {
	data []byte
	rc   atomic.Int32
}

// ChunkStore maps a chunk's content hash to its bytes, shared across every
// DeltaEntry in the process. Inserts are idempotent: re-inserting identical
// content only bumps the reference count.
type ChunkStore struct {
	mu     sync.RWMutex
	chunks map[uint64]*chunkEntry

	totalReferences atomic.Int64 // sum of chunk sizes across every Acquire/Insert hit
}

// NewChunkStore returns an empty store.
func NewChunkStore() *ChunkStore {
	return &ChunkStore{chunks: make(map[uint64]*chunkEntry)}
}

// hashChunk computes the 64-bit content hash used as a chunk's identity.
func hashChunk(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Insert stores data under its content hash, incrementing the reference
// count if it is already present. Returns the hash.
func (cs *ChunkStore) Insert(data []byte) uint64 {
	hash := hashChunk(data)

	cs.mu.RLock()
	entry, ok := cs.chunks[hash]
	cs.mu.RUnlock()
	if ok {
		entry.rc.Add(1)
		cs.totalReferences.Add(int64(len(entry.data)))
		return hash
	}

	cs.mu.Lock()
	if entry, ok := cs.chunks[hash]; ok {
		cs.mu.Unlock()
		entry.rc.Add(1)
		cs.totalReferences.Add(int64(len(entry.data)))
		return hash
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	entry = &chunkEntry{data: cp}
	entry.rc.Store(1)
	cs.chunks[hash] = entry
	cs.mu.Unlock()

	cs.totalReferences.Add(int64(len(data)))
	return hash
}

// Acquire increments hash's reference count if present, reporting whether
// it was found. Used to cite an existing chunk by hash without resupplying
// its bytes.
func (cs *ChunkStore) Acquire(hash uint64) bool {
	cs.mu.RLock()
	entry, ok := cs.chunks[hash]
	cs.mu.RUnlock()
	if !ok {
		return false
	}
	entry.rc.Add(1)
	cs.totalReferences.Add(int64(len(entry.data)))
	return true
}

// Release decrements hash's reference count, removing the chunk once it
// reaches zero.
func (cs *ChunkStore) Release(hash uint64) {
	cs.mu.RLock()
	entry, ok := cs.chunks[hash]
	cs.mu.RUnlock()
	if !ok {
		return
	}
	if entry.rc.Add(-1) <= 0 {
		cs.mu.Lock()
		if cur, ok := cs.chunks[hash]; ok && cur == entry && entry.rc.Load() <= 0 {
			delete(cs.chunks, hash)
		}
		cs.mu.Unlock()
	}
}

// ReleaseAll releases every hash in hashes (a DeltaEntry's base chunk list).
func (cs *ChunkStore) ReleaseAll(hashes []uint64) {
	for _, h := range hashes {
		cs.Release(h)
	}
}

// Get returns hash's bytes, if present.
func (cs *ChunkStore) Get(hash uint64) ([]byte, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	entry, ok := cs.chunks[hash]
	if !ok {
		return nil, false
	}
	return entry.data, true
}

// Stats is a point-in-time snapshot of store occupancy and reuse.
type Stats struct {
	UniqueChunks    int
	UniqueBytes     int64
	TotalReferenced int64 // sum of chunk sizes across every Insert/Acquire hit, including first inserts
}

// DedupRatio is TotalReferenced/UniqueBytes: how many times, on average,
// each stored byte has been cited by a DeltaEntry. 1.0 means no sharing.
func (s Stats) DedupRatio() float64 {
	if s.UniqueBytes == 0 {
		return 0
	}
	return float64(s.TotalReferenced) / float64(s.UniqueBytes)
}

// Stats snapshots the store's current occupancy.
func (cs *ChunkStore) Stats() Stats {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	var uniqueBytes int64
	for _, e := range cs.chunks {
		uniqueBytes += int64(len(e.data))
	}
	return Stats{
		UniqueChunks:    len(cs.chunks),
		UniqueBytes:     uniqueBytes,
		TotalReferenced: cs.totalReferences.Load(),
	}
}
