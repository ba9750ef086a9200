// Package intern provides a process-wide concurrent string interner: a
// string<->uint32 pool used for kind names, field names, and symbol names
// across a CompactTree build. Lookups take a shared read lock on the map;
// insertion takes the write lock and re-checks, so racing inserts of the
// same string get the first winner's id and identifiers stay stable for
// process lifetime.
package intern

import (
	"sync"
	"sync/atomic"
)

// NotInterned is the sentinel id returned when the byte cap has been
// reached and a new string cannot be admitted. Callers must store the
// literal string inline instead of relying on the interner.
const NotInterned uint32 = 0xFFFFFFFF

// Stats is a point-in-time snapshot of interner activity.
type Stats struct {
	Hits         uint64
	Misses       uint64
	TotalBytes   uint64
	CapExceeded  uint64
	Enabled      bool
	UniqueCount  int
	CapacityUsed int64
}

// Pool is a concurrent string interner with an optional byte cap.
type Pool struct {
	byteCap int64 // 0 means unbounded

	mu      sync.RWMutex
	ids     map[string]uint32
	strings []string

	usedBytes int64

	hits        atomic.Uint64
	misses      atomic.Uint64
	capExceeded atomic.Uint64
}

// New creates a Pool with no byte cap.
func New() *Pool {
	return NewWithCap(0)
}

// NewWithCap creates a Pool that rejects new strings once the cumulative
// byte size of interned strings would exceed byteCap. A byteCap of 0 means
// unbounded.
func NewWithCap(byteCap int64) *Pool {
	return &Pool{
		byteCap: byteCap,
		ids:     make(map[string]uint32),
	}
}

// Intern maps s to a stable uint32 id, inserting it if not already present.
// Returns NotInterned if the pool is at capacity and s is not already
// interned; callers must tolerate this and fall back to storing s inline.
func (p *Pool) Intern(s string) uint32 {
	p.mu.RLock()
	if id, ok := p.ids[s]; ok {
		p.mu.RUnlock()
		p.hits.Add(1)
		return id
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-check under the write lock: another goroutine may have inserted s
	// while we waited. The first winner's id is authoritative.
	if id, ok := p.ids[s]; ok {
		p.hits.Add(1)
		return id
	}

	if p.byteCap > 0 && p.usedBytes+int64(len(s)) > p.byteCap {
		p.capExceeded.Add(1)
		return NotInterned
	}

	id := uint32(len(p.strings))
	p.strings = append(p.strings, s)
	p.ids[s] = id
	p.usedBytes += int64(len(s))
	p.misses.Add(1)
	return id
}

// Resolve returns the string for id, and whether id is a valid interned id
// (false for NotInterned or an id never issued by this pool).
func (p *Pool) Resolve(id uint32) (string, bool) {
	if id == NotInterned {
		return "", false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if int(id) >= len(p.strings) {
		return "", false
	}
	return p.strings[id], true
}

// MaxID returns the largest id issued so far, or -1 if none have been
// issued.
func (p *Pool) MaxID() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.strings) - 1
}

// Len returns the number of unique strings currently interned.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.strings)
}

// Stats returns a snapshot of interner activity.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	unique := len(p.strings)
	used := p.usedBytes
	p.mu.RUnlock()

	return Stats{
		Hits:         p.hits.Load(),
		Misses:       p.misses.Load(),
		TotalBytes:   uint64(used),
		CapExceeded:  p.capExceeded.Load(),
		Enabled:      true,
		UniqueCount:  unique,
		CapacityUsed: used,
	}
}
