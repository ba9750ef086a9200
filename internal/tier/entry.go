package tier

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/standardbeagle/cstcache/internal/bytecode"
	"github.com/standardbeagle/cstcache/internal/cst"
	"github.com/standardbeagle/cstcache/internal/delta"
	"github.com/standardbeagle/cstcache/internal/segment"
)

// payload holds exactly the fields relevant to the entry's current State;
// the others are zero. Migration (manager.go) populates the new tier's fields
// and clears the old ones while holding the entry's exclusive lock.
type payload struct {
	// Hot
	tree   *cst.Tree
	source []byte

	// Warm
	warmBytecode *bytecode.Stream
	warmDelta    *delta.DeltaEntry

	// Cold
	coldSegmented *segment.SegmentedStream
	coldDelta     *delta.DeltaEntry

	// Frozen: paths under storage_dir holding the gob-encoded container
	// parts. See frozen.go.
	frozenSegPath   string
	frozenDeltaPath string
}

// Entry is one (path, source_hash) slot in the metadata index. accessCount
// and lastAccessUnixNano are updated on the hot read path without taking
// mu, per spec.md's wait-free-reader requirement; mu guards payload and
// state, taken only on the (rarer) migration and materialization paths.
type Entry struct {
	Path       string
	SourceHash uint64

	accessCount        atomic.Int64
	lastAccessUnixNano atomic.Int64

	mu        sync.RWMutex
	state     State
	payload   payload
	bytesUsed int64
}

func newEntry(path string, sourceHash uint64) *Entry {
	e := &Entry{Path: path, SourceHash: sourceHash, state: Absent}
	e.stampAccessTime()
	return e
}

// touch is the wait-free access update: increment access_count, stamp
// last_access. Called on every Get hit.
func (e *Entry) touch() int64 {
	e.lastAccessUnixNano.Store(time.Now().UnixNano())
	return e.accessCount.Add(1)
}

// stampAccessTime resets the idle clock without counting as a promotion-
// relevant access; newEntry calls it so a fresh entry starts its idle
// clock at creation. Tier migrations do not reset it.
func (e *Entry) stampAccessTime() {
	e.lastAccessUnixNano.Store(time.Now().UnixNano())
}

func (e *Entry) AccessCount() int64 {
	return e.accessCount.Load()
}

func (e *Entry) Idle(now time.Time) time.Duration {
	last := e.lastAccessUnixNano.Load()
	if last == 0 {
		return 0
	}
	return now.Sub(time.Unix(0, last))
}

func (e *Entry) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Entry) BytesUsed() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bytesUsed
}
