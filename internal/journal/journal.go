// Package journal implements the incremental edit journal: a bounded log
// of byte-range edits applied to a captured base source, replayable back
// into the current source and checked for soundness by content hash.
package journal

import (
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultMaxEdits is J_MAX from spec.md (256).
const DefaultMaxEdits = 256

// LoggedEdit records a single byte-range replacement: StartByte..StartByte+
// OldLen of the source in effect at the time is replaced by NewBytes.
type LoggedEdit struct {
	StartByte int
	OldLen    int
	NewBytes  []byte
	Timestamp time.Time
}

// Journal holds a base snapshot plus the edits recorded against it since.
// It is capped at maxEdits entries; Append folds the log into a new base
// once the entry count exceeds the cap, keeping memory bounded without losing
// information (Replay of the folded log and of the prior log agree byte
// for byte).
type Journal struct {
	mu         sync.Mutex
	baseSource []byte
	edits      []LoggedEdit
	maxEdits   int
}

// New starts a journal anchored at baseSource. maxEdits <= 0 uses
// DefaultMaxEdits.
func New(baseSource []byte, maxEdits int) *Journal {
	if maxEdits <= 0 {
		maxEdits = DefaultMaxEdits
	}
	base := make([]byte, len(baseSource))
	copy(base, baseSource)
	return &Journal{baseSource: base, maxEdits: maxEdits}
}

// Append records edit, folding the journal into a new base snapshot if the
// entry count would exceed maxEdits. Returns whether a fold occurred.
func (j *Journal) Append(edit LoggedEdit) (folded bool, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if edit.StartByte < 0 || edit.OldLen < 0 {
		return false, fmt.Errorf("journal: edit has negative StartByte/OldLen")
	}
	j.edits = append(j.edits, edit)

	// Validate immediately by replaying: a malformed edit (out-of-bounds
	// against the source state it was meant to apply to) is rejected here
	// rather than surfacing later at an arbitrary fold or Replay call.
	replayed, err := j.replayLocked()
	if err != nil {
		j.edits = j.edits[:len(j.edits)-1]
		return false, err
	}

	if len(j.edits) > j.maxEdits {
		j.baseSource = replayed
		j.edits = nil
		return true, nil
	}
	return false, nil
}

// Rebase discards the journal and anchors it at a freshly re-parsed base
// source (compaction policy (i): a fresh base snapshot, normally paired
// with re-parsing from scratch by the caller).
func (j *Journal) Rebase(newBaseSource []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	base := make([]byte, len(newBaseSource))
	copy(base, newBaseSource)
	j.baseSource = base
	j.edits = nil
}

// Replay applies every recorded edit in order to the base source and
// returns the resulting bytes.
func (j *Journal) Replay() ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.replayLocked()
}

func (j *Journal) replayLocked() ([]byte, error) {
	source := j.baseSource
	for i, e := range j.edits {
		next, err := applyEdit(source, e)
		if err != nil {
			return nil, fmt.Errorf("journal: replay edit %d: %w", i, err)
		}
		source = next
	}
	out := make([]byte, len(source))
	copy(out, source)
	return out, nil
}

func applyEdit(source []byte, e LoggedEdit) ([]byte, error) {
	if e.StartByte > len(source) || e.StartByte+e.OldLen > len(source) {
		return nil, fmt.Errorf("edit range [%d,%d) out of bounds for source of length %d", e.StartByte, e.StartByte+e.OldLen, len(source))
	}
	out := make([]byte, 0, len(source)-e.OldLen+len(e.NewBytes))
	out = append(out, source[:e.StartByte]...)
	out = append(out, e.NewBytes...)
	out = append(out, source[e.StartByte+e.OldLen:]...)
	return out, nil
}

// Sound reports whether replaying the journal against its base reproduces
// currentSource, per spec.md's soundness rule: the journal is authoritative
// only when hash(current_source) == hash(replay(base_source, journal)).
// Callers must check this before trusting a reconstructed tree.
func (j *Journal) Sound(currentSource []byte) (bool, error) {
	replayed, err := j.Replay()
	if err != nil {
		return false, err
	}
	return xxhash.Sum64(replayed) == xxhash.Sum64(currentSource), nil
}

// EditCount reports the number of edits recorded since the last fold or
// rebase.
func (j *Journal) EditCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.edits)
}

// BaseSource returns a copy of the current base snapshot.
func (j *Journal) BaseSource() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]byte, len(j.baseSource))
	copy(out, j.baseSource)
	return out
}
