package segment

import (
	"sort"
	"sync"

	"github.com/standardbeagle/cstcache/internal/bytecode"
	cerrors "github.com/standardbeagle/cstcache/internal/errors"
)

// SegmentedStream is a bytecode.Stream with its opcode bytes partitioned
// into independently compressed/decompressed Segments, plus an LRU of
// decompressed payloads bounded at M entries (spec default M=8). The
// kind/field tables, jump table, and checkpoint table are kept in full:
// only the (large) opcode bytes benefit from segment-granular paging.
type SegmentedStream struct {
	Version    uint32
	NodeCount  uint64
	KindTable  []string
	FieldTable []string

	JumpTable   []uint32
	Checkpoints []bytecode.Checkpoint
	Segments    []Segment

	mu  sync.Mutex
	lru *decompressedLRU
}

// New partitions stream into segments and wraps it for segment-granular
// access. lruCapacity <= 0 uses the spec default (8).
func New(stream *bytecode.Stream, targetSize int, compression CompressionTag, lruCapacity int) (*SegmentedStream, error) {
	segments, err := BuildSegments(stream, targetSize, compression)
	if err != nil {
		return nil, err
	}
	return &SegmentedStream{
		Version:     stream.Version,
		NodeCount:   stream.NodeCount,
		KindTable:   stream.KindTable,
		FieldTable:  stream.FieldTable,
		JumpTable:   stream.JumpTable,
		Checkpoints: stream.Checkpoints,
		Segments:    segments,
		lru:         newDecompressedLRU(lruCapacity),
	}, nil
}

// FromParts reconstructs a SegmentedStream from its exported fields, for
// callers that persisted those fields independently (e.g. the frozen tier's
// disk container, which gob-encodes a flat struct and cannot invoke New
// directly since it no longer has the original bytecode.Stream). lruCapacity
// <= 0 uses the spec default (8).
func FromParts(version uint32, nodeCount uint64, kindTable, fieldTable []string, jumpTable []uint32, checkpoints []bytecode.Checkpoint, segments []Segment, lruCapacity int) *SegmentedStream {
	return &SegmentedStream{
		Version:     version,
		NodeCount:   nodeCount,
		KindTable:   kindTable,
		FieldTable:  fieldTable,
		JumpTable:   jumpTable,
		Checkpoints: checkpoints,
		Segments:    segments,
		lru:         newDecompressedLRU(lruCapacity),
	}
}

// SegmentForNode returns the index of the segment covering nodeIndex.
func (ss *SegmentedStream) SegmentForNode(nodeIndex int) (int, error) {
	i := sort.Search(len(ss.Segments), func(i int) bool {
		return ss.Segments[i].Header.NodeEnd > uint64(nodeIndex)
	})
	if i >= len(ss.Segments) || uint64(nodeIndex) < ss.Segments[i].Header.NodeStart {
		return 0, cerrors.NewCorruptBytecodeError(0, 0, "node index not covered by any segment", nil)
	}
	return i, nil
}

// Load returns the decompressed opcode bytes for segment segIdx, serving
// from the LRU on a hit and decompressing (then installing) on a miss.
func (ss *SegmentedStream) Load(segIdx int) ([]byte, error) {
	if segIdx < 0 || segIdx >= len(ss.Segments) {
		return nil, cerrors.NewCorruptBytecodeError(0, 0, "segment index out of range", nil)
	}
	if data, ok := ss.lru.get(segIdx); ok {
		return data, nil
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	// Re-check: another goroutine may have decompressed and installed this
	// segment while we waited for the lock.
	if data, ok := ss.lru.get(segIdx); ok {
		return data, nil
	}
	raw, err := ss.Segments[segIdx].Decompress()
	if err != nil {
		return nil, err
	}
	ss.lru.set(segIdx, raw)
	return raw, nil
}

// Reconstruct decompresses every segment and concatenates them back into a
// single bytecode.Stream, for callers that need whole-stream access (e.g.
// promoting a cold entry back to Hot/Warm).
func (ss *SegmentedStream) Reconstruct() (*bytecode.Stream, error) {
	var opcodes []byte
	for i := range ss.Segments {
		raw, err := ss.Load(i)
		if err != nil {
			return nil, err
		}
		opcodes = append(opcodes, raw...)
	}
	return &bytecode.Stream{
		Version:     ss.Version,
		NodeCount:   ss.NodeCount,
		KindTable:   ss.KindTable,
		FieldTable:  ss.FieldTable,
		JumpTable:   ss.JumpTable,
		Checkpoints: ss.Checkpoints,
		Opcodes:     opcodes,
	}, nil
}

// EvictSegment drops segIdx's decompressed payload from the LRU, if
// present, without touching the compressed bytes on Segments.
func (ss *SegmentedStream) EvictSegment(segIdx int) {
	ss.lru.evict(segIdx)
}

// ResidentSegmentCount reports how many segments currently have a
// decompressed payload cached.
func (ss *SegmentedStream) ResidentSegmentCount() int {
	return ss.lru.size()
}
