package cst

import (
	"github.com/standardbeagle/cstcache/internal/bitvec"
	"github.com/standardbeagle/cstcache/internal/bp"
	"github.com/standardbeagle/cstcache/internal/intern"
)

// Flag bits packed into the per-node flags field (5 bits: named, missing,
// extra, error, has_field).
const (
	flagNamed = 1 << iota
	flagMissing
	flagExtra
	flagError
	flagHasField
)

// Limits bounds a single Build call; exceeding either returns
// CapacityExceededError with no partial tree exposed.
type Limits struct {
	MaxNodes int   // 0 means unbounded
	MaxBytes int64 // 0 means unbounded
}

// DefaultLimits returns generous limits suitable for most source files.
func DefaultLimits() Limits {
	return Limits{MaxNodes: 4_000_000, MaxBytes: 256 << 20}
}

// Tree is the core's succinct in-memory CST representation: a BP topology
// plus packed attribute streams. Logically immutable after Build; an
// incremental update produces a new Tree via journal replay rather than
// mutating this one in place.
type Tree struct {
	bp       *bp.Tree
	interner *intern.Pool

	kindID       *bitvec.PackedArray
	kindLiteral  map[int]string // node index -> literal kind, for NotInterned ids
	flags        *bitvec.PackedArray
	fieldPresent *bitvec.BitVector
	fieldIDs     []uint32 // dense, indexed by fieldPresent.Rank1(nodeIndex)

	startByte *bitvec.MonotoneDeltaStream
	length    *bitvec.VarintStream

	nodeCount int
	sourceLen int
}

// NodeCount returns the number of nodes in the tree.
func (t *Tree) NodeCount() int { return t.nodeCount }

// SourceLen returns the byte length of the source this tree was built from.
func (t *Tree) SourceLen() int { return t.sourceLen }

// Root returns the root node handle. Panics if the tree has zero nodes,
// which Build never produces (even an empty file yields a single root).
func (t *Tree) Root() Node {
	return Node{tree: t, pos: 0}
}

// NodeByIndex returns the node handle for preorder index idx.
func (t *Tree) NodeByIndex(idx int) Node {
	return Node{tree: t, pos: t.bp.Select(idx)}
}

func (t *Tree) kindIDAt(idx int) uint32 {
	return uint32(t.kindID.Get(idx))
}

func (t *Tree) flagsAt(idx int) uint64 {
	return t.flags.Get(idx)
}

func (t *Tree) fieldIDAt(idx int) (uint32, bool) {
	if !t.fieldPresent.Get(idx) {
		return 0, false
	}
	rank := t.fieldPresent.Rank1(idx)
	return t.fieldIDs[rank], true
}

func (t *Tree) startByteAt(idx int) int {
	return int(t.startByte.Get(idx))
}

func (t *Tree) lengthAt(idx int) int {
	return int(t.length.Get(idx))
}
