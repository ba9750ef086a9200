package bytecode

import (
	"github.com/standardbeagle/cstcache/internal/alloc"
	"github.com/standardbeagle/cstcache/internal/bitvec"
	"github.com/standardbeagle/cstcache/internal/cst"
)

// localInterner builds a compact, stream-local string table independent of
// the process-wide intern.Pool: a bytecode stream must decode correctly on
// its own, without access to the interner that built the source tree.
type localInterner struct {
	ids  map[string]uint32
	list []string
}

func newLocalInterner() *localInterner {
	return &localInterner{ids: make(map[string]uint32)}
}

func (li *localInterner) id(s string) uint32 {
	if id, ok := li.ids[s]; ok {
		return id
	}
	id := uint32(len(li.list))
	li.ids[s] = id
	li.list = append(li.list, s)
	return id
}

// encFrame tracks progress through one node's children during the
// iterative (explicit-stack) encode walk.
type encFrame struct {
	node       cst.Node
	childIdx   int
	childCount int
}

// encFrameAllocator pools the encode walk stack's backing array across
// Encode calls, sized for the per-node arity distribution
// (internal/alloc.NodeBufferTierConfigs).
var encFrameAllocator = alloc.NewNodeBufferSlabAllocator[encFrame]()

const encInitialStackCapacity = 8

// encState carries the running position/identity needed to choose between
// DeltaPos/SetPos and to fold repeated leaves into RepeatLast.
type encState struct {
	opcodes []byte
	jump    []uint32
	checks  []Checkpoint

	kinds  *localInterner
	fields *localInterner

	nodeIndex int
	havePrev  bool
	prevStart int
	prevKind  uint32
	prevFlags byte
	prevField uint32
	prevLen   int
	prevLeaf  bool // true if the last explicit emission (or repeat) was a leaf
	repeatRun int   // count of pending identical-leaf repeats not yet flushed

	lastCheckpoint int // node index of the most recent checkpoint, -1 if none yet
}

// Encode walks tree in preorder and produces its bytecode Stream.
func Encode(tree *cst.Tree) (*Stream, error) {
	st := &encState{
		kinds:          newLocalInterner(),
		fields:         newLocalInterner(),
		lastCheckpoint: -1,
	}

	root := tree.Root()
	st.emitNode(root, root.ChildCount() == 0)

	if root.ChildCount() > 0 {
		stack := encFrameAllocator.Get(encInitialStackCapacity)
		stack = append(stack, encFrame{node: root, childCount: root.ChildCount()})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.childIdx < top.childCount {
				child, _ := top.node.Child(top.childIdx)
				top.childIdx++
				childCount := child.ChildCount()
				st.emitNode(child, childCount == 0)
				if childCount > 0 {
					stack = append(stack, encFrame{node: child, childCount: childCount})
				}
			} else {
				st.flushRepeat()
				st.opcodes = append(st.opcodes, byte(OpExit))
				stack = stack[:len(stack)-1]
			}
		}
		encFrameAllocator.Put(stack)
	}
	st.flushRepeat()
	st.opcodes = append(st.opcodes, byte(OpEnd))

	return &Stream{
		Version:     FormatVersion,
		NodeCount:   uint64(st.nodeIndex),
		KindTable:   st.kinds.list,
		FieldTable:  st.fields.list,
		JumpTable:   st.jump,
		Checkpoints: st.checks,
		Opcodes:     st.opcodes,
	}, nil
}

// emitNode records node's opcode(s). isLeaf selects Leaf vs Enter.
func (s *encState) emitNode(node cst.Node, isLeaf bool) {
	kindID := s.kinds.id(node.Kind())
	flags := nodeFlagByte(node)
	fieldID, hasField := uint32(0), false
	if name, ok := node.FieldNameInParent(); ok {
		fieldID = s.fields.id(name)
		hasField = true
		flags |= FlagHasField
	}
	start := node.StartByte()
	length := node.ByteLen()

	// A node that is due a checkpoint is never folded, so even a long run of
	// identical leaves gets an explicit emission every checkpointInterval nodes.
	due := s.nodeIndex-s.lastCheckpoint >= checkpointInterval
	if isLeaf && s.prevLeaf && !due && s.canFoldIntoRepeat(kindID, flags, fieldID, hasField, start, length) {
		// The repeated node shares the eventual RepeatLast opcode's offset,
		// which is wherever the opcode stream currently ends: nothing else
		// is appended between repeats until flushRepeat writes it there.
		s.jump = append(s.jump, uint32(len(s.opcodes)))
		s.repeatRun++
		s.nodeIndex++
		s.prevStart = start
		return
	}
	s.flushRepeat()

	offset := len(s.opcodes)
	if isLeaf {
		s.opcodes = append(s.opcodes, byte(OpLeaf))
	} else {
		s.opcodes = append(s.opcodes, byte(OpEnter))
	}
	s.opcodes = bitvec.AppendUvarint(s.opcodes, uint64(kindID))
	s.opcodes = append(s.opcodes, flags)
	if hasField {
		s.opcodes = bitvec.AppendUvarint(s.opcodes, uint64(fieldID))
	}

	s.emitPosition(start, length)
	s.jump = append(s.jump, uint32(offset))
	s.maybeCheckpoint(start)

	s.nodeIndex++
	s.havePrev = true
	s.prevStart = start
	s.prevKind = kindID
	s.prevFlags = flags
	s.prevField = fieldID
	s.prevLen = length
	s.prevLeaf = isLeaf
}

// canFoldIntoRepeat reports whether this leaf is identical in kind/flags/
// field to the previously emitted explicit node and immediately contiguous
// with it (start == previous end, same length), the condition under which
// RepeatLast can represent it without carrying its own position operand.
func (s *encState) canFoldIntoRepeat(kindID uint32, flags byte, fieldID uint32, hasField bool, start, length int) bool {
	if !s.havePrev {
		return false
	}
	if kindID != s.prevKind || flags != s.prevFlags || length != s.prevLen {
		return false
	}
	if hasField && fieldID != s.prevField {
		return false
	}
	return start == s.prevStart+s.prevLen
}

// flushRepeat emits a pending RepeatLast opcode, if any.
func (s *encState) flushRepeat() {
	if s.repeatRun == 0 {
		return
	}
	s.opcodes = append(s.opcodes, byte(OpRepeatLast))
	s.opcodes = bitvec.AppendUvarint(s.opcodes, uint64(s.repeatRun))
	s.repeatRun = 0
}

// maybeCheckpoint places a checkpoint at the current (explicit-emission)
// node index once at least checkpointInterval nodes have passed since the
// last one. Checkpoints only ever land on Enter/Leaf opcodes, never inside
// a RepeatLast run, so a navigator resuming from one always has full
// kind/flags/field context from the opcode itself.
func (s *encState) maybeCheckpoint(start int) {
	if s.lastCheckpoint < 0 || s.nodeIndex-s.lastCheckpoint >= checkpointInterval {
		s.checks = append(s.checks, Checkpoint{
			NodeIndex:     uint64(s.nodeIndex),
			AbsoluteStart: uint64(start),
		})
		s.lastCheckpoint = s.nodeIndex
	}
}

func (s *encState) emitPosition(start, length int) {
	if s.havePrev {
		delta := int64(start) - int64(s.prevStart)
		if delta >= -deltaPosThreshold && delta < deltaPosThreshold {
			s.opcodes = append(s.opcodes, byte(OpDeltaPos))
			s.opcodes = bitvec.AppendSvarint(s.opcodes, delta)
			s.opcodes = bitvec.AppendUvarint(s.opcodes, uint64(length))
			return
		}
	}
	s.opcodes = append(s.opcodes, byte(OpSetPos))
	s.opcodes = bitvec.AppendUvarint(s.opcodes, uint64(start))
	s.opcodes = bitvec.AppendUvarint(s.opcodes, uint64(length))
}

func nodeFlagByte(node cst.Node) byte {
	var flags byte
	if node.IsNamed() {
		flags |= FlagNamed
	}
	if node.IsMissing() {
		flags |= FlagMissing
	}
	if node.IsExtra() {
		flags |= FlagExtra
	}
	if node.IsError() {
		flags |= FlagError
	}
	return flags
}
