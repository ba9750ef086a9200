package bytecode

import (
	"sort"

	"github.com/standardbeagle/cstcache/internal/bitvec"
	cerrors "github.com/standardbeagle/cstcache/internal/errors"
)

// Navigator answers single-node lookups against a Stream in bounded time:
// binary search the checkpoint table for the nearest preceding checkpoint,
// then scan forward opcode by opcode (DeltaPos/RepeatLast included) to the
// requested node index, instead of decoding the whole stream.
type Navigator struct {
	stream *Stream
}

// NewNavigator wraps s for random-access node lookups.
func NewNavigator(s *Stream) *Navigator {
	return &Navigator{stream: s}
}

// Load returns the decoded node at index nodeIndex.
func (nv *Navigator) Load(nodeIndex int) (DecodedNode, error) {
	s := nv.stream
	if nodeIndex < 0 || uint64(nodeIndex) >= s.NodeCount {
		return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, 0, "node index out of range", nil)
	}

	cpIdx := sort.Search(len(s.Checkpoints), func(i int) bool {
		return s.Checkpoints[i].NodeIndex > uint64(nodeIndex)
	}) - 1

	var byteOffset int
	var startIndex int
	var primedStart int
	var primed bool
	if cpIdx >= 0 {
		cp := s.Checkpoints[cpIdx]
		startIndex = int(cp.NodeIndex)
		if startIndex >= len(s.JumpTable) {
			return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, 0, "checkpoint node index has no jump table entry", nil)
		}
		byteOffset = int(s.JumpTable[startIndex])
		primedStart = int(cp.AbsoluteStart)
		primed = true
	} else {
		startIndex = 0
		byteOffset = 0
	}

	d := &decodeState{
		opcodes:    s.Opcodes,
		pos:        byteOffset,
		kindTable:  s.KindTable,
		fieldTable: s.FieldTable,
		nodeIndex:  startIndex,
	}
	if primed {
		// The checkpointed node's own opcode may be DeltaPos, whose delta is
		// relative to a predecessor outside this scan's window; the
		// checkpoint's recorded absolute start is ground truth for that one
		// node, so prime prevStart with it and let scanTo use it instead
		// of trusting an unavailable predecessor.
		d.havePrev = true
		d.prevStart = primedStart
		d.prevLen = 0
	}

	found, err := scanTo(d, nodeIndex)
	if err != nil {
		return DecodedNode{}, err
	}
	return found, nil
}

// scanTo steps d forward opcode by opcode until the node at target has been
// produced, special-casing the very first DeltaPos encountered right after
// priming from a checkpoint (see Load): its delta is discarded in favor of
// the checkpoint's recorded absolute start.
func scanTo(d *decodeState, target int) (DecodedNode, error) {
	var pending pendingNode
	firstNode := true

	for {
		if d.pos >= len(d.opcodes) {
			return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "unexpected end of opcode stream", nil)
		}
		op := Opcode(d.opcodes[d.pos])
		d.pos++

		switch op {
		case OpEnter, OpLeaf:
			kindID, n := uvarintAt(d.opcodes, d.pos)
			if n == 0 {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "truncated kind_id varint", nil)
			}
			d.pos += n
			if d.pos >= len(d.opcodes) {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "truncated flags byte", nil)
			}
			flags := d.opcodes[d.pos]
			d.pos++
			hasField := flags&FlagHasField != 0
			var fieldID uint32
			if hasField {
				v, n := uvarintAt(d.opcodes, d.pos)
				if n == 0 {
					return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "truncated field_id varint", nil)
				}
				fieldID = uint32(v)
				d.pos += n
			}
			pending = pendingNode{kindID: uint32(kindID), flags: flags, fieldID: fieldID, hasField: hasField, isEnter: op == OpEnter, valid: true}

		case OpSetPos:
			start, n := uvarintAt(d.opcodes, d.pos)
			if n == 0 {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "truncated SetPos start", nil)
			}
			d.pos += n
			length, n := uvarintAt(d.opcodes, d.pos)
			if n == 0 {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "truncated SetPos length", nil)
			}
			d.pos += n
			if !pending.valid {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "SetPos with no pending node", nil)
			}
			node, done := finalizeAt(d, pending, int(start), int(length), target)
			firstNode = false
			pending.valid = false
			if done {
				return node, nil
			}

		case OpDeltaPos:
			delta, n := svarintAt(d.opcodes, d.pos)
			if n == 0 {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "truncated DeltaPos delta", nil)
			}
			d.pos += n
			length, n := uvarintAt(d.opcodes, d.pos)
			if n == 0 {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "truncated DeltaPos length", nil)
			}
			d.pos += n
			if !pending.valid {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "DeltaPos with no pending node", nil)
			}
			var start int
			if firstNode && d.havePrev {
				// Primed from a checkpoint: the delta has no valid
				// predecessor in this scan window, so the checkpoint's
				// absolute start (already in d.prevStart) is ground truth.
				start = d.prevStart
			} else {
				start = d.prevStart + int(delta)
			}
			node, done := finalizeAt(d, pending, start, int(length), target)
			firstNode = false
			pending.valid = false
			if done {
				return node, nil
			}

		case OpField:
			_, n := uvarintAt(d.opcodes, d.pos)
			d.pos += n

		case OpRepeatLast:
			count, n := uvarintAt(d.opcodes, d.pos)
			if n == 0 {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "truncated RepeatLast count", nil)
			}
			d.pos += n
			if !d.havePrev {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "RepeatLast with no prior node", nil)
			}
			for i := uint64(0); i < count; i++ {
				start := d.prevStart + d.prevLen
				length := d.prevLen
				idx := d.nodeIndex
				if idx == target {
					node := DecodedNode{
						Index: idx, Kind: d.resolveKind(d.prevKind),
						Start: start, Length: length,
						Flags: d.prevFlags, FieldID: d.prevField, HasField: d.prevHas,
					}
					if d.prevHas {
						node.FieldName = d.resolveField(d.prevField)
					}
					return node, nil
				}
				d.prevStart = start
				d.nodeIndex++
			}
			firstNode = false

		case OpExit:
			// A scan that starts at a checkpoint begins mid-tree and can pass
			// the Exits of ancestors it never entered, so depth here is
			// relative to the starting node and may go negative.
			d.depth--

		case OpCheckpoint:
			_, n := uvarintAt(d.opcodes, d.pos)
			d.pos += n
			_, n = uvarintAt(d.opcodes, d.pos)
			d.pos += n

		case OpEnd:
			return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "target node index not found before End", nil)

		default:
			return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos-1, "invalid opcode", nil)
		}
	}
}

func finalizeAt(d *decodeState, pending pendingNode, start, length, target int) (DecodedNode, bool) {
	idx := d.nodeIndex
	node := DecodedNode{
		Index: idx, Kind: d.resolveKind(pending.kindID),
		Start: start, Length: length,
		Flags: pending.flags, FieldID: pending.fieldID, HasField: pending.hasField,
	}
	if pending.hasField {
		node.FieldName = d.resolveField(pending.fieldID)
	}
	d.prevStart, d.prevLen = start, length
	d.prevKind, d.prevFlags, d.prevField, d.prevHas = pending.kindID, pending.flags, pending.fieldID, pending.hasField
	d.havePrev = true
	if pending.isEnter {
		d.depth++
	}
	d.nodeIndex++
	return node, idx == target
}

func uvarintAt(buf []byte, pos int) (uint64, int) {
	if pos >= len(buf) {
		return 0, 0
	}
	return bitvec.Uvarint(buf[pos:])
}

func svarintAt(buf []byte, pos int) (int64, int) {
	if pos >= len(buf) {
		return 0, 0
	}
	return bitvec.Svarint(buf[pos:])
}
