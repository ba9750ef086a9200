package bytecode

import (
	"github.com/standardbeagle/cstcache/internal/bitvec"
	cerrors "github.com/standardbeagle/cstcache/internal/errors"
)

// DecodedNode is the fully-resolved form of one bytecode-encoded node:
// everything the node handle API (internal/cst.Node) exposes, reconstructed
// from the opcode stream rather than from packed arrays.
type DecodedNode struct {
	Index       int
	Kind        string
	Start       int
	Length      int
	Flags       byte
	FieldID     uint32
	HasField    bool
	FieldName   string
	ParentIndex int // -1 for the root
}

func (n DecodedNode) End() int { return n.Start + n.Length }
func (n DecodedNode) IsNamed() bool   { return n.Flags&FlagNamed != 0 }
func (n DecodedNode) IsMissing() bool { return n.Flags&FlagMissing != 0 }
func (n DecodedNode) IsExtra() bool   { return n.Flags&FlagExtra != 0 }
func (n DecodedNode) IsError() bool   { return n.Flags&FlagError != 0 }

// decodeState carries the running position/identity context a decode walk
// needs to interpret DeltaPos and RepeatLast opcodes.
type decodeState struct {
	opcodes []byte
	pos     int // cursor into opcodes

	kindTable  []string
	fieldTable []string

	depth       int
	parentStack []int

	havePrev  bool
	prevStart int
	prevLen   int
	prevKind  uint32
	prevFlags byte
	prevField uint32
	prevHas   bool

	fieldOverride    uint32
	hasFieldOverride bool

	nodeIndex int
}

func (d *decodeState) resolveKind(id uint32) string {
	if int(id) < len(d.kindTable) {
		return d.kindTable[id]
	}
	return ""
}

func (d *decodeState) resolveField(id uint32) string {
	if int(id) < len(d.fieldTable) {
		return d.fieldTable[id]
	}
	return ""
}

func (d *decodeState) currentParent() int {
	if len(d.parentStack) == 0 {
		return -1
	}
	return d.parentStack[len(d.parentStack)-1]
}

// Decode performs a full single-pass decode of s, returning every node in
// preorder with parent links reconstructed from Enter/Exit nesting. Depth
// is asserted to never go negative and to return to zero at End.
func Decode(s *Stream) ([]DecodedNode, error) {
	var nodes []DecodedNode
	_, err := walk(s, 0, -1, func(n DecodedNode, isEnter bool) {
		nodes = append(nodes, n)
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// pendingNode holds an Enter/Leaf opcode's identity operands until the
// following position opcode supplies start/length.
type pendingNode struct {
	kindID   uint32
	flags    byte
	fieldID  uint32
	hasField bool
	isEnter  bool
	valid    bool
}

// walk decodes opcodes starting at byteOffset, assigning logical node
// indices starting at 0, invoking visit for each logical node
// (including ones materialized from a RepeatLast run). If stopAt >= 0, the
// walk returns as soon as the node at that index has been visited,
// returning it; pass -1 to decode the whole stream.
func walk(s *Stream, byteOffset int, stopAt int, visit func(DecodedNode, bool)) (DecodedNode, error) {
	d := &decodeState{
		opcodes:    s.Opcodes,
		pos:        byteOffset,
		kindTable:  s.KindTable,
		fieldTable: s.FieldTable,
		nodeIndex:  0,
	}

	var pending pendingNode
	var found DecodedNode
	var foundOK bool

	finalize := func(start, length int) {
		idx := d.nodeIndex
		node := DecodedNode{
			Index:       idx,
			Kind:        d.resolveKind(pending.kindID),
			Start:       start,
			Length:      length,
			Flags:       pending.flags,
			FieldID:     pending.fieldID,
			HasField:    pending.hasField,
			ParentIndex: d.currentParent(),
		}
		if pending.hasField {
			node.FieldName = d.resolveField(pending.fieldID)
		}
		visit(node, pending.isEnter)
		if stopAt == idx {
			found, foundOK = node, true
		}

		d.prevStart, d.prevLen = start, length
		d.prevKind, d.prevFlags, d.prevField, d.prevHas = pending.kindID, pending.flags, pending.fieldID, pending.hasField
		d.havePrev = true

		if pending.isEnter {
			d.depth++
			d.parentStack = append(d.parentStack, idx)
		}
		pending.valid = false
		d.nodeIndex++
	}

	for {
		if foundOK {
			return found, nil
		}
		if d.pos >= len(d.opcodes) {
			return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "unexpected end of opcode stream", nil)
		}
		op := Opcode(d.opcodes[d.pos])
		d.pos++

		switch op {
		case OpEnter, OpLeaf:
			kindID, n := bitvec.Uvarint(d.opcodes[d.pos:])
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
				v, n := bitvec.Uvarint(d.opcodes[d.pos:])
				if n == 0 {
					return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "truncated field_id varint", nil)
				}
				fieldID = uint32(v)
				d.pos += n
			}
			if d.hasFieldOverride {
				fieldID = d.fieldOverride
				hasField = true
				flags |= FlagHasField
				d.hasFieldOverride = false
			}
			pending = pendingNode{kindID: uint32(kindID), flags: flags, fieldID: fieldID, hasField: hasField, isEnter: op == OpEnter, valid: true}

		case OpSetPos:
			start, n := bitvec.Uvarint(d.opcodes[d.pos:])
			if n == 0 {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "truncated SetPos start", nil)
			}
			d.pos += n
			length, n := bitvec.Uvarint(d.opcodes[d.pos:])
			if n == 0 {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "truncated SetPos length", nil)
			}
			d.pos += n
			if !pending.valid {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "SetPos with no pending node", nil)
			}
			finalize(int(start), int(length))

		case OpDeltaPos:
			delta, n := bitvec.Svarint(d.opcodes[d.pos:])
			if n == 0 {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "truncated DeltaPos delta", nil)
			}
			d.pos += n
			length, n := bitvec.Uvarint(d.opcodes[d.pos:])
			if n == 0 {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "truncated DeltaPos length", nil)
			}
			d.pos += n
			if !pending.valid {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "DeltaPos with no pending node", nil)
			}
			var start int
			if d.havePrev {
				start = d.prevStart + int(delta)
			} else {
				// No prior node: prevStart is still 0, so the delta is
				// taken as an absolute start.
				start = d.prevStart + int(delta)
			}
			finalize(start, int(length))

		case OpField:
			v, n := bitvec.Uvarint(d.opcodes[d.pos:])
			if n == 0 {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "truncated Field operand", nil)
			}
			d.pos += n
			d.fieldOverride = uint32(v)
			d.hasFieldOverride = true

		case OpRepeatLast:
			count, n := bitvec.Uvarint(d.opcodes[d.pos:])
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
				node := DecodedNode{
					Index:       idx,
					Kind:        d.resolveKind(d.prevKind),
					Start:       start,
					Length:      length,
					Flags:       d.prevFlags,
					FieldID:     d.prevField,
					HasField:    d.prevHas,
					ParentIndex: d.currentParent(),
				}
				if d.prevHas {
					node.FieldName = d.resolveField(d.prevField)
				}
				visit(node, false)
				if stopAt == idx {
					return node, nil
				}
				d.prevStart = start
				d.nodeIndex++
			}

		case OpExit:
			d.depth--
			if d.depth < 0 {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "depth underflow", nil)
			}
			if len(d.parentStack) > 0 {
				d.parentStack = d.parentStack[:len(d.parentStack)-1]
			}

		case OpCheckpoint:
			// Informational resync marker; the wire format also carries an
			// out-of-band checkpoint table (§6.3) that Navigator uses for
			// binary search, so an inline Checkpoint opcode (if present in
			// a stream not produced by this package's encoder) is skipped.
			_, n := bitvec.Uvarint(d.opcodes[d.pos:])
			d.pos += n
			_, n = bitvec.Uvarint(d.opcodes[d.pos:])
			d.pos += n

		case OpEnd:
			if d.depth != 0 {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "depth nonzero at End", nil)
			}
			if stopAt >= 0 {
				return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos, "target node index not found before End", nil)
			}
			return DecodedNode{}, nil

		default:
			return DecodedNode{}, cerrors.NewCorruptBytecodeError(0, d.pos-1, "invalid opcode", nil)
		}
	}
}
