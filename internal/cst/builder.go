package cst

import (
	"github.com/standardbeagle/cstcache/internal/alloc"
	"github.com/standardbeagle/cstcache/internal/bitvec"
	"github.com/standardbeagle/cstcache/internal/bp"
	cerrors "github.com/standardbeagle/cstcache/internal/errors"
	"github.com/standardbeagle/cstcache/internal/intern"
)

// walkFrame tracks progress through one node's children during the
// iterative (explicit-stack) preorder walk; recursion is avoided so
// pathologically deep trees (depth >= 4096 per spec) cannot overflow the
// goroutine stack.
type walkFrame struct {
	node     ExternalNode
	childIdx int
}

// frameAllocator pools the walk stack's backing array across Build calls,
// sized for the per-node arity distribution (internal/alloc.NodeBufferTierConfigs)
// rather than the generic default tiers.
var frameAllocator = alloc.NewNodeBufferSlabAllocator[walkFrame]()

// initialStackCapacity is the smallest NodeBufferTierConfigs tier, a
// reasonable starting depth guess for most source files.
const initialStackCapacity = 8

// Build performs a single preorder walk of root, emitting BP topology and
// packed attribute streams through interner. sourceLen is the byte length
// of the source the tree was parsed from, used for the byte limit check and
// reported by Tree.SourceLen.
func Build(root ExternalNode, interner *intern.Pool, sourceLen int, limits Limits) (*Tree, error) {
	if limits.MaxBytes > 0 && int64(sourceLen) > limits.MaxBytes {
		return nil, cerrors.NewCapacityExceededError("source_bytes", int64(sourceLen), limits.MaxBytes)
	}

	bpBuilder := bp.NewBuilder(1024)
	startByteBuilder := bitvec.NewMonotoneDeltaBuilder()
	lengthBuilder := bitvec.NewVarintStreamBuilder()

	var kindIDs []uint32
	var flagBits []uint64
	var fieldPresentBits []bool
	var fieldIDs []uint32
	kindLiteral := make(map[int]string)

	nodeCount := 0

	recordNode := func(n ExternalNode) error {
		if limits.MaxNodes > 0 && nodeCount+1 > limits.MaxNodes {
			return cerrors.NewCapacityExceededError("node_count", int64(nodeCount+1), int64(limits.MaxNodes))
		}

		kindID := interner.Intern(n.Kind())
		if kindID == intern.NotInterned {
			kindLiteral[nodeCount] = n.Kind()
			kindIDs = append(kindIDs, 0)
		} else {
			kindIDs = append(kindIDs, kindID)
		}

		var flags uint64
		if n.IsNamed() {
			flags |= flagNamed
		}
		if n.IsMissing() {
			flags |= flagMissing
		}
		if n.IsExtra() {
			flags |= flagExtra
		}
		if n.IsError() {
			flags |= flagError
		}

		fieldName, hasField := n.FieldName()
		if hasField && fieldName != "" {
			flags |= flagHasField
			fieldID := interner.Intern(fieldName)
			fieldPresentBits = append(fieldPresentBits, true)
			fieldIDs = append(fieldIDs, fieldID)
		} else {
			fieldPresentBits = append(fieldPresentBits, false)
		}
		flagBits = append(flagBits, flags)

		start := n.StartByte()
		end := n.EndByte()
		if end < start {
			return cerrors.NewCorruptTopologyError("", int64(nodeCount), "node end_byte precedes start_byte", nil)
		}
		startByteBuilder.Append(uint64(start))
		lengthBuilder.Append(uint64(end - start))

		nodeCount++
		return nil
	}

	if err := recordNode(root); err != nil {
		return nil, err
	}
	bpBuilder.Open()

	stack := frameAllocator.Get(initialStackCapacity)
	stack = append(stack, walkFrame{node: root, childIdx: 0})
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.childIdx < top.node.ChildCount() {
			child := top.node.Child(top.childIdx)
			top.childIdx++

			if err := recordNode(child); err != nil {
				return nil, err
			}
			bpBuilder.Open()
			stack = append(stack, walkFrame{node: child, childIdx: 0})
		} else {
			if err := bpBuilder.Close(); err != nil {
				return nil, err
			}
			stack = stack[:len(stack)-1]
		}
	}
	// The root's frame was popped (and its paren closed) inside the loop.
	frameAllocator.Put(stack)

	bpTree, err := bpBuilder.Finish()
	if err != nil {
		return nil, err
	}

	var maxKind uint64
	for i, id := range kindIDs {
		if _, isLiteral := kindLiteral[i]; isLiteral {
			continue
		}
		if uint64(id) > maxKind {
			maxKind = uint64(id)
		}
	}
	kindWidth := bitvec.BitsForMax(maxKind)
	kindPacked := bitvec.NewPackedArray(nodeCount, kindWidth)
	for i, id := range kindIDs {
		kindPacked.Set(i, uint64(id))
	}

	flagsPacked := bitvec.NewPackedArray(nodeCount, 5)
	for i, f := range flagBits {
		flagsPacked.Set(i, f)
	}

	fieldPresent := bitvec.NewBitVector(nodeCount)
	for i, present := range fieldPresentBits {
		if present {
			fieldPresent.Set(i)
		}
	}
	fieldPresent.Build()

	return &Tree{
		bp:           bpTree,
		interner:     interner,
		kindID:       kindPacked,
		kindLiteral:  kindLiteral,
		flags:        flagsPacked,
		fieldPresent: fieldPresent,
		fieldIDs:     fieldIDs,
		startByte:    startByteBuilder.Finish(),
		length:       lengthBuilder.Finish(),
		nodeCount:    nodeCount,
		sourceLen:    sourceLen,
	}, nil
}
