// Package bp implements the Balanced Parentheses succinct tree topology:
// one open bit (1) per node-enter and one close bit (0) per node-exit,
// 2 bits/node total. find_close/enclose scan the current 512-bit block and
// use a per-block min-excess index to skip blocks that cannot hold the
// answer, so their cost grows with the number of blocks crossed rather than
// being constant; kth_child takes k next-sibling jumps.
package bp

import (
	cerrors "github.com/standardbeagle/cstcache/internal/errors"
)

const (
	blockSize = 512 // bits per min-excess block
)

// Builder accumulates Open/Close calls during a preorder tree walk.
type Builder struct {
	bits  []byte // 1 = open, 0 = close, one byte per bit for build-time simplicity
	depth int
}

// NewBuilder starts a new BP builder with an estimated node-count hint.
func NewBuilder(nodeHint int) *Builder {
	return &Builder{bits: make([]byte, 0, nodeHint*2)}
}

// Open emits an opening parenthesis (node enter).
func (b *Builder) Open() {
	b.bits = append(b.bits, 1)
	b.depth++
}

// Close emits a closing parenthesis (node exit). Returns an error if this
// would close a paren that was never opened.
func (b *Builder) Close() error {
	if b.depth == 0 {
		return cerrors.NewCorruptTopologyError("", -1, "unbalanced close: no matching open", nil)
	}
	b.bits = append(b.bits, 0)
	b.depth--
	return nil
}

// Finish validates the sequence is balanced (depth returns to zero) and
// builds the immutable Tree with its rank/select and min-excess indexes.
func (b *Builder) Finish() (*Tree, error) {
	if b.depth != 0 {
		return nil, cerrors.NewCorruptTopologyError("", int64(len(b.bits)), "unbalanced sequence: unclosed opens remain", nil)
	}
	return build(b.bits)
}

// Tree is an immutable balanced-parentheses sequence with O(1) navigation.
type Tree struct {
	n int // number of bits (2 * node count)

	// open[i] reports whether bit i is an open paren; used by Get-style callers.
	open []bool

	// excess[i] = number of opens minus closes in [0, i]. Stored as int32;
	// a tree of ~10^6 nodes has excess bounded by node depth, far under
	// int32 range, but we store prefix excess (not depth) so the range is
	// bounded by total node count instead.
	excess []int32

	// blockMinExcess[k] = minimum excess value within block k.
	// blockMinPos[k] = position (bit index) of that minimum, first occurrence.
	blockMinExcess []int32
	blockMinPos    []int32

	rank *rankIndex
}

func build(bits []byte) (*Tree, error) {
	n := len(bits)
	t := &Tree{
		n:      n,
		open:   make([]bool, n),
		excess: make([]int32, n),
	}

	var excess int32
	for i, bit := range bits {
		if bit == 1 {
			t.open[i] = true
			excess++
		} else {
			excess--
		}
		t.excess[i] = excess
		if excess < 0 {
			return nil, cerrors.NewCorruptTopologyError("", int64(i), "unbalanced sequence: excess went negative", nil)
		}
	}
	if excess != 0 {
		return nil, cerrors.NewCorruptTopologyError("", int64(n), "unbalanced sequence: final excess non-zero", nil)
	}

	nBlocks := (n + blockSize - 1) / blockSize
	t.blockMinExcess = make([]int32, nBlocks)
	t.blockMinPos = make([]int32, nBlocks)
	for k := 0; k < nBlocks; k++ {
		start := k * blockSize
		end := start + blockSize
		if end > n {
			end = n
		}
		minExcess := t.excess[start]
		minPos := start
		for i := start + 1; i < end; i++ {
			if t.excess[i] < minExcess {
				minExcess = t.excess[i]
				minPos = i
			}
		}
		t.blockMinExcess[k] = minExcess
		t.blockMinPos[k] = int32(minPos)
	}

	t.rank = buildRankIndex(t.open)
	return t, nil
}

// Len returns the number of bits (2 * node count).
func (t *Tree) Len() int { return t.n }

// NodeCount returns the number of nodes (open bits).
func (t *Tree) NodeCount() int { return t.n / 2 }

// IsOpen reports whether the bit at position p is an opening parenthesis.
func (t *Tree) IsOpen(p int) bool { return t.open[p] }

// excessBefore returns the excess value just before position p (i.e. the excess
// after processing bits [0,p)). excess[-1] == 0 by convention.
func (t *Tree) excessBefore(p int) int32 {
	if p == 0 {
		return 0
	}
	return t.excess[p-1]
}

// PreorderRank returns the preorder index of the node whose open paren is at
// bit position p: the count of opens in [0, p).
func (t *Tree) PreorderRank(p int) int {
	return t.rank.rank1(p)
}

// Select returns the bit position of the open paren for preorder index idx
// (0-based).
func (t *Tree) Select(idx int) int {
	return t.rank.select1(idx)
}

// FindClose returns the position of the close paren matching the open paren
// at position p. p must be an open paren. Returns -1 if no match is found
// (should not happen for a Tree built via Builder.Finish).
func (t *Tree) FindClose(p int) int {
	target := t.excessBefore(p) // excess right before the open that must be matched after the close
	// We search for the first position q > p where excess[q] == target,
	// i.e. the running total returns to the level just before the open.
	block := p / blockSize
	nBlocks := len(t.blockMinExcess)

	// Scan the remainder of p's own block first.
	blockEnd := (block + 1) * blockSize
	if blockEnd > t.n {
		blockEnd = t.n
	}
	for i := p; i < blockEnd; i++ {
		if t.excess[i] == target {
			return i
		}
	}

	// Scan subsequent blocks, using the min-excess summary to skip blocks
	// that cannot contain the answer.
	for k := block + 1; k < nBlocks; k++ {
		if t.blockMinExcess[k] > target {
			continue
		}
		start := k * blockSize
		end := start + blockSize
		if end > t.n {
			end = t.n
		}
		for i := start; i < end; i++ {
			if t.excess[i] == target {
				return i
			}
		}
	}
	return -1
}

// Enclose returns the position of the nearest enclosing open paren (the
// parent) of the open paren at position p, or -1 if p is the root.
func (t *Tree) Enclose(p int) int {
	if p == 0 {
		return -1
	}
	target := t.excessBefore(p) - 1
	block := p / blockSize

	// The parent's open paren q is the first position after the last i < p
	// whose running excess equals target (excess[q-1] == target).
	start := block * blockSize
	for i := p - 1; i >= start; i-- {
		if t.excess[i] == target {
			return i + 1
		}
	}
	for k := block - 1; k >= 0; k-- {
		if t.blockMinExcess[k] > target {
			continue
		}
		bs := k * blockSize
		be := bs + blockSize
		if be > t.n {
			be = t.n
		}
		for i := be - 1; i >= bs; i-- {
			if t.excess[i] == target {
				return i + 1
			}
		}
	}
	if target == 0 {
		return 0 // nothing before the root's open paren
	}
	return -1
}

// Parent is an alias for Enclose.
func (t *Tree) Parent(p int) int { return t.Enclose(p) }

// NextSibling returns the position of the next sibling's open paren, or -1
// if p is the last child of its parent (or the root).
func (t *Tree) NextSibling(p int) int {
	close := t.FindClose(p)
	if close < 0 || close+1 >= t.n {
		return -1
	}
	if t.open[close+1] {
		return close + 1
	}
	return -1
}

// PrevSibling returns the position of the previous sibling's open paren, or
// -1 if p is the first child of its parent.
func (t *Tree) PrevSibling(p int) int {
	if p == 0 {
		return -1
	}
	if t.open[p-1] {
		// p-1 is itself an open: that only happens if p is the first child
		// of p-1 (its parent), so there is no previous sibling.
		return -1
	}
	// bit p-1 is a close paren; the sibling's open is its match.
	prevClose := p - 1
	return t.findOpenForClose(prevClose)
}

// findOpenForClose returns the open position matching a close at position q.
func (t *Tree) findOpenForClose(q int) int {
	target := t.excess[q]
	block := q / blockSize
	start := block * blockSize
	for i := q - 1; i >= start; i-- {
		if t.excessBefore(i) == target {
			return i
		}
	}
	for k := block - 1; k >= 0; k-- {
		bs := k * blockSize
		be := bs + blockSize
		if be > t.n {
			be = t.n
		}
		for i := be - 1; i >= bs; i-- {
			if t.excessBefore(i) == target {
				return i
			}
		}
	}
	return -1
}

// SubtreeSize returns the number of nodes in the subtree rooted at the open
// paren at position p, including p itself.
func (t *Tree) SubtreeSize(p int) int {
	close := t.FindClose(p)
	return (close - p + 1) / 2
}

// KthChild returns the position of the k-th child (0-based) of the node
// whose open paren is at p, or -1 if there is no such child.
func (t *Tree) KthChild(p int, k int) int {
	child := p + 1
	if child >= t.n || !t.open[child] {
		return -1 // no children at all
	}
	for i := 0; i < k; i++ {
		child = t.NextSibling(child)
		if child < 0 {
			return -1
		}
	}
	return child
}

// ChildCount returns the number of direct children of the node at p.
func (t *Tree) ChildCount(p int) int {
	child := p + 1
	count := 0
	for child < t.n && t.open[child] {
		count++
		child = t.NextSibling(child)
		if child < 0 {
			break
		}
	}
	return count
}
