package cst

import "iter"

// Node is a lightweight handle into a Tree: the pair (tree, BP position).
// Handles are value types and cheap to copy; they carry no identity beyond
// (tree pointer, position) so two handles obtained independently for the
// same node compare equal.
type Node struct {
	tree *Tree
	pos  int
}

// IsZero reports whether n is the zero Node (no tree attached).
func (n Node) IsZero() bool { return n.tree == nil }

func (n Node) index() int { return n.tree.bp.PreorderRank(n.pos) }

// Kind returns the grammar symbol name for this node.
func (n Node) Kind() string {
	idx := n.index()
	if literal, ok := n.tree.kindLiteral[idx]; ok {
		return literal
	}
	id := n.tree.kindIDAt(idx)
	s, _ := n.tree.interner.Resolve(id)
	return s
}

// IsNamed reports whether the node is a named grammar symbol (as opposed to
// an anonymous token).
func (n Node) IsNamed() bool { return n.tree.flagsAt(n.index())&flagNamed != 0 }

// IsMissing reports whether the parser inserted this node to recover from a
// syntax error.
func (n Node) IsMissing() bool { return n.tree.flagsAt(n.index())&flagMissing != 0 }

// IsExtra reports whether the node is outside the normal grammar (e.g. a
// comment).
func (n Node) IsExtra() bool { return n.tree.flagsAt(n.index())&flagExtra != 0 }

// IsError reports whether the node represents a parse error.
func (n Node) IsError() bool { return n.tree.flagsAt(n.index())&flagError != 0 }

// FieldIDInParent returns the interned field-name id under which this node
// appears as a child of its parent, if any.
func (n Node) FieldIDInParent() (uint32, bool) {
	return n.tree.fieldIDAt(n.index())
}

// FieldNameInParent resolves FieldIDInParent to its string form.
func (n Node) FieldNameInParent() (string, bool) {
	id, ok := n.FieldIDInParent()
	if !ok {
		return "", false
	}
	return n.tree.interner.Resolve(id)
}

// StartByte returns the node's starting byte offset in the source.
func (n Node) StartByte() int { return n.tree.startByteAt(n.index()) }

// EndByte returns the node's ending byte offset (exclusive) in the source.
func (n Node) EndByte() int { return n.StartByte() + n.tree.lengthAt(n.index()) }

// ByteLen returns EndByte() - StartByte().
func (n Node) ByteLen() int { return n.tree.lengthAt(n.index()) }

// Parent returns the node's parent, or the zero Node and false at the root.
func (n Node) Parent() (Node, bool) {
	p := n.tree.bp.Parent(n.pos)
	if p < 0 {
		return Node{}, false
	}
	return Node{tree: n.tree, pos: p}, true
}

// ChildCount returns the number of direct children.
func (n Node) ChildCount() int { return n.tree.bp.ChildCount(n.pos) }

// Child returns the k-th child (0-based), or false if there is no such
// child.
func (n Node) Child(k int) (Node, bool) {
	p := n.tree.bp.KthChild(n.pos, k)
	if p < 0 {
		return Node{}, false
	}
	return Node{tree: n.tree, pos: p}, true
}

// Children iterates direct children in source parser child order.
func (n Node) Children() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		count := n.ChildCount()
		for i := 0; i < count; i++ {
			child, ok := n.Child(i)
			if !ok || !yield(child) {
				return
			}
		}
	}
}

// NextSibling returns the next sibling, or false if n is the last child of
// its parent (or the root).
func (n Node) NextSibling() (Node, bool) {
	p := n.tree.bp.NextSibling(n.pos)
	if p < 0 {
		return Node{}, false
	}
	return Node{tree: n.tree, pos: p}, true
}

// PrevSibling returns the previous sibling, or false if n is the first
// child of its parent.
func (n Node) PrevSibling() (Node, bool) {
	p := n.tree.bp.PrevSibling(n.pos)
	if p < 0 {
		return Node{}, false
	}
	return Node{tree: n.tree, pos: p}, true
}

// SubtreeSize returns the number of nodes in the subtree rooted at n,
// including n itself.
func (n Node) SubtreeSize() int { return n.tree.bp.SubtreeSize(n.pos) }

// contains reports whether [lo,hi] is fully within [n.StartByte(), n.EndByte()].
func (n Node) contains(lo, hi int) bool {
	return n.StartByte() <= lo && hi <= n.EndByte()
}

// DescendantForByteRange returns the smallest node that fully contains
// [lo, hi], descending from n. Ties (multiple children covering the same
// range) are broken by depth: the deeper node (later in preorder among
// equal-range candidates) wins. Explicit iteration only, so this is safe to
// call on arbitrarily deep trees.
func (n Node) DescendantForByteRange(lo, hi int) (Node, bool) {
	if !n.contains(lo, hi) {
		return Node{}, false
	}
	current := n
	for {
		advanced := false
		count := current.ChildCount()
		for i := 0; i < count; i++ {
			child, ok := current.Child(i)
			if !ok {
				continue
			}
			if child.contains(lo, hi) {
				current = child
				advanced = true
				break
			}
			if child.StartByte() > hi {
				break // children are in byte order; no later child can contain [lo,hi]
			}
		}
		if !advanced {
			return current, true
		}
	}
}
