// Package cst builds and exposes the CompactTree: the succinct in-memory
// representation of a parsed Concrete Syntax Tree (BP topology + packed
// attribute arrays + delta-encoded positions + interned names), and a node
// handle API equivalent to the external parser's native node API.
package cst

// ExternalNode is the minimal capability an external parser's tree node
// must expose for CompactTree to ingest it. It matches the external parser
// contract (kind, flags, byte range, field label, indexed children) without
// depending on any specific parser library.
type ExternalNode interface {
	// Kind returns the grammar symbol name (e.g. "function_definition").
	Kind() string
	IsNamed() bool
	IsMissing() bool
	IsExtra() bool
	IsError() bool
	// StartByte and EndByte are byte offsets into the source, not UTF-8
	// codepoint offsets.
	StartByte() int
	EndByte() int
	// FieldName returns this node's field label within its parent, if any.
	FieldName() (string, bool)
	ChildCount() int
	// Child returns the k-th child (0-based, source parser's child order).
	Child(k int) ExternalNode
}
