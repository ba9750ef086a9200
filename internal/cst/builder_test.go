package cst

import (
	"testing"

	"github.com/standardbeagle/cstcache/internal/intern"
)

// fakeNode is a simple in-memory ExternalNode for tests, standing in for a
// real incremental parser's tree.
type fakeNode struct {
	kind     string
	named    bool
	missing  bool
	extra    bool
	errFlag  bool
	start    int
	end      int
	field    string
	hasField bool
	children []*fakeNode
}

func (f *fakeNode) Kind() string             { return f.kind }
func (f *fakeNode) IsNamed() bool            { return f.named }
func (f *fakeNode) IsMissing() bool          { return f.missing }
func (f *fakeNode) IsExtra() bool            { return f.extra }
func (f *fakeNode) IsError() bool            { return f.errFlag }
func (f *fakeNode) StartByte() int           { return f.start }
func (f *fakeNode) EndByte() int             { return f.end }
func (f *fakeNode) FieldName() (string, bool) { return f.field, f.hasField }
func (f *fakeNode) ChildCount() int          { return len(f.children) }
func (f *fakeNode) Child(k int) ExternalNode { return f.children[k] }

// buildSample constructs:
// function_definition [0,40)
//   name: identifier [9,13)
//   body: block [14,40)
//     identifier [20,24) (extra comment-like leaf)
func buildSample() *fakeNode {
	name := &fakeNode{kind: "identifier", named: true, start: 9, end: 13, field: "name", hasField: true}
	inner := &fakeNode{kind: "identifier", named: true, start: 20, end: 24}
	block := &fakeNode{kind: "block", named: true, start: 14, end: 40, field: "body", hasField: true, children: []*fakeNode{inner}}
	return &fakeNode{kind: "function_definition", named: true, start: 0, end: 40, children: []*fakeNode{name, block}}
}

func TestBuildRoundTripAttributes(t *testing.T) {
	root := buildSample()
	pool := intern.New()
	tree, err := Build(root, pool, 40, DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	if tree.NodeCount() != 4 {
		t.Fatalf("NodeCount() = %d, want 4", tree.NodeCount())
	}

	r := tree.Root()
	if r.Kind() != "function_definition" {
		t.Errorf("root Kind() = %q", r.Kind())
	}
	if r.StartByte() != 0 || r.EndByte() != 40 {
		t.Errorf("root range = [%d,%d), want [0,40)", r.StartByte(), r.EndByte())
	}
	if r.ChildCount() != 2 {
		t.Fatalf("root ChildCount() = %d, want 2", r.ChildCount())
	}

	nameChild, ok := r.Child(0)
	if !ok {
		t.Fatal("expected child 0")
	}
	if nameChild.Kind() != "identifier" || nameChild.StartByte() != 9 || nameChild.EndByte() != 13 {
		t.Errorf("name child mismatch: kind=%q range=[%d,%d)", nameChild.Kind(), nameChild.StartByte(), nameChild.EndByte())
	}
	if fieldName, ok := nameChild.FieldNameInParent(); !ok || fieldName != "name" {
		t.Errorf("FieldNameInParent() = %q, %v; want \"name\", true", fieldName, ok)
	}

	parent, ok := nameChild.Parent()
	if !ok || parent.Kind() != "function_definition" {
		t.Errorf("Parent() mismatch")
	}
}

func TestNodeSiblingsAndChildren(t *testing.T) {
	root := buildSample()
	pool := intern.New()
	tree, err := Build(root, pool, 40, DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	r := tree.Root()
	name, _ := r.Child(0)
	body, _ := r.Child(1)

	next, ok := name.NextSibling()
	if !ok || next.Kind() != "block" {
		t.Errorf("NextSibling of name should be block")
	}
	prev, ok := body.PrevSibling()
	if !ok || prev.StartByte() != name.StartByte() {
		t.Errorf("PrevSibling of block should be name")
	}
	if _, ok := name.PrevSibling(); ok {
		t.Error("name should have no previous sibling")
	}
	if _, ok := body.NextSibling(); ok {
		t.Error("body should have no next sibling")
	}

	var seen []string
	for c := range r.Children() {
		seen = append(seen, c.Kind())
	}
	if len(seen) != 2 || seen[0] != "identifier" || seen[1] != "block" {
		t.Errorf("Children() = %v", seen)
	}
}

func TestNodeSubtreeSizeAndDescendant(t *testing.T) {
	root := buildSample()
	pool := intern.New()
	tree, err := Build(root, pool, 40, DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	r := tree.Root()
	if r.SubtreeSize() != 4 {
		t.Errorf("root SubtreeSize() = %d, want 4", r.SubtreeSize())
	}

	// byte range [21,23) falls inside the inner identifier [20,24).
	desc, ok := r.DescendantForByteRange(21, 23)
	if !ok {
		t.Fatal("expected a descendant")
	}
	if desc.StartByte() != 20 || desc.EndByte() != 24 {
		t.Errorf("DescendantForByteRange = [%d,%d), want [20,24)", desc.StartByte(), desc.EndByte())
	}

	// Range spanning the whole body finds the block itself, not the leaf.
	desc2, ok := r.DescendantForByteRange(14, 40)
	if !ok || desc2.Kind() != "block" {
		t.Errorf("DescendantForByteRange(whole body) = %q, want block", desc2.Kind())
	}
}

func TestBuildEmptySource(t *testing.T) {
	root := &fakeNode{kind: "source_file", named: true, start: 0, end: 0}
	pool := intern.New()
	tree, err := Build(root, pool, 0, DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	if tree.NodeCount() != 1 {
		t.Fatalf("NodeCount() = %d, want 1", tree.NodeCount())
	}
	r := tree.Root()
	if r.StartByte() != 0 || r.EndByte() != 0 {
		t.Errorf("empty root range = [%d,%d), want [0,0)", r.StartByte(), r.EndByte())
	}
	if r.ChildCount() != 0 {
		t.Errorf("ChildCount() = %d, want 0", r.ChildCount())
	}
}

func TestBuildCapacityExceeded(t *testing.T) {
	root := buildSample()
	pool := intern.New()
	_, err := Build(root, pool, 40, Limits{MaxNodes: 2})
	if err == nil {
		t.Fatal("expected CapacityExceeded error")
	}
}

func TestBuildDeepTree(t *testing.T) {
	depth := 5000
	var leaf *fakeNode
	var chain *fakeNode
	for i := depth - 1; i >= 0; i-- {
		n := &fakeNode{kind: "nested", named: true, start: 0, end: depth}
		if chain != nil {
			n.children = []*fakeNode{chain}
		} else {
			leaf = n
		}
		chain = n
	}
	_ = leaf
	pool := intern.New()
	tree, err := Build(chain, pool, depth, DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	if tree.NodeCount() != depth {
		t.Fatalf("NodeCount() = %d, want %d", tree.NodeCount(), depth)
	}
}

func TestBuildFlagsAndInterning(t *testing.T) {
	errNode := &fakeNode{kind: "ERROR", errFlag: true, start: 5, end: 6}
	root := &fakeNode{kind: "source_file", named: true, start: 0, end: 6, children: []*fakeNode{errNode}}
	pool := intern.New()
	tree, err := Build(root, pool, 6, DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	child, _ := tree.Root().Child(0)
	if !child.IsError() {
		t.Error("expected IsError() true")
	}
	if child.IsNamed() {
		t.Error("expected IsNamed() false")
	}

	// Same kind string used twice (source_file and ERROR distinct here) should
	// still resolve to stable, distinct interned ids within one pool.
	if pool.Len() < 2 {
		t.Errorf("expected at least 2 distinct interned kinds, got %d", pool.Len())
	}
}
