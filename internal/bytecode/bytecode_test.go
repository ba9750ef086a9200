package bytecode

import (
	"testing"

	"github.com/standardbeagle/cstcache/internal/cst"
	"github.com/standardbeagle/cstcache/internal/intern"
)

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

func (f *fakeNode) Kind() string              { return f.kind }
func (f *fakeNode) IsNamed() bool             { return f.named }
func (f *fakeNode) IsMissing() bool           { return f.missing }
func (f *fakeNode) IsExtra() bool             { return f.extra }
func (f *fakeNode) IsError() bool             { return f.errFlag }
func (f *fakeNode) StartByte() int            { return f.start }
func (f *fakeNode) EndByte() int              { return f.end }
func (f *fakeNode) FieldName() (string, bool) { return f.field, f.hasField }
func (f *fakeNode) ChildCount() int           { return len(f.children) }
func (f *fakeNode) Child(k int) cst.ExternalNode { return f.children[k] }

func buildSampleTree(t *testing.T) *cst.Tree {
	t.Helper()
	name := &fakeNode{kind: "identifier", named: true, start: 9, end: 13, field: "name", hasField: true}
	inner := &fakeNode{kind: "identifier", named: true, start: 20, end: 24}
	block := &fakeNode{kind: "block", named: true, start: 14, end: 40, field: "body", hasField: true, children: []*fakeNode{inner}}
	root := &fakeNode{kind: "function_definition", named: true, start: 0, end: 40, children: []*fakeNode{name, block}}

	tree, err := cst.Build(root, intern.New(), 40, cst.DefaultLimits())
	if err != nil {
		t.Fatalf("cst.Build: %v", err)
	}
	return tree
}

// buildRepeatedLeavesTree makes a parent with N contiguous identical-kind
// leaf children, exercising the RepeatLast fold.
func buildRepeatedLeavesTree(t *testing.T, n int) *cst.Tree {
	t.Helper()
	children := make([]*fakeNode, n)
	for i := 0; i < n; i++ {
		children[i] = &fakeNode{kind: "token", named: true, start: i * 4, end: i*4 + 4}
	}
	root := &fakeNode{kind: "list", named: true, start: 0, end: n * 4, children: children}
	tree, err := cst.Build(root, intern.New(), n*4, cst.DefaultLimits())
	if err != nil {
		t.Fatalf("cst.Build: %v", err)
	}
	return tree
}

func decodedEqualsTree(t *testing.T, nodes []DecodedNode, tree *cst.Tree) {
	t.Helper()
	if len(nodes) != tree.NodeCount() {
		t.Fatalf("decoded %d nodes, tree has %d", len(nodes), tree.NodeCount())
	}
	for i := 0; i < tree.NodeCount(); i++ {
		want := tree.NodeByIndex(i)
		got := nodes[i]
		if got.Kind != want.Kind() {
			t.Errorf("node %d: Kind = %q, want %q", i, got.Kind, want.Kind())
		}
		if got.Start != want.StartByte() || got.End() != want.EndByte() {
			t.Errorf("node %d: range = [%d,%d), want [%d,%d)", i, got.Start, got.End(), want.StartByte(), want.EndByte())
		}
		if got.IsNamed() != want.IsNamed() || got.IsMissing() != want.IsMissing() ||
			got.IsExtra() != want.IsExtra() || got.IsError() != want.IsError() {
			t.Errorf("node %d: flags mismatch", i)
		}
		wantField, wantHas := want.FieldNameInParent()
		if got.HasField != wantHas {
			t.Errorf("node %d: HasField = %v, want %v", i, got.HasField, wantHas)
		}
		if wantHas && got.FieldName != wantField {
			t.Errorf("node %d: FieldName = %q, want %q", i, got.FieldName, wantField)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tree := buildSampleTree(t)
	s, err := Encode(tree)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	nodes, err := Decode(s)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	decodedEqualsTree(t, nodes, tree)
}

func TestEncodeDecodeParentLinks(t *testing.T) {
	tree := buildSampleTree(t)
	s, err := Encode(tree)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	nodes, err := Decode(s)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	// function_definition(0) > identifier(1,name), block(2,body) > identifier(3)
	if nodes[1].ParentIndex != 0 {
		t.Errorf("nodes[1].ParentIndex = %d, want 0", nodes[1].ParentIndex)
	}
	if nodes[2].ParentIndex != 0 {
		t.Errorf("nodes[2].ParentIndex = %d, want 0", nodes[2].ParentIndex)
	}
	if nodes[3].ParentIndex != 2 {
		t.Errorf("nodes[3].ParentIndex = %d, want 2", nodes[3].ParentIndex)
	}
	if nodes[0].ParentIndex != -1 {
		t.Errorf("root ParentIndex = %d, want -1", nodes[0].ParentIndex)
	}
}

func TestRepeatLastFoldingRoundTrip(t *testing.T) {
	tree := buildRepeatedLeavesTree(t, 10)
	s, err := Encode(tree)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	foundRepeat := false
	for _, b := range s.Opcodes {
		if Opcode(b) == OpRepeatLast {
			foundRepeat = true
			break
		}
	}
	if !foundRepeat {
		t.Error("expected at least one OpRepeatLast in opcode stream for contiguous identical leaves")
	}

	nodes, err := Decode(s)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	decodedEqualsTree(t, nodes, tree)
}

func TestDeltaPosVsSetPosThreshold(t *testing.T) {
	// Two leaves whose start delta exceeds the 2^20 threshold must fall
	// back to SetPos rather than DeltaPos.
	far := &fakeNode{kind: "token", named: true, start: 0, end: 4}
	near := &fakeNode{kind: "token", named: true, start: 1 << 21, end: (1 << 21) + 4}
	root := &fakeNode{kind: "list", named: true, start: 0, end: (1 << 21) + 4, children: []*fakeNode{far, near}}
	tree, err := cst.Build(root, intern.New(), (1<<21)+4, cst.DefaultLimits())
	if err != nil {
		t.Fatalf("cst.Build: %v", err)
	}

	s, err := Encode(tree)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	nodes, err := Decode(s)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	decodedEqualsTree(t, nodes, tree)
}

func TestNavigatorLoad(t *testing.T) {
	tree := buildSampleTree(t)
	s, err := Encode(tree)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	nv := NewNavigator(s)
	for i := 0; i < tree.NodeCount(); i++ {
		got, err := nv.Load(i)
		if err != nil {
			t.Fatalf("Load(%d): %v", i, err)
		}
		want := tree.NodeByIndex(i)
		if got.Kind != want.Kind() || got.Start != want.StartByte() || got.End() != want.EndByte() {
			t.Errorf("Load(%d) = %+v, want kind=%q range=[%d,%d)", i, got, want.Kind(), want.StartByte(), want.EndByte())
		}
	}
}

func TestNavigatorLoadAcrossCheckpoints(t *testing.T) {
	// Build a tree with enough leaves to force multiple checkpoints
	// (checkpointInterval = 1024 nodes).
	tree := buildRepeatedLeavesTree(t, 3000)
	s, err := Encode(tree)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(s.Checkpoints) < 2 {
		t.Fatalf("expected multiple checkpoints, got %d", len(s.Checkpoints))
	}

	nv := NewNavigator(s)
	for _, idx := range []int{0, 1, 1023, 1024, 1025, 2500, tree.NodeCount() - 1} {
		got, err := nv.Load(idx)
		if err != nil {
			t.Fatalf("Load(%d): %v", idx, err)
		}
		want := tree.NodeByIndex(idx)
		if got.Start != want.StartByte() || got.End() != want.EndByte() {
			t.Errorf("Load(%d) range = [%d,%d), want [%d,%d)", idx, got.Start, got.End(), want.StartByte(), want.EndByte())
		}
	}
}

func TestNavigatorLoadOutOfRange(t *testing.T) {
	tree := buildSampleTree(t)
	s, err := Encode(tree)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	nv := NewNavigator(s)
	if _, err := nv.Load(-1); err == nil {
		t.Error("expected error for negative index")
	}
	if _, err := nv.Load(tree.NodeCount()); err == nil {
		t.Error("expected error for out-of-range index")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	tree := buildSampleTree(t)
	s, err := Encode(tree)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	data := Marshal(s)

	got, err := Unmarshal("test.cstb", data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.NodeCount != s.NodeCount {
		t.Errorf("NodeCount = %d, want %d", got.NodeCount, s.NodeCount)
	}
	if len(got.Opcodes) != len(s.Opcodes) {
		t.Errorf("len(Opcodes) = %d, want %d", len(got.Opcodes), len(s.Opcodes))
	}

	nodes, err := Decode(got)
	if err != nil {
		t.Fatalf("Decode after round trip: %v", err)
	}
	decodedEqualsTree(t, nodes, tree)
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	data := []byte("XXXX" + "\x01\x00\x00\x00" + "\x00\x00\x00\x00" + "\x00\x00\x00\x00")
	if _, err := Unmarshal("bad.cstb", data); err == nil {
		t.Error("expected error for bad magic")
	}
}

func TestUnmarshalRejectsVersionMismatch(t *testing.T) {
	tree := buildSampleTree(t)
	s, err := Encode(tree)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	s.Version = FormatVersion + 1
	data := Marshal(s)
	if _, err := Unmarshal("future.cstb", data); err == nil {
		t.Error("expected version mismatch error")
	}
}

func TestUnmarshalRejectsCorruptCRC(t *testing.T) {
	tree := buildSampleTree(t)
	s, err := Encode(tree)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	data := Marshal(s)
	data[len(data)-1] ^= 0xFF
	if _, err := Unmarshal("corrupt.cstb", data); err == nil {
		t.Error("expected crc32 mismatch error")
	}
}

func TestDecodeRejectsTruncatedStream(t *testing.T) {
	tree := buildSampleTree(t)
	s, err := Encode(tree)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	truncated := &Stream{
		Version:    s.Version,
		NodeCount:  s.NodeCount,
		KindTable:  s.KindTable,
		FieldTable: s.FieldTable,
		Opcodes:    s.Opcodes[:len(s.Opcodes)/2],
	}
	if _, err := Decode(truncated); err == nil {
		t.Error("expected error decoding truncated opcode stream")
	}
}

func TestDecodeDeepTree(t *testing.T) {
	const depth = 4096
	// A linear nesting chain: outermost covers the whole range, each level
	// wraps a one-byte-narrower child.
	var chain *fakeNode
	pos := depth
	for i := 0; i < depth; i++ {
		n := &fakeNode{kind: "nest", named: true, start: 0, end: pos}
		if chain != nil {
			n.children = []*fakeNode{chain}
		}
		chain = n
		pos--
	}

	tree, err := cst.Build(chain, intern.New(), depth, cst.DefaultLimits())
	if err != nil {
		t.Fatalf("cst.Build: %v", err)
	}
	s, err := Encode(tree)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	nodes, err := Decode(s)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	decodedEqualsTree(t, nodes, tree)
}
