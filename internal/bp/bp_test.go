package bp

import "testing"

// buildSimpleTree builds the fixed five-node BP tree drawn below; the
// comments beside each call give the bit position it emits.
func buildSimpleTree(t *testing.T) *Tree {
	t.Helper()
	// root
	//   a
	//     a1
	//     a2
	//   b (leaf)
	b := NewBuilder(5)
	b.Open() // root (pos 0)
	b.Open() // a (pos 1)
	b.Open() // a1 (pos 2)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	} // a1 close (pos 3)
	b.Open() // a2 (pos 4)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	} // a2 close (pos 5)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	} // a close (pos 6)
	b.Open() // b (pos 7)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	} // b close (pos 8)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	} // root close (pos 9)

	tree, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

func TestBPFindClose(t *testing.T) {
	tree := buildSimpleTree(t)
	cases := map[int]int{
		0: 9, // root
		1: 6, // a
		2: 3, // a1
		4: 5, // a2
		7: 8, // b
	}
	for open, wantClose := range cases {
		if got := tree.FindClose(open); got != wantClose {
			t.Errorf("FindClose(%d) = %d, want %d", open, got, wantClose)
		}
	}
}

func TestBPParentEnclose(t *testing.T) {
	tree := buildSimpleTree(t)
	cases := map[int]int{
		1: 0,  // a's parent is root
		2: 1,  // a1's parent is a
		4: 1,  // a2's parent is a
		7: 0,  // b's parent is root
		0: -1, // root has no parent
	}
	for node, wantParent := range cases {
		if got := tree.Parent(node); got != wantParent {
			t.Errorf("Parent(%d) = %d, want %d", node, got, wantParent)
		}
	}
}

func TestBPSiblings(t *testing.T) {
	tree := buildSimpleTree(t)
	if got := tree.NextSibling(1); got != 7 {
		t.Errorf("NextSibling(a) = %d, want 7 (b)", got)
	}
	if got := tree.NextSibling(7); got != -1 {
		t.Errorf("NextSibling(b) = %d, want -1", got)
	}
	if got := tree.NextSibling(2); got != 4 {
		t.Errorf("NextSibling(a1) = %d, want 4 (a2)", got)
	}
	if got := tree.PrevSibling(7); got != 1 {
		t.Errorf("PrevSibling(b) = %d, want 1 (a)", got)
	}
	if got := tree.PrevSibling(1); got != -1 {
		t.Errorf("PrevSibling(a) = %d, want -1", got)
	}
	if got := tree.PrevSibling(4); got != 2 {
		t.Errorf("PrevSibling(a2) = %d, want 2 (a1)", got)
	}
}

func TestBPKthChildAndChildCount(t *testing.T) {
	tree := buildSimpleTree(t)
	if got := tree.ChildCount(0); got != 2 {
		t.Errorf("ChildCount(root) = %d, want 2", got)
	}
	if got := tree.ChildCount(1); got != 2 {
		t.Errorf("ChildCount(a) = %d, want 2", got)
	}
	if got := tree.ChildCount(7); got != 0 {
		t.Errorf("ChildCount(b) = %d, want 0", got)
	}
	if got := tree.KthChild(0, 0); got != 1 {
		t.Errorf("KthChild(root,0) = %d, want 1 (a)", got)
	}
	if got := tree.KthChild(0, 1); got != 7 {
		t.Errorf("KthChild(root,1) = %d, want 7 (b)", got)
	}
	if got := tree.KthChild(0, 2); got != -1 {
		t.Errorf("KthChild(root,2) = %d, want -1", got)
	}
}

func TestBPSubtreeSize(t *testing.T) {
	tree := buildSimpleTree(t)
	if got := tree.SubtreeSize(0); got != 5 {
		t.Errorf("SubtreeSize(root) = %d, want 5", got)
	}
	if got := tree.SubtreeSize(1); got != 3 {
		t.Errorf("SubtreeSize(a) = %d, want 3", got)
	}
	if got := tree.SubtreeSize(2); got != 1 {
		t.Errorf("SubtreeSize(a1) = %d, want 1", got)
	}
}

func TestBPPreorderRank(t *testing.T) {
	tree := buildSimpleTree(t)
	// preorder indices in open-position order: root=0,a=1,a1=2,a2=3,b=4
	cases := map[int]int{0: 0, 1: 1, 2: 2, 4: 3, 7: 4}
	for pos, want := range cases {
		if got := tree.PreorderRank(pos); got != want {
			t.Errorf("PreorderRank(%d) = %d, want %d", pos, got, want)
		}
	}
	for idx, wantPos := range map[int]int{0: 0, 1: 1, 2: 2, 3: 4, 4: 7} {
		if got := tree.Select(idx); got != wantPos {
			t.Errorf("Select(%d) = %d, want %d", idx, got, wantPos)
		}
	}
}

func TestBPUnbalancedCloseRejected(t *testing.T) {
	b := NewBuilder(1)
	if err := b.Close(); err == nil {
		t.Fatal("expected error closing with no matching open")
	}
}

func TestBPUnbalancedFinishRejected(t *testing.T) {
	b := NewBuilder(1)
	b.Open()
	if _, err := b.Finish(); err == nil {
		t.Fatal("expected error finishing with an unclosed open")
	}
}

func TestBPEmptyTree(t *testing.T) {
	b := NewBuilder(1)
	b.Open()
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	tree, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if tree.NodeCount() != 1 {
		t.Errorf("NodeCount() = %d, want 1", tree.NodeCount())
	}
	if tree.ChildCount(0) != 0 {
		t.Errorf("ChildCount(root) = %d, want 0", tree.ChildCount(0))
	}
}

func TestBPDeeplyNested(t *testing.T) {
	depth := 5000
	b := NewBuilder(depth)
	for i := 0; i < depth; i++ {
		b.Open()
	}
	for i := 0; i < depth; i++ {
		if err := b.Close(); err != nil {
			t.Fatal(err)
		}
	}
	tree, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if tree.NodeCount() != depth {
		t.Fatalf("NodeCount() = %d, want %d", tree.NodeCount(), depth)
	}
	if got := tree.FindClose(0); got != 2*depth-1 {
		t.Errorf("FindClose(root) = %d, want %d", got, 2*depth-1)
	}
}

func TestBPWideTree(t *testing.T) {
	children := 200000
	b := NewBuilder(children + 1)
	b.Open() // root
	for i := 0; i < children; i++ {
		b.Open()
		if err := b.Close(); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	tree, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if got := tree.ChildCount(0); got != children {
		t.Fatalf("ChildCount(root) = %d, want %d", got, children)
	}
	if got := tree.KthChild(0, children-1); got == -1 {
		t.Fatal("KthChild(root, last) = -1, want a valid position")
	}
}
