package tier

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/standardbeagle/cstcache/internal/config"
	"github.com/standardbeagle/cstcache/internal/cst"
	"github.com/standardbeagle/cstcache/internal/intern"
)

// fakeNode is a minimal cst.ExternalNode fixture, mirroring the one used in
// internal/bytecode's tests.
type fakeNode struct {
	kind     string
	named    bool
	start    int
	end      int
	field    string
	hasField bool
	children []*fakeNode
}

func (f *fakeNode) Kind() string      { return f.kind }
func (f *fakeNode) IsNamed() bool     { return f.named }
func (f *fakeNode) IsMissing() bool   { return false }
func (f *fakeNode) IsExtra() bool     { return false }
func (f *fakeNode) IsError() bool     { return false }
func (f *fakeNode) StartByte() int    { return f.start }
func (f *fakeNode) EndByte() int      { return f.end }
func (f *fakeNode) ChildCount() int   { return len(f.children) }
func (f *fakeNode) FieldName() (string, bool) {
	return f.field, f.hasField
}
func (f *fakeNode) Child(k int) cst.ExternalNode { return f.children[k] }

func buildTestTree(t *testing.T, source string) *cst.Tree {
	t.Helper()
	root := &fakeNode{
		kind: "module", named: true, start: 0, end: len(source),
		children: []*fakeNode{
			{kind: "identifier", named: true, start: 0, end: 3, field: "name", hasField: true},
			{kind: "identifier", named: true, start: 4, end: len(source)},
		},
	}
	tree, err := cst.Build(root, intern.New(), len(source), cst.DefaultLimits())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tree
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.StorageDir = t.TempDir()
	cfg.TestMode = true
	cfg.ApplyTestModeThresholds()
	return cfg
}

func TestStoreGetHotRoundTrip(t *testing.T) {
	m := NewManager(testConfig(t))
	source := []byte("foo bar")
	tree := buildTestTree(t, string(source))

	if err := m.Store("a.go", source, tree); err != nil {
		t.Fatalf("Store: %v", err)
	}
	hash := hashSource(source)
	h, err := m.Get("a.go", hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if h == nil || h.Tree != tree {
		t.Fatal("expected hot Get to return the stored tree directly")
	}
	if !bytes.Equal(h.Source, source) {
		t.Errorf("Source = %q, want %q", h.Source, source)
	}
}

func TestGetStaleHashEvicts(t *testing.T) {
	m := NewManager(testConfig(t))
	source := []byte("foo bar")
	tree := buildTestTree(t, string(source))
	if err := m.Store("a.go", source, tree); err != nil {
		t.Fatalf("Store: %v", err)
	}

	h, err := m.Get("a.go", hashSource([]byte("different content")))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if h != nil {
		t.Fatal("expected nil handle on source_hash mismatch")
	}
	m.mu.RLock()
	_, ok := m.entries["a.go"]
	m.mu.RUnlock()
	if ok {
		t.Error("expected stale entry to be evicted from the index")
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	m := NewManager(testConfig(t))
	source := []byte("foo bar")
	tree := buildTestTree(t, string(source))
	if err := m.Store("a.go", source, tree); err != nil {
		t.Fatalf("Store: %v", err)
	}
	m.Invalidate("a.go")

	h, err := m.Get("a.go", hashSource(source))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if h != nil {
		t.Fatal("expected nil handle after Invalidate")
	}
	if m.sourceStore.Len() != 0 {
		t.Errorf("expected shared source released, Len() = %d", m.sourceStore.Len())
	}
}

func TestIdleDemotionChainAndPromotionBack(t *testing.T) {
	cfg := testConfig(t)
	cfg.DemoteWarmIdle = time.Millisecond
	cfg.DemoteColdIdle = time.Millisecond
	cfg.DemoteFrozenIdle = time.Millisecond
	cfg.PromoteWarmThreshold = 1
	cfg.PromoteHotThreshold = 2
	m := NewManager(cfg)

	source := []byte("package main\n\nfunc main() {}\n")
	tree := buildTestTree(t, string(source))
	if err := m.Store("a.go", source, tree); err != nil {
		t.Fatalf("Store: %v", err)
	}
	hash := hashSource(source)

	e := m.entries["a.go"]
	backdate := func() {
		e.lastAccessUnixNano.Store(time.Now().Add(-time.Hour).UnixNano())
	}

	backdate()
	m.ManageTiers() // Hot -> Warm
	if got := e.State(); got != Warm {
		t.Fatalf("after 1st ManageTiers: state = %v, want Warm", got)
	}

	backdate()
	m.ManageTiers() // Warm -> Cold
	if got := e.State(); got != Cold {
		t.Fatalf("after 2nd ManageTiers: state = %v, want Cold", got)
	}

	backdate()
	m.ManageTiers() // Cold -> Frozen
	if got := e.State(); got != Frozen {
		t.Fatalf("after 3rd ManageTiers: state = %v, want Frozen", got)
	}
	if _, err := os.Stat(e.payload.frozenSegPath); err != nil {
		t.Fatalf("expected frozen segment file on disk: %v", err)
	}

	// First hit: Frozen -> Cold, access_count now high enough (>=
	// PromoteWarmThreshold) to also promote straight to Warm.
	h, err := m.Get("a.go", hash)
	if err != nil {
		t.Fatalf("Get (thaw): %v", err)
	}
	if h == nil || !bytes.Equal(h.Source, source) {
		t.Fatalf("Get after thaw returned wrong source: %+v", h)
	}
	if got := e.State(); got != Warm {
		t.Fatalf("state after thaw+promote = %v, want Warm", got)
	}

	// Second hit crosses PromoteHotThreshold too.
	h2, err := m.Get("a.go", hash)
	if err != nil {
		t.Fatalf("Get (2nd): %v", err)
	}
	if h2 == nil || !bytes.Equal(h2.Source, source) {
		t.Fatal("expected matching source on second get")
	}
	if got := e.State(); got != Hot {
		t.Fatalf("state after 2nd hit = %v, want Hot", got)
	}
}

func TestFreezeAllForcesAtLeastCold(t *testing.T) {
	m := NewManager(testConfig(t))
	source := []byte("foo x")
	tree := buildTestTree(t, string(source))
	if err := m.Store("a.go", source, tree); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := m.FreezeAll(); err != nil {
		t.Fatalf("FreezeAll: %v", err)
	}
	e := m.entries["a.go"]
	if got := e.State(); got != Cold {
		t.Fatalf("state after FreezeAll = %v, want Cold", got)
	}
}

func TestBudgetEnforcementDemotesHotEntries(t *testing.T) {
	cfg := testConfig(t)
	cfg.MemoryBudgetBytes = 2000
	cfg.HotFraction = 0.1 // ~200 bytes of hot budget
	cfg.WarmFraction = 0.4
	m := NewManager(cfg)

	for i := 0; i < 20; i++ {
		source := []byte("some moderately sized source text for entry padding purposes")
		tree := buildTestTree(t, string(source))
		path := string(rune('a' + i))
		if err := m.Store(path, source, tree); err != nil {
			t.Fatalf("Store %d: %v", i, err)
		}
	}

	hotCount := 0
	m.mu.RLock()
	for _, e := range m.entries {
		if e.State() == Hot {
			hotCount++
		}
	}
	m.mu.RUnlock()
	if hotCount == len(m.entries) {
		t.Error("expected budget enforcement to demote at least one hot entry out of 20")
	}
}
