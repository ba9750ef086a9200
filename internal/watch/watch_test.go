package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/cstcache/internal/config"
	"github.com/standardbeagle/cstcache/internal/cst"
	"github.com/standardbeagle/cstcache/internal/pipeline"
)

type fakeNode struct {
	kind  string
	named bool
	start int
	end   int
}

func (f *fakeNode) Kind() string               { return f.kind }
func (f *fakeNode) IsNamed() bool              { return f.named }
func (f *fakeNode) IsMissing() bool            { return false }
func (f *fakeNode) IsExtra() bool              { return false }
func (f *fakeNode) IsError() bool              { return false }
func (f *fakeNode) StartByte() int             { return f.start }
func (f *fakeNode) EndByte() int               { return f.end }
func (f *fakeNode) ChildCount() int            { return 0 }
func (f *fakeNode) FieldName() (string, bool)  { return "", false }
func (f *fakeNode) Child(int) cst.ExternalNode { return nil }

func testConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.StorageDir = t.TempDir()
	cfg.TestMode = true
	cfg.ApplyTestModeThresholds()
	cfg.Include = []string{filepath.Join(root, "*.txt")}
	return cfg
}

func readParseFixture(path string) (cst.ExternalNode, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return &fakeNode{kind: "module", named: true, start: 0, end: len(data)}, data, nil
}

// TestWatcherStoresOnWriteAndInvalidatesOnRemove exercises a real fsnotify
// watcher against the local filesystem, so it's skipped in short mode the
// same way the teacher's watcher integration test is.
func TestWatcherStoresOnWriteAndInvalidatesOnRemove(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping file watcher integration test in short mode")
	}

	root := t.TempDir()
	target := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	cfg := testConfig(t, root)
	pl := pipeline.New(cfg)

	w, err := New(cfg, pl, readParseFixture, 20*time.Millisecond)
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Start(root))

	require.NoError(t, os.WriteFile(target, []byte("hello world"), 0o644))

	// Get requires a source_hash we don't know in advance, so poll the
	// snapshot's entry count for the debounced store to land instead.
	require.Eventually(t, func() bool {
		return pl.Snapshot().EntryCount >= 1
	}, 2*time.Second, 10*time.Millisecond, "watcher never stored the rewritten file")

	require.NoError(t, os.Remove(target))
	require.Eventually(t, func() bool {
		return pl.Snapshot().EntryCount == 0
	}, 2*time.Second, 10*time.Millisecond, "watcher never invalidated the removed file")
}
