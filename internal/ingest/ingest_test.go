package ingest

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/standardbeagle/cstcache/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWalkHonorsIncludeAndExclude(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.go"), "package a")
	writeFile(t, filepath.Join(root, "b.txt"), "not go")
	writeFile(t, filepath.Join(root, "vendor", "c.go"), "package vendored")

	cfg := config.Default()
	cfg.Include = []string{"*.go"}
	cfg.Exclude = []string{filepath.Join(root, "vendor", "**")}

	got, err := Walk(cfg, root)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	sort.Strings(got)
	want := []string{filepath.Join(root, "a.go")}
	if len(got) != len(want) || got[0] != want[0] {
		t.Fatalf("Walk() = %v, want %v", got, want)
	}
}

func TestWalkRespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".gitignore"), "ignored.go\n")
	writeFile(t, filepath.Join(root, "ignored.go"), "package ignored")
	writeFile(t, filepath.Join(root, "kept.go"), "package kept")

	cfg := config.Default()
	cfg.Include = []string{"*.go"}
	cfg.RespectGitignore = true

	got, err := Walk(cfg, root)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(got) != 1 || filepath.Base(got[0]) != "kept.go" {
		t.Fatalf("Walk() = %v, want only kept.go", got)
	}
}
