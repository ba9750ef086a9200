// Package ingest walks a project root selecting files for cmd/cstcache and
// cmd/cstcache-ingest to parse and store, reusing the teacher's
// include/exclude glob and gitignore handling (internal/config) instead of
// a bespoke walker.
package ingest

import (
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/cstcache/internal/config"
)

// Walk returns every regular file under root that passes cfg's Include/
// Exclude globs and .gitignore (when cfg.RespectGitignore is set),
// mirroring the file-selection rules of the teacher's
// MasterIndex.ListFilesTo without its priority-queue scanning machinery
// (this package feeds a pipeline.Store loop, not a scan-and-display UI).
func Walk(cfg *config.Config, root string) ([]string, error) {
	var ignore *config.GitignoreParser
	if cfg.RespectGitignore {
		ignore = config.NewGitignoreParser()
		if err := ignore.LoadGitignore(root); err != nil {
			return nil, err
		}
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		if d.IsDir() {
			if rel != "." && shouldExclude(cfg, ignore, path, rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if shouldExclude(cfg, ignore, path, rel, false) {
			return nil
		}
		if !included(cfg, path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func shouldExclude(cfg *config.Config, ignore *config.GitignoreParser, path, rel string, isDir bool) bool {
	if ignore != nil && ignore.ShouldIgnore(rel, isDir) {
		return true
	}
	for _, pattern := range cfg.Exclude {
		if matched, _ := doublestar.Match(pattern, path); matched {
			return true
		}
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

func included(cfg *config.Config, path string) bool {
	if len(cfg.Include) == 0 {
		return true
	}
	base := filepath.Base(path)
	for _, pattern := range cfg.Include {
		if matched, _ := doublestar.Match(pattern, path); matched {
			return true
		}
		if matched, _ := doublestar.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
