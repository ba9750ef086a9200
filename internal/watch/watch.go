// Package watch connects real filesystem change events to the pipeline
// orchestrator: a changed file is re-parsed and re-Stored, a removed file
// is Invalidated. It reuses the teacher's debounce-then-coalesce pattern
// (internal/indexing/watcher.go) instead of driving the pipeline off every
// raw fsnotify event.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/cstcache/internal/config"
	"github.com/standardbeagle/cstcache/internal/cst"
	"github.com/standardbeagle/cstcache/internal/cstlog"
	"github.com/standardbeagle/cstcache/internal/pipeline"
)

// DefaultDebounce coalesces a burst of writes to the same file (e.g. an
// editor's save-then-rewrite sequence) into a single re-parse.
const DefaultDebounce = 300 * time.Millisecond

// eventType mirrors the teacher's FileEventType.
type eventType int

const (
	eventWrite eventType = iota
	eventRemove
)

// ReadParse reads path's current contents and parses it into an
// ExternalNode root ready for pipeline.Store. Supplied by the caller (for
// instance a wrapper around internal/parsersrc.Parse keyed by file
// extension) so this package has no direct tree-sitter dependency.
type ReadParse func(path string) (root cst.ExternalNode, source []byte, err error)

// Watcher drives pipeline.Store/Invalidate from fsnotify events under a
// watched root, debouncing bursts the same way the teacher's
// eventDebouncer does: one timer, reset on every new event, flushed once
// quiet for Debounce.
type Watcher struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	readParse ReadParse
	debounce time.Duration

	fsWatcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]eventType
	timer   *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Watcher. debounce <= 0 uses DefaultDebounce.
func New(cfg *config.Config, pl *pipeline.Pipeline, readParse ReadParse, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		cfg:       cfg,
		pipeline:  pl,
		readParse: readParse,
		debounce:  debounce,
		fsWatcher: fw,
		pending:   make(map[string]eventType),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start recursively adds fsnotify watches under root and begins
// processing events. A later call to Stop is required to release the
// underlying OS watch handles.
func (w *Watcher) Start(root string) error {
	if err := w.addWatches(root); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.loop()
	cstlog.Printf("watch: started under %s (debounce %s)", root, w.debounce)
	return nil
}

// Stop cancels event processing and closes the fsnotify watcher. Waits
// for the processing goroutine to exit.
func (w *Watcher) Stop() error {
	w.cancel()
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) addWatches(root string) error {
	visited := make(map[string]bool)
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return nil
		}
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if visited[real] {
			return filepath.SkipDir
		}
		visited[real] = true
		if w.shouldIgnoreDir(path) {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			cstlog.Printf("watch: failed to add watch for %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) shouldIgnoreDir(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.cfg.Exclude {
		trimmed := pattern
		if filepath.Base(pattern) == "**" {
			trimmed = filepath.Dir(pattern)
		}
		if matched, _ := doublestar.Match(trimmed, base); matched {
			return true
		}
		if matched, _ := doublestar.Match(pattern, path); matched {
			return true
		}
	}
	return false
}

func (w *Watcher) shouldProcess(path string) bool {
	if len(w.cfg.Include) == 0 {
		return true
	}
	for _, pattern := range w.cfg.Include {
		if matched, _ := doublestar.Match(pattern, path); matched {
			return true
		}
	}
	return false
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			cstlog.Printf("watch: fsnotify error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	info, err := os.Stat(ev.Name)
	if err != nil {
		if ev.Op&fsnotify.Remove != 0 && w.shouldProcess(ev.Name) {
			w.schedule(ev.Name, eventRemove)
		}
		return
	}
	if info.IsDir() {
		if ev.Op&fsnotify.Create != 0 && !w.shouldIgnoreDir(ev.Name) {
			if err := w.fsWatcher.Add(ev.Name); err != nil {
				cstlog.Printf("watch: failed to add watch for new directory %s: %v", ev.Name, err)
			}
		}
		return
	}
	if !w.shouldProcess(ev.Name) {
		return
	}
	switch {
	case ev.Op&fsnotify.Remove != 0:
		w.schedule(ev.Name, eventRemove)
	case ev.Op&fsnotify.Write != 0, ev.Op&fsnotify.Create != 0, ev.Op&fsnotify.Rename != 0:
		w.schedule(ev.Name, eventWrite)
	}
}

func (w *Watcher) schedule(path string, t eventType) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = t
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	events := w.pending
	w.pending = make(map[string]eventType)
	w.mu.Unlock()
	if len(events) == 0 {
		return
	}

	// Removals first, to free resources before any re-store of a path
	// that was both removed and recreated within the same debounce window.
	for path, t := range events {
		if t == eventRemove {
			w.pipeline.Invalidate(path)
		}
	}
	for path, t := range events {
		if t != eventWrite {
			continue
		}
		root, source, err := w.readParse(path)
		if err != nil {
			cstlog.Printf("watch: re-parse %s: %v", path, err)
			continue
		}
		if _, err := w.pipeline.Store(path, source, root); err != nil {
			cstlog.Printf("watch: re-store %s: %v", path, err)
		}
	}
}
