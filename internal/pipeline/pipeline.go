// Package pipeline implements the orchestrator (spec.md §4.9): the single
// entry point that routes store/get/invalidate through internal/tier's
// four-tier cache, keeps a per-path incremental edit journal, and drives
// periodic tier management and shutdown freezing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/standardbeagle/cstcache/internal/config"
	"github.com/standardbeagle/cstcache/internal/cst"
	"github.com/standardbeagle/cstcache/internal/cstlog"
	"github.com/standardbeagle/cstcache/internal/intern"
	"github.com/standardbeagle/cstcache/internal/journal"
	"github.com/standardbeagle/cstcache/internal/tier"
	"golang.org/x/sync/errgroup"
)

// DefaultMaintenanceInterval is how often StartMaintenance drives
// ManageTiers for a long-lived process (cmd/cstcache-mcp's server loop);
// one-shot CLI invocations call ManageTiers directly instead.
const DefaultMaintenanceInterval = 30 * time.Second

// ErrNoJournal is returned by RecordEdit/ReplaySound when no Store call
// has ever anchored a journal for the given path.
var ErrNoJournal = errors.New("pipeline: no journal for path")

// maxConcurrentFreezes bounds errgroup parallelism during FreezeAll so a
// large resident set doesn't open hundreds of frozen-tier files at once.
const maxConcurrentFreezes = 8

// Result is returned by Store: the computed source hash (the cache key
// component callers pass back into Get) and the node count of the tree
// that was built.
type Result struct {
	SourceHash uint64
	NodeCount  int
}

// Pipeline is the sole entry point external callers use; it owns the tier
// manager, the shared interner, and per-path edit journals, and is the
// only component the spec (§4.9) allows to move entries between tiers
// (delegated in full to the wrapped tier.Manager).
type Pipeline struct {
	cfg      *config.Config
	mgr      *tier.Manager
	interner *intern.Pool

	journalsMu sync.Mutex
	journals   map[string]*journal.Journal

	maintCancel context.CancelFunc
	maintWG     sync.WaitGroup
}

// New builds a Pipeline from cfg. A nil cfg uses config.Default().
func New(cfg *config.Config) *Pipeline {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		mgr:      tier.NewManager(cfg),
		interner: intern.NewWithCap(cfg.InternerByteCap),
		journals: make(map[string]*journal.Journal),
	}
}

// Store interns root's names, builds a CompactTree, computes the source
// hash, and inserts the result at the Hot tier (spec.md §4.9's first entry
// point). A fresh edit journal is anchored at source, replacing any
// journal from a previous version of this path.
func (p *Pipeline) Store(path string, source []byte, root cst.ExternalNode) (*Result, error) {
	tree, err := cst.Build(root, p.interner, len(source), cst.DefaultLimits())
	if err != nil {
		cstlog.Printf("store %s: build failed: %v", path, err)
		return nil, fmt.Errorf("pipeline: build %s: %w", path, err)
	}
	if err := p.mgr.Store(path, source, tree); err != nil {
		return nil, fmt.Errorf("pipeline: store %s: %w", path, err)
	}

	p.journalsMu.Lock()
	p.journals[path] = journal.New(source, p.cfg.JournalMaxEdits)
	p.journalsMu.Unlock()

	return &Result{SourceHash: tier.HashSource(source), NodeCount: tree.NodeCount()}, nil
}

// Get retrieves path, walking tiers bottom-up with promotion as described
// in spec.md §4.8. Returns (nil, nil) on a miss or a stale source_hash.
func (p *Pipeline) Get(path string, expectedHash uint64) (*tier.Handle, error) {
	return p.mgr.Get(path, expectedHash)
}

// Invalidate transitions path to Absent across every tier (including
// disk) and drops its edit journal.
func (p *Pipeline) Invalidate(path string) {
	p.mgr.Invalidate(path)
	p.journalsMu.Lock()
	delete(p.journals, path)
	p.journalsMu.Unlock()
}

// RecordEdit appends edit to path's journal, for a caller whose external
// parser does not provide its own incremental re-parse and that instead
// wants the journal's soundness check (spec.md §4.7)
// before trusting a replay-reconstructed source. Returns ErrNoJournal if
// Store was never called for path.
func (p *Pipeline) RecordEdit(path string, edit journal.LoggedEdit) (folded bool, err error) {
	p.journalsMu.Lock()
	j, ok := p.journals[path]
	p.journalsMu.Unlock()
	if !ok {
		return false, fmt.Errorf("pipeline: %w: %s", ErrNoJournal, path)
	}
	return j.Append(edit)
}

// ReplaySound replays path's journal and reports whether it reproduces
// currentSource byte-for-byte (spec.md §4.7's soundness rule).
func (p *Pipeline) ReplaySound(path string, currentSource []byte) (bool, error) {
	p.journalsMu.Lock()
	j, ok := p.journals[path]
	p.journalsMu.Unlock()
	if !ok {
		return false, fmt.Errorf("pipeline: %w: %s", ErrNoJournal, path)
	}
	return j.Sound(currentSource)
}

// StartMaintenance launches a background goroutine that calls ManageTiers
// every interval (<= 0 uses DefaultMaintenanceInterval), for long-lived
// hosts like cmd/cstcache-mcp's server loop that never get a natural point
// to call ManageTiers themselves between requests. Call StopMaintenance to
// shut it down; calling StartMaintenance twice without an intervening Stop
// leaks the first goroutine.
func (p *Pipeline) StartMaintenance(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.maintCancel = cancel
	p.maintWG.Add(1)
	go func() {
		defer p.maintWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.ManageTiers()
			}
		}
	}()
}

// StopMaintenance cancels the maintenance ticker started by
// StartMaintenance and waits for its goroutine to exit. A no-op if
// StartMaintenance was never called.
func (p *Pipeline) StopMaintenance() {
	if p.maintCancel == nil {
		return
	}
	p.maintCancel()
	p.maintWG.Wait()
}

// DebugLocation reports path's Cold-tier segment checkpoint refs, for
// CLI/debug output; ok is false unless path is currently resident at Cold.
func (p *Pipeline) DebugLocation(path string) (refs []string, ok bool) {
	return p.mgr.DebugLocation(path)
}

// ManageTiers scans every entry and applies idle-based demotions (spec.md
// §4.9's manage_tiers()). Cheap enough to call from a ticker.
func (p *Pipeline) ManageTiers() {
	p.mgr.ManageTiers()
}

// FreezeAll forces every resident entry to at least Cold for shutdown
// (spec.md §4.9's freeze_all()/flush()), freezing entries concurrently
// with bounded parallelism via errgroup since each entry's demotion chain
// is independent of every other's.
func (p *Pipeline) FreezeAll(ctx context.Context) error {
	paths := p.mgr.Paths()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFreezes)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return p.mgr.FreezeEntry(path)
		})
	}
	return g.Wait()
}

// Snapshot reports a point-in-time view of cache state for observability
// (spec.md §6.5's read-only snapshot accessors); cmd/cstcache-mcp
// serializes this to JSON for external consumption.
type Snapshot struct {
	HotBytes, WarmBytes, ColdBytes int64
	EntryCount                     int
	UniqueChunks                   int
	SharedSourceCount              int
	InternerBytes                  int64
}

// Snapshot returns the current observability snapshot.
func (p *Pipeline) Snapshot() Snapshot {
	stats := p.mgr.Stats()
	return Snapshot{
		HotBytes:          stats.HotBytes,
		WarmBytes:         stats.WarmBytes,
		ColdBytes:         stats.ColdBytes,
		EntryCount:        stats.EntryCount,
		UniqueChunks:      stats.ChunkStoreStats.UniqueChunks,
		SharedSourceCount: stats.SharedSourceCount,
		InternerBytes:     p.interner.Stats().CapacityUsed,
	}
}
