package tier

import (
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/standardbeagle/cstcache/internal/bytecode"
	"github.com/standardbeagle/cstcache/internal/config"
	"github.com/standardbeagle/cstcache/internal/cst"
	"github.com/standardbeagle/cstcache/internal/delta"
	"github.com/standardbeagle/cstcache/internal/idcodec"
	"github.com/standardbeagle/cstcache/internal/segment"
	"golang.org/x/sync/singleflight"
)

// approxBytesPerNode estimates a decoded CompactTree's in-memory footprint
// per node (packed arrays plus bookkeeping); used only for budget
// accounting, never for correctness.
const approxBytesPerNode = 40

// Handle is what Get returns: either a directly-held Tree (the entry was
// Hot by way of Store, never demoted) or a decoded Nodes slice (the entry
// was materialized from a bytecode/segment representation). Source is
// always populated.
type Handle struct {
	Tree   *cst.Tree
	Nodes  []bytecode.DecodedNode
	Source []byte
}

// Manager owns the metadata index (path -> Entry) and the tier state
// machine described in spec.md §4.8. It is the sole authority that moves
// an entry between tiers (spec.md §3 invariants 8 and 9); internal/pipeline
// wraps it with the higher-level orchestrator entry points.
type Manager struct {
	cfg *config.Config

	mu      sync.RWMutex
	entries map[string]*Entry

	chunkStore  *delta.ChunkStore
	sourceStore *SourceStore

	hotBudget, warmBudget, coldBudget int64
	hotBytes, warmBytes, coldBytes    int64
	bytesMu                           sync.Mutex

	compression segment.CompressionTag

	frozenGroup singleflight.Group
}

func compressionTagFor(cfg *config.Config) segment.CompressionTag {
	if !cfg.EnableCompression {
		return segment.CompressionNone
	}
	switch cfg.CompressionAlgorithm {
	case "zstd":
		return segment.CompressionZstd
	case "lz4":
		// lz4 is an accepted configuration value (spec.md §6.4 enum) but no
		// grounded Go lz4 library appears anywhere in the example pack;
		// segment.CompressionLZ4 deliberately errors if ever reached, so we
		// fall back to none rather than fail every Store/demotion call.
		return segment.CompressionNone
	default:
		return segment.CompressionNone
	}
}

// NewManager builds a Manager from cfg. A nil cfg uses config.Default().
func NewManager(cfg *config.Config) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	budget := cfg.MemoryBudgetBytes
	hot := int64(float64(budget) * cfg.HotFraction)
	warm := int64(float64(budget) * cfg.WarmFraction)
	cold := budget - hot - warm
	if cold < 0 {
		cold = 0
	}
	return &Manager{
		cfg:         cfg,
		entries:     make(map[string]*Entry),
		chunkStore:  delta.NewChunkStore(),
		sourceStore: NewSourceStore(),
		hotBudget:   hot,
		warmBudget:  warm,
		coldBudget:  cold,
		compression: compressionTagFor(cfg),
	}
}

func hashSource(source []byte) uint64 { return xxhash.Sum64(source) }

// HashSource computes the same source_hash Store/Get key entries by,
// exported so callers (internal/pipeline) can report the hash a Store call
// produced without duplicating the hash algorithm choice.
func HashSource(source []byte) uint64 { return hashSource(source) }

// Store inserts path at the Hot tier: tree is the already-built CompactTree
// for source. If already present under a different source_hash, the old
// payload is released before the new one is installed (spec.md §4.8
// "Insert from Absent").
func (m *Manager) Store(path string, source []byte, tree *cst.Tree) error {
	hash := hashSource(source)

	m.mu.Lock()
	e, ok := m.entries[path]
	if !ok {
		e = newEntry(path, hash)
		m.entries[path] = e
	}
	m.mu.Unlock()

	e.mu.Lock()
	if e.state != Absent {
		m.releasePayloadLocked(e)
	}
	owned := m.sourceStore.Acquire(hash, source)
	e.SourceHash = hash
	e.payload = payload{tree: tree, source: owned}
	e.bytesUsed = int64(len(owned)) + int64(tree.NodeCount())*approxBytesPerNode
	e.state = Hot
	e.mu.Unlock()

	m.addBytes(Hot, e.bytesUsed)
	m.enforceBudget(Hot)
	return nil
}

// Get retrieves path, materializing the stored tier into a Handle.
// Returns (nil, nil) if absent, or if the stored source_hash no longer
// matches expectedHash (the entry is evicted; the caller re-parses).
func (m *Manager) Get(path string, expectedHash uint64) (*Handle, error) {
	m.mu.RLock()
	e, ok := m.entries[path]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if e.SourceHash != expectedHash {
		m.Invalidate(path)
		return nil, nil
	}
	count := e.touch()

	e.mu.Lock()
	state := e.state
	switch state {
	case Hot:
		handle := &Handle{Tree: e.payload.tree, Nodes: nil, Source: e.payload.source}
		e.mu.Unlock()
		return handle, nil
	case Warm:
		handle, err := m.materializeWarmLocked(e)
		if err != nil {
			e.mu.Unlock()
			return nil, err
		}
		m.maybePromoteLocked(e, handle, count)
		e.mu.Unlock()
		return handle, nil
	case Cold:
		handle, err := m.materializeColdLocked(e)
		if err != nil {
			e.mu.Unlock()
			return nil, err
		}
		m.maybePromoteLocked(e, handle, count)
		e.mu.Unlock()
		return handle, nil
	case Frozen:
		// Frozen loads are the one path where disk I/O happens (§5's "three
		// blocking points"); drop the entry lock while the singleflight
		// group does the actual read so a concurrent Get against the same
		// path, should one arrive, piggybacks on the in-flight thaw instead
		// of hitting disk twice.
		segPath, deltaPath := e.payload.frozenSegPath, e.payload.frozenDeltaPath
		e.mu.Unlock()

		handle, ss, d, err := m.thawFrozen(e.Path, segPath, deltaPath)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		if e.state == Frozen && e.payload.frozenSegPath == segPath {
			m.commitThawLocked(e, ss, d)
		}
		m.maybePromoteLocked(e, handle, count)
		e.mu.Unlock()
		return handle, nil
	default:
		e.mu.Unlock()
		return nil, nil
	}
}

// Invalidate transitions path to Absent across every tier, releasing its
// resources (shared source ref, chunk store refs, frozen files).
func (m *Manager) Invalidate(path string) {
	m.mu.Lock()
	e, ok := m.entries[path]
	if ok {
		delete(m.entries, path)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	m.releasePayloadLocked(e)
	e.state = Absent
	e.mu.Unlock()
}

// releasePayloadLocked frees whatever resources e.payload currently holds.
// Caller must hold e.mu.
func (m *Manager) releasePayloadLocked(e *Entry) {
	switch e.state {
	case Hot:
		m.sourceStore.Release(e.SourceHash)
		m.addBytes(Hot, -e.bytesUsed)
	case Warm:
		if e.payload.warmDelta != nil {
			m.chunkStore.ReleaseAll(e.payload.warmDelta.BaseChunkHashes)
		}
		m.addBytes(Warm, -e.bytesUsed)
	case Cold:
		if e.payload.coldDelta != nil {
			m.chunkStore.ReleaseAll(e.payload.coldDelta.BaseChunkHashes)
		}
		m.addBytes(Cold, -e.bytesUsed)
	case Frozen:
		removeFrozenFiles(e.payload.frozenSegPath, e.payload.frozenDeltaPath)
	}
	e.payload = payload{}
	e.bytesUsed = 0
}

func (m *Manager) addBytes(t State, amount int64) {
	m.bytesMu.Lock()
	defer m.bytesMu.Unlock()
	switch t {
	case Hot:
		m.hotBytes += amount
	case Warm:
		m.warmBytes += amount
	case Cold:
		m.coldBytes += amount
	}
}

func (m *Manager) tierBytes(t State) int64 {
	m.bytesMu.Lock()
	defer m.bytesMu.Unlock()
	switch t {
	case Hot:
		return m.hotBytes
	case Warm:
		return m.warmBytes
	case Cold:
		return m.coldBytes
	}
	return 0
}

// --- Materialization ---

func (m *Manager) materializeWarmLocked(e *Entry) (*Handle, error) {
	nodes, err := bytecode.Decode(e.payload.warmBytecode)
	if err != nil {
		return nil, err
	}
	source, err := delta.Decode(m.chunkStore, e.payload.warmDelta)
	if err != nil {
		return nil, err
	}
	return &Handle{Nodes: nodes, Source: source}, nil
}

func (m *Manager) materializeColdLocked(e *Entry) (*Handle, error) {
	stream, err := e.payload.coldSegmented.Reconstruct()
	if err != nil {
		return nil, err
	}
	nodes, err := bytecode.Decode(stream)
	if err != nil {
		return nil, err
	}
	source, err := delta.Decode(m.chunkStore, e.payload.coldDelta)
	if err != nil {
		return nil, err
	}
	return &Handle{Nodes: nodes, Source: source}, nil
}

type thawedFrozen struct {
	ss *segment.SegmentedStream
	d  *delta.DeltaEntry
}

// thawFrozen performs the actual disk read and decode for a Frozen entry,
// deduplicated across concurrent callers for the same path via
// m.frozenGroup. Does not touch Entry state; the caller commits under
// e.mu via commitThawLocked once it has the result.
func (m *Manager) thawFrozen(path, segPath, deltaPath string) (*Handle, *segment.SegmentedStream, *delta.DeltaEntry, error) {
	v, err, _ := m.frozenGroup.Do(path, func() (interface{}, error) {
		ss, err := thawSegmented(segPath, m.cfg.SegmentLRUCapacity)
		if err != nil {
			return nil, err
		}
		d, err := thawDelta(deltaPath)
		if err != nil {
			return nil, err
		}
		return thawedFrozen{ss: ss, d: d}, nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	t := v.(thawedFrozen)

	stream, err := t.ss.Reconstruct()
	if err != nil {
		return nil, nil, nil, err
	}
	nodes, err := bytecode.Decode(stream)
	if err != nil {
		return nil, nil, nil, err
	}
	source, err := delta.Decode(m.chunkStore, t.d)
	if err != nil {
		return nil, nil, nil, err
	}
	return &Handle{Nodes: nodes, Source: source}, t.ss, t.d, nil
}

// commitThawLocked installs a thawed Frozen payload as Cold and frees its
// on-disk files. Caller must hold e.mu and have confirmed e is still the
// same Frozen instance thawFrozen was called for.
func (m *Manager) commitThawLocked(e *Entry, ss *segment.SegmentedStream, d *delta.DeltaEntry) {
	removeFrozenFiles(e.payload.frozenSegPath, e.payload.frozenDeltaPath)
	e.payload = payload{coldSegmented: ss, coldDelta: d}
	e.bytesUsed = estimateColdBytes(ss, d)
	e.state = Cold
	m.addBytes(Cold, e.bytesUsed)
}

// --- Promotion ---

// maybePromoteLocked applies the promotion thresholds from spec.md §4.8
// after a Warm/Cold/Frozen hit, walking as far up as count justifies
// (Cold -> Warm -> Hot in one hit, if both thresholds are met).
func (m *Manager) maybePromoteLocked(e *Entry, handle *Handle, count int64) {
	if e.state == Cold && count >= int64(m.cfg.PromoteWarmThreshold) {
		m.promoteColdToWarmLocked(e, handle)
	}
	if e.state == Warm && count >= int64(m.cfg.PromoteHotThreshold) {
		m.promoteWarmToHotLocked(e, handle)
	}
}

func (m *Manager) promoteColdToWarmLocked(e *Entry, handle *Handle) {
	full, err := e.payload.coldSegmented.Reconstruct()
	if err != nil {
		return
	}
	oldBytes := e.bytesUsed
	e.payload.warmBytecode = full
	e.payload.warmDelta = e.payload.coldDelta
	e.payload.coldSegmented = nil
	e.payload.coldDelta = nil
	e.bytesUsed = estimateWarmBytes(full, e.payload.warmDelta)
	e.state = Warm
	m.addBytes(Cold, -oldBytes)
	m.addBytes(Warm, e.bytesUsed)
	m.enforceBudget(Warm)
}

func (m *Manager) promoteWarmToHotLocked(e *Entry, handle *Handle) {
	if handle == nil || handle.Source == nil {
		return
	}
	if e.payload.warmDelta != nil {
		m.chunkStore.ReleaseAll(e.payload.warmDelta.BaseChunkHashes)
	}
	oldBytes := e.bytesUsed
	owned := m.sourceStore.Acquire(e.SourceHash, handle.Source)
	e.payload = payload{source: owned}
	e.bytesUsed = int64(len(owned))
	e.state = Hot
	m.addBytes(Warm, -oldBytes)
	m.addBytes(Hot, e.bytesUsed)
	m.enforceBudget(Hot)
}

// --- Demotion ---

func (m *Manager) demoteHotToWarmLocked(e *Entry) error {
	tree, source := e.payload.tree, e.payload.source
	if tree == nil {
		// Entry reached Hot via promoteWarmToHotLocked, which keeps only
		// Source, not a rebuilt Tree; re-derive bytecode is not possible
		// without a Tree, so this path simply cannot demote further than
		// re-encoding would allow. Since no Tree is available we skip: the
		// entry stays Hot until the caller re-Stores it.
		return fmt.Errorf("tier: cannot demote hot entry %s without a decoded tree", e.Path)
	}
	stream, err := bytecode.Encode(tree)
	if err != nil {
		return err
	}
	d := delta.Encode(m.chunkStore, source)

	oldBytes := e.bytesUsed
	m.sourceStore.Release(e.SourceHash)
	e.payload = payload{warmBytecode: stream, warmDelta: d}
	e.bytesUsed = estimateWarmBytes(stream, d)
	e.state = Warm
	m.addBytes(Hot, -oldBytes)
	m.addBytes(Warm, e.bytesUsed)
	return nil
}

func (m *Manager) demoteWarmToColdLocked(e *Entry) error {
	ss, err := segment.New(e.payload.warmBytecode, int(m.cfg.SegmentSizeBytes), m.compression, m.cfg.SegmentLRUCapacity)
	if err != nil {
		return err
	}
	oldBytes := e.bytesUsed
	e.payload.coldSegmented = ss
	e.payload.coldDelta = e.payload.warmDelta
	e.payload.warmBytecode = nil
	e.payload.warmDelta = nil
	e.bytesUsed = estimateColdBytes(ss, e.payload.coldDelta)
	e.state = Cold
	m.addBytes(Warm, -oldBytes)
	m.addBytes(Cold, e.bytesUsed)
	return nil
}

func (m *Manager) demoteColdToFrozenLocked(e *Entry) error {
	segPath, err := freezeSegmented(m.cfg.StorageDir, e.SourceHash, e.payload.coldSegmented)
	if err != nil {
		return err
	}
	deltaPath, err := freezeDelta(m.cfg.StorageDir, e.SourceHash, e.payload.coldDelta)
	if err != nil {
		removeFrozenFiles(segPath)
		return err
	}
	oldBytes := e.bytesUsed
	e.payload = payload{frozenSegPath: segPath, frozenDeltaPath: deltaPath}
	e.bytesUsed = 0
	e.state = Frozen
	m.addBytes(Cold, -oldBytes)
	return nil
}

func estimateWarmBytes(s *bytecode.Stream, d *delta.DeltaEntry) int64 {
	n := int64(len(s.Opcodes))
	for _, k := range s.KindTable {
		n += int64(len(k))
	}
	for _, f := range s.FieldTable {
		n += int64(len(f))
	}
	if d != nil {
		n += int64(len(d.ResidualDelta)) + int64(len(d.BaseChunkHashes))*8
	}
	return n
}

func estimateColdBytes(ss *segment.SegmentedStream, d *delta.DeltaEntry) int64 {
	var n int64
	for _, seg := range ss.Segments {
		n += int64(len(seg.Data))
	}
	if d != nil {
		n += int64(len(d.ResidualDelta)) + int64(len(d.BaseChunkHashes))*8
	}
	return n
}

// --- Idle-based demotion and budget enforcement (manage_tiers) ---

// ManageTiers scans every entry and demotes those idle past their tier's
// threshold (spec.md §4.8 "Idle" transitions). Cheap enough to call
// periodically from a maintenance goroutine or ticker.
func (m *Manager) ManageTiers() {
	now := time.Now()
	m.mu.RLock()
	snapshot := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		snapshot = append(snapshot, e)
	}
	m.mu.RUnlock()

	for _, e := range snapshot {
		e.mu.Lock()
		idle := e.Idle(now)
		switch e.state {
		case Hot:
			if idle >= m.cfg.DemoteWarmIdle {
				_ = m.demoteHotToWarmLocked(e)
			}
		case Warm:
			if idle >= m.cfg.DemoteColdIdle {
				_ = m.demoteWarmToColdLocked(e)
			}
		case Cold:
			if idle >= m.cfg.DemoteFrozenIdle {
				_ = m.demoteColdToFrozenLocked(e)
			}
		}
		e.mu.Unlock()
	}

	m.enforceBudget(Hot)
	m.enforceBudget(Warm)
	m.enforceBudget(Cold)
}

// enforceBudget demotes the coldest entries of tier t (lowest access_count,
// ties broken by earliest last_access) until its byte budget is satisfied.
func (m *Manager) enforceBudget(t State) {
	budget := m.budgetFor(t)
	if budget <= 0 {
		return
	}
	excluded := map[string]bool{}
	for m.tierBytes(t) > budget {
		victim := m.pickVictim(t, excluded)
		if victim == nil {
			return // no eligible entry left in this tier this pass
		}
		victim.mu.Lock()
		if victim.state != t {
			victim.mu.Unlock()
			excluded[victim.Path] = true
			continue
		}
		var err error
		switch t {
		case Hot:
			err = m.demoteHotToWarmLocked(victim)
		case Warm:
			err = m.demoteWarmToColdLocked(victim)
		case Cold:
			err = m.demoteColdToFrozenLocked(victim)
		}
		victim.mu.Unlock()
		if err != nil {
			// e.g. a Hot entry with no rebuildable Tree (reached Hot purely
			// via promotion): can't demote further; don't retry it forever.
			excluded[victim.Path] = true
		}
	}
}

func (m *Manager) budgetFor(t State) int64 {
	switch t {
	case Hot:
		return m.hotBudget
	case Warm:
		return m.warmBudget
	case Cold:
		return m.coldBudget
	}
	return 0
}

func (m *Manager) pickVictim(t State, excluded map[string]bool) *Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var victim *Entry
	for _, e := range m.entries {
		if e.State() != t || excluded[e.Path] {
			continue
		}
		if victim == nil {
			victim = e
			continue
		}
		if e.AccessCount() < victim.AccessCount() {
			victim = e
		} else if e.AccessCount() == victim.AccessCount() && e.lastAccessUnixNano.Load() < victim.lastAccessUnixNano.Load() {
			victim = e
		}
	}
	return victim
}

// Paths returns every path currently tracked, in no particular order. Used
// by internal/pipeline to fan freeze_all() work out across entries.
func (m *Manager) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.entries))
	for p := range m.entries {
		paths = append(paths, p)
	}
	return paths
}

// DebugLocation returns one printable checkpoint ref per segment of path's
// Cold-tier bytecode, naming where each segment starts (its index and the
// preorder node index its first opcode belongs to) without requiring a
// caller to decompress anything. Used by the CLI's debug output; reports
// ok=false for paths that are absent or not currently Cold.
func (m *Manager) DebugLocation(path string) (refs []string, ok bool) {
	m.mu.RLock()
	e, found := m.entries[path]
	m.mu.RUnlock()
	if !found {
		return nil, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != Cold || e.payload.coldSegmented == nil {
		return nil, false
	}
	segs := e.payload.coldSegmented.Segments
	refs = make([]string, len(segs))
	for i, seg := range segs {
		refs[i] = idcodec.EncodeCheckpointRef(uint32(i), uint32(seg.Header.NodeStart))
	}
	return refs, true
}

// FreezeEntry forces a single entry to at least Cold, same demotion path as
// FreezeAll but scoped to one path so callers (internal/pipeline) can run
// it concurrently across entries via errgroup. A no-op if path is absent,
// already Cold or Frozen, or was concurrently invalidated.
func (m *Manager) FreezeEntry(path string) error {
	m.mu.RLock()
	e, ok := m.entries[path]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case Hot:
		if err := m.demoteHotToWarmLocked(e); err != nil {
			return err
		}
		return m.demoteWarmToColdLocked(e)
	case Warm:
		return m.demoteWarmToColdLocked(e)
	}
	return nil
}

// FreezeAll forces every resident entry to at least Cold, used by
// pipeline's flush()/freeze_all() on shutdown (spec.md §4.9).
func (m *Manager) FreezeAll() error {
	m.mu.RLock()
	snapshot := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		snapshot = append(snapshot, e)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, e := range snapshot {
		e.mu.Lock()
		var err error
		switch e.state {
		case Hot:
			err = m.demoteHotToWarmLocked(e)
			if err == nil {
				err = m.demoteWarmToColdLocked(e)
			}
		case Warm:
			err = m.demoteWarmToColdLocked(e)
		}
		e.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ManagerStats reports resident byte usage per tier, for observability.
type ManagerStats struct {
	HotBytes, WarmBytes, ColdBytes int64
	EntryCount                     int
	ChunkStoreStats                delta.Stats
	SharedSourceCount               int
}

func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	n := len(m.entries)
	m.mu.RUnlock()
	return ManagerStats{
		HotBytes:          m.tierBytes(Hot),
		WarmBytes:         m.tierBytes(Warm),
		ColdBytes:         m.tierBytes(Cold),
		EntryCount:        n,
		ChunkStoreStats:   m.chunkStore.Stats(),
		SharedSourceCount: m.sourceStore.Len(),
	}
}
