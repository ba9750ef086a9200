package tier

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/standardbeagle/cstcache/internal/bytecode"
	"github.com/standardbeagle/cstcache/internal/delta"
	cerrors "github.com/standardbeagle/cstcache/internal/errors"
	"github.com/standardbeagle/cstcache/internal/segment"
)

// Every frozen artifact begins with the same 8-byte preamble spec.md §6.3
// requires of persisted formats (invariant 9): a 4-byte magic plus a u32
// format version, checked before the gob payload is ever decoded.
const (
	frozenSegMagic   = "CSTF"
	frozenDeltaMagic = "CSTd" // distinguishes the delta half from the segment half on disk
	frozenVersion    = 1
)

func writeFramed(path string, magic string, payload []byte) error {
	var buf bytes.Buffer
	buf.WriteString(magic)
	var versionBuf [4]byte
	binary.LittleEndian.PutUint32(versionBuf[:], frozenVersion)
	buf.Write(versionBuf[:])
	buf.Write(payload)
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func readFramed(path string, wantMagic string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.NewIoTimeoutError("read", path, err)
	}
	if len(data) < 8 {
		return nil, cerrors.NewCorruptTopologyError(path, 0, "frozen file too short for preamble", nil)
	}
	if string(data[:4]) != wantMagic {
		return nil, cerrors.NewCorruptTopologyError(path, 0, fmt.Sprintf("bad magic %q, want %q", data[:4], wantMagic), nil)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != frozenVersion {
		return nil, cerrors.NewVersionUnsupportedError(wantMagic, path, version, frozenVersion)
	}
	return data[8:], nil
}

// frozenSegmentParts is the gob-encodable projection of a
// segment.SegmentedStream's exported fields: SegmentedStream itself carries
// an unexported LRU and mutex that must not (and cannot) be persisted.
//
// spec.md §6.3 names a single shared "CSTF" container keyed by an
// (path, source_hash) -> offsets index; this stores one container pair per
// frozen entry instead; see DESIGN.md for the tradeoff.
type frozenSegmentParts struct {
	Version     uint32
	NodeCount   uint64
	KindTable   []string
	FieldTable  []string
	JumpTable   []uint32
	Checkpoints []bytecode.Checkpoint
	Segments    []segment.Segment
}

func freezeSegmented(dir string, sourceHash uint64, ss *segment.SegmentedStream) (string, error) {
	parts := frozenSegmentParts{
		Version:     ss.Version,
		NodeCount:   ss.NodeCount,
		KindTable:   ss.KindTable,
		FieldTable:  ss.FieldTable,
		JumpTable:   ss.JumpTable,
		Checkpoints: ss.Checkpoints,
		Segments:    ss.Segments,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(parts); err != nil {
		return "", fmt.Errorf("tier: encode frozen segment container: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("tier: create storage dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%016x.cstseg", sourceHash))
	if err := writeFramed(path, frozenSegMagic, buf.Bytes()); err != nil {
		return "", fmt.Errorf("tier: write frozen segment container: %w", err)
	}
	return path, nil
}

func thawSegmented(path string, lruCapacity int) (*segment.SegmentedStream, error) {
	payload, err := readFramed(path, frozenSegMagic)
	if err != nil {
		return nil, err
	}
	var parts frozenSegmentParts
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&parts); err != nil {
		return nil, cerrors.NewCorruptTopologyError(path, 0, "frozen segment container decode failed", err)
	}
	return segment.FromParts(parts.Version, parts.NodeCount, parts.KindTable, parts.FieldTable, parts.JumpTable, parts.Checkpoints, parts.Segments, lruCapacity), nil
}

func freezeDelta(dir string, sourceHash uint64, d *delta.DeltaEntry) (string, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return "", fmt.Errorf("tier: encode frozen delta entry: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("tier: create storage dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%016x.cstdelta", sourceHash))
	if err := writeFramed(path, frozenDeltaMagic, buf.Bytes()); err != nil {
		return "", fmt.Errorf("tier: write frozen delta entry: %w", err)
	}
	return path, nil
}

func thawDelta(path string) (*delta.DeltaEntry, error) {
	payload, err := readFramed(path, frozenDeltaMagic)
	if err != nil {
		return nil, err
	}
	var d delta.DeltaEntry
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&d); err != nil {
		return nil, cerrors.NewCorruptDeltaError("", "frozen delta container decode failed", err)
	}
	return &d, nil
}

func removeFrozenFiles(paths ...string) {
	for _, p := range paths {
		if p != "" {
			os.Remove(p)
		}
	}
}
