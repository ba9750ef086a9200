package delta

import (
	"fmt"
	"hash/crc32"

	cerrors "github.com/standardbeagle/cstcache/internal/errors"
)

// DeltaEntry records one source version as a prefix of shared chunks plus a
// residual tail: base_chunk_hashes covers a contiguous prefix of the
// source already present in the ChunkStore (from an earlier version),
// residual_delta is everything from the first mismatch onward.
type DeltaEntry struct {
	BaseChunkHashes []uint64
	ResidualDelta   []byte
	OriginalSize    int
	OriginalCRC32   uint32
}

// Encode chunks source and records the longest prefix of chunks already
// known to store by hash as BaseChunkHashes; the remainder (the first
// unmatched chunk onward) becomes ResidualDelta. Residual content is itself
// chunked and inserted into store, so a later Encode of a near-duplicate
// source can match further into what is residual here.
func Encode(store *ChunkStore, source []byte) *DeltaEntry {
	entry := &DeltaEntry{
		OriginalSize:  len(source),
		OriginalCRC32: crc32.ChecksumIEEE(source),
	}

	pieces := chunks(source)
	residualStart := len(source)
	matched := true
	offset := 0
	for _, c := range pieces {
		hash := hashChunk(c)
		if matched && store.Acquire(hash) {
			entry.BaseChunkHashes = append(entry.BaseChunkHashes, hash)
			offset += len(c)
			continue
		}
		matched = false
		if residualStart == len(source) {
			residualStart = offset
		}
	}

	if residualStart < len(source) {
		residual := source[residualStart:]
		entry.ResidualDelta = append([]byte(nil), residual...)
		for _, c := range chunks(residual) {
			store.Insert(c)
		}
	}
	return entry
}

// Decode reconstructs the original source bytes from entry, verifying
// length and CRC32 against the recorded originals. Returns CorruptDelta if
// a base chunk is missing from store or the reconstruction fails either
// check.
func Decode(store *ChunkStore, entry *DeltaEntry) ([]byte, error) {
	out := make([]byte, 0, entry.OriginalSize)
	for _, hash := range entry.BaseChunkHashes {
		data, ok := store.Get(hash)
		if !ok {
			return nil, cerrors.NewCorruptDeltaError(fmt.Sprintf("%016x", hash), "base chunk missing from store", nil)
		}
		out = append(out, data...)
	}
	out = append(out, entry.ResidualDelta...)

	if len(out) != entry.OriginalSize {
		return nil, cerrors.NewCorruptDeltaError("", fmt.Sprintf("reconstructed length %d != original_size %d", len(out), entry.OriginalSize), nil)
	}
	if crc32.ChecksumIEEE(out) != entry.OriginalCRC32 {
		return nil, cerrors.NewCorruptDeltaError("", "crc32 mismatch", nil)
	}
	return out, nil
}
