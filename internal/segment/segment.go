// Package segment partitions a bytecode.Stream into resync-aligned chunks
// (~256 KiB by default) so cold/frozen tiers can compress and page them
// independently instead of holding a whole stream decompressed at once.
package segment

import (
	"hash/crc32"

	"github.com/standardbeagle/cstcache/internal/bytecode"
	cerrors "github.com/standardbeagle/cstcache/internal/errors"
)

// CompressionTag identifies the compressor applied to a segment's payload.
type CompressionTag byte

const (
	CompressionNone CompressionTag = 0
	CompressionZstd CompressionTag = 1
	CompressionLZ4  CompressionTag = 2 // reserved; see compress
)

const (
	Magic             = "CSEG"
	FormatVersion     = 1
	DefaultTargetSize = 256 << 10
)

// Header describes one segment independent of its compressed payload.
type Header struct {
	NodeStart        uint64
	NodeEnd          uint64 // exclusive
	UncompressedSize uint32
	CRC32            uint32
}

// Segment is one compressed slice of an opcode stream, always starting at
// a node that was a Checkpoint (or node 0) in the source stream so a
// Navigator can resume mid-segment without external context.
type Segment struct {
	Header      Header
	Compression CompressionTag
	Data        []byte // compressed bytes (or raw bytes, if CompressionNone)
}

// Decompress validates the segment's CRC32 and returns its raw opcode
// bytes.
func (s Segment) Decompress() ([]byte, error) {
	raw, err := decompress(s.Compression, s.Data, int(s.Header.UncompressedSize))
	if err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(raw) != s.Header.CRC32 {
		return nil, cerrors.NewCorruptBytecodeError(int(s.Header.NodeStart), 0, "segment crc32 mismatch", nil)
	}
	return raw, nil
}

// BuildSegments partitions stream's opcode bytes into segments of at least
// targetSize bytes each (the last one takes the remainder and may be
// shorter), cutting only at checkpoint-aligned node indices
// (or node 0) so every segment boundary is independently navigable.
func BuildSegments(stream *bytecode.Stream, targetSize int, compression CompressionTag) ([]Segment, error) {
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}

	type boundary struct {
		nodeIndex  int
		byteOffset int
	}
	boundaries := []boundary{{0, 0}}
	for _, cp := range stream.Checkpoints {
		if int(cp.NodeIndex) >= len(stream.JumpTable) {
			continue
		}
		off := int(stream.JumpTable[cp.NodeIndex])
		last := boundaries[len(boundaries)-1]
		if off-last.byteOffset >= targetSize {
			boundaries = append(boundaries, boundary{int(cp.NodeIndex), off})
		}
	}

	segments := make([]Segment, 0, len(boundaries))
	for i, b := range boundaries {
		end := len(stream.Opcodes)
		nodeEnd := stream.NodeCount
		if i+1 < len(boundaries) {
			end = boundaries[i+1].byteOffset
			nodeEnd = uint64(boundaries[i+1].nodeIndex)
		}
		raw := stream.Opcodes[b.byteOffset:end]
		data, err := compress(compression, raw)
		if err != nil {
			return nil, err
		}
		segments = append(segments, Segment{
			Header: Header{
				NodeStart:        uint64(b.nodeIndex),
				NodeEnd:          nodeEnd,
				UncompressedSize: uint32(len(raw)),
				CRC32:            crc32.ChecksumIEEE(raw),
			},
			Compression: compression,
			Data:        data,
		})
	}
	return segments, nil
}
