package idcodec

import (
	"github.com/standardbeagle/cstcache/internal/encoding"
)

// CheckpointRef packing:
// - Lower 32 bits: segment index within the bytecode stream
// - Upper 32 bits: byte offset of the checkpoint within that segment
//
// A printable CheckpointRef lets the CLI and debug dumps name a bytecode
// position without exposing the raw (segmentIndex, offset) pair.

// EncodeCheckpointRef encodes a segment index and in-segment byte offset
// into a single base-63 string.
func EncodeCheckpointRef(segmentIndex uint32, offset uint32) string {
	combined := encoding.PackUint32Pair(segmentIndex, offset)
	return EncodeNoZero(combined)
}

// DecodeCheckpointRef decodes a base-63 string back into a segment index and
// in-segment byte offset.
func DecodeCheckpointRef(encoded string) (segmentIndex uint32, offset uint32, err error) {
	if encoded == "" {
		return 0, 0, ErrEmptyString
	}

	combined, err := Decode(encoded)
	if err != nil {
		return 0, 0, err
	}

	segmentIndex, offset = encoding.UnpackUint32Pair(combined)
	return segmentIndex, offset, nil
}

// PackCheckpointRef packs a segment index and offset into a raw uint64, for
// callers that want the packed value without the printable encoding.
func PackCheckpointRef(segmentIndex, offset uint32) uint64 {
	return encoding.PackUint32Pair(segmentIndex, offset)
}

// UnpackCheckpointRef unpacks a raw uint64 into a segment index and offset.
func UnpackCheckpointRef(packed uint64) (segmentIndex, offset uint32) {
	return encoding.UnpackUint32Pair(packed)
}
