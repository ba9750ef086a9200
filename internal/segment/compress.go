package segment

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// compress applies tag's compressor to raw, returning the bytes to store
// on disk or in cold-tier RAM.
func compress(tag CompressionTag, raw []byte) ([]byte, error) {
	switch tag {
	case CompressionNone:
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	case CompressionLZ4:
		return nil, fmt.Errorf("segment: lz4 compression not implemented")
	default:
		return nil, fmt.Errorf("segment: unknown compression tag %d", tag)
	}
}

// decompress reverses compress. uncompressedSize sizes the output buffer
// for CompressionZstd; it is informational only for CompressionNone.
func decompress(tag CompressionTag, data []byte, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		out := make([]byte, 0, uncompressedSize)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, dec); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionLZ4:
		return nil, fmt.Errorf("segment: lz4 decompression not implemented")
	default:
		return nil, fmt.Errorf("segment: unknown compression tag %d", tag)
	}
}
