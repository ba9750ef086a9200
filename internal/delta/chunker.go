// Package delta implements content-defined chunking, a reference-counted
// ChunkStore, and the chunked delta codec that lets near-duplicate file
// versions share the bulk of their content instead of storing full copies.
package delta

const (
	rollingWindow = 48
	minChunkSize  = 1 << 10 // 1 KiB
	maxChunkSize  = 16 << 10
	targetShift   = 12 // 2^12 = 4 KiB expected chunk size
	boundaryMask  = (uint64(1) << targetShift) - 1

	rollingBase = 1099511628211 // FNV-ish odd multiplier, keeps the ring well mixed
)

// basePowWindow is rollingBase^rollingWindow mod 2^64, used to remove the
// outgoing byte's contribution when the window slides.
var basePowWindow = func() uint64 {
	p := uint64(1)
	for i := 0; i < rollingWindow; i++ {
		p *= rollingBase
	}
	return p
}()

// chunkBoundaries returns the exclusive end offsets of each content-defined
// chunk covering data, computed with a Rabin-style multiplicative rolling
// hash over a 48-byte window: a boundary falls wherever the low
// targetShift bits of the hash are all zero, once at least minChunkSize
// bytes have accumulated since the previous boundary, with a hard cut at
// maxChunkSize to bound variance.
func chunkBoundaries(data []byte) []int {
	if len(data) == 0 {
		return nil
	}
	var bounds []int
	var h uint64
	chunkStart := 0

	for i := 0; i < len(data); i++ {
		h = h*rollingBase + uint64(data[i])
		if i-chunkStart+1 > rollingWindow {
			outIdx := i - rollingWindow
			h -= uint64(data[outIdx]) * basePowWindow
		}

		size := i - chunkStart + 1
		if size >= minChunkSize && (h&boundaryMask) == 0 {
			bounds = append(bounds, i+1)
			chunkStart = i + 1
			h = 0
			continue
		}
		if size >= maxChunkSize {
			bounds = append(bounds, i+1)
			chunkStart = i + 1
			h = 0
		}
	}
	if chunkStart < len(data) {
		bounds = append(bounds, len(data))
	}
	return bounds
}

// chunks slices data at its content-defined boundaries.
func chunks(data []byte) [][]byte {
	bounds := chunkBoundaries(data)
	out := make([][]byte, 0, len(bounds))
	start := 0
	for _, end := range bounds {
		out = append(out, data[start:end])
		start = end
	}
	return out
}
