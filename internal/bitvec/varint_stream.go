package bitvec

// VarintStreamStride is the number of values between random-access
// checkpoints in a VarintStream, mirroring DeltaIndexStride but for a
// stream with no monotonicity assumption (e.g. per-node byte lengths).
const VarintStreamStride = 64

// VarintStream stores a sequence of uint64 values as plain (non-delta)
// varints, with a byte-offset checkpoint every VarintStreamStride values so
// random access costs at most VarintStreamStride varint decodes.
type VarintStream struct {
	data    []byte
	offsets []int
	count   int
}

// VarintStreamBuilder accumulates values in sequence.
type VarintStreamBuilder struct {
	data    []byte
	offsets []int
	count   int
}

// NewVarintStreamBuilder starts building a varint stream.
func NewVarintStreamBuilder() *VarintStreamBuilder {
	return &VarintStreamBuilder{}
}

// Append adds the next value.
func (b *VarintStreamBuilder) Append(v uint64) {
	if b.count%VarintStreamStride == 0 {
		b.offsets = append(b.offsets, len(b.data))
	}
	b.data = AppendUvarint(b.data, v)
	b.count++
}

// Finish produces the immutable stream.
func (b *VarintStreamBuilder) Finish() *VarintStream {
	return &VarintStream{data: b.data, offsets: b.offsets, count: b.count}
}

// Len returns the number of values in the stream.
func (s *VarintStream) Len() int { return s.count }

// Get reconstructs the value at index i by scanning forward from the
// nearest preceding checkpoint.
func (s *VarintStream) Get(i int) uint64 {
	chunk := i / VarintStreamStride
	pos := s.offsets[chunk]
	remaining := i % VarintStreamStride
	var v uint64
	for j := 0; j <= remaining; j++ {
		var n int
		v, n = Uvarint(s.data[pos:])
		pos += n
	}
	return v
}
