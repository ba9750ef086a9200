package bitvec

// DeltaIndexStride is the number of values between random-access checkpoints
// in a MonotoneDeltaStream (K in spec terms: a power of two).
const DeltaIndexStride = 64

// MonotoneDeltaStream stores a non-decreasing sequence of uint64 values as
// varint-encoded deltas, with an absolute-value checkpoint every
// DeltaIndexStride values so random access costs at most DeltaIndexStride
// varint decodes.
type MonotoneDeltaStream struct {
	data       []byte
	checkpoint []uint64 // checkpoint[i] = absolute value at index i*stride
	offsets    []int    // offsets[i] = byte offset in data of index i*stride
	count      int
}

// NewMonotoneDeltaBuilder starts building a monotone-delta stream.
func NewMonotoneDeltaBuilder() *MonotoneDeltaBuilder {
	return &MonotoneDeltaBuilder{}
}

// MonotoneDeltaBuilder accumulates values in sequence; call Finish to
// produce an immutable MonotoneDeltaStream.
type MonotoneDeltaBuilder struct {
	data       []byte
	checkpoint []uint64
	offsets    []int
	count      int
	prev       uint64
}

// Append adds the next value in the sequence. Values must be non-decreasing;
// a decrease is stored as a wrapped-around unsigned delta, which still
// round-trips but costs a full-width varint.
func (m *MonotoneDeltaBuilder) Append(v uint64) {
	if m.count%DeltaIndexStride == 0 {
		m.checkpoint = append(m.checkpoint, v)
		m.offsets = append(m.offsets, len(m.data))
		m.data = AppendUvarint(m.data, v) // checkpoints store the absolute value inline too
	} else {
		delta := v - m.prev
		m.data = AppendUvarint(m.data, delta)
	}
	m.prev = v
	m.count++
}

// Finish produces the immutable stream.
func (m *MonotoneDeltaBuilder) Finish() *MonotoneDeltaStream {
	return &MonotoneDeltaStream{
		data:       m.data,
		checkpoint: m.checkpoint,
		offsets:    m.offsets,
		count:      m.count,
	}
}

// Len returns the number of values in the stream.
func (s *MonotoneDeltaStream) Len() int { return s.count }

// Get reconstructs the value at index i by scanning forward from the nearest
// preceding checkpoint. Worst case O(DeltaIndexStride) varint decodes.
func (s *MonotoneDeltaStream) Get(i int) uint64 {
	chunk := i / DeltaIndexStride
	pos := s.offsets[chunk]
	v, n := Uvarint(s.data[pos:])
	pos += n

	remaining := i % DeltaIndexStride
	for j := 0; j < remaining; j++ {
		delta, n := Uvarint(s.data[pos:])
		pos += n
		v += delta
	}
	return v
}

// Bytes returns the raw encoded delta+checkpoint payload (for persistence).
func (s *MonotoneDeltaStream) Bytes() []byte { return s.data }
