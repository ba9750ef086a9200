package bitvec

import "testing"

func TestUvarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 16384, 1 << 32, ^uint64(0)}
	for _, v := range values {
		buf := AppendUvarint(nil, v)
		got, n := Uvarint(buf)
		if n != len(buf) {
			t.Errorf("Uvarint(%d) consumed %d bytes, want %d", v, n, len(buf))
		}
		if got != v {
			t.Errorf("Uvarint round-trip %d -> %d", v, got)
		}
	}
}

func TestSvarintRoundTrip(t *testing.T) {
	values := []int64{0, -1, 1, -2, 2, 1000000, -1000000}
	for _, v := range values {
		buf := AppendSvarint(nil, v)
		got, n := Svarint(buf)
		if n != len(buf) {
			t.Errorf("Svarint(%d) consumed %d bytes, want %d", v, n, len(buf))
		}
		if got != v {
			t.Errorf("Svarint round-trip %d -> %d", v, got)
		}
	}
}

func TestZigzagSmallMagnitude(t *testing.T) {
	cases := map[int64]uint64{0: 0, -1: 1, 1: 2, -2: 3, 2: 4}
	for in, want := range cases {
		if got := ZigzagEncode(in); got != want {
			t.Errorf("ZigzagEncode(%d) = %d, want %d", in, got, want)
		}
		if got := ZigzagDecode(want); got != in {
			t.Errorf("ZigzagDecode(%d) = %d, want %d", want, got, in)
		}
	}
}

func TestUvarintIncomplete(t *testing.T) {
	buf := []byte{0x80, 0x80} // continuation bits set, no terminator
	if _, n := Uvarint(buf); n != 0 {
		t.Errorf("expected incomplete varint to report n=0, got %d", n)
	}
}
