package bp

import "github.com/standardbeagle/cstcache/internal/bitvec"

// rankIndex answers preorder-rank (rank1) and select (select1) queries over
// the open-bit positions of a BP sequence, delegating to the shared
// bitvec.BitVector rank/select index.
type rankIndex struct {
	bv *bitvec.BitVector
}

func buildRankIndex(open []bool) *rankIndex {
	bv := bitvec.NewBitVector(len(open))
	for i, isOpen := range open {
		if isOpen {
			bv.Set(i)
		}
	}
	bv.Build()
	return &rankIndex{bv: bv}
}

func (r *rankIndex) rank1(i int) int {
	return r.bv.Rank1(i)
}

func (r *rankIndex) select1(k int) int {
	return r.bv.Select1(k)
}
