package match

import (
	"math/bits"
	"sync/atomic"
)

// bitset records which index-side rows were hit. Set is safe for concurrent
// workers; Get and Count are meant for after the probe pass.
type bitset struct {
	words []atomic.Uint64
}

func newBitset(n int) *bitset {
	return &bitset{words: make([]atomic.Uint64, (max(n, 0)+63)/64)}
}

// Set marks i and reports whether it was previously clear.
func (b *bitset) Set(i int) bool {
	w, mask := i/64, uint64(1)<<(uint(i)%64)
	if i < 0 || w >= len(b.words) {
		return false
	}
	return b.words[w].Or(mask)&mask == 0
}

func (b *bitset) Get(i int) bool {
	w, mask := i/64, uint64(1)<<(uint(i)%64)
	if i < 0 || w >= len(b.words) {
		return false
	}
	return b.words[w].Load()&mask != 0
}

func (b *bitset) Count() int64 {
	var n int
	for i := range b.words {
		n += bits.OnesCount64(b.words[i].Load())
	}
	return int64(n)
}
