package index

import "math"

// bloomFilter answers "definitely absent" for a bucket without staging it.
// Positions come from one 64-bit key hash split into two halves (double
// hashing), so adding and probing never rehash the key.
type bloomFilter struct {
	bits []uint64
	m    uint64
	k    uint32
}

func newBloomFilter(expectedItems int, falsePositiveRate float64) *bloomFilter {
	n := float64(max(expectedItems, 1))
	// m = -(n * ln(p)) / (ln(2)^2), k = (m/n) * ln(2)
	m := uint64(math.Ceil(-n * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	m = max(m, 64)
	k := uint32(math.Round(float64(m) / n * math.Ln2))
	k = min(max(k, 1), 16)

	return &bloomFilter{
		bits: make([]uint64, (m+63)/64),
		m:    m,
		k:    k,
	}
}

func (bf *bloomFilter) add(h uint64) {
	h1, h2 := splitHash(h)
	for i := uint32(0); i < bf.k; i++ {
		pos := (h1 + uint64(i)*h2) % bf.m
		bf.bits[pos/64] |= 1 << (pos % 64)
	}
}

func (bf *bloomFilter) mayContain(h uint64) bool {
	h1, h2 := splitHash(h)
	for i := uint32(0); i < bf.k; i++ {
		pos := (h1 + uint64(i)*h2) % bf.m
		if bf.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// splitHash remixes h so the halves stay independent of the high bits
// already consumed by bucket routing.
func splitHash(h uint64) (uint64, uint64) {
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h & 0xffffffff, (h >> 32) | 1
}
