package timingbloom

import (
	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
)

// hasher derives the two independent 64-bit hashes that seed the
// double-hashing construction h_i = (h1 + i*h2) mod m.
//
// Any non-cryptographic hash with avalanche behavior satisfies the
// contract; it must only stay stable for the lifetime of a filter, since
// reindexing already-set cells is not supported.
type hasher interface {
	hash(data []byte) (h1, h2 uint64)
}

// xxHasher combines two unrelated hash families (xxh3 and xxhash) rather
// than two seeds of one family, so h1 and h2 don't share an internal
// state that could correlate them.
type xxHasher struct{}

func (xxHasher) hash(data []byte) (h1, h2 uint64) {
	return xxh3.Hash(data), xxhash.Sum64(data)
}

// defaultHasher is the hash function used when a filter is not
// constructed with an explicit one.
var defaultHasher hasher = xxHasher{}

// doubleHash fills dst with k indices into [0, m) derived from data via
// Kirsch-Mitzenmacher double hashing. dst must have length >= k.
func doubleHash(h hasher, data []byte, m, k uint32, dst []uint32) {
	h1, h2 := h.hash(data)
	mm := uint64(m)
	for i := uint32(0); i < k; i++ {
		dst[i] = uint32((h1 + uint64(i)*h2) % mm)
	}
}
