package timingbloom

// packedCells is a contiguous array of M 4-bit cells, two packed per
// byte, the high nibble holding the lower-indexed cell. Cell value 0
// means empty; 1..15 means "last touched at that tick". Grounded on
// dgraph-io-ristretto/bloom's CBF, which packs 4-bit counters into words
// with the same shift/mask read-modify-write, narrowed here from
// 64-bit words to single bytes since cells are addressed individually
// rather than by block.
type packedCells struct {
	buf []byte
	m   uint32
}

func newPackedCells(m uint32) *packedCells {
	return &packedCells{
		buf: make([]byte, (m+1)/2),
		m:   m,
	}
}

// len reports M, the number of cells.
func (c *packedCells) len() uint32 { return c.m }

// get reads nibble i: the high nibble of byte i/2 if i is even, else the
// low nibble.
func (c *packedCells) get(i uint32) uint8 {
	b := c.buf[i/2]
	if i%2 == 0 {
		return b >> 4
	}
	return b & 0x0f
}

// set replaces nibble i with v, preserving the other nibble in the byte,
// and returns the previous value so callers can maintain nonzero_cells
// without a second read.
func (c *packedCells) set(i uint32, v uint8) (prev uint8) {
	idx := i / 2
	b := c.buf[idx]
	if i%2 == 0 {
		prev = b >> 4
		c.buf[idx] = (b & 0x0f) | (v << 4)
	} else {
		prev = b & 0x0f
		c.buf[idx] = (b & 0xf0) | (v & 0x0f)
	}
	return prev
}

// clear is set(i, 0).
func (c *packedCells) clear(i uint32) (prev uint8) {
	return c.set(i, 0)
}
