package duplicates

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisjointSet_UnionFind(t *testing.T) {
	ds := newDisjointSet([]int64{1, 2, 3, 4, 5})

	ds.union(1, 2)
	ds.union(2, 3)

	assert.Equal(t, ds.find(1), ds.find(3), "1 and 3 should be in the same component transitively")
	assert.NotEqual(t, ds.find(1), ds.find(4), "unmerged ids stay in separate components")

	ds.union(4, 5)
	assert.NotEqual(t, ds.find(1), ds.find(4))

	ds.union(3, 4)
	assert.Equal(t, ds.find(1), ds.find(5), "merging 3-4 should join the two earlier components")
}

func TestDisjointSet_UnionIsIdempotent(t *testing.T) {
	ds := newDisjointSet([]int64{1, 2})
	ds.union(1, 2)
	root := ds.find(1)
	ds.union(1, 2)
	assert.Equal(t, root, ds.find(1))
}

func TestNeighborPrefixes_IncludesSelfAndSingleBitFlips(t *testing.T) {
	p := uint16(0b0000_0000_0000_0001)
	neighbors := neighborPrefixes(p)

	assert.Len(t, neighbors, 17, "self plus one flip per of the 16 bits")
	assert.Contains(t, neighbors, p)
	assert.Contains(t, neighbors, uint16(0b0000_0000_0000_0000), "flipping bit 0 clears it")
	assert.Contains(t, neighbors, uint16(0b1000_0000_0000_0001), "flipping bit 15 sets it")
}

func TestBucketPrefix_TopSixteenBits(t *testing.T) {
	var h uint64 = 0xABCD_0000_0000_0000
	assert.Equal(t, uint16(0xABCD), bucketPrefix(h))
}
