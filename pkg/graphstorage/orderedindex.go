package graphstorage

import (
	"math"

	"github.com/tidwall/btree"
)

const (
	// topLevelEntries is the number of entries the root of the index should
	// roughly hold after a bulk load.
	topLevelEntries = 16
	minIndexDegree  = 4
	maxIndexDegree  = 64
)

// indexEntry associates a key with its position in the mirrored sorted slice.
// Equal keys are kept apart by their position.
type indexEntry struct {
	Key uint32
	Pos int
}

func indexEntryLess(a, b indexEntry) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	return a.Pos < b.Pos
}

// RangeResult is the contiguous run of positions whose keys fall in a searched
// interval. StartIdx and EndIdx are inclusive and only meaningful if Count > 0.
type RangeResult struct {
	StartIdx int
	EndIdx   int
	Count    int
}

// OrderedIndex is a sorted, duplicate tolerant key/position index with
// logarithmic range search. Keys are appended in non-decreasing order and the
// position of a key is the number of keys appended before it.
type OrderedIndex struct {
	tree *btree.BTreeG[indexEntry]
	size int
}

// NewOrderedIndex creates an index sized for the expected number of keys.
func NewOrderedIndex(expected float64) *OrderedIndex {
	return &OrderedIndex{
		tree: btree.NewBTreeGOptions(indexEntryLess, btree.Options{
			Degree:  indexDegree(expected),
			NoLocks: true,
		}),
	}
}

// indexDegree chooses the fan-out so that a tree holding the expected number
// of keys has about topLevelEntries entries at its top level, with at least
// two levels below it.
func indexDegree(expected float64) int {
	skip := expected / topLevelEntries
	if skip <= 1 {
		return minIndexDegree
	}
	levels := math.Ceil(math.Log(skip) / math.Log(maxIndexDegree))
	if levels < 2 {
		levels = 2
	}
	degree := int(math.Ceil(math.Pow(skip, 1/levels)))
	if degree < minIndexDegree {
		return minIndexDegree
	}
	if degree > maxIndexDegree {
		return maxIndexDegree
	}
	return degree
}

// Append adds the next key. Keys must be appended in sorted order, which lets
// the tree bulk load them.
func (x *OrderedIndex) Append(key uint32) {
	x.tree.Load(indexEntry{Key: key, Pos: x.size})
	x.size++
}

// Len returns the number of keys in the index.
func (x *OrderedIndex) Len() int {
	return x.size
}

// SearchRange returns the positions of all keys k with lo <= k <= hi.
func (x *OrderedIndex) SearchRange(lo, hi uint32) RangeResult {
	if lo > hi || x.size == 0 {
		return RangeResult{}
	}
	start := -1
	x.tree.Ascend(indexEntry{Key: lo, Pos: math.MinInt}, func(e indexEntry) bool {
		if e.Key <= hi {
			start = e.Pos
		}
		return false
	})
	if start < 0 {
		return RangeResult{}
	}
	end := start
	x.tree.Descend(indexEntry{Key: hi, Pos: math.MaxInt}, func(e indexEntry) bool {
		end = e.Pos
		return false
	})
	return RangeResult{StartIdx: start, EndIdx: end, Count: end - start + 1}
}
