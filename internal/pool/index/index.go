// Package index implements the ordered multiset of segments the resource
// pool uses to answer "which host has the most (or least) of something"
// in sub-linear time, keyed by a comparator that changes as a segment's
// counters change.
package index

import (
	"github.com/google/btree"
)

// degree is the btree branching factor; unremarkable for the node counts
// a single cluster's segment set reaches.
const degree = 32

// Order selects whether the index is kept ascending or descending by key.
type Order int

const (
	// Ascending keeps the smallest key first (used by the IO-workload index).
	Ascending Order = iota
	// Descending keeps the largest key first (used by the free/alloc indices).
	Descending
)

// node is a single indexed segment. Identity is the segment id; reorder
// removes and reinserts the same id under a new key rather than creating
// a new node, so callers never need to track a separate handle.
type node struct {
	segmentID int
	key       int64
	order     Order
}

// Less implements btree.Item. Segment id breaks ties so equal keys never
// collide into a single btree slot.
func (n *node) Less(than btree.Item) bool {
	o := than.(*node)
	if n.key != o.key {
		if n.order == Descending {
			return n.key > o.key
		}
		return n.key < o.key
	}
	return n.segmentID < o.segmentID
}

// Index is an ordered multiset of segment ids keyed by an int64 that the
// caller recomputes whenever the underlying counter changes. The pool
// keys unusable segments at math.MinInt64 in every index: last in a
// Descending index, first in an Ascending one, where callers skip them.
type Index struct {
	tree  *btree.BTree
	nodes map[int]*node
	order Order
}

// New creates an empty index with the given ordering.
func New(order Order) *Index {
	return &Index{
		tree:  btree.New(degree),
		nodes: make(map[int]*node),
		order: order,
	}
}

// Insert adds a segment to the index at the given key. Inserting a
// segment id already present is a no-op other than updating its key —
// prefer Reorder for that case, since it documents intent.
func (idx *Index) Insert(segmentID int, key int64) {
	if existing, ok := idx.nodes[segmentID]; ok {
		idx.tree.Delete(existing)
	}
	n := &node{segmentID: segmentID, key: key, order: idx.order}
	idx.tree.ReplaceOrInsert(n)
	idx.nodes[segmentID] = n
}

// Remove drops a segment from the index.
func (idx *Index) Remove(segmentID int) {
	n, ok := idx.nodes[segmentID]
	if !ok {
		return
	}
	idx.tree.Delete(n)
	delete(idx.nodes, segmentID)
}

// Reorder re-keys a segment already in the index, implemented as
// remove-then-insert. The segment's identity (its id) is unaffected.
func (idx *Index) Reorder(segmentID int, newKey int64) {
	idx.Remove(segmentID)
	idx.Insert(segmentID, newKey)
}

// Contains reports whether a segment is currently indexed.
func (idx *Index) Contains(segmentID int) bool {
	_, ok := idx.nodes[segmentID]
	return ok
}

// Len returns the number of indexed segments.
func (idx *Index) Len() int {
	return idx.tree.Len()
}

// Leftmost returns the first segment in iteration order (most-available
// or most-allocated for a Descending index, least-workload for an
// Ascending one).
func (idx *Index) Leftmost() (segmentID int, ok bool) {
	item := idx.tree.Min()
	if item == nil {
		return 0, false
	}
	return item.(*node).segmentID, true
}

// PopLeftmost removes and returns the leftmost segment, used by the
// round-robin allocation stage to walk the tree without revisiting a
// node twice in one pass.
func (idx *Index) PopLeftmost() (segmentID int, ok bool) {
	item := idx.tree.DeleteMin()
	if item == nil {
		return 0, false
	}
	n := item.(*node)
	delete(idx.nodes, n.segmentID)
	return n.segmentID, true
}

// TraverseMidOrder walks the index in its natural order, calling fn for
// each segment. Traversal stops early if fn returns false.
func (idx *Index) TraverseMidOrder(fn func(segmentID int, key int64) bool) {
	idx.tree.Ascend(func(item btree.Item) bool {
		n := item.(*node)
		return fn(n.segmentID, n.key)
	})
}
