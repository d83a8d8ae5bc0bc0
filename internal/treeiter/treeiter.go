// Package treeiter provides a forward in-order walk over a B+-tree's leaf
// entries with a checkpoint yield point between entries, so long scans do
// not starve the checkpointer of its write lock.
package treeiter

import (
	"github.com/nodestore/defrag/internal/btree"
	"github.com/nodestore/defrag/internal/checkpoint"
)

// Entry is one leaf entry delivered to the iteration callback. The page
// memory never exposes a node's raw page address to callers, so Entry
// carries the logical key/value pair, which is all the partition pipeline
// needs.
type Entry struct {
	Key   []byte
	Value []byte
}

// Walk performs a forward in-order scan of tree, invoking fn for each
// entry in key order. Between entries it calls yielder.MaybeYield(), a
// no-op unless the yield cadence has elapsed since the read lock was last
// (re-)acquired. fn returning false stops iteration; the scan never
// mutates tree. A nil yielder walks without yielding.
//
// btree.Tree.ScanRange already pins each leaf page for the span of its
// per-entry callbacks, so no extra pinning happens at this layer.
func Walk(tree *btree.Tree, yielder *checkpoint.Yielder, fn func(Entry) bool) error {
	return tree.ScanRange(nil, nil, func(key, value []byte) bool {
		if !fn(Entry{Key: key, Value: value}) {
			return false
		}
		if yielder != nil {
			yielder.MaybeYield()
		}
		return true
	})
}
