// Package cachetree implements the two per-partition B+-trees of a cache
// group: the Cache Data Tree, keyed by (cacheId, hash(key), key) and
// carrying a row link, and the Pending Entries Tree, keyed by (cacheId,
// expireTime, link) for TTL processing. Both sit directly on
// internal/btree with composite byte-encoded keys.
package cachetree

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/nodestore/defrag/internal/btree"
	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/checkpoint"
	"github.com/nodestore/defrag/internal/pagemem"
	"github.com/nodestore/defrag/internal/pagestore"
	"github.com/nodestore/defrag/internal/rowstore"
	"github.com/nodestore/defrag/internal/treeiter"
)

// CacheDataTree is the per-partition (cacheId, hash, key) → link index over
// a rowstore holding the marshaled DataRow bytes.
type CacheDataTree struct {
	bt   *btree.Tree
	rows *rowstore.Store
}

// CreateCacheDataTree allocates a fresh Cache Data Tree in store, which must
// already be registered in mem under cachemodel.FlagData.
func CreateCacheDataTree(mem pagemem.Memory, store pagestore.Store, partition uint32) (*CacheDataTree, error) {
	bt, err := btree.Create(mem, store, partition, cachemodel.FlagData)
	if err != nil {
		return nil, fmt.Errorf("cache data tree create: %w", err)
	}
	return &CacheDataTree{bt: bt, rows: rowstore.Open(store)}, nil
}

// OpenCacheDataTree reopens a Cache Data Tree rooted at root.
func OpenCacheDataTree(mem pagemem.Memory, store pagestore.Store, partition uint32, root cachemodel.PageID) *CacheDataTree {
	return &CacheDataTree{bt: btree.Open(mem, store, partition, cachemodel.FlagData, root), rows: rowstore.Open(store)}
}

func cacheDataKey(cacheID int32, key []byte) []byte {
	h := fnv.New64a()
	h.Write(key)
	out := make([]byte, 4+8+len(key))
	binary.BigEndian.PutUint32(out[0:4], uint32(cacheID)^0x80000000) // sign-flip so negatives sort before positives
	binary.BigEndian.PutUint64(out[4:12], h.Sum64())
	copy(out[12:], key)
	return out
}

// Put allocates fresh row storage for row, records its link in row.Link,
// and inserts the (cacheId, hash, key) → link entry.
func (t *CacheDataTree) Put(row *cachemodel.DataRow) error {
	data := cachemodel.MarshalDataRow(row, nil)
	link, err := t.rows.Insert(data)
	if err != nil {
		return fmt.Errorf("cache data tree put: %w", err)
	}
	row.Link = link
	if err := t.bt.Insert(cacheDataKey(row.CacheID, row.Key), encodeLink(link)); err != nil {
		return fmt.Errorf("cache data tree put: index: %w", err)
	}
	return nil
}

// Get looks up a row by its cache id and key.
func (t *CacheDataTree) Get(cacheID int32, key []byte) (*cachemodel.DataRow, bool, error) {
	v, ok, err := t.bt.Get(cacheDataKey(cacheID, key))
	if err != nil || !ok {
		return nil, false, err
	}
	return t.rowAt(decodeLink(v))
}

func (t *CacheDataTree) rowAt(link cachemodel.RowLink) (*cachemodel.DataRow, bool, error) {
	data, err := t.rows.Get(link)
	if err != nil {
		return nil, false, fmt.Errorf("cache data tree: read row %d: %w", link, err)
	}
	row, err := cachemodel.UnmarshalDataRow(data)
	if err != nil {
		return nil, false, fmt.Errorf("cache data tree: unmarshal row %d: %w", link, err)
	}
	row.Link = link
	return row, true, nil
}

// Entry is one leaf entry of the Cache Data Tree as seen during iteration:
// the link recorded in the index (the old link a defragmentation pass
// remaps) and the fully materialized row it points to.
type Entry struct {
	OldLink cachemodel.RowLink
	Row     *cachemodel.DataRow
}

// Each walks every leaf entry in key order, reading the row bytes through
// the rowstore for each one. fn returning false stops iteration early.
func (t *CacheDataTree) Each(fn func(Entry) bool) error {
	return t.EachYield(nil, fn)
}

// EachYield is Each with a checkpoint yield point between entries: after
// each callback the walker re-checks the read-lock cadence and briefly
// releases the lock if it has been held too long. A nil yielder walks
// without yielding.
func (t *CacheDataTree) EachYield(y *checkpoint.Yielder, fn func(Entry) bool) error {
	var walkErr error
	err := treeiter.Walk(t.bt, y, func(e treeiter.Entry) bool {
		link := decodeLink(e.Value)
		row, _, err := t.rowAt(link)
		if err != nil {
			walkErr = err
			return false
		}
		return fn(Entry{OldLink: link, Row: row})
	})
	if walkErr != nil {
		return walkErr
	}
	return err
}

// Root exposes the tree's root page for meta-page bookkeeping.
func (t *CacheDataTree) Root() cachemodel.PageID { return t.bt.Root() }

// PendingEntriesTree indexes (cacheId, expireTime, link) for TTL sweeps.
type PendingEntriesTree struct {
	bt *btree.Tree
}

func CreatePendingEntriesTree(mem pagemem.Memory, store pagestore.Store, partition uint32) (*PendingEntriesTree, error) {
	bt, err := btree.Create(mem, store, partition, cachemodel.FlagData)
	if err != nil {
		return nil, fmt.Errorf("pending entries tree create: %w", err)
	}
	return &PendingEntriesTree{bt: bt}, nil
}

func OpenPendingEntriesTree(mem pagemem.Memory, store pagestore.Store, partition uint32, root cachemodel.PageID) *PendingEntriesTree {
	return &PendingEntriesTree{bt: btree.Open(mem, store, partition, cachemodel.FlagData, root)}
}

func pendingKey(cacheID int32, expireTime int64, link cachemodel.RowLink) []byte {
	out := make([]byte, 4+8+8)
	binary.BigEndian.PutUint32(out[0:4], uint32(cacheID)^0x80000000)
	binary.BigEndian.PutUint64(out[4:12], uint64(expireTime)^0x8000000000000000)
	binary.BigEndian.PutUint64(out[12:20], uint64(link))
	return out
}

// Insert records a TTL entry for a row that carries a non-zero expire
// time.
func (t *PendingEntriesTree) Insert(cacheID int32, expireTime int64, link cachemodel.RowLink) error {
	key := pendingKey(cacheID, expireTime, link)
	if err := t.bt.Insert(key, encodeLink(link)); err != nil {
		return fmt.Errorf("pending entries tree insert: %w", err)
	}
	return nil
}

func (t *PendingEntriesTree) Count() (int, error) { return t.bt.Count() }

func (t *PendingEntriesTree) Root() cachemodel.PageID { return t.bt.Root() }

func encodeLink(link cachemodel.RowLink) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(link))
	return b[:]
}

func decodeLink(b []byte) cachemodel.RowLink {
	return cachemodel.RowLink(binary.BigEndian.Uint64(b))
}
