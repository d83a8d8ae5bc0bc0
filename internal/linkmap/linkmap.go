// Package linkmap implements the Link Map: a persistent tree (one per
// partition) mapping old row link → new row link. Open either allocates a
// fresh tree (init=true) or reopens the existing one rooted at the
// well-known meta-page index (init=false, the crash-resume path).
package linkmap

import (
	"encoding/binary"
	"fmt"

	"github.com/nodestore/defrag/internal/btree"
	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/pagemem"
	"github.com/nodestore/defrag/internal/pagestore"
)

// MetaPageIndex is the well-known page index (under FlagData) where each
// mapping partition's Link Map root is anchored. Process-wide constant.
const MetaPageIndex uint32 = 0

// LinkMap is a disk-backed ordered map oldLink→newLink for one partition's
// mapping region.
type LinkMap struct {
	tree *btree.Tree
}

// Open creates or reopens a LinkMap for the given mapping-region store.
//
// init=true allocates a fresh tree and stores its root at the well-known
// meta page index. init=false expects a Link Map to already have been
// created in a prior run against this same store and reopens it at the same
// well-known index — used when resuming after a crash.
func Open(mem pagemem.Memory, store pagestore.Store, partition uint32, init bool) (*LinkMap, error) {
	if init {
		// Claim the well-known meta page index first, as the very first
		// allocation against a freshly created mapping store, before the
		// tree's own root page is allocated.
		metaID, err := store.AllocatePage(cachemodel.FlagData)
		if err != nil {
			return nil, fmt.Errorf("link map init: allocate meta page: %w", err)
		}
		if metaID.Index() != MetaPageIndex {
			return nil, fmt.Errorf("link map init: expected meta page at index %d, got %d (store not fresh)", MetaPageIndex, metaID.Index())
		}

		tree, err := btree.Create(mem, store, partition, cachemodel.FlagData)
		if err != nil {
			return nil, fmt.Errorf("link map init: %w", err)
		}
		if err := writeFreshMetaRoot(mem, store, metaID, tree.Root()); err != nil {
			return nil, err
		}
		return &LinkMap{tree: tree}, nil
	}

	metaID := cachemodel.NewPageID(partition, cachemodel.FlagData, MetaPageIndex)
	root, err := readMetaRoot(mem, metaID)
	if err != nil {
		return nil, fmt.Errorf("link map reopen: %w", err)
	}
	return &LinkMap{tree: btree.Open(mem, store, partition, cachemodel.FlagData, root)}, nil
}

// writeFreshMetaRoot stamps a brand-new, never-written meta page with the
// tree's root id. It builds the full page in memory and writes it through
// the buffer pool's fast path rather than Pin, since Pin would otherwise
// try to read a page the underlying store has allocated an index for but
// never actually persisted yet.
func writeFreshMetaRoot(mem pagemem.Memory, store pagestore.Store, metaID cachemodel.PageID, root cachemodel.PageID) error {
	full := pagestore.NewPage(store.PageSize(), pagestore.PageTypeLinkMap, 1)
	binary.LittleEndian.PutUint64(pagestore.Body(full)[:8], uint64(root))
	wn, ok := mem.(interface {
		WritePageNow(id cachemodel.PageID, full []byte) error
	})
	if !ok {
		return fmt.Errorf("link map init: page memory does not support fresh page writes")
	}
	return wn.WritePageNow(metaID, full)
}

func readMetaRoot(mem pagemem.Memory, metaID cachemodel.PageID) (cachemodel.PageID, error) {
	body, err := mem.Pin(metaID)
	if err != nil {
		return 0, err
	}
	defer mem.Unpin(metaID, false)
	if len(body) < 8 {
		return 0, fmt.Errorf("link map meta page too small")
	}
	return cachemodel.PageID(binary.LittleEndian.Uint64(body[:8])), nil
}

// Put records oldLink→newLink, overwriting any prior mapping for oldLink —
// required because defragmentation may run twice after a crash.
func (m *LinkMap) Put(oldLink, newLink cachemodel.RowLink) error {
	var k, v [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(oldLink))
	binary.BigEndian.PutUint64(v[:], uint64(newLink))
	if err := m.tree.Insert(k[:], v[:]); err != nil {
		return fmt.Errorf("link map put(%d): %w", oldLink, err)
	}
	return nil
}

// Get returns the new link oldLink maps to, or ok=false if absent.
func (m *LinkMap) Get(oldLink cachemodel.RowLink) (cachemodel.RowLink, bool, error) {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(oldLink))
	v, ok, err := m.tree.Get(k[:])
	if err != nil || !ok {
		return 0, false, err
	}
	return cachemodel.RowLink(binary.BigEndian.Uint64(v)), true, nil
}

// Count returns the number of recorded mappings (used by tests asserting
// invariant 1's "LinkMap has N entries").
func (m *LinkMap) Count() (int, error) {
	return m.tree.Count()
}

// Each visits every (oldLink, newLink) pair in ascending oldLink order,
// used by the index rebuild to translate links it encounters.
func (m *LinkMap) Each(fn func(oldLink, newLink cachemodel.RowLink) bool) error {
	return m.tree.ScanRange(nil, nil, func(k, v []byte) bool {
		return fn(cachemodel.RowLink(binary.BigEndian.Uint64(k)), cachemodel.RowLink(binary.BigEndian.Uint64(v)))
	})
}
