// Package partmeta anchors a partition's meta page plus the current roots
// of its two B+-trees at a well-known page index, the same pattern
// internal/linkmap.Open uses for the Link Map's own root — a dedicated
// index-0 page reserved before any tree page is allocated, rather than
// overloading a tree's own root page.
package partmeta

import (
	"fmt"

	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/pagemem"
	"github.com/nodestore/defrag/internal/pagestore"
)

// MetaPageIndex is the well-known page index reserved for a partition's
// meta page, mirroring linkmap.MetaPageIndex.
const MetaPageIndex uint32 = 0

// ReserveMetaPage allocates the dedicated meta page as the first allocation
// against a fresh store, asserting it lands at MetaPageIndex.
func ReserveMetaPage(store pagestore.Store) (cachemodel.PageID, error) {
	id, err := store.AllocatePage(cachemodel.FlagData)
	if err != nil {
		return 0, fmt.Errorf("partmeta: allocate meta page: %w", err)
	}
	if id.Index() != MetaPageIndex {
		return 0, fmt.Errorf("partmeta: expected meta page at index %d, got %d (store not fresh)", MetaPageIndex, id.Index())
	}
	return id, nil
}

// WriteFresh stamps a never-before-written meta page with meta and the
// current tree roots, via the buffer pool's fast write path (Pin would try
// to read-through a page the store has only reserved an index for).
func WriteFresh(mem pagemem.Memory, store pagestore.Store, metaID cachemodel.PageID, meta *cachemodel.PartitionMeta, dataRoot, pendingRoot cachemodel.PageID) error {
	full := pagestore.NewPage(store.PageSize(), pagestore.PageTypeMeta, 1)
	body := pagestore.Body(full)
	encoded := cachemodel.MarshalPartitionMeta(meta)
	copy(body, encoded)
	putPageID(body[len(encoded):], dataRoot)
	putPageID(body[len(encoded)+8:], pendingRoot)

	wn, ok := mem.(interface {
		WritePageNow(id cachemodel.PageID, full []byte) error
	})
	if !ok {
		return fmt.Errorf("partmeta: page memory does not support fresh page writes")
	}
	return wn.WritePageNow(metaID, full)
}

// UpdateRoots rewrites the meta and tree-root fields of an already-written
// meta page, used after the row copy once the new trees' final roots are
// known (root pages move as leaves split during insertion).
func UpdateRoots(mem pagemem.Memory, metaID cachemodel.PageID, meta *cachemodel.PartitionMeta, dataRoot, pendingRoot cachemodel.PageID) error {
	full, err := mem.Pin(metaID)
	if err != nil {
		return fmt.Errorf("partmeta: pin for update: %w", err)
	}
	// full here is already the post-header body (Memory.Pin returns Body());
	// reuse its length to avoid re-deriving the page size.
	body := full
	encoded := cachemodel.MarshalPartitionMeta(meta)
	copy(body, encoded)
	putPageID(body[len(encoded):], dataRoot)
	putPageID(body[len(encoded)+8:], pendingRoot)
	return mem.Unpin(metaID, true)
}

// Read loads the meta and current tree roots from an already-persisted meta
// page, used when reopening after a crash.
func Read(mem pagemem.Memory, metaID cachemodel.PageID) (*cachemodel.PartitionMeta, cachemodel.PageID, cachemodel.PageID, error) {
	body, err := mem.Pin(metaID)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("partmeta: pin: %w", err)
	}
	defer mem.Unpin(metaID, false)

	meta, err := cachemodel.UnmarshalPartitionMeta(body)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("partmeta: unmarshal: %w", err)
	}
	const encodedSize = 56
	dataRoot := getPageID(body[encodedSize:])
	pendingRoot := getPageID(body[encodedSize+8:])
	return meta, dataRoot, pendingRoot, nil
}

func putPageID(b []byte, id cachemodel.PageID) {
	v := uint64(id)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getPageID(b []byte) cachemodel.PageID {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return cachemodel.PageID(v)
}
