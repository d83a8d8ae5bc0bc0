package defrag

import (
	"fmt"

	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/cachetree"
	"github.com/nodestore/defrag/internal/pagemem"
	"github.com/nodestore/defrag/internal/pagestore"
	"github.com/nodestore/defrag/internal/partmeta"
)

// OldPartitionSource is the read-only old partition a pipeline run copies
// from. The node-global page memory for the old partition is read-only to
// this engine; writes to it are forbidden.
type OldPartitionSource struct {
	Store         pagestore.Store
	Mem           pagemem.Memory
	Partition     uint32
	InlineCacheID bool // per-group flag, preserved round-trip
}

// openOldTrees loads the old partition's meta page and both trees rooted at
// the offsets it records.
func openOldTrees(src OldPartitionSource) (*cachemodel.PartitionMeta, *cachetree.CacheDataTree, *cachetree.PendingEntriesTree, error) {
	metaID := cachemodel.NewPageID(src.Partition, cachemodel.FlagData, partmeta.MetaPageIndex)
	meta, dataRoot, pendingRoot, err := partmeta.Read(src.Mem, metaID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open old partition %d: %w", src.Partition, err)
	}
	dataTree := cachetree.OpenCacheDataTree(src.Mem, src.Store, src.Partition, dataRoot)
	var pendingTree *cachetree.PendingEntriesTree
	if pendingRoot.Valid() {
		pendingTree = cachetree.OpenPendingEntriesTree(src.Mem, src.Store, src.Partition, pendingRoot)
	}
	return meta, dataTree, pendingTree, nil
}
