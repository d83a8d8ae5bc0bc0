package defrag

import (
	"fmt"
	"log"
	"os"

	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/cachetree"
	"github.com/nodestore/defrag/internal/checkpoint"
	"github.com/nodestore/defrag/internal/defragerr"
	"github.com/nodestore/defrag/internal/layout"
	"github.com/nodestore/defrag/internal/linkmap"
	"github.com/nodestore/defrag/internal/pagemem"
	"github.com/nodestore/defrag/internal/pagestore"
	"github.com/nodestore/defrag/internal/partmeta"
)

// PipelineParams bundles everything one partition's pipeline run needs:
// the old partition to read from, and the regions the new partition and
// its Link Map are built in.
type PipelineParams struct {
	Dir        *layout.GroupDir
	Partition  int
	Old        OldPartitionSource
	PartMem    pagemem.Memory // registered new-partition stores live here
	MappingMem pagemem.Memory // registered Link Map stores live here
	Checkpoint *checkpoint.Controller
	Worker     string
	Encrypted  bool
}

// PartitionResult is what a completed (or skipped) partition pipeline run
// hands back to the coordinator.
type PartitionResult struct {
	Partition int
	LinkMap   *linkmap.LinkMap
	Future    *checkpoint.Future
	Skipped   bool
}

// RunPartitionPipeline rewrites one partition: mapping store, skip check,
// new data store, row copy, meta copy, flush, rename.
func RunPartitionPipeline(p PipelineParams) (*PartitionResult, error) {
	partU := uint32(p.Partition)

	// Step 2 — skip check, evaluated first since it determines whether
	// step 1 reopens or (re)initializes the Link Map.
	alreadyDone := p.Dir.IsPartitionDefragmented(p.Partition)

	// Step 1 — mapping store.
	mapPath := p.Dir.LinkMapFile(p.Partition)
	if !alreadyDone {
		// Nothing has committed for this partition yet; any mapping file
		// left by a crashed attempt is safe to discard and rebuild — tmp
		// files are rebuilt, not resumed byte-for-byte, the same safety
		// property the partition data file has.
		if err := os.Remove(mapPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("partition %d: remove stale link map: %w", p.Partition, err)
		}
	}
	mapStore, err := pagestore.Open(pagestore.FileStoreConfig{
		Path: mapPath, Partition: partU, Flag: cachemodel.FlagData,
	})
	if err != nil {
		return nil, fmt.Errorf("partition %d: open link map store: %w", p.Partition, err)
	}
	if err := p.MappingMem.Register(partU, cachemodel.FlagData, mapStore); err != nil {
		return nil, fmt.Errorf("partition %d: register link map store: %w", p.Partition, err)
	}
	lm, err := linkmap.Open(p.MappingMem, mapStore, partU, !alreadyDone)
	if err != nil {
		return nil, fmt.Errorf("partition %d: open link map: %w", p.Partition, err)
	}

	if alreadyDone {
		log.Printf("partition %d already defragmented, skipping", p.Partition)
		return &PartitionResult{Partition: p.Partition, LinkMap: lm, Skipped: true}, nil
	}

	// Step 3 — data store.
	tmpPath := p.Dir.DefragTemp(p.Partition)
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("partition %d: remove stale temp partition: %w", p.Partition, err)
	}
	newStore, err := pagestore.Open(pagestore.FileStoreConfig{
		Path: tmpPath, Partition: partU, Flag: cachemodel.FlagData,
	})
	if err != nil {
		return nil, fmt.Errorf("partition %d: open new partition store: %w", p.Partition, err)
	}
	if err := p.PartMem.Register(partU, cachemodel.FlagData, newStore); err != nil {
		return nil, fmt.Errorf("partition %d: register new partition store: %w", p.Partition, err)
	}

	// Step 4 — new cache data store, initialized under the read-lock.
	p.Checkpoint.ReadLock(p.Worker)
	metaID, err := partmeta.ReserveMetaPage(newStore)
	if err != nil {
		p.Checkpoint.ReadUnlock(p.Worker)
		return nil, fmt.Errorf("partition %d: reserve meta page: %w", p.Partition, err)
	}
	newDataTree, err := cachetree.CreateCacheDataTree(p.PartMem, newStore, partU)
	if err != nil {
		p.Checkpoint.ReadUnlock(p.Worker)
		return nil, fmt.Errorf("partition %d: create new cache data tree: %w", p.Partition, err)
	}
	newPendingTree, err := cachetree.CreatePendingEntriesTree(p.PartMem, newStore, partU)
	if err != nil {
		p.Checkpoint.ReadUnlock(p.Worker)
		return nil, fmt.Errorf("partition %d: create new pending entries tree: %w", p.Partition, err)
	}
	if err := partmeta.WriteFresh(p.PartMem, newStore, metaID, &cachemodel.PartitionMeta{Version: cachemodel.MaxSupportedMetaVersion}, newDataTree.Root(), newPendingTree.Root()); err != nil {
		p.Checkpoint.ReadUnlock(p.Worker)
		return nil, fmt.Errorf("partition %d: write fresh meta: %w", p.Partition, err)
	}
	p.Checkpoint.ReadUnlock(p.Worker)

	// Step 5 — copy rows.
	oldMeta, oldDataTree, _, err := openOldTrees(p.Old)
	if err != nil {
		return nil, fmt.Errorf("partition %d: %w", p.Partition, err)
	}

	yielder := checkpoint.NewYielder(p.Checkpoint, p.Worker)
	yielder.Acquire()
	var copyErr error
	rows := 0
	walkErr := oldDataTree.EachYield(yielder, func(e cachetree.Entry) bool {
		row := e.Row.Clone()
		oldLink := e.OldLink
		row.Link = cachemodel.NoLink
		savedCacheID := row.CacheID
		if !p.Old.InlineCacheID {
			row.CacheID = cachemodel.UndefinedCacheID
		}
		if err := newDataTree.Put(row); err != nil {
			copyErr = fmt.Errorf("partition %d: copy row: %w", p.Partition, err)
			return false
		}
		row.CacheID = savedCacheID
		if err := lm.Put(oldLink, row.Link); err != nil {
			copyErr = fmt.Errorf("partition %d: record link map entry: %w", p.Partition, err)
			return false
		}
		if row.HasTTL() {
			if err := newPendingTree.Insert(row.CacheID, row.ExpireTime, row.Link); err != nil {
				copyErr = fmt.Errorf("partition %d: insert pending entry: %w", p.Partition, err)
				return false
			}
		}
		rows++
		return true
	})
	yielder.Release()
	if walkErr != nil {
		return nil, fmt.Errorf("partition %d: iterate old tree: %w", p.Partition, walkErr)
	}
	if copyErr != nil {
		return nil, copyErr
	}

	p.Checkpoint.ReadLock(p.Worker)
	newMeta, err := copyPartitionMeta(p.Old.Mem, p.Old.Store, p.PartMem, newStore, p.Partition, oldMeta, p.Encrypted)
	if err != nil {
		p.Checkpoint.ReadUnlock(p.Worker)
		return nil, err
	}
	if err := partmeta.UpdateRoots(p.PartMem, metaID, newMeta, newDataTree.Root(), newPendingTree.Root()); err != nil {
		p.Checkpoint.ReadUnlock(p.Worker)
		return nil, fmt.Errorf("partition %d: persist final meta: %w", p.Partition, err)
	}
	p.Checkpoint.ReadUnlock(p.Worker)

	// Step 6 — flush and commit. Partitions within a group run
	// sequentially, so the commit is performed synchronously on this call:
	// the rename happens before RunPartitionPipeline returns, which in
	// turn happens before the coordinator adds this partition's (already
	// resolved) future to the group's compound future. No listener can
	// observe the compound future succeed before the rename has occurred.
	future := p.Checkpoint.ForceCheckpoint("partition defragmented")
	if err := future.Wait(); err != nil {
		return nil, fmt.Errorf("partition %d: %w", p.Partition, &defragerr.CheckpointFailed{Reason: "partition defragmented", Err: err})
	}
	if err := commitPartitionFiles(p, newStore, rows); err != nil {
		return nil, fmt.Errorf("partition %d: commit: %w", p.Partition, err)
	}

	return &PartitionResult{Partition: p.Partition, LinkMap: lm, Future: future}, nil
}

// commitPartitionFiles performs the actual step-6 commit: invalidate,
// deregister, close, rename. It makes no sync call of its own; the
// checkpoint flush that precedes it has already synced the new store.
func commitPartitionFiles(p PipelineParams, newStore pagestore.Store, rows int) error {
	partU := uint32(p.Partition)
	oldPages := p.Old.Store.PageCount()
	newPages := newStore.PageCount()
	log.Printf("partition %d defragmented: oldPages=%d newPages=%d rows=%d", p.Partition, oldPages, newPages, rows)

	p.Old.Mem.Invalidate(partU, cachemodel.FlagData)
	p.PartMem.Invalidate(partU, cachemodel.FlagData)
	p.PartMem.Deregister(partU, cachemodel.FlagData)
	if err := newStore.Close(); err != nil {
		return fmt.Errorf("close new partition store: %w", err)
	}
	if err := p.Dir.CommitPartitionRename(p.Partition); err != nil {
		return err
	}
	return nil
}
