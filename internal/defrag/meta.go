package defrag

import (
	"fmt"

	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/defragerr"
	"github.com/nodestore/defrag/internal/pagemem"
	"github.com/nodestore/defrag/internal/pagestore"
	"github.com/nodestore/defrag/internal/rowstore"
)

// copyPartitionMeta validates the old meta version, copies the scalar
// fields, and re-homes the optional counters/gaps side-channels into the
// new partition store. Encrypted groups with non-zero encrypted-page
// bookkeeping fail fast rather than silently losing that state.
func copyPartitionMeta(oldMem pagemem.Memory, oldStore pagestore.Store, newMem pagemem.Memory, newStore pagestore.Store, partition int, old *cachemodel.PartitionMeta, encryptedGroup bool) (*cachemodel.PartitionMeta, error) {
	if err := old.ValidateVersion(); err != nil {
		return nil, &defragerr.UnsupportedMetaVersion{Partition: partition, Version: old.Version}
	}

	out := &cachemodel.PartitionMeta{
		Version:        old.Version,
		PartitionState: old.PartitionState,
		Size:           old.Size,
		UpdateCounter:  old.UpdateCounter,
		GlobalRemoveID: old.GlobalRemoveID,
	}

	if encryptedGroup && (old.EncryptedPageCount != 0 || old.EncryptedPageIndex != 0) {
		return nil, &defragerr.EncryptedCountersUnsupported{Partition: partition}
	}
	out.EncryptedPageCount = 0
	out.EncryptedPageIndex = 0

	if old.HasCounters() {
		counters, err := readCounters(oldMem, old.CountersPageID)
		if err != nil {
			return nil, fmt.Errorf("copy partition %d meta: read counters: %w", partition, err)
		}
		newID, err := writeCounters(newStore, counters)
		if err != nil {
			return nil, fmt.Errorf("copy partition %d meta: write counters: %w", partition, err)
		}
		out.CountersPageID = newID
	}

	if old.HasGaps() {
		rows := rowstore.Open(oldStore)
		blob, err := rows.Get(old.GapsLink)
		if err != nil {
			return nil, fmt.Errorf("copy partition %d meta: read gaps: %w", partition, err)
		}
		newRows := rowstore.Open(newStore)
		newLink, err := newRows.Insert(blob)
		if err != nil {
			return nil, fmt.Errorf("copy partition %d meta: write gaps: %w", partition, err)
		}
		out.GapsLink = newLink
	}

	return out, nil
}

func readCounters(mem pagemem.Memory, id cachemodel.PageID) (map[int32]int64, error) {
	body, err := mem.Pin(id)
	if err != nil {
		return nil, err
	}
	defer mem.Unpin(id, false)
	return cachemodel.UnmarshalCounters(body)
}

func writeCounters(store pagestore.Store, counters map[int32]int64) (cachemodel.PageID, error) {
	id, err := store.AllocatePage(cachemodel.FlagData)
	if err != nil {
		return 0, err
	}
	full := pagestore.NewPage(store.PageSize(), pagestore.PageTypeOverflow, 1)
	encoded := cachemodel.MarshalCounters(counters)
	if len(encoded) > len(pagestore.Body(full)) {
		return 0, fmt.Errorf("counters chain of %d bytes exceeds one page; chaining not implemented", len(encoded))
	}
	copy(pagestore.Body(full), encoded)
	if err := store.WritePage(id, full); err != nil {
		return 0, err
	}
	return id, nil
}
