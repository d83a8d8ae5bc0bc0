package cachemodel

import "fmt"

// MinSupportedMetaVersion and MaxSupportedMetaVersion bound the partition
// meta page versions this engine knows how to copy.
const (
	MinSupportedMetaVersion = 1
	MaxSupportedMetaVersion = 3
)

// PartitionMeta holds the logical fields of a partition meta page. It is
// deliberately a plain struct: the on-disk layout is owned by the page
// store, and the copy step only needs the logical values.
type PartitionMeta struct {
	Version            int
	PartitionState     int32
	Size               int64
	UpdateCounter      int64
	GlobalRemoveID     int64
	CountersPageID     PageID
	GapsLink           RowLink
	EncryptedPageCount int32
	EncryptedPageIndex int32
}

// ValidateVersion checks that the meta version is one the engine supports.
func (m *PartitionMeta) ValidateVersion() error {
	if m.Version < MinSupportedMetaVersion || m.Version > MaxSupportedMetaVersion {
		return fmt.Errorf("partition meta version %d outside supported range [%d,%d]",
			m.Version, MinSupportedMetaVersion, MaxSupportedMetaVersion)
	}
	return nil
}

// HasCounters reports whether the shared cache-group per-cache sizes map
// needs to be copied.
func (m *PartitionMeta) HasCounters() bool {
	return m.CountersPageID.Valid() && m.CountersPageID != 0
}

// HasGaps reports whether the update-counter gaps blob needs to be copied
// into the new partition store.
func (m *PartitionMeta) HasGaps() bool {
	return m.GapsLink != NoLink
}
