// Package cachemodel defines the wire-level data model shared by the page
// store, page memory, and B+-tree layers: page ids, row links, the data row
// shape, and the versioned partition meta page.
//
// Page ids pack (partition, flag, index) into 64 bits; meta pages carry an
// explicit version field in a fixed header.
package cachemodel

import "fmt"

// PageFlag distinguishes the two page classes addressed within a partition.
type PageFlag uint8

const (
	FlagData  PageFlag = 0
	FlagIndex PageFlag = 1
)

func (f PageFlag) String() string {
	switch f {
	case FlagData:
		return "DATA"
	case FlagIndex:
		return "IDX"
	default:
		return fmt.Sprintf("PageFlag(%d)", uint8(f))
	}
}

// PageID packs (partition, flag, index) into a single 64-bit page address:
// bits [63:32] partition, bit [31] flag, bits [30:0] index.
type PageID uint64

// InvalidPageID marks the absence of a page reference (e.g. an unset
// CountersPageID or a not-yet-allocated meta page).
const InvalidPageID PageID = 1<<64 - 1

const (
	partitionShift = 32
	flagShift      = 31
	indexMask      = (uint64(1) << flagShift) - 1
)

// NewPageID packs the three components into one PageID.
func NewPageID(partition uint32, flag PageFlag, index uint32) PageID {
	var f uint64
	if flag == FlagIndex {
		f = 1
	}
	return PageID(uint64(partition)<<partitionShift | f<<flagShift | uint64(index)&indexMask)
}

func (id PageID) Partition() uint32 {
	return uint32(uint64(id) >> partitionShift)
}

func (id PageID) Flag() PageFlag {
	if (uint64(id)>>flagShift)&1 == 1 {
		return FlagIndex
	}
	return FlagData
}

func (id PageID) Index() uint32 {
	return uint32(uint64(id) & indexMask)
}

func (id PageID) Valid() bool {
	return id != InvalidPageID
}

func (id PageID) String() string {
	return fmt.Sprintf("page(part=%d,flag=%s,idx=%d)", id.Partition(), id.Flag(), id.Index())
}

// RowLink is an opaque 64-bit locator of a row's bytes inside a data page of
// some partition. Links are never portable across a partition rewrite.
type RowLink uint64

// NoLink is the sentinel meaning "not yet allocated" — rows carry this
// before the free list assigns them real storage.
const NoLink RowLink = 0

// IndexPartition is the well-known partition number the index store occupies
// inside a cache group's part-region page memory.
const IndexPartition uint32 = 0xFFFFFFFF

// UndefinedCacheID is the sentinel cacheId written when a cache group does
// not inline cacheId per page. Preserved round-trip per group.
const UndefinedCacheID int32 = -1
