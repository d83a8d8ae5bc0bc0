// Package pagestore defines the page-store interface and ships one default
// file-backed implementation so the module is runnable standalone. Pages
// carry a fixed header with a CRC32-Castagnoli integrity check and are
// addressed by the (partition, flag, index) packing of cachemodel.PageID.
package pagestore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// DefaultPageSize is the page size used unless a store is configured
// otherwise.
const DefaultPageSize = 4096

// pageHeaderSize is the fixed prefix every page carries before its body:
// type tag, version, reserved, CRC32.
const pageHeaderSize = 16

// PageType tags the body format a page carries, scoped to what the defrag
// engine itself writes.
type PageType uint8

const (
	PageTypeFree      PageType = 0
	PageTypeMeta      PageType = 1
	PageTypeLinkMap   PageType = 2
	PageTypeBTreeInt  PageType = 3
	PageTypeBTreeLeaf PageType = 4
	PageTypeOverflow  PageType = 5
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// NewPage allocates a zeroed page buffer of size sz with the header
// pre-stamped for the given type.
func NewPage(sz int, typ PageType, version uint8) []byte {
	buf := make([]byte, sz)
	buf[0] = byte(typ)
	buf[1] = version
	return buf
}

// SetPageCRC computes the CRC32 of the header fields that precede the CRC
// (bytes 0-11) and the page body, and stores it in the header's CRC field.
func SetPageCRC(page []byte) {
	c := computePageCRC(page)
	binary.LittleEndian.PutUint32(page[12:16], c)
}

// VerifyPageCRC reports whether the stored CRC matches the page's header
// fields and body.
func VerifyPageCRC(page []byte) error {
	if len(page) < pageHeaderSize {
		return fmt.Errorf("page too short: %d bytes", len(page))
	}
	stored := binary.LittleEndian.Uint32(page[12:16])
	if got := computePageCRC(page); got != stored {
		return fmt.Errorf("page CRC mismatch: stored %08x computed %08x", stored, got)
	}
	return nil
}

func computePageCRC(page []byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(page[:12])
	h.Write(page[pageHeaderSize:])
	return h.Sum32()
}

// PageTypeOf returns the type tag stamped in a page's header.
func PageTypeOf(page []byte) PageType {
	if len(page) == 0 {
		return PageTypeFree
	}
	return PageType(page[0])
}

// Body returns the mutable portion of the page following the fixed header.
func Body(page []byte) []byte {
	return page[pageHeaderSize:]
}

// HeaderSize is exported so callers sizing page bodies know how many bytes
// of a full page are available after the header.
const HeaderSize = pageHeaderSize
