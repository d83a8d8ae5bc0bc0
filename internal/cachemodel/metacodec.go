package cachemodel

import (
	"encoding/binary"
	"fmt"
)

const metaEncodedSize = 4 + 4 + 8 + 8 + 8 + 8 + 8 + 4 + 4

// MarshalPartitionMeta encodes m into the fixed-width layout the Partition
// Meta Page carries on disk, the same little-endian tagged style as
// MarshalDataRow.
func MarshalPartitionMeta(m *PartitionMeta) []byte {
	buf := make([]byte, metaEncodedSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.Version))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(m.PartitionState))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.Size))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(m.UpdateCounter))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(m.GlobalRemoveID))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(m.CountersPageID))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(m.GapsLink))
	binary.LittleEndian.PutUint32(buf[48:52], uint32(m.EncryptedPageCount))
	binary.LittleEndian.PutUint32(buf[52:56], uint32(m.EncryptedPageIndex))
	return buf
}

// UnmarshalPartitionMeta decodes a blob previously written by
// MarshalPartitionMeta.
func UnmarshalPartitionMeta(data []byte) (*PartitionMeta, error) {
	if len(data) < metaEncodedSize {
		return nil, fmt.Errorf("partition meta too short: %d bytes", len(data))
	}
	return &PartitionMeta{
		Version:            int(binary.LittleEndian.Uint32(data[0:4])),
		PartitionState:     int32(binary.LittleEndian.Uint32(data[4:8])),
		Size:               int64(binary.LittleEndian.Uint64(data[8:16])),
		UpdateCounter:      int64(binary.LittleEndian.Uint64(data[16:24])),
		GlobalRemoveID:     int64(binary.LittleEndian.Uint64(data[24:32])),
		CountersPageID:     PageID(binary.LittleEndian.Uint64(data[32:40])),
		GapsLink:           RowLink(binary.LittleEndian.Uint64(data[40:48])),
		EncryptedPageCount: int32(binary.LittleEndian.Uint32(data[48:52])),
		EncryptedPageIndex: int32(binary.LittleEndian.Uint32(data[52:56])),
	}, nil
}
