package cachemodel

import (
	"encoding/binary"
	"fmt"
)

// Compact binary codec for DataRow, a tagged little-endian format. Rows
// are written into B+-tree leaf values and must round-trip exactly: a
// defragmented row must reproduce every field of its source byte for byte.
//
// Wire format:
//   [0:4]  CacheID   (int32 LE)
//   [4:12] Version   (int64 LE)
//   [12:20] ExpireTime (int64 LE)
//   [20:28] Link     (uint64 LE)
//   [28:30] KeyLen   (uint16 LE)
//   [30:30+KeyLen]   Key
//   [.. :..+2] ValueLen (uint16 LE)
//   [.. ]      Value

const rowHeaderSize = 4 + 8 + 8 + 8 + 2

// MarshalDataRow encodes r into the compact binary row format, reusing buf
// when it has enough capacity.
func MarshalDataRow(r *DataRow, buf []byte) []byte {
	est := rowHeaderSize + len(r.Key) + 2 + len(r.Value)
	if cap(buf) >= est {
		buf = buf[:0]
	} else {
		buf = make([]byte, 0, est)
	}

	var hdr [rowHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(r.CacheID))
	binary.LittleEndian.PutUint64(hdr[4:12], uint64(r.Version))
	binary.LittleEndian.PutUint64(hdr[12:20], uint64(r.ExpireTime))
	binary.LittleEndian.PutUint64(hdr[20:28], uint64(r.Link))
	binary.LittleEndian.PutUint16(hdr[28:30], uint16(len(r.Key)))
	buf = append(buf, hdr[:]...)
	buf = append(buf, r.Key...)

	var vlen [2]byte
	binary.LittleEndian.PutUint16(vlen[:], uint16(len(r.Value)))
	buf = append(buf, vlen[:]...)
	buf = append(buf, r.Value...)
	return buf
}

// UnmarshalDataRow decodes a DataRow previously written by MarshalDataRow.
func UnmarshalDataRow(data []byte) (*DataRow, error) {
	if len(data) < rowHeaderSize {
		return nil, fmt.Errorf("data row too short: %d bytes", len(data))
	}
	r := &DataRow{
		CacheID:    int32(binary.LittleEndian.Uint32(data[0:4])),
		Version:    int64(binary.LittleEndian.Uint64(data[4:12])),
		ExpireTime: int64(binary.LittleEndian.Uint64(data[12:20])),
		Link:       RowLink(binary.LittleEndian.Uint64(data[20:28])),
	}
	klen := int(binary.LittleEndian.Uint16(data[28:30]))
	off := rowHeaderSize
	if off+klen+2 > len(data) {
		return nil, fmt.Errorf("data row truncated at key (need %d, have %d)", off+klen+2, len(data))
	}
	r.Key = append([]byte(nil), data[off:off+klen]...)
	off += klen

	vlen := int(binary.LittleEndian.Uint16(data[off : off+2]))
	off += 2
	if off+vlen > len(data) {
		return nil, fmt.Errorf("data row truncated at value (need %d, have %d)", off+vlen, len(data))
	}
	r.Value = append([]byte(nil), data[off:off+vlen]...)
	return r, nil
}

// MarshalCounters encodes a cacheId→size map for the shared-group counters
// chain of a partition meta page.
func MarshalCounters(counters map[int32]int64) []byte {
	buf := make([]byte, 0, 4+len(counters)*12)
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(counters)))
	buf = append(buf, n[:]...)
	for id, size := range counters {
		var entry [12]byte
		binary.LittleEndian.PutUint32(entry[0:4], uint32(id))
		binary.LittleEndian.PutUint64(entry[4:12], uint64(size))
		buf = append(buf, entry[:]...)
	}
	return buf
}

// UnmarshalCounters decodes a counters chain written by MarshalCounters.
func UnmarshalCounters(data []byte) (map[int32]int64, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("counters blob too short")
	}
	n := int(binary.LittleEndian.Uint32(data[0:4]))
	off := 4
	out := make(map[int32]int64, n)
	for i := 0; i < n; i++ {
		if off+12 > len(data) {
			return nil, fmt.Errorf("counters blob truncated at entry %d", i)
		}
		id := int32(binary.LittleEndian.Uint32(data[off : off+4]))
		size := int64(binary.LittleEndian.Uint64(data[off+4 : off+12]))
		out[id] = size
		off += 12
	}
	return out, nil
}
