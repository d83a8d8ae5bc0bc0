package cachemodel

import (
	"bytes"
	"testing"
)

func TestDataRow_MarshalRoundTrip(t *testing.T) {
	r := &DataRow{
		CacheID:    7,
		Key:        []byte("widget/123"),
		Value:      []byte("some cached payload"),
		Version:    42,
		ExpireTime: 1700000000,
		Link:       RowLink(9999),
	}
	buf := MarshalDataRow(r, nil)
	got, err := UnmarshalDataRow(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.CacheID != r.CacheID || got.Version != r.Version || got.ExpireTime != r.ExpireTime || got.Link != r.Link {
		t.Fatalf("scalar mismatch: got %+v want %+v", got, r)
	}
	if !bytes.Equal(got.Key, r.Key) || !bytes.Equal(got.Value, r.Value) {
		t.Fatalf("key/value mismatch: got %+v want %+v", got, r)
	}
}

func TestDataRow_MarshalReusesBuffer(t *testing.T) {
	r := &DataRow{CacheID: 1, Key: []byte("k"), Value: []byte("v")}
	buf := make([]byte, 0, 256)
	out := MarshalDataRow(r, buf)
	if cap(out) != cap(buf) {
		t.Fatalf("expected MarshalDataRow to reuse the supplied buffer's capacity, got cap %d want %d", cap(out), cap(buf))
	}
}

func TestUnmarshalDataRow_Truncated(t *testing.T) {
	if _, err := UnmarshalDataRow([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for too-short input")
	}
}

func TestCounters_MarshalRoundTrip(t *testing.T) {
	in := map[int32]int64{1: 100, -1: 200, 42: 0}
	buf := MarshalCounters(in)
	out, err := UnmarshalCounters(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d want %d", len(out), len(in))
	}
	for k, v := range in {
		if out[k] != v {
			t.Errorf("counters[%d] = %d, want %d", k, out[k], v)
		}
	}
}

func TestPartitionMeta_MarshalRoundTrip(t *testing.T) {
	m := &PartitionMeta{
		Version:            2,
		PartitionState:     3,
		Size:               1024,
		UpdateCounter:      55,
		GlobalRemoveID:     -1,
		CountersPageID:     NewPageID(1, FlagData, 5),
		GapsLink:           RowLink(77),
		EncryptedPageCount: 0,
		EncryptedPageIndex: 0,
	}
	buf := MarshalPartitionMeta(m)
	got, err := UnmarshalPartitionMeta(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if *got != *m {
		t.Fatalf("roundtrip mismatch: got %+v want %+v", got, m)
	}
}

func TestPartitionMeta_ValidateVersion(t *testing.T) {
	cases := []struct {
		version int
		wantErr bool
	}{
		{MinSupportedMetaVersion, false},
		{MaxSupportedMetaVersion, false},
		{MinSupportedMetaVersion - 1, true},
		{MaxSupportedMetaVersion + 1, true},
	}
	for _, c := range cases {
		m := &PartitionMeta{Version: c.version}
		err := m.ValidateVersion()
		if (err != nil) != c.wantErr {
			t.Errorf("version %d: err=%v, wantErr=%v", c.version, err, c.wantErr)
		}
	}
}

func TestPartitionMeta_HasCountersAndGaps(t *testing.T) {
	m := &PartitionMeta{}
	if m.HasCounters() || m.HasGaps() {
		t.Fatal("zero-value meta should have neither counters nor gaps")
	}
	m.CountersPageID = NewPageID(0, FlagData, 1)
	m.GapsLink = RowLink(1)
	if !m.HasCounters() || !m.HasGaps() {
		t.Fatal("expected both counters and gaps to be present")
	}
}

func TestPageID_PackUnpack(t *testing.T) {
	id := NewPageID(123, FlagIndex, 456)
	if id.Partition() != 123 {
		t.Errorf("partition = %d, want 123", id.Partition())
	}
	if id.Flag() != FlagIndex {
		t.Errorf("flag = %v, want FlagIndex", id.Flag())
	}
	if id.Index() != 456 {
		t.Errorf("index = %d, want 456", id.Index())
	}
}

func TestPageID_Valid(t *testing.T) {
	if !PageID(0).Valid() {
		t.Error("PageID(0) must be valid; absence is signaled by InvalidPageID, not the zero value")
	}
	if InvalidPageID.Valid() {
		t.Error("InvalidPageID must not be valid")
	}
}

func TestDataRow_Clone(t *testing.T) {
	r := &DataRow{Key: []byte("k"), Value: []byte("v")}
	c := r.Clone()
	c.Key[0] = 'x'
	if r.Key[0] == 'x' {
		t.Fatal("Clone must deep-copy Key")
	}
}

func TestDataRow_HasTTL(t *testing.T) {
	r := &DataRow{}
	if r.HasTTL() {
		t.Fatal("zero ExpireTime must not have a TTL")
	}
	r.ExpireTime = 1
	if !r.HasTTL() {
		t.Fatal("non-zero ExpireTime must have a TTL")
	}
}
