package indexhook

import (
	"path/filepath"
	"testing"

	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/linkmap"
	"github.com/nodestore/defrag/internal/pagemem"
	"github.com/nodestore/defrag/internal/pagestore"
)

func newLinkMap(t *testing.T, partition uint32) *linkmap.LinkMap {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapping.bin")
	store, err := pagestore.Open(pagestore.FileStoreConfig{Path: path, Partition: partition, Flag: cachemodel.FlagData})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	mem := pagemem.New()
	if err := mem.Register(partition, cachemodel.FlagData, store); err != nil {
		t.Fatalf("register: %v", err)
	}
	lm, err := linkmap.Open(mem, store, partition, true)
	if err != nil {
		t.Fatalf("open link map: %v", err)
	}
	return lm
}

func TestTranslate_UsesRecordedMapping(t *testing.T) {
	lm := newLinkMap(t, 0)
	if err := lm.Put(cachemodel.RowLink(1), cachemodel.RowLink(1000)); err != nil {
		t.Fatalf("put: %v", err)
	}
	req := DefragmentRequest{LinkMapByPart: map[int]*linkmap.LinkMap{0: lm}}
	got, err := Translate(req, 0, cachemodel.RowLink(1))
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got != 1000 {
		t.Fatalf("got %d, want 1000", got)
	}
}

func TestTranslate_UnknownPartitionFails(t *testing.T) {
	req := DefragmentRequest{LinkMapByPart: map[int]*linkmap.LinkMap{}}
	if _, err := Translate(req, 5, cachemodel.RowLink(1)); err == nil {
		t.Fatal("expected error for a partition with no registered link map")
	}
}

func TestTranslate_UnmappedLinkFails(t *testing.T) {
	lm := newLinkMap(t, 0)
	req := DefragmentRequest{LinkMapByPart: map[int]*linkmap.LinkMap{0: lm}}
	if _, err := Translate(req, 0, cachemodel.RowLink(999)); err == nil {
		t.Fatal("expected error translating a link with no recorded mapping")
	}
}

func TestDefaultIndexing_DefragmentRelinksEntries(t *testing.T) {
	lm := newLinkMap(t, 0)
	if err := lm.Put(cachemodel.RowLink(1), cachemodel.RowLink(100)); err != nil {
		t.Fatalf("put: %v", err)
	}
	d := &DefaultIndexing{Enabled: true, Entries: []IndexEntry{
		{Key: []byte("k"), Partition: 0, Link: cachemodel.RowLink(1)},
	}}
	req := DefragmentRequest{LinkMapByPart: map[int]*linkmap.LinkMap{0: lm}, Worker: "w"}
	if err := d.Defragment(req); err != nil {
		t.Fatalf("defragment: %v", err)
	}
	if len(d.Entries) != 1 || d.Entries[0].Link != 100 {
		t.Fatalf("entries after defragment = %+v, want link 100", d.Entries)
	}
}

func TestDefaultIndexing_DisabledSkipsWork(t *testing.T) {
	d := &DefaultIndexing{Enabled: false}
	if d.ModuleEnabled() {
		t.Fatal("disabled indexing should report ModuleEnabled() == false")
	}
	if err := d.Defragment(DefragmentRequest{}); err != nil {
		t.Fatalf("disabled defragment should be a no-op, got %v", err)
	}
}
