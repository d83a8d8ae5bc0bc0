package rowstore

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/pagestore"
)

func newTestStore(t *testing.T) *pagestore.FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rows.bin")
	fs, err := pagestore.Open(pagestore.FileStoreConfig{Path: path, Partition: 0, Flag: cachemodel.FlagData})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { fs.Close() })
	return fs
}

func TestRowstore_InsertGetRoundTrip(t *testing.T) {
	s := Open(newTestStore(t))
	link, err := s.Insert([]byte("a small row"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.Get(link)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte("a small row")) {
		t.Fatalf("got %q, want %q", got, "a small row")
	}
}

func TestRowstore_TrimsZeroPadding(t *testing.T) {
	s := Open(newTestStore(t))
	link, err := s.Insert([]byte("x"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.Get(link)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exact 1-byte row back, got %d bytes", len(got))
	}
}

func TestRowstore_DistinctLinksPerRow(t *testing.T) {
	s := Open(newTestStore(t))
	l1, err := s.Insert([]byte("first"))
	if err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	l2, err := s.Insert([]byte("second"))
	if err != nil {
		t.Fatalf("insert 2: %v", err)
	}
	if l1 == l2 {
		t.Fatal("expected distinct links for distinct rows")
	}
	v1, _ := s.Get(l1)
	v2, _ := s.Get(l2)
	if bytes.Equal(v1, v2) {
		t.Fatal("expected distinct row contents")
	}
}

func TestRowstore_RowExceedsPageCapacity(t *testing.T) {
	store := newTestStore(t)
	s := Open(store)
	big := make([]byte, store.PageSize())
	if _, err := s.Insert(big); err == nil {
		t.Fatal("expected error inserting a row that exceeds one page's capacity")
	}
}

func TestRowstore_FreeReleasesPage(t *testing.T) {
	s := Open(newTestStore(t))
	link, err := s.Insert([]byte("to be freed"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Free(link); err != nil {
		t.Fatalf("free: %v", err)
	}
}
