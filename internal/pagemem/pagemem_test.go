package pagemem

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/pagestore"
)

func openStore(t *testing.T, partition uint32) *pagestore.FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.bin")
	fs, err := pagestore.Open(pagestore.FileStoreConfig{Path: path, Partition: partition, Flag: cachemodel.FlagData})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { fs.Close() })
	return fs
}

func TestBufferPool_PinReadsThroughToStore(t *testing.T) {
	fs := openStore(t, 1)
	id, err := fs.AllocatePage(cachemodel.FlagData)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	full := pagestore.NewPage(fs.PageSize(), pagestore.PageTypeOverflow, 1)
	copy(pagestore.Body(full), []byte("through the store"))
	if err := fs.WritePage(id, full); err != nil {
		t.Fatalf("write: %v", err)
	}

	bp := New()
	if err := bp.Register(1, cachemodel.FlagData, fs); err != nil {
		t.Fatalf("register: %v", err)
	}
	body, err := bp.Pin(id)
	if err != nil {
		t.Fatalf("pin: %v", err)
	}
	if !bytes.HasPrefix(body, []byte("through the store")) {
		t.Fatalf("body mismatch: %q", body)
	}
	if err := bp.Unpin(id, false); err != nil {
		t.Fatalf("unpin: %v", err)
	}
}

func TestBufferPool_PinReturnsLiveSlice(t *testing.T) {
	fs := openStore(t, 1)
	id, err := fs.AllocatePage(cachemodel.FlagData)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	bp := New()
	if err := bp.Register(1, cachemodel.FlagData, fs); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := bp.WritePageNow(id, pagestore.NewPage(fs.PageSize(), pagestore.PageTypeOverflow, 1)); err != nil {
		t.Fatalf("write now: %v", err)
	}

	body, err := bp.Pin(id)
	if err != nil {
		t.Fatalf("pin: %v", err)
	}
	copy(body, []byte("mutated in place"))
	if err := bp.Unpin(id, true); err != nil {
		t.Fatalf("unpin: %v", err)
	}

	body2, err := bp.Pin(id)
	if err != nil {
		t.Fatalf("re-pin: %v", err)
	}
	if !bytes.HasPrefix(body2, []byte("mutated in place")) {
		t.Fatalf("in-place mutation did not survive re-pin: %q", body2)
	}
	bp.Unpin(id, false)
}

func TestBufferPool_UnpinWithoutPinFails(t *testing.T) {
	bp := New()
	id := cachemodel.NewPageID(0, cachemodel.FlagData, 0)
	if err := bp.Unpin(id, false); err == nil {
		t.Fatal("expected error unpinning a page that was never pinned")
	}
}

func TestBufferPool_FlushWritesDirtyPagesAndSyncs(t *testing.T) {
	fs := openStore(t, 3)
	id, err := fs.AllocatePage(cachemodel.FlagData)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	bp := New()
	if err := bp.Register(3, cachemodel.FlagData, fs); err != nil {
		t.Fatalf("register: %v", err)
	}
	full := pagestore.NewPage(fs.PageSize(), pagestore.PageTypeOverflow, 1)
	copy(pagestore.Body(full), []byte("flush me"))
	if err := bp.WritePageNow(id, full); err != nil {
		t.Fatalf("write now: %v", err)
	}
	if err := bp.Flush(3, cachemodel.FlagData); err != nil {
		t.Fatalf("flush: %v", err)
	}

	raw, err := fs.ReadPage(id)
	if err != nil {
		t.Fatalf("read after flush: %v", err)
	}
	if !bytes.HasPrefix(pagestore.Body(raw), []byte("flush me")) {
		t.Fatalf("flush did not persist page: %q", pagestore.Body(raw))
	}
}

func TestBufferPool_InvalidateDropsCachedPages(t *testing.T) {
	fs := openStore(t, 5)
	id, _ := fs.AllocatePage(cachemodel.FlagData)
	bp := New()
	bp.Register(5, cachemodel.FlagData, fs)
	bp.WritePageNow(id, pagestore.NewPage(fs.PageSize(), pagestore.PageTypeOverflow, 1))

	bp.Invalidate(5, cachemodel.FlagData)

	if _, err := bp.Pin(id); err == nil {
		t.Fatal("expected pin to fail after invalidate dropped the cached (never-flushed) page")
	}
}

func TestBufferPool_RegisterTwiceFails(t *testing.T) {
	fs := openStore(t, 7)
	bp := New()
	if err := bp.Register(7, cachemodel.FlagData, fs); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := bp.Register(7, cachemodel.FlagData, fs); err == nil {
		t.Fatal("expected second register of the same (partition, flag) to fail")
	}
}
