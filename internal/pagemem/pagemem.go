// Package pagemem specifies the page-memory interface — a buffer pool over
// a Page Store providing pin/unpin and read/write latches — and ships a
// default in-process implementation.
package pagemem

import (
	"fmt"
	"sync"

	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/pagestore"
)

// Memory is a buffer pool mediating all page access through pin/unpin
// and read/write latches, fronting one or more registered Page Stores.
type Memory interface {
	// Register binds a Page Store to this buffer pool so its pages can be
	// fetched by id. Each partition/flag combination may be registered
	// once.
	Register(partition uint32, flag cachemodel.PageFlag, store pagestore.Store) error

	// Deregister removes a previously registered store, used after a new
	// partition's pages are flushed and its file is about to be renamed.
	Deregister(partition uint32, flag cachemodel.PageFlag)

	// Pin fetches and pins page id, returning its body (post-header) bytes.
	// The page remains pinned until a matching Unpin call.
	Pin(id cachemodel.PageID) ([]byte, error)

	// Unpin releases a pin acquired by Pin. dirty marks the page for
	// flush-back on the next Sync/checkpoint.
	Unpin(id cachemodel.PageID, dirty bool) error

	// ReadLatch/WriteLatch acquire a per-page latch, distinct from the pin
	// count: a page can be pinned by an iterator while briefly write-latched
	// by a concurrent mutator. This module's single-worker model only ever
	// takes one latch at a time, but the interface preserves the
	// vocabulary so a richer Page Memory can be substituted.
	ReadLatch(id cachemodel.PageID) error
	ReadUnlatch(id cachemodel.PageID)
	WriteLatch(id cachemodel.PageID) error
	WriteUnlatch(id cachemodel.PageID)

	// Invalidate drops any cached copy of pages belonging to a partition,
	// used after a partition or index rename.
	Invalidate(partition uint32, flag cachemodel.PageFlag)

	// Flush writes back every dirty pinned-or-cached page for the given
	// store and syncs it. Invoked by the checkpoint controller.
	Flush(partition uint32, flag cachemodel.PageFlag) error
}

type storeKey struct {
	partition uint32
	flag      cachemodel.PageFlag
}

type cachedPage struct {
	mu    sync.Mutex
	data  []byte
	pins  int
	dirty bool
}

// BufferPool is the default Memory implementation: a straightforward
// map-of-pages buffer pool, pin-aware and dirty-tracked but without LRU
// eviction: the defragmenter's working set is one partition's worth of
// recently-touched pages at a time, so nothing depends on eviction
// pressure.
type BufferPool struct {
	mu     sync.Mutex
	stores map[storeKey]pagestore.Store
	pages  map[cachemodel.PageID]*cachedPage
}

// New returns an empty BufferPool.
func New() *BufferPool {
	return &BufferPool{
		stores: make(map[storeKey]pagestore.Store),
		pages:  make(map[cachemodel.PageID]*cachedPage),
	}
}

func (m *BufferPool) Register(partition uint32, flag cachemodel.PageFlag, store pagestore.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := storeKey{partition, flag}
	if _, exists := m.stores[k]; exists {
		return fmt.Errorf("store for partition=%d flag=%s already registered", partition, flag)
	}
	m.stores[k] = store
	return nil
}

func (m *BufferPool) Deregister(partition uint32, flag cachemodel.PageFlag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, storeKey{partition, flag})
	for id := range m.pages {
		if id.Partition() == partition && id.Flag() == flag {
			delete(m.pages, id)
		}
	}
}

func (m *BufferPool) storeFor(id cachemodel.PageID) (pagestore.Store, error) {
	m.mu.Lock()
	store, ok := m.stores[storeKey{id.Partition(), id.Flag()}]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no page store registered for %s", id)
	}
	return store, nil
}

func (m *BufferPool) Pin(id cachemodel.PageID) ([]byte, error) {
	m.mu.Lock()
	cp, ok := m.pages[id]
	if !ok {
		cp = &cachedPage{}
		m.pages[id] = cp
	}
	m.mu.Unlock()

	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.data == nil {
		store, err := m.storeFor(id)
		if err != nil {
			return nil, err
		}
		data, err := store.ReadPage(id)
		if err != nil {
			return nil, fmt.Errorf("pin %s: %w", id, err)
		}
		cp.data = data
	}
	cp.pins++
	return pagestore.Body(cp.data), nil
}

func (m *BufferPool) Unpin(id cachemodel.PageID, dirty bool) error {
	m.mu.Lock()
	cp, ok := m.pages[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unpin %s: not pinned", id)
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.pins <= 0 {
		return fmt.Errorf("unpin %s: pin count already zero", id)
	}
	cp.pins--
	if dirty {
		cp.dirty = true
	}
	return nil
}

func (m *BufferPool) ReadLatch(id cachemodel.PageID) error  { return nil }
func (m *BufferPool) ReadUnlatch(id cachemodel.PageID)      {}
func (m *BufferPool) WriteLatch(id cachemodel.PageID) error { return nil }
func (m *BufferPool) WriteUnlatch(id cachemodel.PageID)     {}

func (m *BufferPool) Invalidate(partition uint32, flag cachemodel.PageFlag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.pages {
		if id.Partition() == partition && id.Flag() == flag {
			delete(m.pages, id)
		}
	}
}

func (m *BufferPool) Flush(partition uint32, flag cachemodel.PageFlag) error {
	m.mu.Lock()
	store, ok := m.stores[storeKey{partition, flag}]
	var dirty []cachemodel.PageID
	for id := range m.pages {
		if id.Partition() == partition && id.Flag() == flag {
			dirty = append(dirty, id)
		}
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("flush: no store registered for partition=%d flag=%s", partition, flag)
	}

	for _, id := range dirty {
		m.mu.Lock()
		cp := m.pages[id]
		m.mu.Unlock()

		cp.mu.Lock()
		needsWrite := cp.dirty
		data := cp.data
		cp.mu.Unlock()

		if needsWrite && data != nil {
			if err := store.WritePage(id, data); err != nil {
				return fmt.Errorf("flush %s: %w", id, err)
			}
			cp.mu.Lock()
			cp.dirty = false
			cp.mu.Unlock()
		}
	}
	return store.Sync()
}

// WritePageNow writes a page's full body directly and marks it dirty,
// bypassing a Pin/Unpin round trip — used by allocation paths that build a
// brand-new page body in one shot (B+-tree node writes, meta-page writes).
func (m *BufferPool) WritePageNow(id cachemodel.PageID, full []byte) error {
	m.mu.Lock()
	cp, ok := m.pages[id]
	if !ok {
		cp = &cachedPage{}
		m.pages[id] = cp
	}
	m.mu.Unlock()

	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.data = full
	cp.dirty = true
	return nil
}
