package pagestore

import "github.com/nodestore/defrag/internal/cachemodel"

// Store is the page-store interface the defragmentation core consumes. The
// default implementation in this package exists so the module can run and
// be tested standalone; a host node substitutes its own.
type Store interface {
	// ReadPage returns the raw bytes of page id, including its header.
	ReadPage(id cachemodel.PageID) ([]byte, error)

	// WritePage writes page bytes (including header) for id.
	WritePage(id cachemodel.PageID, data []byte) error

	// AllocatePage reserves a new page id under the given flag and returns
	// it. Nothing is written to the page; the caller is responsible for
	// writing it.
	AllocatePage(flag cachemodel.PageFlag) (cachemodel.PageID, error)

	// FreePage releases a previously allocated page id back to the free
	// list for reuse.
	FreePage(id cachemodel.PageID) error

	// Sync flushes all written pages to durable storage.
	Sync() error

	// Close flushes and releases the underlying file handle.
	Close() error

	// PageSize returns the fixed page size this store was opened with.
	PageSize() int

	// PageCount returns the number of pages ever allocated (including
	// freed ones), used for size accounting in log lines.
	PageCount() int
}
