package pagestore

import (
	"fmt"
	"os"
	"sync"

	"github.com/nodestore/defrag/internal/cachemodel"
)

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	Path      string
	PageSize  int // 0 = DefaultPageSize
	Partition uint32
	Flag      cachemodel.PageFlag
}

// FileStore is the default Store implementation: one partition's worth of
// fixed-size pages in a single file, with a CRC-checked header per page and
// an in-memory free list of reclaimed indices.
type FileStore struct {
	mu        sync.Mutex
	f         *os.File
	path      string
	pageSize  int
	partition uint32
	flag      cachemodel.PageFlag
	nextIndex uint32
	freeList  []uint32
	allocated int
}

// Open creates or opens a FileStore at cfg.Path.
func Open(cfg FileStoreConfig) (*FileStore, error) {
	ps := cfg.PageSize
	if ps == 0 {
		ps = DefaultPageSize
	}
	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open page store %s: %w", cfg.Path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat page store %s: %w", cfg.Path, err)
	}
	fs := &FileStore{
		f:         f,
		path:      cfg.Path,
		pageSize:  ps,
		partition: cfg.Partition,
		flag:      cfg.Flag,
	}
	if fi.Size() > 0 {
		fs.nextIndex = uint32(fi.Size() / int64(ps))
		fs.allocated = int(fs.nextIndex)
	}
	return fs, nil
}

func (fs *FileStore) offset(id cachemodel.PageID) (int64, error) {
	if id.Partition() != fs.partition || id.Flag() != fs.flag {
		return 0, fmt.Errorf("page %s does not belong to store %s (partition=%d flag=%s)",
			id, fs.path, fs.partition, fs.flag)
	}
	return int64(id.Index()) * int64(fs.pageSize), nil
}

func (fs *FileStore) ReadPage(id cachemodel.PageID) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	off, err := fs.offset(id)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, fs.pageSize)
	if _, err := fs.f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read page %s: %w", id, err)
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, fmt.Errorf("read page %s: %w", id, err)
	}
	return buf, nil
}

func (fs *FileStore) WritePage(id cachemodel.PageID, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if len(data) != fs.pageSize {
		return fmt.Errorf("write page %s: page size mismatch (got %d want %d)", id, len(data), fs.pageSize)
	}
	off, err := fs.offset(id)
	if err != nil {
		return err
	}
	SetPageCRC(data)
	if _, err := fs.f.WriteAt(data, off); err != nil {
		return fmt.Errorf("write page %s: %w", id, err)
	}
	return nil
}

func (fs *FileStore) AllocatePage(flag cachemodel.PageFlag) (cachemodel.PageID, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if flag != fs.flag {
		return cachemodel.InvalidPageID, fmt.Errorf("allocate: store %s only serves flag %s, got %s", fs.path, fs.flag, flag)
	}

	var idx uint32
	if n := len(fs.freeList); n > 0 {
		idx = fs.freeList[n-1]
		fs.freeList = fs.freeList[:n-1]
	} else {
		idx = fs.nextIndex
		fs.nextIndex++
	}
	fs.allocated++
	return cachemodel.NewPageID(fs.partition, flag, idx), nil
}

func (fs *FileStore) FreePage(id cachemodel.PageID) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := fs.offset(id); err != nil {
		return err
	}
	fs.freeList = append(fs.freeList, id.Index())
	return nil
}

func (fs *FileStore) Sync() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.f.Sync()
}

func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.f.Close()
}

func (fs *FileStore) PageSize() int { return fs.pageSize }

func (fs *FileStore) PageCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.allocated
}

// Path returns the backing file path, used by the file layout manager
// to drive renames.
func (fs *FileStore) Path() string { return fs.path }
