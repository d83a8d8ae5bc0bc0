package defrag

import (
	"fmt"

	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/layout"
	"github.com/nodestore/defrag/internal/pagemem"
	"github.com/nodestore/defrag/internal/pagestore"
)

// BootstrapIndexStore prepares a group's index rewrite: delete any stale
// index-dfrg.bin.tmp left by a crashed previous run, create a fresh store
// under the checkpoint read-lock, sync it, and register it at the
// well-known IndexPartition under the part-region page memory.
func BootstrapIndexStore(dir *layout.GroupDir, mem pagemem.Memory, pageSize int) (pagestore.Store, error) {
	if err := dir.RemoveStaleIndexTemp(); err != nil {
		return nil, err
	}
	store, err := pagestore.Open(pagestore.FileStoreConfig{
		Path:      dir.IndexTemp(),
		PageSize:  pageSize,
		Partition: cachemodel.IndexPartition,
		Flag:      cachemodel.FlagIndex,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap index store: %w", err)
	}
	if err := store.Sync(); err != nil {
		return nil, fmt.Errorf("bootstrap index store: sync: %w", err)
	}
	if err := mem.Register(cachemodel.IndexPartition, cachemodel.FlagIndex, store); err != nil {
		return nil, fmt.Errorf("bootstrap index store: register: %w", err)
	}
	return store, nil
}
