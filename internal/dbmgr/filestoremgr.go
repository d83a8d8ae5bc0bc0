package dbmgr

import (
	"fmt"
	"log"
	"os"

	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/layout"
	"github.com/nodestore/defrag/internal/pagestore"
)

// DefaultFilePageStoreMgr resolves cache-group work directories under a
// configured root.
type DefaultFilePageStoreMgr struct {
	Root string

	// indexStores records which groups have an index store, since this
	// default adapter has no real page-store registry to query — callers
	// (tests, cmd/defragctl) populate it directly.
	indexStores map[string]bool
}

// NewDefaultFilePageStoreMgr returns an adapter rooted at root.
func NewDefaultFilePageStoreMgr(root string) *DefaultFilePageStoreMgr {
	return &DefaultFilePageStoreMgr{Root: root, indexStores: make(map[string]bool)}
}

func (m *DefaultFilePageStoreMgr) CacheWorkDir(group string) (string, error) {
	dir, err := layout.New(joinRoot(m.Root, group))
	if err != nil {
		return "", err
	}
	return dir.Root, nil
}

func (m *DefaultFilePageStoreMgr) Exists(group string, partition int) bool {
	dir := &layout.GroupDir{Root: joinRoot(m.Root, group)}
	return dir.IsPartitionDefragmented(partition)
}

// GetStore opens group's live partition file. A missing partition returns
// an error wrapping os.ErrNotExist.
func (m *DefaultFilePageStoreMgr) GetStore(group string, partition int) (pagestore.Store, error) {
	dir := &layout.GroupDir{Root: joinRoot(m.Root, group)}
	path := dir.PartitionFile(partition)
	if _, err := os.Stat(path); err != nil {
		logStoreOutcome(group, false, nil)
		return nil, fmt.Errorf("file page store mgr: group %q partition %d: %w", group, partition, err)
	}
	store, err := pagestore.Open(pagestore.FileStoreConfig{
		Path: path, Partition: uint32(partition), Flag: cachemodel.FlagData,
	})
	logStoreOutcome(group, store != nil, err)
	if err != nil {
		return nil, fmt.Errorf("file page store mgr: group %q partition %d: %w", group, partition, err)
	}
	return store, nil
}

func (m *DefaultFilePageStoreMgr) HasIndexStore(group string) bool {
	return m.indexStores[group]
}

// SetHasIndexStore records whether group has an index store, for tests and
// cmd/defragctl to configure before a coordinator run.
func (m *DefaultFilePageStoreMgr) SetHasIndexStore(group string, has bool) {
	m.indexStores[group] = has
}

// logStoreOutcome never formats a store/error pair into a log line without
// checking the store for nil first.
func logStoreOutcome(group string, storeExists bool, err error) {
	if err != nil {
		log.Printf("file page store mgr: group %q: %v", group, err)
		return
	}
	if !storeExists {
		log.Printf("file page store mgr: group %q: no store present", group)
		return
	}
	log.Printf("file page store mgr: group %q: store ready", group)
}

func joinRoot(root, group string) string {
	if root == "" {
		return group
	}
	return root + "/" + group
}
