// Package dbmgr declares the external interfaces consumed by the
// defragmentation engine — DbMgr, FilePageStoreMgr, MaintenanceRegistry
// and CheckpointManager — and ships one minimal default adapter for each so
// the coordinator is independently runnable without a surrounding cluster.
// The Indexing interface and its default adapter live in internal/indexhook.
package dbmgr

import (
	"context"

	"github.com/nodestore/defrag/internal/checkpoint"
	"github.com/nodestore/defrag/internal/pagestore"
)

// Region is the unit DbMgr hands back for a named data region — opaque to
// this module beyond being identifiable for the checkpointed-regions set.
type Region struct {
	Name string
}

// DbMgr exposes the host node's database-manager surface: data regions,
// WAL-logging resume, restored-state notification, and the checkpointed
// region set.
type DbMgr interface {
	DataRegion(name string) (Region, error)
	ResumeWalLogging() error
	OnStateRestored() error
	CheckpointedDataRegions() []Region
}

// FilePageStoreMgr governs per-group work directories and page store
// existence/creation.
type FilePageStoreMgr interface {
	CacheWorkDir(group string) (string, error)
	Exists(group string, partition int) bool
	// GetStore opens the live partition file for reading. Errors from a
	// missing partition wrap os.ErrNotExist so callers can treat absence
	// as a skip rather than a failure.
	GetStore(group string, partition int) (pagestore.Store, error)
	HasIndexStore(group string) bool
}

// MaintenanceRegistry tracks the node's registered maintenance tasks; the
// engine only ever touches its own "defragmentationMaintenanceTask" entry.
type MaintenanceRegistry interface {
	UnregisterMaintenanceTask(name string) error
}

// CheckpointManager exposes forced checkpoints and the checkpoint timeout
// lock. DefaultCheckpointManager satisfies it by wrapping a
// *checkpoint.Controller, whose flush loop runs only on forced checkpoints
// and has no periodic timer; no separate lightweight variant exists.
type CheckpointManager interface {
	ForceCheckpoint(reason string) *checkpoint.Future
	CheckpointTimeoutLock(ctx context.Context) error
}
