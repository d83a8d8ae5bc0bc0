package dbmgr

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/nodestore/defrag/internal/checkpoint"
)

// DefaultDbMgr is a single-node DbMgr wrapping one named region.
// ResumeWalLogging/OnStateRestored are no-ops recorded for test
// assertions — the engine only needs to observe that these lifecycle
// calls happened, not implement WAL semantics.
type DefaultDbMgr struct {
	mu       sync.Mutex
	region   Region
	resumed  bool
	restored bool
}

// NewDefaultDbMgr returns a DefaultDbMgr exposing one region named
// regionName.
func NewDefaultDbMgr(regionName string) *DefaultDbMgr {
	return &DefaultDbMgr{region: Region{Name: regionName}}
}

func (d *DefaultDbMgr) DataRegion(name string) (Region, error) {
	if name != d.region.Name {
		return Region{}, fmt.Errorf("dbmgr: unknown data region %q", name)
	}
	return d.region, nil
}

func (d *DefaultDbMgr) ResumeWalLogging() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resumed = true
	log.Printf("dbmgr: WAL logging resumed")
	return nil
}

func (d *DefaultDbMgr) OnStateRestored() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.restored = true
	log.Printf("dbmgr: state restored")
	return nil
}

func (d *DefaultDbMgr) CheckpointedDataRegions() []Region {
	return []Region{d.region}
}

// Resumed and Restored expose the recorded lifecycle flags for tests.
func (d *DefaultDbMgr) Resumed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resumed
}

func (d *DefaultDbMgr) Restored() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.restored
}

// DefaultMaintenanceRegistry is an in-memory set of registered task names,
// matching the single "defragmentationMaintenanceTask" name the
// coordinator registers and unregisters.
type DefaultMaintenanceRegistry struct {
	mu    sync.Mutex
	tasks map[string]bool
}

func NewDefaultMaintenanceRegistry() *DefaultMaintenanceRegistry {
	return &DefaultMaintenanceRegistry{tasks: make(map[string]bool)}
}

func (r *DefaultMaintenanceRegistry) Register(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = true
}

func (r *DefaultMaintenanceRegistry) UnregisterMaintenanceTask(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.tasks[name] {
		return fmt.Errorf("maintenance registry: task %q was not registered", name)
	}
	delete(r.tasks, name)
	log.Printf("maintenance task %q unregistered", name)
	return nil
}

func (r *DefaultMaintenanceRegistry) IsRegistered(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[name]
}

// DefaultCheckpointManager adapts *checkpoint.Controller to the
// CheckpointManager interface.
type DefaultCheckpointManager struct {
	Controller *checkpoint.Controller
}

func (d *DefaultCheckpointManager) ForceCheckpoint(reason string) *checkpoint.Future {
	return d.Controller.ForceCheckpoint(reason)
}

// CheckpointTimeoutLock waits on ctx only — the checkpoint controller has
// no independent timeout policy of its own, so the default simply respects
// whatever deadline the caller supplies.
func (d *DefaultCheckpointManager) CheckpointTimeoutLock(ctx context.Context) error {
	return ctx.Err()
}
