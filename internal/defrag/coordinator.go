package defrag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/checkpoint"
	"github.com/nodestore/defrag/internal/dbmgr"
	"github.com/nodestore/defrag/internal/defragerr"
	"github.com/nodestore/defrag/internal/indexhook"
	"github.com/nodestore/defrag/internal/layout"
	"github.com/nodestore/defrag/internal/linkmap"
	"github.com/nodestore/defrag/internal/pagemem"
)

// MaintenanceTaskName is the single maintenance task the coordinator
// registers and unregisters.
const MaintenanceTaskName = "defragmentationMaintenanceTask"

// GroupSpec describes one cache group the coordinator should consider: its
// name, how many partitions it has, and the two per-group flags the row
// copy step needs.
type GroupSpec struct {
	Name          string
	Partitions    int
	InlineCacheID bool
	Encrypted     bool
}

// Coordinator walks cache groups sequentially, driving the checkpoint
// controller, per-partition pipelines, the index rebuild hook, and the
// maintenance-task lifecycle for each.
type Coordinator struct {
	Config      Config
	DB          dbmgr.DbMgr
	FileMgr     dbmgr.FilePageStoreMgr
	Maintenance dbmgr.MaintenanceRegistry
	NodeCP      dbmgr.CheckpointManager
	Indexing    indexhook.Indexing
	Groups      []GroupSpec
}

// RunResult records one coordinator pass for the run's completion log line.
type RunResult struct {
	RunID         string
	GroupsRun     []string
	GroupsSkipped []string
}

// RunOnce performs one full coordinator pass over every configured cache
// group. cmd/defragctl adapts it to internal/schedule.Job (whose method is
// Run) so it can be triggered once at restart or re-armed on a cron
// schedule.
func (c *Coordinator) RunOnce(ctx context.Context) error {
	runID := NewRunID().String()
	log.Printf("defragmentation run %s starting", runID)

	if err := c.DB.ResumeWalLogging(); err != nil {
		return fmt.Errorf("run %s: resume WAL logging: %w", runID, err)
	}
	if err := c.DB.OnStateRestored(); err != nil {
		return fmt.Errorf("run %s: on state restored: %w", runID, err)
	}
	if err := c.NodeCP.ForceCheckpoint("beforeDefragmentation").Wait(); err != nil {
		return fmt.Errorf("run %s: beforeDefragmentation checkpoint: %w", runID, err)
	}
	// WAL deactivation for the rewrite traffic this run generates is a
	// property of the surrounding node's WAL; there is nothing for this
	// module to call here beyond the log line recording the run entered
	// its maintenance window.
	log.Printf("run %s: WAL deactivated for rewrite traffic (node-level, no-op here)", runID)

	filter, err := c.loadFilter()
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	result := &RunResult{RunID: runID}
	for _, group := range c.Groups {
		select {
		case <-ctx.Done():
			return fmt.Errorf("run %s: canceled: %w", runID, ctx.Err())
		default:
		}
		if !filter.Allows(group.Name) {
			continue
		}
		ran, err := c.runGroup(group, runID)
		if err != nil {
			return fmt.Errorf("run %s: %w", runID, &defragerr.DefragmentationError{Group: group.Name, Partition: -1, Err: err})
		}
		if ran {
			result.GroupsRun = append(result.GroupsRun, group.Name)
		} else {
			result.GroupsSkipped = append(result.GroupsSkipped, group.Name)
		}
	}

	if err := c.Maintenance.UnregisterMaintenanceTask(MaintenanceTaskName); err != nil {
		return fmt.Errorf("run %s: unregister maintenance task: %w", runID, err)
	}
	log.Printf("defragmentation run %s completed: ran=%v skipped=%v", runID, result.GroupsRun, result.GroupsSkipped)
	return nil
}

func (c *Coordinator) loadFilter() (*GroupFilterConfig, error) {
	if c.Config.GroupFilterPath == "" {
		return &GroupFilterConfig{}, nil
	}
	return LoadGroupFilterConfig(c.Config.GroupFilterPath)
}

// runGroup defragments one cache group. Returns ran=false if the group's
// work dir was already marked complete or it had no old cache data stores
// at all.
func (c *Coordinator) runGroup(group GroupSpec, runID string) (ran bool, err error) {
	workDir, err := c.FileMgr.CacheWorkDir(group.Name)
	if err != nil {
		return false, fmt.Errorf("cache work dir: %w", err)
	}
	dir := &layout.GroupDir{Root: workDir}
	if dir.IsGroupComplete() {
		log.Printf("run %s: group %q already complete, skipping", runID, group.Name)
		return false, nil
	}

	oldMem := pagemem.New()
	oldSources, err := c.openOldPartitions(oldMem, group)
	if err != nil {
		return false, err
	}
	if len(oldSources) == 0 {
		log.Printf("run %s: group %q has no old cache data stores, skipping", runID, group.Name)
		return false, nil
	}
	log.Printf("run %s: group %q starting, %d partitions", runID, group.Name, len(oldSources))

	partMem := pagemem.New()
	mappingMem := pagemem.New()
	ctrl := checkpoint.New(func(reason string) error {
		// Flush every region that happens to be registered at the moment a
		// checkpoint fires. Partitions already committed and deregistered
		// are skipped with a log line rather than treated as an error — a
		// checkpoint forced late in a group's run legitimately has fewer
		// live regions than one forced at the start.
		if err := partMem.Flush(cachemodel.IndexPartition, cachemodel.FlagIndex); err != nil {
			log.Printf("run %s: flush(%q): index region not registered yet: %v", runID, reason, err)
		}
		for n := range oldSources {
			if err := partMem.Flush(uint32(n), cachemodel.FlagData); err != nil {
				log.Printf("run %s: flush(%q): partition %d part region not registered: %v", runID, reason, n, err)
			}
			if err := mappingMem.Flush(uint32(n), cachemodel.FlagData); err != nil {
				log.Printf("run %s: flush(%q): partition %d mapping region not registered: %v", runID, reason, n, err)
			}
		}
		return nil
	})
	ctrl.Start()
	defer ctrl.Stop()

	worker := c.Config.Worker
	if worker == "" {
		worker = "coordinator"
	}

	ctrl.ReadLock(worker)
	_, err = BootstrapIndexStore(dir, partMem, c.Config.pageSize())
	ctrl.ReadUnlock(worker)
	if err != nil {
		return false, fmt.Errorf("group %q: %w", group.Name, err)
	}

	// Partitions run in ascending order so successive runs produce the same
	// files in the same sequence.
	parts := make([]int, 0, len(oldSources))
	for n := range oldSources {
		parts = append(parts, n)
	}
	sort.Ints(parts)

	linkMapByPart := make(map[int]*linkmap.LinkMap)
	compound := checkpoint.NewCompoundFuture()
	for _, n := range parts {
		old := oldSources[n]
		res, err := RunPartitionPipeline(PipelineParams{
			Dir:        dir,
			Partition:  n,
			Old:        old,
			PartMem:    partMem,
			MappingMem: mappingMem,
			Checkpoint: ctrl,
			Worker:     worker,
			Encrypted:  group.Encrypted,
		})
		if err != nil {
			return false, fmt.Errorf("group %q: %w", group.Name, err)
		}
		linkMapByPart[n] = res.LinkMap
		if res.Future != nil {
			compound.Add(res.Future)
		}
	}
	if err := compound.Wait(); err != nil {
		return false, fmt.Errorf("group %q: partition checkpoints: %w", group.Name, &defragerr.CheckpointFailed{Reason: "partition defragmented", Err: err})
	}

	if c.FileMgr.HasIndexStore(group.Name) && c.Indexing != nil && c.Indexing.ModuleEnabled() {
		req := indexhook.DefragmentRequest{
			OldGroup:      group.Name,
			NewGroup:      group.Name,
			PartMemory:    partMem,
			LinkMapByPart: linkMapByPart,
			Checkpoint:    ctrl,
			Worker:        worker,
		}
		if err := c.Indexing.Defragment(req); err != nil {
			return false, &defragerr.IndexDefragmentationFailed{Group: group.Name, Err: err}
		}
		idxFuture := ctrl.ForceCheckpoint("index defragmented")
		if err := idxFuture.Wait(); err != nil {
			return false, fmt.Errorf("group %q: index checkpoint: %w", group.Name, &defragerr.CheckpointFailed{Reason: "index defragmented", Err: err})
		}
		partMem.Invalidate(cachemodel.IndexPartition, cachemodel.FlagIndex)
		for n := range oldSources {
			mappingMem.Invalidate(uint32(n), cachemodel.FlagData)
		}
		if err := dir.CommitIndexRename(); err != nil {
			return false, fmt.Errorf("group %q: %w", group.Name, err)
		}
	}

	if err := dir.WriteCompletionMarker(); err != nil {
		return false, fmt.Errorf("group %q: write completion marker: %w", group.Name, err)
	}
	if err := dir.BatchRenamePartitions(group.Partitions); err != nil {
		return false, fmt.Errorf("group %q: batch rename: %w", group.Name, err)
	}

	for n, src := range oldSources {
		if err := src.Store.Close(); err != nil {
			log.Printf("run %s: group %q: close old partition %d: %v", runID, group.Name, n, err)
		}
	}
	log.Printf("run %s: group %q completed", runID, group.Name)
	return true, nil
}

// openOldPartitions opens every live partition file that exists for group,
// returning the subset of partition indices whose file is present. The
// partitions' trees are not inspected, so a partition whose trees are empty
// is still returned.
func (c *Coordinator) openOldPartitions(mem pagemem.Memory, group GroupSpec) (map[int]OldPartitionSource, error) {
	out := make(map[int]OldPartitionSource)
	for n := 0; n < group.Partitions; n++ {
		store, err := c.FileMgr.GetStore(group.Name, n)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("open old partition %d: %w", n, err)
		}
		if err := mem.Register(uint32(n), cachemodel.FlagData, store); err != nil {
			return nil, fmt.Errorf("register old partition %d: %w", n, err)
		}
		out[n] = OldPartitionSource{
			Store:         store,
			Mem:           mem,
			Partition:     uint32(n),
			InlineCacheID: group.InlineCacheID,
		}
	}
	return out, nil
}
