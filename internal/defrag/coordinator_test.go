package defrag

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/checkpoint"
	"github.com/nodestore/defrag/internal/dbmgr"
	"github.com/nodestore/defrag/internal/indexhook"
	"github.com/nodestore/defrag/internal/layout"
)

func TestCoordinator_RunOnceDefragmentsSingleGroup(t *testing.T) {
	root := t.TempDir()
	groupDir, err := layout.New(filepath.Join(root, "sessions"))
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	buildOldPartition(t, groupDir.PartitionFile(0), 0, []cachemodel.DataRow{
		{CacheID: 1, Key: []byte("k1"), Value: []byte("v1")},
	})

	fileMgr := dbmgr.NewDefaultFilePageStoreMgr(root)
	fileMgr.SetHasIndexStore("sessions", false)

	nodeCtrl := checkpoint.New(func(string) error { return nil })
	nodeCtrl.Start()
	defer nodeCtrl.Stop()

	maint := dbmgr.NewDefaultMaintenanceRegistry()
	maint.Register(MaintenanceTaskName)

	coordinator := &Coordinator{
		Config:      DefaultConfig(),
		DB:          dbmgr.NewDefaultDbMgr("cache-data"),
		FileMgr:     fileMgr,
		Maintenance: maint,
		NodeCP:      &dbmgr.DefaultCheckpointManager{Controller: nodeCtrl},
		Indexing:    &indexhook.DefaultIndexing{Enabled: false},
		Groups:      []GroupSpec{{Name: "sessions", Partitions: 1, InlineCacheID: true}},
	}

	if err := coordinator.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !groupDir.IsGroupComplete() {
		t.Fatal("expected the group's completion marker to be written")
	}
	// The batch rename swaps part-dfrg-0.bin into the live name, so only
	// part-0.bin remains.
	if groupDir.IsPartitionDefragmented(0) {
		t.Fatal("expected part-dfrg-0.bin to have been swapped into the live name")
	}
	if _, err := os.Stat(groupDir.PartitionFile(0)); err != nil {
		t.Fatalf("expected the live partition file after the swap: %v", err)
	}

	// A second pass must treat the completed group as a no-op.
	maint.Register(MaintenanceTaskName)
	if err := coordinator.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run once: %v", err)
	}
}

func TestCoordinator_RunOnceSkipsGroupFilteredOut(t *testing.T) {
	root := t.TempDir()
	groupDir, err := layout.New(filepath.Join(root, "sessions"))
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	buildOldPartition(t, groupDir.PartitionFile(0), 0, nil)

	filterPath := filepath.Join(root, "filter.yaml")
	writeFilterYAML(t, filterPath, []string{"other-group"})

	fileMgr := dbmgr.NewDefaultFilePageStoreMgr(root)
	nodeCtrl := checkpoint.New(func(string) error { return nil })
	nodeCtrl.Start()
	defer nodeCtrl.Stop()

	cfg := DefaultConfig()
	cfg.GroupFilterPath = filterPath
	maint := dbmgr.NewDefaultMaintenanceRegistry()
	maint.Register(MaintenanceTaskName)

	coordinator := &Coordinator{
		Config:      cfg,
		DB:          dbmgr.NewDefaultDbMgr("cache-data"),
		FileMgr:     fileMgr,
		Maintenance: maint,
		NodeCP:      &dbmgr.DefaultCheckpointManager{Controller: nodeCtrl},
		Indexing:    &indexhook.DefaultIndexing{Enabled: false},
		Groups:      []GroupSpec{{Name: "sessions", Partitions: 1}},
	}

	if err := coordinator.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if groupDir.IsGroupComplete() {
		t.Fatal("expected a filtered-out group to be left untouched")
	}
}

func writeFilterYAML(t *testing.T, path string, groups []string) {
	t.Helper()
	content := "cacheGroupsForDefragmentation:\n"
	for _, g := range groups {
		content += "  - " + g + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write filter: %v", err)
	}
}
