// Command defragctl wires the default adapters together against a
// configured work-directory root and runs one coordinator pass, either
// once or on a cron schedule.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/nodestore/defrag/internal/checkpoint"
	"github.com/nodestore/defrag/internal/dbmgr"
	"github.com/nodestore/defrag/internal/defrag"
	"github.com/nodestore/defrag/internal/indexhook"
	"github.com/nodestore/defrag/internal/schedule"
)

func main() {
	workRoot := flag.String("work-root", "", "root directory holding one subdirectory per cache group")
	groupsFile := flag.String("groups", "", "JSON file describing the cache groups to defragment (see internal/defrag.GroupSpec)")
	filterFile := flag.String("group-filter", "", "optional YAML file with a cacheGroupsForDefragmentation allow-list")
	cronExpr := flag.String("cron", "", "optional cron expression to re-arm the run periodically; empty means run once and exit")
	flag.Parse()

	if *workRoot == "" {
		log.Fatalf("defragctl: -work-root is required")
	}
	if *groupsFile == "" {
		log.Fatalf("defragctl: -groups is required")
	}

	groups, err := loadGroups(*groupsFile)
	if err != nil {
		log.Fatalf("defragctl: %v", err)
	}

	cfg := defrag.DefaultConfig()
	cfg.WorkRoot = *workRoot
	cfg.GroupFilterPath = *filterFile

	fileMgr := dbmgr.NewDefaultFilePageStoreMgr(*workRoot)
	for _, g := range groups {
		fileMgr.SetHasIndexStore(g.Name, true)
	}

	// The node's own beforeDefragmentation checkpoint has nothing of this
	// module's to flush, since it fires before any region is registered —
	// it only exists so NodeCP can participate in the wider node's
	// checkpoint protocol.
	nodeCtrl := checkpoint.New(func(reason string) error { return nil })
	nodeCtrl.Start()
	defer nodeCtrl.Stop()

	maint := dbmgr.NewDefaultMaintenanceRegistry()
	coordinator := &defrag.Coordinator{
		Config:      cfg,
		DB:          dbmgr.NewDefaultDbMgr(*workRoot),
		FileMgr:     fileMgr,
		Maintenance: maint,
		NodeCP:      &dbmgr.DefaultCheckpointManager{Controller: nodeCtrl},
		Indexing:    &indexhook.DefaultIndexing{Enabled: true},
		Groups:      groups,
	}

	if *cronExpr == "" {
		maint.Register(defrag.MaintenanceTaskName)
		if err := coordinator.RunOnce(context.Background()); err != nil {
			log.Fatalf("defragctl: run failed: %v", err)
		}
		return
	}

	sched := schedule.New(defrag.MaintenanceTaskName, coordinatorJob{coordinator, maint})
	if err := sched.ScheduleCron(*cronExpr); err != nil {
		log.Fatalf("defragctl: %v", err)
	}
	sched.Start()
	log.Printf("defragctl: scheduled on %q, press Ctrl+C to stop", *cronExpr)
	select {}
}

// coordinatorJob adapts *defrag.Coordinator's RunOnce method to the
// schedule.Job interface's Run method, re-registering the maintenance task
// before each pass since every successful pass unregisters it.
type coordinatorJob struct {
	c     *defrag.Coordinator
	maint *dbmgr.DefaultMaintenanceRegistry
}

func (j coordinatorJob) Run(ctx context.Context) error {
	j.maint.Register(defrag.MaintenanceTaskName)
	return j.c.RunOnce(ctx)
}

func loadGroups(path string) ([]defrag.GroupSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var groups []defrag.GroupSpec
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}
