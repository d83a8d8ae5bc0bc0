package treeiter

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nodestore/defrag/internal/btree"
	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/checkpoint"
	"github.com/nodestore/defrag/internal/pagemem"
	"github.com/nodestore/defrag/internal/pagestore"
)

func newTestTree(t *testing.T) *btree.Tree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree.bin")
	store, err := pagestore.Open(pagestore.FileStoreConfig{Path: path, Partition: 0, Flag: cachemodel.FlagData})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	mem := pagemem.New()
	if err := mem.Register(0, cachemodel.FlagData, store); err != nil {
		t.Fatalf("register: %v", err)
	}
	tr, err := btree.Create(mem, store, 0, cachemodel.FlagData)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return tr
}

func TestWalk_VisitsEntriesInKeyOrder(t *testing.T) {
	tr := newTestTree(t)
	for i := 9; i >= 0; i-- {
		key := fmt.Sprintf("k%02d", i)
		if err := tr.Insert([]byte(key), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("insert %s: %v", key, err)
		}
	}
	var keys []string
	err := Walk(tr, nil, func(e Entry) bool {
		keys = append(keys, string(e.Key))
		return true
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(keys) != 10 {
		t.Fatalf("visited %d entries, want 10", len(keys))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("keys out of order: %q before %q", keys[i-1], keys[i])
		}
	}
}

func TestWalk_CallbackFalseStopsIteration(t *testing.T) {
	tr := newTestTree(t)
	for i := 0; i < 5; i++ {
		if err := tr.Insert([]byte(fmt.Sprintf("k%d", i)), []byte("v")); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	seen := 0
	err := Walk(tr, nil, func(Entry) bool {
		seen++
		return seen < 3
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if seen != 3 {
		t.Fatalf("visited %d entries after early stop, want 3", seen)
	}
}

func TestWalk_YieldsReadLockBetweenEntries(t *testing.T) {
	tr := newTestTree(t)
	for i := 0; i < 4; i++ {
		if err := tr.Insert([]byte(fmt.Sprintf("k%d", i)), []byte("v")); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	flushed := make(chan struct{}, 1)
	ctrl := checkpoint.New(func(string) error {
		flushed <- struct{}{}
		return nil
	})
	ctrl.Start()
	t.Cleanup(ctrl.Stop)

	y := checkpoint.NewYielder(ctrl, "walker")
	y.Acquire()
	defer y.Release()

	future := ctrl.ForceCheckpoint("test flush")
	err := Walk(tr, y, func(Entry) bool {
		// Sleep past the cadence so the walker's yield point must release
		// the lock, letting the queued checkpoint run mid-scan.
		time.Sleep(checkpoint.YieldCadence + 20*time.Millisecond)
		return true
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	select {
	case <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("checkpoint never ran: walker did not yield the read-lock")
	}
	if err := future.Wait(); err != nil {
		t.Fatalf("checkpoint future: %v", err)
	}
}
