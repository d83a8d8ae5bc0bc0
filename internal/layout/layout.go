// Package layout manages the on-disk file layout: names, temp files,
// crash-safe rename, completion markers, and resume detection.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

// GroupDir is the per-cache-group work directory holding the live
// partitions, the defragmentation temp files, the link maps, the
// defragmented index, and the completion marker.
type GroupDir struct {
	Root string
}

// New returns a GroupDir rooted at the given work directory, creating it if
// absent.
func New(root string) (*GroupDir, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("layout: create work dir %s: %w", root, err)
	}
	return &GroupDir{Root: root}, nil
}

func (g *GroupDir) PartitionFile(n int) string {
	return filepath.Join(g.Root, fmt.Sprintf("part-%d.bin", n))
}

func (g *GroupDir) DefragTemp(n int) string {
	return filepath.Join(g.Root, fmt.Sprintf("part-dfrg-%d.bin.tmp", n))
}

func (g *GroupDir) DefragFinal(n int) string {
	return filepath.Join(g.Root, fmt.Sprintf("part-dfrg-%d.bin", n))
}

func (g *GroupDir) LinkMapFile(n int) string {
	return filepath.Join(g.Root, fmt.Sprintf("part-map-%d.bin", n))
}

func (g *GroupDir) IndexTemp() string {
	return filepath.Join(g.Root, "index-dfrg.bin.tmp")
}

func (g *GroupDir) IndexFinal() string {
	return filepath.Join(g.Root, "index-dfrg.bin")
}

func (g *GroupDir) CompletionMarker() string {
	return filepath.Join(g.Root, "defrg-completion.marker")
}

// IsGroupComplete reports whether the completion marker is present, the
// sole durable signal that this group's run has already succeeded.
func (g *GroupDir) IsGroupComplete() bool {
	_, err := os.Stat(g.CompletionMarker())
	return err == nil
}

// IsPartitionDefragmented reports whether the final defragmented partition
// file already exists — the partition-level skip check for resumed runs.
func (g *GroupDir) IsPartitionDefragmented(n int) bool {
	_, err := os.Stat(g.DefragFinal(n))
	return err == nil
}

// RemoveStaleIndexTemp deletes a leftover index-dfrg.bin.tmp from a crashed
// previous run. Absence is not an error.
func (g *GroupDir) RemoveStaleIndexTemp() error {
	if err := os.Remove(g.IndexTemp()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("layout: remove stale index temp: %w", err)
	}
	return nil
}

// CommitPartitionRename performs the per-partition commit point:
// rename(part-dfrg-N.bin.tmp -> part-dfrg-N.bin).
func (g *GroupDir) CommitPartitionRename(n int) error {
	if err := os.Rename(g.DefragTemp(n), g.DefragFinal(n)); err != nil {
		return fmt.Errorf("layout: commit partition %d rename: %w", n, err)
	}
	return nil
}

// CommitIndexRename performs rename(index-dfrg.bin.tmp -> index-dfrg.bin),
// prior to the completion marker being written.
func (g *GroupDir) CommitIndexRename() error {
	if err := os.Rename(g.IndexTemp(), g.IndexFinal()); err != nil {
		return fmt.Errorf("layout: commit index rename: %w", err)
	}
	return nil
}

// WriteCompletionMarker atomically creates the zero-byte completion marker,
// the commit point of the whole group run. It is written via a
// temp-file-then-rename so a crash mid-write can never leave a partially
// written marker — the marker's presence must be an unambiguous signal.
func (g *GroupDir) WriteCompletionMarker() error {
	tmp := g.CompletionMarker() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("layout: create completion marker temp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("layout: close completion marker temp: %w", err)
	}
	if err := os.Rename(tmp, g.CompletionMarker()); err != nil {
		return fmt.Errorf("layout: commit completion marker: %w", err)
	}
	return nil
}

// BatchRenamePartitions performs the final, group-level swap of every
// part-dfrg-*.bin into its live name, for the given partition count.
// Called only after the completion marker already exists, so a
// crash mid-batch is safe to resume: the marker tells the next run this
// group is "logically" done even if some live-name swaps are still
// pending, and the swap itself is idempotent (re-renaming an already-live
// file is a no-op skip, detected by the .tmp/dfrg file's absence).
func (g *GroupDir) BatchRenamePartitions(partitionCount int) error {
	for n := 0; n < partitionCount; n++ {
		final := g.DefragFinal(n)
		if _, err := os.Stat(final); os.IsNotExist(err) {
			continue // already swapped into the live name by a prior partial run
		}
		if err := os.Rename(final, g.PartitionFile(n)); err != nil {
			return fmt.Errorf("layout: batch rename partition %d: %w", n, err)
		}
	}
	return nil
}
