// Package indexhook specifies the index-rebuild hook: the engine invokes
// the external indexing subsystem's defragment operation, which must
// translate every link it encounters through the supplied per-partition
// Link Maps. The indexing subsystem's internal tree code stays external;
// only the hook and its translation contract live here.
package indexhook

import (
	"fmt"

	"github.com/nodestore/defrag/internal/cachemodel"
	"github.com/nodestore/defrag/internal/checkpoint"
	"github.com/nodestore/defrag/internal/linkmap"
	"github.com/nodestore/defrag/internal/pagemem"
)

// Indexing is the consumed indexing-subsystem interface: a module-enabled
// probe plus the defragment hook itself.
type Indexing interface {
	ModuleEnabled() bool
	Defragment(req DefragmentRequest) error
}

// DefragmentRequest bundles everything the hook contract hands the indexing
// subsystem: the old/new group identifiers, the part-region page memory to
// read the new rows through, the per-partition Link Maps it must translate
// every link against, and the checkpoint controller whose read-lock it must
// respect for any allocation it performs.
type DefragmentRequest struct {
	OldGroup      string
	NewGroup      string
	PartMemory    pagemem.Memory
	LinkMapByPart map[int]*linkmap.LinkMap
	Checkpoint    *checkpoint.Controller
	Worker        string
}

// Translate looks up a link in the partition's Link Map, returning an error
// if the implementer encounters an old link with no recorded mapping.
// Every link an index rebuild touches must resolve through the map.
func Translate(req DefragmentRequest, partition int, old cachemodel.RowLink) (cachemodel.RowLink, error) {
	lm, ok := req.LinkMapByPart[partition]
	if !ok {
		return 0, fmt.Errorf("index defragment: no link map registered for partition %d", partition)
	}
	newLink, ok, err := lm.Get(old)
	if err != nil {
		return 0, fmt.Errorf("index defragment: link map lookup partition %d link %d: %w", partition, old, err)
	}
	if !ok {
		return 0, fmt.Errorf("index defragment: link %d in partition %d has no recorded mapping", old, partition)
	}
	return newLink, nil
}

// IndexEntry is one entry of the tiny synthetic index tree the default
// adapter below operates on — a secondary lookup of key → (partition, link).
type IndexEntry struct {
	Key       []byte
	Partition int
	Link      cachemodel.RowLink
}

// DefaultIndexing is the in-process default adapter: it walks a
// caller-supplied slice of old index entries and re-links each one through
// the request's per-partition Link Maps, returning the new entries. It
// exists purely so the coordinator can be exercised end-to-end without
// a real indexing subsystem attached; any production host replaces this
// with its own Indexing implementation.
type DefaultIndexing struct {
	Enabled bool
	Entries []IndexEntry
}

func (d *DefaultIndexing) ModuleEnabled() bool { return d.Enabled }

// Defragment re-links every entry in d.Entries through req.LinkMapByPart,
// acquiring the checkpoint read-lock for the duration of the rewrite, as
// any allocation-adjacent work must, and storing the translated entries
// back into d.Entries in place.
func (d *DefaultIndexing) Defragment(req DefragmentRequest) error {
	if !d.Enabled {
		return nil
	}
	if req.Checkpoint != nil {
		req.Checkpoint.ReadLock(req.Worker)
		defer req.Checkpoint.ReadUnlock(req.Worker)
	}
	out := make([]IndexEntry, len(d.Entries))
	for i, e := range d.Entries {
		newLink, err := Translate(req, e.Partition, e.Link)
		if err != nil {
			return fmt.Errorf("index defragment: entry %d: %w", i, err)
		}
		out[i] = IndexEntry{Key: e.Key, Partition: e.Partition, Link: newLink}
	}
	d.Entries = out
	return nil
}
