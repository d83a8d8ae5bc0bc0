// Package defrag drives partition defragmentation: running one partition's
// pipeline, and running a full coordinator pass over every cache group in
// a work root.
package defrag

import (
	"github.com/nodestore/defrag/internal/pagestore"
)

// Config configures a Coordinator run. It carries only the knobs this
// module's own components need; everything describing *how* a host wires
// DbMgr/FilePageStoreMgr/Indexing together lives in the caller's assembly
// code (cmd/defragctl or a test), not here.
type Config struct {
	// WorkRoot is the directory containing one subdirectory per cache group,
	// each holding its part-N.bin files and defragmentation artifacts.
	WorkRoot string

	// PageSize is the fixed page size new stores are created with. Zero
	// means pagestore.DefaultPageSize.
	PageSize int

	// Worker is the checkpoint read-lock token this coordinator run
	// identifies itself with.
	Worker string

	// GroupFilterPath, if non-empty, names a YAML file read via
	// LoadGroupFilterConfig restricting which cache groups a coordinator
	// pass considers.
	GroupFilterPath string
}

// DefaultConfig returns a Config with the standard page size and a fixed
// worker token suitable for a single-process run.
func DefaultConfig() Config {
	return Config{
		PageSize: pagestore.DefaultPageSize,
		Worker:   "coordinator",
	}
}

func (c Config) pageSize() int {
	if c.PageSize == 0 {
		return pagestore.DefaultPageSize
	}
	return c.PageSize
}
