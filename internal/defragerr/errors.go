// Package defragerr defines the defragmentation error kinds: sentinel
// types checked with errors.As at the coordinator boundary, and the
// coordinator-facing DefragmentationError umbrella that wraps whichever
// kind aborted a run.
package defragerr

import "fmt"

// PageIOError wraps any read/write/sync/rename failure against a page
// store. Fatal for the current group; partial .tmp files are left in place.
// No call site in this module constructs it: page-store failures reach the
// caller as the store's own errors wrapped with fmt.Errorf.
type PageIOError struct {
	Op  string
	Err error
}

func (e *PageIOError) Error() string { return fmt.Sprintf("page io error during %s: %v", e.Op, e.Err) }
func (e *PageIOError) Unwrap() error { return e.Err }

// UnsupportedMetaVersion is returned when an old partition meta version is
// outside {1,2,3}. Fatal; no file is renamed.
type UnsupportedMetaVersion struct {
	Partition int
	Version   int
}

func (e *UnsupportedMetaVersion) Error() string {
	return fmt.Sprintf("partition %d: unsupported meta version %d", e.Partition, e.Version)
}

// EncryptedCountersUnsupported reports an encrypted group whose old meta
// carries non-zero encrypted-page counters. The copy step cannot preserve
// them, so rather than silently resetting them to 0 the run aborts.
type EncryptedCountersUnsupported struct {
	Partition int
}

func (e *EncryptedCountersUnsupported) Error() string {
	return fmt.Sprintf("partition %d: refusing to reset non-zero encryptedPageCount/Index for an encrypted group", e.Partition)
}

// IndexDefragmentationFailed is surfaced from the index rebuild. The
// group's completion marker is NOT written, so the group is retried on the
// next run.
type IndexDefragmentationFailed struct {
	Group string
	Err   error
}

func (e *IndexDefragmentationFailed) Error() string {
	return fmt.Sprintf("group %s: index defragmentation failed: %v", e.Group, e.Err)
}
func (e *IndexDefragmentationFailed) Unwrap() error { return e.Err }

// CheckpointFailed wraps an error a checkpoint Future resolved with;
// treated as fatal for the run.
type CheckpointFailed struct {
	Reason string
	Err    error
}

func (e *CheckpointFailed) Error() string {
	return fmt.Sprintf("checkpoint %q failed: %v", e.Reason, e.Err)
}
func (e *CheckpointFailed) Unwrap() error { return e.Err }

// AlreadyDefragmented is not an error — it's a skip signal, detected by the
// presence of the completion marker (group level) or the final file name
// (partition level). Modeled as a type for symmetry with the other kinds
// even though callers generally branch on a bool rather than propagate it.
type AlreadyDefragmented struct {
	Group     string
	Partition int
}

func (e *AlreadyDefragmented) Error() string {
	if e.Partition >= 0 {
		return fmt.Sprintf("group %s partition %d already defragmented", e.Group, e.Partition)
	}
	return fmt.Sprintf("group %s already defragmented", e.Group)
}

// DefragmentationError is the coordinator-facing umbrella wrapping whichever
// concrete kind above triggered an abort, carrying the group/partition
// identifiers for the log line.
type DefragmentationError struct {
	Group     string
	Partition int // -1 if not partition-scoped
	Err       error
}

func (e *DefragmentationError) Error() string {
	if e.Partition >= 0 {
		return fmt.Sprintf("defragmentation failed (group=%s partition=%d): %v", e.Group, e.Partition, e.Err)
	}
	return fmt.Sprintf("defragmentation failed (group=%s): %v", e.Group, e.Err)
}
func (e *DefragmentationError) Unwrap() error { return e.Err }
