package defragerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestUnsupportedMetaVersion_IsCheckableViaErrorsAs(t *testing.T) {
	err := fmt.Errorf("copy meta: %w", &UnsupportedMetaVersion{Partition: 3, Version: 9})
	var target *UnsupportedMetaVersion
	if !errors.As(err, &target) {
		t.Fatal("expected errors.As to find UnsupportedMetaVersion through the wrap")
	}
	if target.Partition != 3 || target.Version != 9 {
		t.Fatalf("unexpected fields: %+v", target)
	}
}

func TestPageIOError_Unwraps(t *testing.T) {
	inner := errors.New("disk full")
	err := &PageIOError{Op: "write", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatal("expected errors.Is to see through PageIOError.Unwrap")
	}
}

func TestDefragmentationError_PartitionScopedMessage(t *testing.T) {
	err := &DefragmentationError{Group: "sessions", Partition: 2, Err: errors.New("boom")}
	want := "defragmentation failed (group=sessions partition=2): boom"
	if err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
}

func TestDefragmentationError_GroupScopedMessage(t *testing.T) {
	err := &DefragmentationError{Group: "sessions", Partition: -1, Err: errors.New("boom")}
	want := "defragmentation failed (group=sessions): boom"
	if err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
}

func TestCheckpointFailed_Unwraps(t *testing.T) {
	inner := errors.New("flush failed")
	err := &CheckpointFailed{Reason: "partition defragmented", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatal("expected errors.Is to see through CheckpointFailed.Unwrap")
	}
}
