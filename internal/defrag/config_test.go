package defrag

import (
	"testing"

	"github.com/nodestore/defrag/internal/pagestore"
)

func TestDefaultConfig_Fields(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Worker != "coordinator" {
		t.Fatalf("worker = %q, want %q", cfg.Worker, "coordinator")
	}
	if cfg.pageSize() != pagestore.DefaultPageSize {
		t.Fatalf("pageSize() = %d, want %d", cfg.pageSize(), pagestore.DefaultPageSize)
	}
}

func TestConfig_PageSizeFallsBackWhenZero(t *testing.T) {
	var cfg Config
	if cfg.pageSize() != pagestore.DefaultPageSize {
		t.Fatalf("zero-value Config.pageSize() = %d, want default %d", cfg.pageSize(), pagestore.DefaultPageSize)
	}
}

func TestConfig_PageSizeHonorsExplicitValue(t *testing.T) {
	cfg := Config{PageSize: 8192}
	if cfg.pageSize() != 8192 {
		t.Fatalf("pageSize() = %d, want 8192", cfg.pageSize())
	}
}
