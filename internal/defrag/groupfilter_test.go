package defrag

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadGroupFilterConfig_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := LoadGroupFilterConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("expected a missing filter file to be treated as an empty filter, got %v", err)
	}
	if !cfg.Allows("anything") {
		t.Fatal("an empty filter should allow every group")
	}
}

func TestLoadGroupFilterConfig_ParsesAllowList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.yaml")
	content := "cacheGroupsForDefragmentation:\n  - sessions\n  - profiles\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadGroupFilterConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Allows("sessions") || !cfg.Allows("profiles") {
		t.Fatal("expected listed groups to be allowed")
	}
	if cfg.Allows("other") {
		t.Fatal("expected a group outside the allow-list to be rejected")
	}
}

func TestLoadGroupFilterConfig_MalformedYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("cacheGroupsForDefragmentation: [unterminated"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadGroupFilterConfig(path); err == nil {
		t.Fatal("expected malformed YAML to produce an error")
	}
}

func TestGroupFilterConfig_AllowsNilReceiver(t *testing.T) {
	var cfg *GroupFilterConfig
	if !cfg.Allows("anything") {
		t.Fatal("a nil *GroupFilterConfig should allow every group")
	}
}
