package defrag

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GroupFilterConfig is the optional cacheGroupsForDefragmentation
// allow-list, loaded from YAML since the engine itself does no flag/env
// parsing.
type GroupFilterConfig struct {
	CacheGroupsForDefragmentation []string `yaml:"cacheGroupsForDefragmentation"`
}

// LoadGroupFilterConfig reads a GroupFilterConfig from path. A missing file
// is not an error — it means "no filter configured"; an absent list
// behaves the same as an empty one.
func LoadGroupFilterConfig(path string) (*GroupFilterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &GroupFilterConfig{}, nil
		}
		return nil, fmt.Errorf("group filter config: read %s: %w", path, err)
	}
	var cfg GroupFilterConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("group filter config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Allows reports whether group passes the filter: true if the filter set is
// empty, or group is a member of it.
func (c *GroupFilterConfig) Allows(group string) bool {
	if c == nil || len(c.CacheGroupsForDefragmentation) == 0 {
		return true
	}
	for _, g := range c.CacheGroupsForDefragmentation {
		if g == group {
			return true
		}
	}
	return false
}
