// Package kernel ties the pieces built in internal/mm, internal/heap,
// internal/vspace, internal/vfs and internal/replica into one bootable
// core: a boot-time configuration document, a per-core control block,
// and a background reaper that returns idle cache pages to their node.
package kernel

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nros-project/corekernel/internal/mm"
)

// NodeConfig describes one NUMA node's physical memory region at boot:
// its affinity id and the total byte size to carve a GlobalMemory
// region out of.
type NodeConfig struct {
	Affinity  mm.NodeID `yaml:"affinity"`
	RegionMiB uint64    `yaml:"region_mib"`
}

// BootConfig is the YAML document kerneld reads at startup, mirroring
// the teacher's struct-tagged config idiom (see
// SimonWaldherr-tinySQL's example fixtures using the same
// gopkg.in/yaml.v3 library).
type BootConfig struct {
	Nodes             []NodeConfig `yaml:"nodes"`
	BaseStackCapacity int          `yaml:"base_stack_capacity"`
	LargeStackCapacity int         `yaml:"large_stack_capacity"`
	ReaperIntervalCron string      `yaml:"reaper_interval_cron"`
	ReaperTargetFreePct int        `yaml:"reaper_target_free_pct"`
}

// DefaultBootConfig is used when no config file is supplied: a single
// NUMA node with a modest region, matching the early-boot single-node
// assumption spec.md §4.F makes before any topology is known.
func DefaultBootConfig() BootConfig {
	return BootConfig{
		Nodes: []NodeConfig{
			{Affinity: 0, RegionMiB: 64},
		},
		BaseStackCapacity:   4096,
		LargeStackCapacity:  64,
		ReaperIntervalCron:  "@every 30s",
		ReaperTargetFreePct: 25,
	}
}

// LoadBootConfig reads and parses a YAML boot config from path.
func LoadBootConfig(path string) (BootConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BootConfig{}, err
	}
	var cfg BootConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return BootConfig{}, err
	}
	if cfg.BaseStackCapacity == 0 {
		cfg.BaseStackCapacity = DefaultBootConfig().BaseStackCapacity
	}
	if cfg.LargeStackCapacity == 0 {
		cfg.LargeStackCapacity = DefaultBootConfig().LargeStackCapacity
	}
	if cfg.ReaperIntervalCron == "" {
		cfg.ReaperIntervalCron = DefaultBootConfig().ReaperIntervalCron
	}
	if cfg.ReaperTargetFreePct == 0 {
		cfg.ReaperTargetFreePct = DefaultBootConfig().ReaperTargetFreePct
	}
	return cfg, nil
}

// Regions turns the config's node list into the []mm.Frame shape
// NewGlobalMemory expects: one contiguous region per node, based at 0
// within that node's arena (Frame.Base is an offset into the node's
// own backing arena, not a global physical address — see
// internal/mm/frame.go).
func (c BootConfig) Regions() []mm.Frame {
	regions := make([]mm.Frame, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		size := n.RegionMiB * 1024 * 1024
		regions = append(regions, mm.NewFrame(0, size, n.Affinity))
	}
	return regions
}
