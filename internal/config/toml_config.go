package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// tomlConfig mirrors Config's fields using TOML-friendly types (TOML has no
// native duration type, so idle thresholds are milliseconds here).
type tomlConfig struct {
	StorageDir           string   `toml:"storage_dir"`
	DiskQuotaBytes       int64    `toml:"disk_quota_bytes"`
	MemoryBudgetBytes    int64    `toml:"memory_budget_bytes"`
	HotFraction          float64  `toml:"hot_fraction"`
	WarmFraction         float64  `toml:"warm_fraction"`
	SegmentSizeBytes     int64    `toml:"segment_size_bytes"`
	SegmentLRUCapacity   int      `toml:"segment_lru_capacity"`
	PromoteHotThreshold  int64    `toml:"promote_hot_threshold"`
	PromoteWarmThreshold int64    `toml:"promote_warm_threshold"`
	DemoteWarmIdleMs     int64    `toml:"demote_warm_idle_ms"`
	DemoteColdIdleMs     int64    `toml:"demote_cold_idle_ms"`
	DemoteFrozenIdleMs   int64    `toml:"demote_frozen_idle_ms"`
	EnableCompression    bool     `toml:"enable_compression"`
	CompressionAlgorithm string   `toml:"compression_algorithm"`
	InternerByteCap      int64    `toml:"interner_byte_cap"`
	JournalMaxEdits      int      `toml:"journal_max_edits"`
	TestMode             bool     `toml:"test_mode"`
	RespectGitignore     bool     `toml:"respect_gitignore"`
	Include              []string `toml:"include"`
	Exclude              []string `toml:"exclude"`
}

// LoadTOML attempts to load configuration from a .cstcache.toml file in dir,
// the fallback format for projects that prefer TOML to KDL. Returns
// (nil, nil) when the file does not exist.
func LoadTOML(dir string) (*Config, error) {
	tomlPath := filepath.Join(dir, ".cstcache.toml")

	data, err := os.ReadFile(tomlPath)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read .cstcache.toml: %w", err)
	}

	var raw tomlConfig
	cfg := Default()
	raw.StorageDir = cfg.StorageDir
	raw.DiskQuotaBytes = cfg.DiskQuotaBytes
	raw.MemoryBudgetBytes = cfg.MemoryBudgetBytes
	raw.HotFraction = cfg.HotFraction
	raw.WarmFraction = cfg.WarmFraction
	raw.SegmentSizeBytes = cfg.SegmentSizeBytes
	raw.SegmentLRUCapacity = cfg.SegmentLRUCapacity
	raw.PromoteHotThreshold = cfg.PromoteHotThreshold
	raw.PromoteWarmThreshold = cfg.PromoteWarmThreshold
	raw.DemoteWarmIdleMs = cfg.DemoteWarmIdle.Milliseconds()
	raw.DemoteColdIdleMs = cfg.DemoteColdIdle.Milliseconds()
	raw.DemoteFrozenIdleMs = cfg.DemoteFrozenIdle.Milliseconds()
	raw.EnableCompression = cfg.EnableCompression
	raw.CompressionAlgorithm = cfg.CompressionAlgorithm
	raw.InternerByteCap = cfg.InternerByteCap
	raw.JournalMaxEdits = cfg.JournalMaxEdits
	raw.RespectGitignore = cfg.RespectGitignore
	raw.Exclude = cfg.Exclude

	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse .cstcache.toml: %w", err)
	}

	cfg.StorageDir = raw.StorageDir
	cfg.DiskQuotaBytes = raw.DiskQuotaBytes
	cfg.MemoryBudgetBytes = raw.MemoryBudgetBytes
	cfg.HotFraction = raw.HotFraction
	cfg.WarmFraction = raw.WarmFraction
	cfg.SegmentSizeBytes = raw.SegmentSizeBytes
	cfg.SegmentLRUCapacity = raw.SegmentLRUCapacity
	cfg.PromoteHotThreshold = raw.PromoteHotThreshold
	cfg.PromoteWarmThreshold = raw.PromoteWarmThreshold
	cfg.DemoteWarmIdle = time.Duration(raw.DemoteWarmIdleMs) * time.Millisecond
	cfg.DemoteColdIdle = time.Duration(raw.DemoteColdIdleMs) * time.Millisecond
	cfg.DemoteFrozenIdle = time.Duration(raw.DemoteFrozenIdleMs) * time.Millisecond
	cfg.EnableCompression = raw.EnableCompression
	cfg.CompressionAlgorithm = raw.CompressionAlgorithm
	cfg.InternerByteCap = raw.InternerByteCap
	cfg.JournalMaxEdits = raw.JournalMaxEdits
	cfg.TestMode = raw.TestMode
	cfg.RespectGitignore = raw.RespectGitignore
	cfg.Include = raw.Include
	cfg.Exclude = raw.Exclude

	if cfg.StorageDir != "" && !filepath.IsAbs(cfg.StorageDir) {
		cfg.StorageDir = filepath.Clean(filepath.Join(dir, cfg.StorageDir))
	}

	return cfg, nil
}
