// Package config loads and validates cstcache configuration.
//
// Configuration follows the same layering the teacher uses: a global config
// in the user's home directory, a project config that overrides it, and
// hardcoded defaults when neither file is present. The primary on-disk
// format is KDL (github.com/sblinch/kdl-go); a TOML file is accepted as a
// fallback for projects that already standardized on TOML elsewhere.
package config

import (
	"os"
	"time"
)

// Config holds every tunable named in the configuration option table:
// memory budget and tier fractions, segment/compression settings, disk and
// journal limits, and the file-selection options the ingest CLI uses.
type Config struct {
	Version int

	// Storage
	StorageDir     string
	DiskQuotaBytes int64

	// Memory budget and tier fractions (§4.8). HotFraction+WarmFraction must
	// be <= 1; the remainder is implicitly available to Cold before entries
	// are frozen to disk.
	MemoryBudgetBytes int64
	HotFraction       float64
	WarmFraction      float64

	// Segmented bytecode stream (§4.5)
	SegmentSizeBytes   int64
	SegmentLRUCapacity int

	// Tier promotion/demotion thresholds (§4.8)
	PromoteHotThreshold  int64
	PromoteWarmThreshold int64
	DemoteWarmIdle       time.Duration
	DemoteColdIdle       time.Duration
	DemoteFrozenIdle     time.Duration

	// Compression (§4.5, §6.3)
	EnableCompression     bool
	CompressionAlgorithm  string // "none", "zstd", or "lz4" (lz4 tag accepted, not yet implemented)

	// Interner and journal limits (§4.2, §4.7)
	InternerByteCap int64
	JournalMaxEdits int

	TestMode bool

	// File selection for cmd/cstcache-ingest, mirroring the teacher's
	// Include/Exclude glob lists and gitignore handling.
	Include          []string
	Exclude          []string
	RespectGitignore bool
}

// Default tier fractions and thresholds, chosen so a fresh config is
// immediately usable without a config file.
const (
	DefaultMemoryBudgetBytes    = 256 * 1024 * 1024
	DefaultHotFraction          = 0.15
	DefaultWarmFraction         = 0.35
	DefaultSegmentSizeBytes     = 256 * 1024
	DefaultSegmentLRUCapacity   = 64
	DefaultPromoteHotThreshold  = 8
	DefaultPromoteWarmThreshold = 2
	DefaultDemoteWarmIdle       = 30 * time.Second
	DefaultDemoteColdIdle       = 5 * time.Minute
	DefaultDemoteFrozenIdle     = 30 * time.Minute
	DefaultDiskQuotaBytes       = 2 * 1024 * 1024 * 1024
	DefaultInternerByteCap      = 64 * 1024 * 1024
	DefaultJournalMaxEdits      = 256
)

// Load loads configuration for the project at path, applying the same
// global+project layering as LoadWithRoot.
func Load(path string) (*Config, error) {
	return LoadWithRoot(path, "")
}

// LoadWithRoot loads a global config from the user's home directory (if
// present), a project config from rootDir (or path if rootDir is empty),
// and merges them, project taking precedence. Falls back to Default() when
// neither file exists.
func LoadWithRoot(path string, rootDir string) (*Config, error) {
	searchDir := path
	if rootDir != "" {
		searchDir = rootDir
	}

	var baseConfig *Config
	if homeDir, err := os.UserHomeDir(); err == nil {
		if globalCfg, err := loadFile(homeDir); err == nil && globalCfg != nil {
			baseConfig = globalCfg
		}
	}

	projectConfig, err := loadFile(searchDir)
	if err != nil {
		return nil, err
	}

	var cfg *Config
	switch {
	case baseConfig != nil && projectConfig != nil:
		cfg = mergeConfigs(baseConfig, projectConfig)
	case projectConfig != nil:
		cfg = projectConfig
	case baseConfig != nil:
		cfg = baseConfig
	default:
		cfg = Default()
	}

	if cfg.StorageDir == "" {
		cfg.StorageDir = defaultStorageDir(searchDir)
	}
	if cfg.TestMode {
		cfg.ApplyTestModeThresholds()
	}

	return cfg, nil
}

// ApplyTestModeThresholds shortens the tier's idle-demotion thresholds so a
// test harness doesn't have to sleep for the production-sized durations
// (minutes) to observe Hot -> Warm -> Cold -> Frozen transitions. Called
// automatically by LoadWithRoot when test_mode is set in the loaded
// config; callers building a Config by hand (e.g. config.Default() plus
// cfg.TestMode = true) should call it explicitly.
func (c *Config) ApplyTestModeThresholds() {
	const testIdle = 10 * time.Millisecond
	c.DemoteWarmIdle = testIdle
	c.DemoteColdIdle = testIdle
	c.DemoteFrozenIdle = testIdle
}

// loadFile tries the KDL config first, then the TOML fallback. Returns
// (nil, nil) when neither file is present.
func loadFile(dir string) (*Config, error) {
	if cfg, err := LoadKDL(dir); err != nil {
		return nil, err
	} else if cfg != nil {
		return cfg, nil
	}
	return LoadTOML(dir)
}

// Default returns hardcoded defaults, used when no config file is found.
func Default() *Config {
	return &Config{
		Version:              1,
		MemoryBudgetBytes:    DefaultMemoryBudgetBytes,
		HotFraction:          DefaultHotFraction,
		WarmFraction:         DefaultWarmFraction,
		SegmentSizeBytes:     DefaultSegmentSizeBytes,
		SegmentLRUCapacity:   DefaultSegmentLRUCapacity,
		PromoteHotThreshold:  DefaultPromoteHotThreshold,
		PromoteWarmThreshold: DefaultPromoteWarmThreshold,
		DemoteWarmIdle:       DefaultDemoteWarmIdle,
		DemoteColdIdle:       DefaultDemoteColdIdle,
		DemoteFrozenIdle:     DefaultDemoteFrozenIdle,
		EnableCompression:    true,
		CompressionAlgorithm: "zstd",
		DiskQuotaBytes:       DefaultDiskQuotaBytes,
		InternerByteCap:      DefaultInternerByteCap,
		JournalMaxEdits:      DefaultJournalMaxEdits,
		RespectGitignore:     true,
		Exclude:              defaultExcludePatterns(),
	}
}

func defaultStorageDir(root string) string {
	if root == "" || root == "." {
		cwd, err := os.Getwd()
		if err == nil {
			root = cwd
		}
	}
	return root + string(os.PathSeparator) + ".cstcache"
}

// mergeConfigs merges a base (global) config with a project config. The
// project config takes precedence for scalar fields; exclusions are unioned
// so a global exclusion list is never silently dropped.
func mergeConfigs(base, project *Config) *Config {
	merged := *project

	if len(base.Exclude) > 0 {
		excludeSet := make(map[string]bool, len(base.Exclude)+len(project.Exclude))
		for _, pattern := range base.Exclude {
			excludeSet[pattern] = true
		}
		for _, pattern := range project.Exclude {
			excludeSet[pattern] = true
		}
		merged.Exclude = make([]string, 0, len(excludeSet))
		for pattern := range excludeSet {
			merged.Exclude = append(merged.Exclude, pattern)
		}
	}

	if len(project.Include) == 0 && len(base.Include) > 0 {
		merged.Include = base.Include
	}

	return &merged
}

// EnrichExclusionsWithBuildArtifacts detects language-specific build output
// directories under root and appends them to Exclude, deduplicated.
func (c *Config) EnrichExclusionsWithBuildArtifacts(root string) {
	if root == "" {
		return
	}
	detector := NewBuildArtifactDetector(root)
	detected := detector.DetectOutputDirectories()
	if len(detected) > 0 {
		c.Exclude = DeduplicatePatterns(append(c.Exclude, detected...))
	}
}

func defaultExcludePatterns() []string {
	return []string{
		"**/.git/**",
		"**/.*/**",
		"**/node_modules/**",
		"**/vendor/**",
		"**/dist/**",
		"**/build/**",
		"**/target/**",
		"**/bin/**",
		"**/obj/**",
		"**/__pycache__/**",
		"**/*.pyc",
	}
}
