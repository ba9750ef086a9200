package config

import (
	"fmt"

	cerrors "github.com/standardbeagle/cstcache/internal/errors"
)

// Validator validates a Config and fills in smart defaults for zero-valued
// fields, mirroring the teacher's ValidateAndSetDefaults shape.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults validates cfg, returning a *errors.ConfigError on
// the first violation it finds.
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	if err := v.validateTierConfig(cfg); err != nil {
		return cerrors.NewConfigError("tier", "", err)
	}
	if err := v.validateSegmentConfig(cfg); err != nil {
		return cerrors.NewConfigError("segment", "", err)
	}
	if err := v.validateCompressionConfig(cfg); err != nil {
		return cerrors.NewConfigError("compression", "", err)
	}
	if err := v.validateStorageConfig(cfg); err != nil {
		return cerrors.NewConfigError("storage", "", err)
	}

	v.setSmartDefaults(cfg)
	return nil
}

func (v *Validator) validateTierConfig(cfg *Config) error {
	if cfg.MemoryBudgetBytes <= 0 {
		return fmt.Errorf("MemoryBudgetBytes must be positive, got %d", cfg.MemoryBudgetBytes)
	}
	if cfg.HotFraction <= 0 || cfg.HotFraction >= 1 {
		return fmt.Errorf("HotFraction must be in (0, 1), got %v", cfg.HotFraction)
	}
	if cfg.WarmFraction <= 0 || cfg.WarmFraction >= 1 {
		return fmt.Errorf("WarmFraction must be in (0, 1), got %v", cfg.WarmFraction)
	}
	if cfg.HotFraction+cfg.WarmFraction > 1 {
		return fmt.Errorf("HotFraction + WarmFraction must not exceed 1, got %v", cfg.HotFraction+cfg.WarmFraction)
	}
	if cfg.PromoteHotThreshold <= 0 {
		return fmt.Errorf("PromoteHotThreshold must be positive, got %d", cfg.PromoteHotThreshold)
	}
	if cfg.PromoteWarmThreshold <= 0 {
		return fmt.Errorf("PromoteWarmThreshold must be positive, got %d", cfg.PromoteWarmThreshold)
	}
	if cfg.DemoteWarmIdle <= 0 || cfg.DemoteColdIdle <= 0 || cfg.DemoteFrozenIdle <= 0 {
		return fmt.Errorf("demote idle thresholds must be positive (warm=%v cold=%v frozen=%v)",
			cfg.DemoteWarmIdle, cfg.DemoteColdIdle, cfg.DemoteFrozenIdle)
	}
	if cfg.DemoteWarmIdle >= cfg.DemoteColdIdle {
		return fmt.Errorf("DemoteWarmIdle (%v) must be shorter than DemoteColdIdle (%v)", cfg.DemoteWarmIdle, cfg.DemoteColdIdle)
	}
	if cfg.DemoteColdIdle >= cfg.DemoteFrozenIdle {
		return fmt.Errorf("DemoteColdIdle (%v) must be shorter than DemoteFrozenIdle (%v)", cfg.DemoteColdIdle, cfg.DemoteFrozenIdle)
	}
	return nil
}

func (v *Validator) validateSegmentConfig(cfg *Config) error {
	if cfg.SegmentSizeBytes <= 0 {
		return fmt.Errorf("SegmentSizeBytes must be positive, got %d", cfg.SegmentSizeBytes)
	}
	if cfg.SegmentLRUCapacity <= 0 {
		return fmt.Errorf("SegmentLRUCapacity must be positive, got %d", cfg.SegmentLRUCapacity)
	}
	if cfg.InternerByteCap <= 0 {
		return fmt.Errorf("InternerByteCap must be positive, got %d", cfg.InternerByteCap)
	}
	if cfg.JournalMaxEdits <= 0 {
		return fmt.Errorf("JournalMaxEdits must be positive, got %d", cfg.JournalMaxEdits)
	}
	return nil
}

func (v *Validator) validateCompressionConfig(cfg *Config) error {
	if !cfg.EnableCompression {
		return nil
	}
	switch cfg.CompressionAlgorithm {
	case "none", "zstd", "lz4":
		return nil
	default:
		return fmt.Errorf("unknown compression_algorithm %q, want one of none|zstd|lz4", cfg.CompressionAlgorithm)
	}
}

func (v *Validator) validateStorageConfig(cfg *Config) error {
	if cfg.DiskQuotaBytes <= 0 {
		return fmt.Errorf("DiskQuotaBytes must be positive, got %d", cfg.DiskQuotaBytes)
	}
	if cfg.StorageDir == "" {
		return fmt.Errorf("StorageDir must not be empty")
	}
	return nil
}

// setSmartDefaults fills in anything the validator allows to be zero at
// parse time but that downstream code needs concretely set.
func (v *Validator) setSmartDefaults(cfg *Config) {
	if cfg.CompressionAlgorithm == "" {
		cfg.CompressionAlgorithm = "zstd"
	}
}

// ValidateConfig is a convenience wrapper around Validator for call sites
// that don't need to reuse a Validator instance.
func ValidateConfig(cfg *Config) error {
	return NewValidator().ValidateAndSetDefaults(cfg)
}
