package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// LoadKDL attempts to load configuration from a .cstcache.kdl file in dir.
// Returns (nil, nil) when the file does not exist.
func LoadKDL(dir string) (*Config, error) {
	kdlPath := filepath.Join(dir, ".cstcache.kdl")

	if _, err := os.Stat(kdlPath); os.IsNotExist(err) {
		return nil, nil
	}

	content, err := os.ReadFile(kdlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read .cstcache.kdl: %w", err)
	}

	cfg, err := parseKDL(string(content))
	if err != nil {
		return nil, err
	}

	if cfg.StorageDir != "" && !filepath.IsAbs(cfg.StorageDir) {
		cfg.StorageDir = filepath.Clean(filepath.Join(dir, cfg.StorageDir))
	}

	return cfg, nil
}

// parseKDL parses the §6.4 option table out of a KDL document, starting
// from Default() and overwriting whichever fields the document sets.
func parseKDL(content string) (*Config, error) {
	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	cfg := Default()

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "storage_dir":
			assignSimpleString(n, "storage_dir", func(s string) { cfg.StorageDir = s })
		case "disk_quota_bytes":
			if v, ok := firstSizeArg(n); ok {
				cfg.DiskQuotaBytes = v
			}
		case "memory_budget_bytes":
			if v, ok := firstSizeArg(n); ok {
				cfg.MemoryBudgetBytes = v
			}
		case "hot_fraction":
			if v, ok := firstFloatArg(n); ok {
				cfg.HotFraction = v
			}
		case "warm_fraction":
			if v, ok := firstFloatArg(n); ok {
				cfg.WarmFraction = v
			}
		case "segment_size_bytes":
			if v, ok := firstSizeArg(n); ok {
				cfg.SegmentSizeBytes = v
			}
		case "segment_lru_capacity":
			if v, ok := firstIntArg(n); ok {
				cfg.SegmentLRUCapacity = v
			}
		case "promote_hot_threshold":
			if v, ok := firstIntArg(n); ok {
				cfg.PromoteHotThreshold = int64(v)
			}
		case "promote_warm_threshold":
			if v, ok := firstIntArg(n); ok {
				cfg.PromoteWarmThreshold = int64(v)
			}
		case "demote_warm_idle":
			if d, ok := firstDurationArg(n); ok {
				cfg.DemoteWarmIdle = d
			}
		case "demote_cold_idle":
			if d, ok := firstDurationArg(n); ok {
				cfg.DemoteColdIdle = d
			}
		case "demote_frozen_idle":
			if d, ok := firstDurationArg(n); ok {
				cfg.DemoteFrozenIdle = d
			}
		case "enable_compression":
			if b, ok := firstBoolArg(n); ok {
				cfg.EnableCompression = b
			}
		case "compression_algorithm":
			assignSimpleString(n, "compression_algorithm", func(s string) { cfg.CompressionAlgorithm = s })
		case "interner_byte_cap":
			if v, ok := firstSizeArg(n); ok {
				cfg.InternerByteCap = v
			}
		case "journal_max_edits":
			if v, ok := firstIntArg(n); ok {
				cfg.JournalMaxEdits = v
			}
		case "test_mode":
			if b, ok := firstBoolArg(n); ok {
				cfg.TestMode = b
			}
		case "respect_gitignore":
			if b, ok := firstBoolArg(n); ok {
				cfg.RespectGitignore = b
			}
		case "include":
			cfg.Include = append(cfg.Include, collectStringArgs(n)...)
		case "exclude":
			cfg.Exclude = collectStringArgs(n)
		}
	}

	return cfg, nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func firstFloatArg(n *document.Node) (float64, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// firstSizeArg accepts either a bare integer (bytes) or a suffixed size
// string like "256KB"/"2GB", matching the teacher's parseSize convention.
func firstSizeArg(n *document.Node) (int64, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		size, err := parseSize(v)
		if err != nil {
			return 0, false
		}
		return size, true
	default:
		return 0, false
	}
}

// firstDurationArg accepts a duration string ("30s", "5m") or a bare integer
// of milliseconds.
func firstDurationArg(n *document.Node) (time.Duration, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, false
		}
		return d, true
	case int64:
		return time.Duration(v) * time.Millisecond, true
	default:
		return 0, false
	}
}

func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}

	if len(out) == 0 && len(n.Children) > 0 {
		out = make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}

	return out
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}

// parseSize parses strings like "10MB", "500KB", "1GB", "128B".
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		multiplier = 1
		numStr = strings.TrimSuffix(s, "B")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
	if err != nil {
		return 0, err
	}

	return num * multiplier, nil
}
