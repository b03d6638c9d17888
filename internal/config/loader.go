package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// DefaultFileName is the project-local config file.
	DefaultFileName = "stagehand.yaml"

	envPrefix = "STAGEHAND_"
)

// Load reads configuration from a YAML file, overlays environment
// variables, applies defaults, and validates.
//
// Precedence (highest to lowest):
//  1. Environment variables (STAGEHAND_BUDGET_PAID_CALLS, ...)
//  2. YAML config file
//  3. Built-in defaults
//
// When path is empty the loader looks for ./stagehand.yaml and falls back
// to ~/.config/stagehand/config.yaml. A missing file is not an error; the
// defaults stand.
//
// The file must not be world-writable and must not exceed 1MB. Properties
// are checked on the already-opened descriptor so the file cannot be
// swapped between validation and read.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	if resolved != "" {
		if _, err := os.Stat(resolved); err == nil {
			f, err := os.Open(resolved)
			if err != nil {
				return nil, fmt.Errorf("failed to open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			if err := validateFileProperties(info); err != nil {
				return nil, fmt.Errorf("config file validation failed: %w", err)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", resolved, err)
			}
		} else if path != "" {
			// An explicitly requested file must exist.
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	// Environment overlay. STAGEHAND_BUDGET_PAID_CALLS -> budget.paid_calls:
	// the first underscore separates section from field, the rest stay in
	// the field name.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		trimmed := strings.TrimPrefix(s, envPrefix)
		lower := strings.ToLower(trimmed)
		section, field, ok := strings.Cut(lower, "_")
		if !ok {
			return lower
		}
		return section + "." + field
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// resolvePath picks the config file to load. Empty return means no file.
func resolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if _, err := os.Stat(DefaultFileName); err == nil {
		return DefaultFileName, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "stagehand", "config.yaml"), nil
}

// validateFileProperties checks permissions and size on an opened file.
// The config carries no secrets, so group/other read is fine; a
// world-writable file is rejected because anyone could steer tool
// invocations through it.
func validateFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm&0o002 != 0 {
			return fmt.Errorf("config file is world-writable: %v", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults fills missing values. Partial tool or pipeline entries are
// completed field by field so a YAML that sets only tools.codex.model keeps
// the built-in binary and timeouts.
func applyDefaults(cfg *Config) {
	def := NewDefaultConfig()

	if cfg.TaskRoot == "" {
		cfg.TaskRoot = def.TaskRoot
	}
	if cfg.Budget.PaidCalls == 0 {
		cfg.Budget.PaidCalls = def.Budget.PaidCalls
	}
	if cfg.Budget.RetryBudget == 0 {
		cfg.Budget.RetryBudget = def.Budget.RetryBudget
	}
	if cfg.Session.Mode == "" {
		cfg.Session.Mode = def.Session.Mode
	}
	if cfg.Stage.HeartbeatInterval == 0 {
		cfg.Stage.HeartbeatInterval = def.Stage.HeartbeatInterval
	}
	if cfg.Summary.MaxBytes == 0 {
		cfg.Summary.MaxBytes = def.Summary.MaxBytes
	}
	if cfg.Review.BarrierTimeout == 0 {
		cfg.Review.BarrierTimeout = def.Review.BarrierTimeout
	}
	if cfg.Review.MaxSecurityRounds == 0 {
		cfg.Review.MaxSecurityRounds = def.Review.MaxSecurityRounds
	}
	if len(cfg.Review.Lenses) == 0 {
		cfg.Review.Lenses = def.Review.Lenses
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = def.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}

	if len(cfg.Tools) == 0 {
		cfg.Tools = def.Tools
	} else {
		for name, tool := range cfg.Tools {
			if tool.Binary == "" {
				tool.Binary = name
			}
			if tool.Timeout == 0 {
				tool.Timeout = Duration(10 * time.Minute)
			}
			if tool.TimeoutMode == "" {
				tool.TimeoutMode = "enforce"
			}
			if tool.RateRPS == 0 {
				tool.RateRPS = 0.5
			}
			if tool.RateBurst == 0 {
				tool.RateBurst = 1
			}
			cfg.Tools[name] = tool
		}
	}

	if cfg.Review.FixTool == "" {
		if _, ok := cfg.Tools[def.Review.FixTool]; ok {
			cfg.Review.FixTool = def.Review.FixTool
		}
	}

	if len(cfg.Pipelines) == 0 {
		cfg.Pipelines = def.Pipelines
	} else {
		for id, p := range cfg.Pipelines {
			if p.Phase == "" {
				p.Phase = id
			}
			cfg.Pipelines[id] = p
		}
	}

	if len(cfg.Profiles) == 0 {
		cfg.Profiles = def.Profiles
	}
}
