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

	"github.com/fyrsmithlabs/camlearnd/internal/feedback"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "CAMLEARND_"
)

// Load loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CAMLEARND_STORAGE_PATH, CAMLEARND_LOGGING_LEVEL, etc.)
//  2. YAML config file (~/.config/camlearnd/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty,
// the default path is used and a missing file falls through to the
// defaults. An explicitly given path must exist.
//
// # Security Considerations
//
// File Permissions: Configuration file MUST have 0600 permissions (owner
// read/write only). Files with weaker permissions (e.g., 0644
// world-readable) will be rejected.
//
// Path Validation: Only configuration files in allowed directories can
// be loaded:
//   - ~/.config/camlearnd/ (user's config directory)
//   - /etc/camlearnd/ (system-wide config directory)
//
// Absolute paths outside these directories are rejected to prevent path
// traversal attacks.
//
// File Size Limit: Configuration files larger than 1MB are rejected to
// prevent resource exhaustion attacks.
//
// # Environment Variable Mapping
//
// Environment variables carry the CAMLEARND_ prefix, use underscore
// separator, and are uppercased. The transformer maps them to YAML
// field names:
//
//	CAMLEARND_STORAGE_PATH            -> storage.path
//	CAMLEARND_LEARNING_HALF_LIFE_DAYS -> learning.half_life_days
//	CAMLEARND_TELEMETRY_ENDPOINT      -> telemetry.endpoint
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	explicit := configPath != ""
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "camlearnd", "config.yaml")
	}

	// Validate config path (even if file doesn't exist)
	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open file once and validate using file descriptor to avoid TOCTOU race
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}

		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Use rawbytes provider to avoid re-opening the file
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// Strip the prefix, then split on the first underscore only:
		// section.field_name, with underscores kept inside the field.
		//
		// Examples:
		//   CAMLEARND_STORAGE_BUSY_TIMEOUT -> storage.busy_timeout
		//   CAMLEARND_LOGGING_LEVEL        -> logging.level
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)

		if len(parts) == 1 {
			return lower
		}

		return parts[0] + "." + parts[1]
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

// EnsureConfigDir creates the camlearnd config directory if it doesn't
// exist. The directory is created with 0700 permissions (owner
// read/write/execute only).
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "camlearnd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	return nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Resolve symlinks so a link cannot escape the allowed directories.
	// If evaluation fails the path may not exist yet; validate the
	// absolute path instead.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "camlearnd"),
		"/etc/camlearnd",
	}

	allowed := false
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			allowed = true
			break
		}
	}

	if !allowed {
		return fmt.Errorf("config file must be in ~/.config/camlearnd/ or /etc/camlearnd/")
	}

	return nil
}

// validateConfigFileProperties checks file permissions and size.
// Takes FileInfo from an already-opened file descriptor to avoid a
// TOCTOU race.
func validateConfigFileProperties(info os.FileInfo) error {
	// Check file permissions (must be 0600 or 0400)
	// Skip on Windows (different permission model)
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
// Storage.Path intentionally stays empty; the storage package resolves
// the per-user default on open.
func applyDefaults(cfg *Config) {
	// Storage defaults
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = Duration(5 * time.Second)
	}
	if cfg.Storage.QueryTimeout == 0 {
		cfg.Storage.QueryTimeout = Duration(10 * time.Second)
	}

	// Learning defaults mirror the engine's own
	def := feedback.DefaultConfig()
	if cfg.Learning.HalfLifeDays == 0 {
		cfg.Learning.HalfLifeDays = def.HalfLifeDays
	}
	if cfg.Learning.MinSamples == 0 {
		cfg.Learning.MinSamples = def.MinSamples
	}
	if cfg.Learning.FullTrustSamples == 0 {
		cfg.Learning.FullTrustSamples = def.FullTrustSamples
	}
	if cfg.Learning.ConfidenceFloor == 0 {
		cfg.Learning.ConfidenceFloor = def.ConfidenceFloor
	}
	if cfg.Learning.TentativeBelow == 0 {
		cfg.Learning.TentativeBelow = def.TentativeBelow
	}
	if cfg.Learning.ExplicitMultiplier == 0 {
		cfg.Learning.ExplicitMultiplier = def.ExplicitMultiplier
	}
	if cfg.Learning.ConflictGap == 0 {
		cfg.Learning.ConflictGap = def.ConflictGap
	}
	if cfg.Learning.QueryLimit == 0 {
		cfg.Learning.QueryLimit = def.QueryLimit
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	// Telemetry defaults. Disabled unless the user opts in; a local
	// collector normally also needs insecure: true.
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "camlearnd"
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = 1.0
	}
	if cfg.Telemetry.MetricInterval == 0 {
		cfg.Telemetry.MetricInterval = Duration(30 * time.Second)
	}
	if cfg.Telemetry.ShutdownTimeout == 0 {
		cfg.Telemetry.ShutdownTimeout = Duration(5 * time.Second)
	}
}
