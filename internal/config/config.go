// Package config provides configuration loading for camlearnd.
//
// Configuration comes from a YAML file overridden by CAMLEARND_*
// environment variables. Every tunable has a default, so a missing
// config file is not an error.
package config

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/camlearnd/internal/feedback"
)

// Config holds the complete camlearnd configuration.
type Config struct {
	Storage   StorageConfig   `koanf:"storage"`
	Learning  LearningConfig  `koanf:"learning"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// StorageConfig holds SQLite database configuration.
type StorageConfig struct {
	// Path is the database file location. Empty means the per-user
	// default under ~/.camlearnd.
	Path string `koanf:"path"`

	// BusyTimeout is how long a connection waits on a locked database
	// before failing.
	BusyTimeout Duration `koanf:"busy_timeout"`

	// QueryTimeout bounds each tool call that touches the database.
	QueryTimeout Duration `koanf:"query_timeout"`
}

// LearningConfig tunes the confidence engine. Field semantics and valid
// ranges are documented on feedback.Config; this struct only carries
// the values from file and environment to it.
type LearningConfig struct {
	HalfLifeDays       float64 `koanf:"half_life_days"`
	MinSamples         int     `koanf:"min_samples"`
	FullTrustSamples   int     `koanf:"full_trust_samples"`
	ConfidenceFloor    float64 `koanf:"confidence_floor"`
	TentativeBelow     float64 `koanf:"tentative_below"`
	ExplicitMultiplier float64 `koanf:"explicit_multiplier"`
	ConflictGap        float64 `koanf:"conflict_gap"`
	QueryLimit         int     `koanf:"query_limit"`
}

// LoggingConfig holds log output configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // console or json
}

// TelemetryConfig holds OpenTelemetry export configuration.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"` // grpc or http/protobuf
	ServiceName     string   `koanf:"service_name"`
	Insecure        bool     `koanf:"insecure"` // Use insecure connection (no TLS)
	TLSSkipVerify   bool     `koanf:"tls_skip_verify"`
	SampleRatio     float64  `koanf:"sample_ratio"`
	MetricInterval  Duration `koanf:"metric_interval"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// DefaultConfig returns the configuration used when no file and no
// environment overrides are present.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Feedback converts the learning section into the engine's tuning type.
func (c *Config) Feedback() feedback.Config {
	return feedback.Config{
		HalfLifeDays:       c.Learning.HalfLifeDays,
		MinSamples:         c.Learning.MinSamples,
		FullTrustSamples:   c.Learning.FullTrustSamples,
		ConfidenceFloor:    c.Learning.ConfidenceFloor,
		TentativeBelow:     c.Learning.TentativeBelow,
		ExplicitMultiplier: c.Learning.ExplicitMultiplier,
		ConflictGap:        c.Learning.ConflictGap,
		QueryLimit:         c.Learning.QueryLimit,
	}
}

// Validate checks the configuration for errors.
//
// Learning values are validated by the engine's own Config.Validate so
// the valid ranges live in exactly one place.
func (c *Config) Validate() error {
	if c.Storage.BusyTimeout.Duration() <= 0 {
		return fmt.Errorf("storage.busy_timeout must be positive")
	}
	if c.Storage.QueryTimeout.Duration() <= 0 {
		return fmt.Errorf("storage.query_timeout must be positive")
	}

	if err := c.Feedback().Validate(); err != nil {
		return fmt.Errorf("learning: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return err
	}

	return c.Telemetry.Validate()
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Level)
	}

	switch c.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Format)
	}

	return nil
}

// Validate checks the telemetry configuration.
func (c *TelemetryConfig) Validate() error {
	if !c.Enabled {
		return nil // No validation needed if disabled
	}

	if c.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}

	if c.ServiceName == "" {
		return fmt.Errorf("telemetry.service_name is required when telemetry is enabled")
	}

	switch c.Protocol {
	case "grpc", "http/protobuf":
	default:
		return fmt.Errorf("telemetry.protocol must be grpc or http/protobuf, got %q", c.Protocol)
	}

	// Security: Prevent insecure connections to remote endpoints
	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; set insecure=false for TLS or use a local endpoint (localhost/127.0.0.1)")
	}

	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1, got %f", c.SampleRatio)
	}

	if c.MetricInterval.Duration() <= 0 {
		return fmt.Errorf("telemetry.metric_interval must be positive")
	}

	if c.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("telemetry.shutdown_timeout must be positive")
	}

	return nil
}

// isLocalEndpoint checks if the endpoint is a local address.
func (c *TelemetryConfig) isLocalEndpoint() bool {
	host := c.Endpoint

	// Handle IPv6 addresses (may be bracketed like [::1]:4317)
	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]:"); idx != -1 {
			host = host[1:idx]
		} else if strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	} else if strings.Count(host, ":") == 1 {
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}
	}

	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(c.Endpoint, "::1")
}
