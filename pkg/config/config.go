// Package config provides configuration structures and loading logic for the
// prediction service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults mirror the original deployment profile: a 7860 listen port and
// worker timeouts of 120s with a 30s graceful drain.
const (
	DefaultListenAddr   = ":7860"
	DefaultArtifactsDir = "artifacts"
	DefaultMetricsPath  = "/metrics"

	defaultReadTimeout     = 120 * time.Second
	defaultWriteTimeout    = 120 * time.Second
	defaultIdleTimeout     = 5 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultMaxBodyBytes    = 10 << 20
)

// Config holds the service configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":7860")
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// ArtifactsDir is the directory holding the model artifacts
	ArtifactsDir string `yaml:"artifacts_dir" json:"artifacts_dir"`

	// Log configuration
	Log *LogConfig `yaml:"log,omitempty" json:"log,omitempty"`

	// Server holds HTTP server tuning
	Server *ServerConfig `yaml:"server,omitempty" json:"server,omitempty"`

	// Metrics controls the Prometheus endpoint
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`

	// Tracing controls OTLP span export
	Tracing *TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`

	// Watch controls the artifact drift watcher
	Watch *WatchConfig `yaml:"watch,omitempty" json:"watch,omitempty"`

	// ONNX holds onnxruntime settings for ONNX pipeline artifacts
	ONNX *ONNXConfig `yaml:"onnx,omitempty" json:"onnx,omitempty"`
}

// LogConfig selects the log handler and minimum level.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`

	// Pretty switches to a human-readable handler
	Pretty bool `yaml:"pretty" json:"pretty"`
}

// ServerConfig holds HTTP server tuning. Timeouts are duration strings
// ("120s", "2m"); empty values fall back to the defaults.
type ServerConfig struct {
	ReadTimeout     string `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     string `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// MaxBodyBytes caps the /predict request body size
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes"`
}

// MetricsConfig exposes the Prometheus scrape endpoint.
type MetricsConfig struct {
	// Enabled turns the metrics endpoint on
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Path is the HTTP path for the metrics endpoint (default: /metrics)
	Path string `yaml:"path" json:"path"`
}

// TracingConfig holds OpenTelemetry tracing configuration.
type TracingConfig struct {
	// Enabled turns span export on
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Endpoint is the OTLP collector address (host:port)
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// ServiceName identifies this process in exported spans
	ServiceName string `yaml:"service_name" json:"service_name"`

	// Insecure disables TLS towards the OTLP endpoint
	Insecure bool `yaml:"insecure" json:"insecure"`

	// Environment tags exported spans (e.g., "staging")
	Environment string `yaml:"environment" json:"environment"`
}

// WatchConfig controls the artifact drift watcher.
type WatchConfig struct {
	// Enabled determines if artifact files are watched for drift after load
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// ONNXConfig holds onnxruntime settings.
type ONNXConfig struct {
	// LibraryPath points at the onnxruntime shared library
	LibraryPath string `yaml:"library_path" json:"library_path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:   DefaultListenAddr,
		ArtifactsDir: DefaultArtifactsDir,
		Log: &LogConfig{
			Level:  "info",
			Pretty: false,
		},
		Server: &ServerConfig{
			MaxBodyBytes: defaultMaxBodyBytes,
		},
		Metrics: &MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
		Tracing: &TracingConfig{
			Enabled:     false,
			ServiceName: "claimscore",
		},
		Watch: &WatchConfig{
			Enabled: true,
		},
		ONNX: &ONNXConfig{},
	}
}

// Load reads configuration from a file (YAML, with a JSON fallback) and
// applies environment variable overrides. An empty path loads defaults plus
// overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 -- config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Explicit nulls in the config file clear subsections; restore the ones
	// the overrides and the service itself dereference.
	if cfg.Log == nil {
		cfg.Log = &LogConfig{Level: "info"}
	}
	if cfg.Tracing == nil {
		cfg.Tracing = &TracingConfig{ServiceName: "claimscore"}
	}
	if cfg.ONNX == nil {
		cfg.ONNX = &ONNXConfig{}
	}

	if val := os.Getenv("CLAIMSCORE_LISTEN_ADDR"); val != "" {
		cfg.ListenAddr = val
	}
	// PORT is honored for parity with the original deployment profile.
	if val := os.Getenv("PORT"); val != "" && os.Getenv("CLAIMSCORE_LISTEN_ADDR") == "" {
		cfg.ListenAddr = ":" + val
	}

	if val := os.Getenv("CLAIMSCORE_ARTIFACTS_DIR"); val != "" {
		cfg.ArtifactsDir = val
	} else if val := os.Getenv("ARTIFACTS_DIR"); val != "" {
		cfg.ArtifactsDir = val
	}

	if val := os.Getenv("CLAIMSCORE_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}

	if val := os.Getenv("CLAIMSCORE_OTLP_ENDPOINT"); val != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Endpoint = val
	}
	if val := os.Getenv("CLAIMSCORE_OTLP_INSECURE"); val == "true" {
		cfg.Tracing.Insecure = true
	}

	if val := os.Getenv("CLAIMSCORE_ONNX_LIB"); val != "" {
		cfg.ONNX.LibraryPath = val
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if strings.TrimSpace(c.ArtifactsDir) == "" {
		return fmt.Errorf("artifacts_dir must not be empty")
	}
	if c.Server != nil {
		for name, raw := range map[string]string{
			"read_timeout":     c.Server.ReadTimeout,
			"write_timeout":    c.Server.WriteTimeout,
			"idle_timeout":     c.Server.IdleTimeout,
			"shutdown_timeout": c.Server.ShutdownTimeout,
		} {
			if raw == "" {
				continue
			}
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("server.%s: %w", name, err)
			}
			if d < 0 {
				return fmt.Errorf("server.%s must not be negative", name)
			}
		}
		if c.Server.MaxBodyBytes <= 0 {
			return fmt.Errorf("server.max_body_bytes must be positive")
		}
	}
	if c.Metrics != nil && c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return nil
}

// ReadTimeout returns the parsed read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return c.serverDuration(func(s *ServerConfig) string { return s.ReadTimeout }, defaultReadTimeout)
}

// WriteTimeout returns the parsed write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return c.serverDuration(func(s *ServerConfig) string { return s.WriteTimeout }, defaultWriteTimeout)
}

// IdleTimeout returns the parsed keep-alive idle timeout.
func (c *Config) IdleTimeout() time.Duration {
	return c.serverDuration(func(s *ServerConfig) string { return s.IdleTimeout }, defaultIdleTimeout)
}

// ShutdownTimeout returns the parsed graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return c.serverDuration(func(s *ServerConfig) string { return s.ShutdownTimeout }, defaultShutdownTimeout)
}

// MaxBodyBytes returns the request body cap.
func (c *Config) MaxBodyBytes() int64 {
	if c.Server == nil || c.Server.MaxBodyBytes <= 0 {
		return defaultMaxBodyBytes
	}
	return c.Server.MaxBodyBytes
}

func (c *Config) serverDuration(pick func(*ServerConfig) string, def time.Duration) time.Duration {
	if c.Server == nil {
		return def
	}
	raw := pick(c.Server)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return def
	}
	return d
}
