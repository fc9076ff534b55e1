package config

import (
	"time"
)

// Config represents the plugin host configuration
type Config struct {
	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Loader
	Loader LoaderConfig `json:"loader" mapstructure:"loader"`

	// Hooks
	Hooks HooksConfig `json:"hooks" mapstructure:"hooks"`

	// Health checks
	Health HealthConfig `json:"health" mapstructure:"health"`

	// Sandbox policy defaults
	Sandbox SandboxConfig `json:"sandbox" mapstructure:"sandbox"`

	// Storage
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Per-plugin configuration overrides keyed by plugin id
	Plugins map[string]map[string]any `json:"plugins" mapstructure:"plugins"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// LoaderConfig holds plugin loader settings
type LoaderConfig struct {
	AllowedExtensions []string      `json:"allowed_extensions" mapstructure:"allowed_extensions"`
	MaxSourceSize     int64         `json:"max_source_size" mapstructure:"max_source_size"`
	HTTPTimeout       time.Duration `json:"http_timeout" mapstructure:"http_timeout"`
	WatchStability    time.Duration `json:"watch_stability" mapstructure:"watch_stability"`
	Directories       []string      `json:"directories" mapstructure:"directories"`
}

// HooksConfig holds hook pipeline defaults
type HooksConfig struct {
	DefaultTimeout time.Duration `json:"default_timeout" mapstructure:"default_timeout"`
	MaxRetries     int           `json:"max_retries" mapstructure:"max_retries"`
	BackoffCap     time.Duration `json:"backoff_cap" mapstructure:"backoff_cap"`
}

// HealthConfig holds health sweep settings
type HealthConfig struct {
	Schedule       string        `json:"schedule" mapstructure:"schedule"`
	Debounce       time.Duration `json:"debounce" mapstructure:"debounce"`
	MaxErrorCount  int           `json:"max_error_count" mapstructure:"max_error_count"`
	MaxMemoryBytes int64         `json:"max_memory_bytes" mapstructure:"max_memory_bytes"`
	MaxCPUPercent  float64       `json:"max_cpu_percent" mapstructure:"max_cpu_percent"`
}

// SandboxConfig holds default sandbox policy settings
type SandboxConfig struct {
	Capabilities []string      `json:"capabilities" mapstructure:"capabilities"`
	MemoryLimit  int64         `json:"memory_limit" mapstructure:"memory_limit"`
	CPUBudget    float64       `json:"cpu_budget" mapstructure:"cpu_budget"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
}

// StorageConfig holds plugin storage settings
type StorageConfig struct {
	// Backend selects the storage backend: memory or sqlite
	Backend string `json:"backend" mapstructure:"backend"`

	// Path is the sqlite database path when the sqlite backend is used
	Path string `json:"path" mapstructure:"path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Loader: LoaderConfig{
			AllowedExtensions: []string{".json", ".so", ".wasm"},
			MaxSourceSize:     8 << 20,
			HTTPTimeout:       30 * time.Second,
			WatchStability:    250 * time.Millisecond,
		},
		Hooks: HooksConfig{
			DefaultTimeout: 30 * time.Second,
			MaxRetries:     3,
			BackoffCap:     2 * time.Second,
		},
		Health: HealthConfig{
			Schedule:       "@every 5m",
			Debounce:       10 * time.Second,
			MaxErrorCount:  5,
			MaxMemoryBytes: 256 << 20,
			MaxCPUPercent:  80,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Plugins: make(map[string]map[string]any),
	}
}
