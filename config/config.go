// Package config loads bridge configuration from YAML or TOML files, with
// environment variable expansion, FFI_* overrides, defaults and validation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/ffi-bridge/errors"
)

// validate is shared; building a validator caches struct metadata.
var validate = validator.New()

// Config is the root configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	HTTP    HTTPConfig    `yaml:"http" toml:"http"`
	Wasm    WasmConfig    `yaml:"wasm" toml:"wasm"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
	Limits  LimitsConfig  `yaml:"limits" toml:"limits"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"oneof=json console"`
	// File enables a rotated file sink in addition to stderr.
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// LimitsConfig bounds decoded values.
type LimitsConfig struct {
	// MaxLength caps string, sequence and map lengths when lifting. 0 = no cap.
	MaxLength int `yaml:"max_length" toml:"max_length" validate:"gte=0"`
}

// HTTPConfig configures the HTTP bridge.
type HTTPConfig struct {
	Addr         string   `yaml:"addr" toml:"addr" validate:"required"`
	ReadTimeout  Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout" toml:"write_timeout"`
	MaxBodyBytes int64    `yaml:"max_body_bytes" toml:"max_body_bytes" validate:"gt=0"`
}

// WasmConfig configures the WebAssembly bridge.
type WasmConfig struct {
	// Module is the guest to load; empty disables the bridge.
	Module string `yaml:"module" toml:"module"`
	// MemoryLimitPages caps guest memory in 64KiB pages. 0 = runtime default.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages" toml:"memory_limit_pages" validate:"lte=65536"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path" validate:"startswith=/"`
}

// Duration is a time.Duration written as "30s" in config files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	setDefaults(cfg)
	return cfg
}

// Load reads configuration from a .yaml, .yml or .toml file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read config")
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, errors.Unsupported(errors.PhaseConfig, "config format "+ext)
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse config")
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it is set, and otherwise returns defaults
// with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	applyEnvOverrides(cfg)
	setDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "validate config")
	}
	return nil
}

// applyEnvOverrides applies FFI_* environment variables. They always win
// over file values.
//
//	FFI_LOG_LEVEL        debug, info, warn, error
//	FFI_LOG_FORMAT       json or console
//	FFI_LOG_FILE         rotated log file path
//	FFI_HTTP_ADDR        listen address
//	FFI_HTTP_READ_TIMEOUT, FFI_HTTP_WRITE_TIMEOUT
//	FFI_MAX_LENGTH       lift length cap
//	FFI_WASM_MODULE      guest module path
//	FFI_METRICS_ENABLED  true/false
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FFI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FFI_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("FFI_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("FFI_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("FFI_HTTP_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("FFI_HTTP_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("FFI_MAX_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxLength = n
		}
	}
	if v := os.Getenv("FFI_WASM_MODULE"); v != "" {
		cfg.Wasm.Module = v
	}
	if v := os.Getenv("FFI_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.File != "" && cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = Duration(30 * time.Second)
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = Duration(60 * time.Second)
	}
	if cfg.HTTP.MaxBodyBytes == 0 {
		cfg.HTTP.MaxBodyBytes = 4 << 20
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
