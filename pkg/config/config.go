// Package config loads and validates the static configuration for an
// archive's block store, hash chain, checkpoint policy, and batch
// packer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/archivemail/blockstore/internal/bytesize"
)

// Config is the static configuration for a blockstore archive. Within
// this module only blockctl's config commands load it; no package
// applies its settings automatically.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (BLOCKSTORE_*), for keys the file sets
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// When no configuration file is found, Load returns the default values
// and does not read the environment. There is no CLI-flag layer.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics holds the metrics settings.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Store configures the underlying block file.
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Checkpoint configures automatic checkpointing.
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`

	// Batch configures the batch packer.
	Batch BatchConfig `mapstructure:"batch" yaml:"batch"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig holds metrics settings. No package reads it: collection
// is switched on by metrics.InitRegistry (blockctl's --metrics flag), and
// no metrics HTTP server is started.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// StoreConfig configures the on-disk block file itself.
type StoreConfig struct {
	// Path is the archive file's location on disk (required).
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// CreateIfMissing controls whether Open creates Path when it does
	// not already exist.
	CreateIfMissing bool `mapstructure:"create_if_missing" yaml:"create_if_missing"`

	// ReadOnly selects read-only access to the archive (see
	// blockstore.OpenReadOnly).
	ReadOnly bool `mapstructure:"read_only" yaml:"read_only"`

	// MaxPayloadSize caps an individual block's payload size, below the
	// wire format's int32 ceiling. Supports human-readable formats
	// ("16Mi", "64MB").
	MaxPayloadSize bytesize.ByteSize `mapstructure:"max_payload_size" yaml:"max_payload_size"`

	// DefaultEncoding names the payload_encoding new blocks use when the
	// caller does not specify one explicitly. Valid values: none,
	// raw_bytes, json, protobuf, messagepack, gzip, zstd, brotli, lz4.
	DefaultEncoding string `mapstructure:"default_encoding" validate:"omitempty,oneof=none raw_bytes json protobuf messagepack gzip zstd brotli lz4" yaml:"default_encoding"`
}

// CheckpointConfig holds checkpoint creation and retention settings. No
// package in this module runs system checkpoints on a schedule from it.
type CheckpointConfig struct {
	// Enabled is the on/off setting for automatic system checkpoints.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval is how often automatic system checkpoints run.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// MaxPerBlock is the retention depth passed to PruneOldCheckpoints.
	MaxPerBlock int `mapstructure:"max_per_block" validate:"omitempty,min=1" yaml:"max_per_block"`

	// IncludedKinds restricts system checkpoints to these block kinds;
	// empty means all kinds.
	IncludedKinds []string `mapstructure:"included_kinds" yaml:"included_kinds,omitempty"`

	// MinSize is the minimum payload size, in bytes, eligible for
	// automatic checkpointing.
	MinSize int64 `mapstructure:"min_size" yaml:"min_size"`
}

// BatchConfig configures the batch packer.
type BatchConfig struct {
	// Policy selects the packer's flush trigger: size, time, hybrid, or
	// adaptive.
	Policy string `mapstructure:"policy" validate:"omitempty,oneof=size time hybrid adaptive" yaml:"policy"`

	// TargetSize is the byte threshold for size/hybrid policies.
	// Supports human-readable formats ("1Mi", "2MB").
	TargetSize bytesize.ByteSize `mapstructure:"target_size" yaml:"target_size"`

	// MaxWindow is the time threshold for time/hybrid policies.
	MaxWindow time.Duration `mapstructure:"max_window" yaml:"max_window"`

	// SmartBatch enables the JSON metadata header on flushed batches.
	SmartBatch bool `mapstructure:"smart_batch" yaml:"smart_batch"`

	// Compression names a compression codec to apply to flushed
	// batches; empty disables compression. Valid values: gzip, zstd,
	// brotli, lz4.
	Compression string `mapstructure:"compression" validate:"omitempty,oneof=gzip zstd brotli lz4" yaml:"compression,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, producing a user-friendly error if
// configPath (or the default location) does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"create one first:\n"+
				"  blockctl config init\n\n"+
				"or pass a config file path explicitly:\n"+
				"  blockctl config show /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("BLOCKSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "blockstore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "blockstore")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
