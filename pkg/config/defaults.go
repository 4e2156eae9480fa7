package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/archivemail/blockstore/internal/bytesize"
	"github.com/archivemail/blockstore/pkg/checkpoint"
)

// GetDefaultConfig returns a Config populated entirely with defaults,
// suitable for first-run use without a config file.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Store: StoreConfig{
			Path: filepath.Join("blockstore", "archive.blk"),
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values (0, "", false) are replaced with defaults;
// explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyStoreDefaults(&cfg.Store)
	applyCheckpointDefaults(&cfg.Checkpoint)
	applyBatchDefaults(&cfg.Batch)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.MaxPayloadSize == 0 {
		cfg.MaxPayloadSize = 64 * bytesize.MiB
	}
	if cfg.DefaultEncoding == "" {
		cfg.DefaultEncoding = "raw_bytes"
	}
}

func applyCheckpointDefaults(cfg *CheckpointConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.MaxPerBlock == 0 {
		cfg.MaxPerBlock = checkpoint.DefaultMaxPerBlock
	}
}

func applyBatchDefaults(cfg *BatchConfig) {
	if cfg.Policy == "" {
		cfg.Policy = "hybrid"
	}
	if cfg.TargetSize == 0 {
		cfg.TargetSize = bytesize.ByteSize(1 * 1024 * 1024)
	}
	if cfg.MaxWindow == 0 {
		cfg.MaxWindow = 5 * time.Second
	}
}
