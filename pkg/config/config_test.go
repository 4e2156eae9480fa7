package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfigIsValid(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, Validate(cfg))
	require.Equal(t, "INFO", cfg.Logging.Level)
	require.Equal(t, "text", cfg.Logging.Format)
	require.Equal(t, "raw_bytes", cfg.Store.DefaultEncoding)
	require.Equal(t, "hybrid", cfg.Batch.Policy)
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "NOISY"
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsBadBatchPolicy(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Batch.Policy = "whenever"
	require.Error(t, Validate(cfg))
}

func TestValidateRequiresStorePath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store.Path = ""
	require.Error(t, Validate(cfg))
}

func TestLoadFallsBackToDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, "INFO", cfg.Logging.Level)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
store:
  path: /var/lib/blockstore/archive.blk
  max_payload_size: "32Mi"
batch:
  policy: size
  target_size: "2Mi"
logging:
  level: debug
  format: json
  output: stderr
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/blockstore/archive.blk", cfg.Store.Path)
	require.Equal(t, "size", cfg.Batch.Policy)
	require.Equal(t, "DEBUG", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := GetDefaultConfig()
	cfg.Store.Path = "/tmp/archive.blk"

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/archive.blk", loaded.Store.Path)
}

func TestMustLoadErrorsWhenConfigMissing(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
