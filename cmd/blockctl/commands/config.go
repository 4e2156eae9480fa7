package commands

import (
	"fmt"

	"github.com/archivemail/blockstore/internal/cli/output"
	"github.com/archivemail/blockstore/pkg/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and initialize blockctl configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Print the effective configuration",
	Long: `show loads configuration from the file at [path] (or the default
config path if omitted), with BLOCKSTORE_* environment variables
overriding keys the file sets and built-in defaults for the rest. When no
file is found it shows the built-in defaults. No other blockctl command
reads this configuration.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	p := printer()
	if p.Format() == output.FormatTable {
		return output.SimpleTable(p.Writer(), [][2]string{
			{"store.path", cfg.Store.Path},
			{"store.create_if_missing", fmt.Sprintf("%t", cfg.Store.CreateIfMissing)},
			{"store.read_only", fmt.Sprintf("%t", cfg.Store.ReadOnly)},
			{"store.max_payload_size", cfg.Store.MaxPayloadSize.String()},
			{"store.default_encoding", cfg.Store.DefaultEncoding},
			{"checkpoint.enabled", fmt.Sprintf("%t", cfg.Checkpoint.Enabled)},
			{"checkpoint.interval", cfg.Checkpoint.Interval.String()},
			{"checkpoint.max_per_block", fmt.Sprintf("%d", cfg.Checkpoint.MaxPerBlock)},
			{"batch.policy", cfg.Batch.Policy},
			{"batch.target_size", cfg.Batch.TargetSize.String()},
			{"batch.max_window", cfg.Batch.MaxWindow.String()},
			{"batch.smart_batch", fmt.Sprintf("%t", cfg.Batch.SmartBatch)},
			{"batch.compression", cfg.Batch.Compression},
			{"logging.level", cfg.Logging.Level},
			{"logging.format", cfg.Logging.Format},
			{"metrics.enabled", fmt.Sprintf("%t", cfg.Metrics.Enabled)},
			{"metrics.port", fmt.Sprintf("%d", cfg.Metrics.Port)},
		})
	}
	return p.Print(cfg)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.GetDefaultConfigPath()
	if len(args) == 1 {
		path = args[0]
	}

	if config.DefaultConfigExists() && len(args) == 0 {
		return fmt.Errorf("default config already exists at %s", path)
	}

	cfg := config.GetDefaultConfig()
	if err := config.SaveConfig(cfg, path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	printer().Success(fmt.Sprintf("wrote default configuration to %s", path))
	return nil
}
