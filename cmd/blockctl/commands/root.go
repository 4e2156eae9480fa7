// Package commands implements the blockctl CLI commands.
package commands

import (
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/archivemail/blockstore/internal/cli/output"
	"github.com/archivemail/blockstore/pkg/metrics"
	"github.com/spf13/cobra"

	// Blank-imported so its init() registers the Prometheus-backed
	// collector constructors with pkg/metrics before any command runs.
	_ "github.com/archivemail/blockstore/pkg/metrics/prometheus"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// globalFlags holds the global flag values accessible by subcommands.
var globalFlags = struct {
	Output  string
	NoColor bool
	Verbose bool
	Metrics bool
}{}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "blockctl",
	Short: "blockctl - archive file inspection and maintenance",
	Long: `blockctl operates directly on block-store archive files on disk.

Use this tool to inspect an archive's blocks, verify its hash chain,
create or recover checkpoints, and compact an archive offline.

Use "blockctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		globalFlags.Output, _ = cmd.Flags().GetString("output")
		globalFlags.NoColor, _ = cmd.Flags().GetBool("no-color")
		globalFlags.Verbose, _ = cmd.Flags().GetBool("verbose")
		globalFlags.Metrics, _ = cmd.Flags().GetBool("metrics")
		if globalFlags.Metrics {
			metrics.InitRegistry()
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if globalFlags.Metrics {
			printMetrics(cmd)
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().Bool("metrics", false, "Collect Prometheus metrics for this run and print them on exit")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// printer returns an output.Printer configured from the global flags.
func printer() *output.Printer {
	format, err := output.ParseFormat(globalFlags.Output)
	if err != nil {
		format = output.FormatTable
	}
	return output.NewPrinter(os.Stdout, format, !globalFlags.NoColor)
}

// printMetrics renders the process-wide registry in Prometheus exposition
// format to cmd's error stream. It drives the same promhttp handler a
// real scrape would hit, via an in-memory request/response pair, since
// blockctl is a one-shot command rather than a server with something to
// scrape it.
func printMetrics(cmd *cobra.Command) {
	h := metrics.Handler()
	if h == nil {
		return
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	_, _ = cmd.ErrOrStderr().Write(rec.Body.Bytes())
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
