package commands

import (
	"fmt"

	"github.com/archivemail/blockstore/pkg/block"
	"github.com/archivemail/blockstore/pkg/compact"
	"github.com/spf13/cobra"
)

var compactDryRun bool

var compactCmd = &cobra.Command{
	Use:   "compact <src> <dst>",
	Short: "Rewrite an archive keeping only the latest version of each block",
	Long: `compact replays src in its original append order into a new
archive at dst, keeping only the most recent write for each block ID and
dropping any block that can no longer be read. Use --dry-run to preview
the block-kind counts of src without writing anything.

Examples:
  blockctl compact archive.blk archive.compacted.blk
  blockctl compact --dry-run archive.blk archive.blk`,
	Args: cobra.ExactArgs(2),
	RunE: runCompact,
}

func init() {
	compactCmd.Flags().BoolVar(&compactDryRun, "dry-run", false, "Report block-kind counts without writing a new archive")
}

type kindCountRows map[block.Kind]int

func (r kindCountRows) Headers() []string { return []string{"KIND", "COUNT"} }

func (r kindCountRows) Rows() [][]string {
	out := make([][]string, 0, len(r))
	for kind, count := range r {
		out = append(out, []string{kind.String(), fmt.Sprintf("%d", count)})
	}
	return out
}

type compactReportRow compact.Report

func (r compactReportRow) Headers() []string { return []string{"FIELD", "VALUE"} }

func (r compactReportRow) Rows() [][]string {
	return [][]string{
		{"blocks_kept", fmt.Sprintf("%d", r.BlocksKept)},
		{"blocks_dropped", fmt.Sprintf("%d", r.BlocksDropped)},
		{"bytes_before", fmt.Sprintf("%d", r.BytesBefore)},
		{"bytes_after", fmt.Sprintf("%d", r.BytesAfter)},
	}
}

func runCompact(cmd *cobra.Command, args []string) error {
	if compactDryRun {
		counts, err := compact.DryRun(args[0])
		if err != nil {
			return fmt.Errorf("dry run %s: %w", args[0], err)
		}
		return printer().Print(kindCountRows(counts))
	}

	report, err := compact.Compact(args[0], args[1])
	if err != nil {
		return fmt.Errorf("compact %s -> %s: %w", args[0], args[1], err)
	}
	return printer().Print(compactReportRow(report))
}
