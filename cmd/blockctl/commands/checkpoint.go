package commands

import (
	"fmt"

	"github.com/archivemail/blockstore/pkg/blockstore"
	"github.com/archivemail/blockstore/pkg/checkpoint"
	"github.com/archivemail/blockstore/pkg/metrics"
	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Create and inspect block checkpoints",
}

var checkpointCreateCopy bool

var checkpointCreateCmd = &cobra.Command{
	Use:   "create <archive> <block-id>",
	Short: "Create a checkpoint for a block",
	Long: `create writes a new checkpoint for the given block ID. By default
it writes a reference checkpoint (offset + hash); pass --copy to write an
independent copy of the block's encoded bytes that can rescue a later
corrupted read.`,
	Args: cobra.ExactArgs(2),
	RunE: runCheckpointCreate,
}

var checkpointHistoryCmd = &cobra.Command{
	Use:   "history <archive> <block-id>",
	Short: "List the checkpoints recorded for a block",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheckpointHistory,
}

var checkpointRecoverCmd = &cobra.Command{
	Use:   "recover <archive> <block-id>",
	Short: "Recover a block from its newest valid copy-type checkpoint",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheckpointRecover,
}

func init() {
	checkpointCreateCmd.Flags().BoolVar(&checkpointCreateCopy, "copy", false, "Write a copy-type checkpoint instead of a reference")
	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointHistoryCmd)
	checkpointCmd.AddCommand(checkpointRecoverCmd)
}

func openCheckpointManager(path string, readOnly bool) (*blockstore.Manager, *checkpoint.Manager, error) {
	var mgr *blockstore.Manager
	var err error
	if readOnly {
		mgr, err = blockstore.OpenReadOnly(path)
	} else {
		mgr, err = blockstore.Open(path, false)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	mgr.SetMetrics(metrics.NewBlockstoreMetrics())

	cm, err := checkpoint.Load(mgr)
	if err != nil {
		mgr.Close()
		return nil, nil, fmt.Errorf("load checkpoints: %w", err)
	}
	cm.SetMetrics(metrics.NewChainMetrics())
	return mgr, cm, nil
}

func parseBlockID(arg string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(arg, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid block id %q: %w", arg, err)
	}
	return id, nil
}

func runCheckpointCreate(cmd *cobra.Command, args []string) error {
	blockID, err := parseBlockID(args[1])
	if err != nil {
		return err
	}

	mgr, cm, err := openCheckpointManager(args[0], false)
	if err != nil {
		return err
	}
	defer mgr.Close()

	id, err := cm.CreateCheckpoint(blockID, checkpointCreateCopy)
	if err != nil {
		return err
	}

	p := printer()
	p.Success(fmt.Sprintf("created checkpoint %s for block %d", id, blockID))
	return nil
}

type checkpointRows []checkpoint.Record

func (r checkpointRows) Headers() []string {
	return []string{"CHECKPOINT ID", "COPY", "OFFSET", "HASH", "CREATED AT", "OBSOLETE"}
}

func (r checkpointRows) Rows() [][]string {
	out := make([][]string, len(r))
	for i, rec := range r {
		out[i] = []string{
			rec.CheckpointID,
			fmt.Sprintf("%t", rec.IsCopy),
			fmt.Sprintf("%d", rec.TargetOffset),
			rec.TargetHash,
			fmt.Sprintf("%d", rec.CreatedAt),
			fmt.Sprintf("%t", rec.Obsolete),
		}
	}
	return out
}

func runCheckpointHistory(cmd *cobra.Command, args []string) error {
	blockID, err := parseBlockID(args[1])
	if err != nil {
		return err
	}

	mgr, cm, err := openCheckpointManager(args[0], true)
	if err != nil {
		return err
	}
	defer mgr.Close()

	history := cm.GetCheckpointHistory(blockID)
	return printer().Print(checkpointRows(history))
}

func runCheckpointRecover(cmd *cobra.Command, args []string) error {
	blockID, err := parseBlockID(args[1])
	if err != nil {
		return err
	}

	mgr, cm, err := openCheckpointManager(args[0], true)
	if err != nil {
		return err
	}
	defer mgr.Close()

	blk, err := cm.RecoverBlock(blockID)
	if err != nil {
		return err
	}

	p := printer()
	p.Success(fmt.Sprintf("recovered block %d: kind=%s payload_len=%d", blk.BlockID, blk.Kind, len(blk.Payload)))
	return nil
}
