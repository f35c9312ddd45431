package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Scan every transaction slot and recover torn commits",
	Long: `replay opens a device without assuming any prior in-memory state
and scans every transaction slot's commit record: a committed transaction
is reapplied and its slot reset to empty, anything else (a torn subcommit,
an uninitialized slot) is discarded. This is exactly what happens at mount
time before a filesystem layer is allowed to issue its first read.

Examples:
  patchfsctl replay`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().Uint64("blocks", 4096, "Total blocks to allocate for the device")
}

func runReplay(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	numBlocks, _ := cmd.Flags().GetUint64("blocks")

	st, err := openStack(configPath, numBlocks)
	if err != nil {
		return err
	}
	defer closeStack(st)

	if err := st.journal.Replay(); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	fmt.Println("✓ replay complete")
	return nil
}
