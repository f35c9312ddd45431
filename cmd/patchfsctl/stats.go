package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print device and patch-graph configuration",
	Long: `stats reports the geometry of the configured device — block size,
slot count, transaction size — and the free-list length of the patch graph
backing it, for a quick look without standing up the full metrics server.

Examples:
  patchfsctl stats --config ./patchfs.yaml`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().Uint64("blocks", 4096, "Total blocks to allocate for the device")
}

func runStats(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	numBlocks, _ := cmd.Flags().GetUint64("blocks")

	st, err := openStack(configPath, numBlocks)
	if err != nil {
		return err
	}
	defer closeStack(st)

	fmt.Println("Device:")
	fmt.Printf("  Data directory: %s\n", st.cfg.DataDir)
	fmt.Printf("  Block size: %d bytes\n", st.base.BlockSize())
	fmt.Printf("  Total blocks: %d\n", st.base.NumBlocks())
	fmt.Printf("  Device level (base): %d\n", st.base.DevLevel())
	fmt.Printf("  Device level (journal): %d\n", st.journal.DevLevel())
	fmt.Println("Journal:")
	fmt.Printf("  Transaction slots: %d\n", st.cfg.NumSlots)
	fmt.Printf("  Transaction size: %d bytes\n", st.cfg.TransactionSize)
	fmt.Printf("  Transaction period: %s\n", st.cfg.TransactionPeriod())
	fmt.Printf("  Atomic groups allowed: %t\n", st.cfg.AtomicPatchgroupAllowed)
	fmt.Println("Patch graph:")
	fmt.Printf("  Free-list length: %d\n", st.engine.FreeListLen())
	return nil
}
