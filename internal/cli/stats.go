package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsReset bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory store table counts",
	Long: `Show the record count of each memory table.

Examples:
  storyboard stats
  storyboard stats --reset`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsReset, "reset", false, "wipe all memory tables")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close(ctx)

	if statsReset {
		if err := st.Reset(ctx); err != nil {
			return fmt.Errorf("reset store: %w", err)
		}
		fmt.Println("All memory tables wiped")
	}

	counts, err := st.Counts(ctx)
	if err != nil {
		return fmt.Errorf("count tables: %w", err)
	}

	fmt.Printf("Memory store (%s)\n", cfg.StoreBackend)
	fmt.Printf("  Canonical chunks: %d\n", counts.Chunks)
	fmt.Printf("  Episodes:         %d\n", counts.Episodes)
	fmt.Printf("  Frames:           %d\n", counts.Frames)
	fmt.Printf("  Failures:         %d\n", counts.Failures)
	return nil
}
