package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/storyboard-go/internal/metrics"
	"github.com/raphaelgruber/storyboard-go/internal/workflow"
)

var reportCmd = &cobra.Command{
	Use:   "report <run-dir>",
	Short: "Regenerate the metrics report for a run",
	Long: `Rebuild metrics.json and report.md from a run's saved state.

Example:
  storyboard report output/run_20260901_120000`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	state, err := workflow.LoadState(args[0])
	if err != nil {
		return err
	}
	// The directory may have moved since the run; write next to the state.
	state.OutputDir = args[0]

	if err := metrics.WriteReport(state); err != nil {
		return err
	}

	s := metrics.Collect(state)
	fmt.Printf("Run %s: %d frames accepted, $%.2f spent, accept rate %.1f%%\n",
		s.RunID, s.FramesAccepted, s.TotalCostUSD, s.AcceptRate*100)
	fmt.Printf("Report: %s\n", filepath.Join(state.OutputDir, "report.md"))
	return nil
}
