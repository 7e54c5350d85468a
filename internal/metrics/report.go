package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/raphaelgruber/storyboard-go/internal/models"
)

const (
	metricsFile = "metrics.json"
	reportFile  = "report.md"
)

// WriteJSON saves the metrics snapshot as metrics.json in dir.
func WriteJSON(dir string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metricsFile), data, 0o644); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// WriteReport collects metrics from state and writes both metrics.json and
// report.md into the run's output directory.
func WriteReport(state *models.RunState) error {
	s := Collect(state)
	if err := WriteJSON(state.OutputDir, s); err != nil {
		return err
	}

	report := renderReport(state, s)
	path := filepath.Join(state.OutputDir, reportFile)
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func renderReport(state *models.RunState, s Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Storyboard Run Report\n\n")
	fmt.Fprintf(&b, "**Run:** %s\n", s.RunID)
	fmt.Fprintf(&b, "**Duration:** %.1f seconds\n", s.ElapsedS)
	fmt.Fprintf(&b, "**Total Cost:** $%.2f\n", s.TotalCostUSD)
	fmt.Fprintf(&b, "**Total Tokens:** %d\n\n", s.TotalTokens)

	fmt.Fprintf(&b, "## Generation\n")
	fmt.Fprintf(&b, "- Scenes Processed: %d\n", s.ScenesProcessed)
	fmt.Fprintf(&b, "- Shots Generated: %d\n", s.ShotsGenerated)
	fmt.Fprintf(&b, "- Variations Created: %d\n", s.VariationsCreated)
	fmt.Fprintf(&b, "- Frames Accepted: %d\n", s.FramesAccepted)
	fmt.Fprintf(&b, "- Accept Rate: %.1f%%\n\n", s.AcceptRate*100)

	fmt.Fprintf(&b, "## Recovery\n")
	fmt.Fprintf(&b, "- Retry Attempts: %d\n", s.RetryAttempts)
	fmt.Fprintf(&b, "- Edit Attempts: %d\n", s.EditAttempts)
	fmt.Fprintf(&b, "- Frames Rejected: %d\n\n", s.FramesRejected)

	fmt.Fprintf(&b, "## Model Usage\n")
	for _, model := range sortedKeys(s.ModelsUsed) {
		fmt.Fprintf(&b, "- %s: %d calls\n", model, s.ModelsUsed[model])
	}

	stages := StageSummary(state.Events)
	fmt.Fprintf(&b, "\n## Stage Performance\n")
	for _, stage := range sortedKeys(stages) {
		st := stages[stage]
		fmt.Fprintf(&b, "- **%s**: %d calls", stage, st.Calls)
		if st.Errors > 0 {
			fmt.Fprintf(&b, ", %d errors", st.Errors)
		}
		fmt.Fprintf(&b, "\n")
	}

	costs := CostByModel(state.Events)
	fmt.Fprintf(&b, "\n## Cost Breakdown by Model\n")
	for _, model := range sortedKeys(costs) {
		fmt.Fprintf(&b, "- %s: $%.4f\n", model, costs[model])
	}

	tokens := TokensByModel(state.Events)
	fmt.Fprintf(&b, "\n## Token Usage by Model\n")
	for _, model := range sortedKeys(tokens) {
		fmt.Fprintf(&b, "- %s: %d tokens\n", model, tokens[model])
	}

	perShot := float64(s.RetryAttempts+s.EditAttempts) / float64(max(1, s.ShotsGenerated))
	fmt.Fprintf(&b, "\n## Quality\n")
	fmt.Fprintf(&b, "- Accept Rate: %.1f%%\n", s.AcceptRate*100)
	fmt.Fprintf(&b, "- Average Retries per Shot: %.2f\n", perShot)

	fmt.Fprintf(&b, "\n## Budget Utilization\n")
	fmt.Fprintf(&b, "- Budget: $%.2f\n", s.BudgetUSD)
	fmt.Fprintf(&b, "- Spent: $%.2f\n", s.TotalCostUSD)
	if s.BudgetUSD > 0 {
		fmt.Fprintf(&b, "- Utilization: %.1f%%\n", s.TotalCostUSD/s.BudgetUSD*100)
	}

	fmt.Fprintf(&b, "\n## Output Location\n%s\n", state.OutputDir)
	return b.String()
}
