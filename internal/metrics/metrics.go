// Package metrics aggregates run statistics from the event log into a
// metrics.json snapshot and a human-readable report.
package metrics

import (
	"fmt"
	"sort"
	"time"

	"github.com/raphaelgruber/storyboard-go/internal/models"
)

// Summary is the aggregate view of one generation run.
type Summary struct {
	RunID             string         `json:"run_id"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           time.Time      `json:"end_time"`
	ElapsedS          float64        `json:"elapsed_s"`
	TotalTokens       int            `json:"total_tokens"`
	TotalCostUSD      float64        `json:"total_cost_usd"`
	BudgetUSD         float64        `json:"budget_usd"`
	ScenesProcessed   int            `json:"scenes_processed"`
	ShotsGenerated    int            `json:"shots_generated"`
	VariationsCreated int            `json:"variations_created"`
	FramesAccepted    int            `json:"frames_accepted"`
	FramesRejected    int            `json:"frames_rejected"`
	RetryAttempts     int            `json:"retry_attempts"`
	EditAttempts      int            `json:"edit_attempts"`
	AcceptRate        float64        `json:"accept_rate"`
	ModelsUsed        map[string]int `json:"models_used"`
	Errors            []string       `json:"errors,omitempty"`
}

// StageStats summarizes the calls of one pipeline stage.
type StageStats struct {
	Calls   int     `json:"calls"`
	Errors  int     `json:"errors"`
	Tokens  int     `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
}

// Collect derives a run summary from the state's event log and outputs.
func Collect(state *models.RunState) Summary {
	s := Summary{
		RunID:           state.TraceID,
		StartTime:       state.StartTime,
		EndTime:         time.Now(),
		TotalTokens:     state.TotalTokens,
		TotalCostUSD:    state.TotalCost,
		BudgetUSD:       state.BudgetUSD,
		ScenesProcessed: state.SceneIdx,
		ShotsGenerated:  len(state.AcceptedFrames),
		FramesAccepted:  len(state.AcceptedFrames),
		ModelsUsed:      map[string]int{},
	}
	s.ElapsedS = s.EndTime.Sub(s.StartTime).Seconds()

	errCounts := map[string]int{}
	for _, ev := range state.Events {
		if ev.Model != "" {
			s.ModelsUsed[ev.Model]++
		}
		if ev.Status == "error" {
			errCounts[ev.Stage]++
		}

		switch {
		case ev.Stage == "policy" && ev.Status == string(models.ActionGiveUp):
			s.FramesRejected++
		case ev.Stage == "policy" && ev.Status == string(models.ActionRetryNew):
			s.RetryAttempts++
		case ev.Stage == "policy" && ev.Status == string(models.ActionRetryEdit):
			s.EditAttempts++
		case ev.Stage == "variations" && ev.Status == "ok":
			s.VariationsCreated += extraInt(ev, "count")
		}
	}

	decisions := s.FramesAccepted + s.FramesRejected
	if decisions == 0 {
		decisions = 1
	}
	s.AcceptRate = float64(s.FramesAccepted) / float64(decisions)

	for _, stage := range sortedKeys(errCounts) {
		s.Errors = append(s.Errors, stageErrorLine(stage, errCounts[stage]))
	}
	return s
}

// StageSummary aggregates per-stage call, error, token and cost totals.
func StageSummary(events []models.LogEvent) map[string]StageStats {
	out := map[string]StageStats{}
	for _, ev := range events {
		st := out[ev.Stage]
		st.Calls++
		if ev.Status == "error" {
			st.Errors++
		}
		st.Tokens += ev.Tokens
		st.CostUSD += ev.CostUSD
		out[ev.Stage] = st
	}
	return out
}

// CostByModel sums the spend attributed to each model.
func CostByModel(events []models.LogEvent) map[string]float64 {
	out := map[string]float64{}
	for _, ev := range events {
		if ev.Model != "" && ev.CostUSD > 0 {
			out[ev.Model] += ev.CostUSD
		}
	}
	return out
}

// TokensByModel sums the token usage attributed to each model.
func TokensByModel(events []models.LogEvent) map[string]int {
	out := map[string]int{}
	for _, ev := range events {
		if ev.Model != "" && ev.Tokens > 0 {
			out[ev.Model] += ev.Tokens
		}
	}
	return out
}

// extraInt reads a numeric value from an event's extra map. JSON decoding
// turns numbers into float64, so both representations are accepted.
func extraInt(ev models.LogEvent, key string) int {
	switch v := ev.Extra[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func stageErrorLine(stage string, n int) string {
	return fmt.Sprintf("%s: %d errors", stage, n)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
