package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raphaelgruber/storyboard-go/internal/budget"
	"github.com/raphaelgruber/storyboard-go/internal/llm"
	"github.com/raphaelgruber/storyboard-go/internal/models"
)

const reviewerSystemPrompt = "You are a senior storyboard director reviewing shot plans for visual consistency and narrative clarity."

// defaultEstimatedTokens is used when the reviewer does not size the shot.
const defaultEstimatedTokens = 1000

type reviewerResponse struct {
	Approved         bool   `json:"approved"`
	ModifiedPrompt   string `json:"modified_prompt"`
	StyleAdjustments string `json:"style_adjustments"`
	NegativePrompt   string `json:"negative_prompt"`
	EstimatedTokens  int    `json:"estimated_tokens"`
}

// reviewNode runs the review pass over the current plan. A failed or
// budget-gated call falls back to the unreviewed plan with an empty
// negative prompt.
func (l *Loop) reviewNode(ctx context.Context) *models.ReviewedPlan {
	plan := *l.state.Plan
	visualContext := l.shotCtx.frameIDs(l.cfg.Retrieval.CtxImages)

	fallback := &models.ReviewedPlan{
		Plan:            plan,
		VisualContext:   visualContext,
		EstimatedTokens: defaultEstimatedTokens,
	}

	if !l.ledger.WithinBudget() {
		l.logEvent(models.LogEvent{Stage: "reviewer", Status: "budget_gated"})
		return fallback
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fallback
	}

	user := fmt.Sprintf(`Review this shot plan for consistency with the style guide and the referenced frames.

Plan:
%s

Style:
%s

%s
Return only JSON:
{"approved": true, "modified_prompt": "", "style_adjustments": "", "negative_prompt": "", "estimated_tokens": 1000}
Leave modified_prompt empty when the plan needs no change.`,
		planJSON, l.state.StyleText, l.shotCtx.describe())

	resp, usage, err := l.chat.Complete(ctx, llm.CallOptions{
		Model:       l.cfg.Models.Reviewer,
		Temperature: 0.3,
		MaxTokens:   1500,
	}, reviewerSystemPrompt, user)

	cost := budget.TokenCost(l.cfg.Models.Reviewer, usage.InputTokens, usage.OutputTokens)
	l.chargeCall(cost, usage.Total())

	if err != nil {
		l.logEvent(models.LogEvent{Stage: "reviewer", Status: "error", Model: l.cfg.Models.Reviewer, Error: err.Error()})
		return fallback
	}

	var out reviewerResponse
	if !llm.DecodeObject(resp, &out) {
		l.logEvent(models.LogEvent{Stage: "reviewer", Status: "malformed", Model: l.cfg.Models.Reviewer})
		return fallback
	}
	l.logEvent(models.LogEvent{Stage: "reviewer", Status: "ok", Model: l.cfg.Models.Reviewer, Tokens: usage.Total(), CostUSD: cost})

	if out.ModifiedPrompt != "" {
		plan.ImagePrompt = out.ModifiedPrompt
	}
	if out.StyleAdjustments != "" {
		plan.StyleNotes = joinNotes(plan.StyleNotes, out.StyleAdjustments)
	}
	estimated := out.EstimatedTokens
	if estimated <= 0 {
		estimated = defaultEstimatedTokens
	}

	return &models.ReviewedPlan{
		Plan:            plan,
		VisualContext:   visualContext,
		NegativePrompt:  out.NegativePrompt,
		EstimatedTokens: estimated,
	}
}

func joinNotes(base, extra string) string {
	if base == "" {
		return extra
	}
	return base + "; " + extra
}
