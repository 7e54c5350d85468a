package workflow

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/storyboard-go/internal/budget"
	"github.com/raphaelgruber/storyboard-go/internal/llm"
	"github.com/raphaelgruber/storyboard-go/internal/models"
)

const variationSystemPrompt = "You are a cinematographer proposing alternative camera setups for a storyboard frame."

type variationResponse struct {
	Camera           models.Camera `json:"camera"`
	PromptAdjustment string        `json:"prompt_adjustment"`
	VariationNotes   string        `json:"variation_notes"`
}

// variationNode fans the reviewed plan out into camera variations. The
// reviewed plan itself is always variation zero; a failed, malformed or
// budget-gated judge call leaves it as the only one.
func (l *Loop) variationNode(ctx context.Context) []models.ShotPlan {
	base := l.state.ReviewedPlan.Plan
	variations := []models.ShotPlan{base}

	want := l.state.NVariations - 1
	if want <= 0 {
		return variations
	}
	if !l.ledger.WithinBudget() {
		l.logEvent(models.LogEvent{Stage: "variations", Status: "budget_gated"})
		return variations
	}

	user := fmt.Sprintf(`Base shot: %s
Camera: %s shot, %s angle, %s type.

Propose %d alternative camera setups for this shot. Keep the subject and
action identical. Return only a JSON array:
[{"camera": {"type": "", "angle": "", "distance": "", "movement": ""}, "prompt_adjustment": "", "variation_notes": ""}]`,
		base.ImagePrompt, base.Camera.Distance, base.Camera.Angle, base.Camera.Type, want)

	resp, usage, err := l.chat.Complete(ctx, llm.CallOptions{
		Model:       l.cfg.Models.VariationMgr,
		Temperature: 0.8,
		MaxTokens:   1500,
	}, variationSystemPrompt, user)

	cost := budget.TokenCost(l.cfg.Models.VariationMgr, usage.InputTokens, usage.OutputTokens)
	l.chargeCall(cost, usage.Total())

	if err != nil {
		l.logEvent(models.LogEvent{Stage: "variations", Status: "error", Model: l.cfg.Models.VariationMgr, Error: err.Error()})
		return variations
	}

	var out []variationResponse
	if !llm.DecodeArray(resp, &out) {
		l.logEvent(models.LogEvent{Stage: "variations", Status: "malformed", Model: l.cfg.Models.VariationMgr})
		return variations
	}

	for _, v := range out {
		if len(variations) == l.state.NVariations {
			break
		}
		p := base
		if v.Camera.Distance != "" {
			p.Camera = v.Camera
		}
		if v.PromptAdjustment != "" {
			p.ImagePrompt = base.ImagePrompt + " " + v.PromptAdjustment
		}
		if v.VariationNotes != "" {
			p.StyleNotes = joinNotes(base.StyleNotes, v.VariationNotes)
		}
		variations = append(variations, p)
	}

	l.logEvent(models.LogEvent{
		Stage: "variations", Status: "ok", Model: l.cfg.Models.VariationMgr,
		Tokens: usage.Total(), CostUSD: cost,
		Extra: map[string]any{"count": len(variations)},
	})
	return variations
}
