package workflow

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/storyboard-go/internal/budget"
	"github.com/raphaelgruber/storyboard-go/internal/llm"
	"github.com/raphaelgruber/storyboard-go/internal/models"
)

const plannerSystemPrompt = "You are a professional storyboard artist and cinematographer."

// planShot runs the shot-scoped nodes in order: plan, review, variation
// fan-out, and the optional parallel pre-render.
func (l *Loop) planShot(ctx context.Context, scene *models.SceneData) {
	l.shotCtx = l.assembleContext(ctx, scene)
	l.state.Plan = l.planNode(ctx, scene)
	l.state.ReviewedPlan = l.reviewNode(ctx)
	l.state.Variations = l.variationNode(ctx)
	l.state.VariationIdx = 0

	if l.cfg.ParallelRender > 1 && len(l.state.Variations) > 1 {
		l.prerenderVariations(ctx)
	}
}

type plannerResponse struct {
	ImagePrompt string          `json:"image_prompt"`
	Entities    []models.Entity `json:"entities"`
	Camera      models.Camera   `json:"camera"`
	StyleNotes  string          `json:"style_notes"`
}

// planNode asks the planner model for a shot plan. A failed call or an
// unparseable response degrades to a minimal plan built from the scene
// text, so one bad completion never stalls the run.
func (l *Loop) planNode(ctx context.Context, scene *models.SceneData) *models.ShotPlan {
	user := l.plannerPrompt(scene)

	resp, usage, err := l.chat.Complete(ctx, llm.CallOptions{
		Model:       l.cfg.Models.Planner,
		Temperature: 0.7,
		MaxTokens:   1000,
	}, plannerSystemPrompt, user)

	cost := budget.TokenCost(l.cfg.Models.Planner, usage.InputTokens, usage.OutputTokens)
	l.chargeCall(cost, usage.Total())

	if err != nil {
		l.logEvent(models.LogEvent{Stage: "planner", Status: "error", Model: l.cfg.Models.Planner, Error: err.Error()})
		return l.fallbackPlan(scene)
	}
	l.logEvent(models.LogEvent{Stage: "planner", Status: "ok", Model: l.cfg.Models.Planner, Tokens: usage.Total(), CostUSD: cost})

	var out plannerResponse
	if !llm.DecodeObject(resp, &out) || out.ImagePrompt == "" {
		l.logEvent(models.LogEvent{Stage: "planner", Status: "malformed", Model: l.cfg.Models.Planner})
		return l.fallbackPlan(scene)
	}

	plan := &models.ShotPlan{
		SceneID:     scene.SceneID,
		ShotID:      l.shotNumber(),
		Entities:    out.Entities,
		Camera:      out.Camera,
		ImagePrompt: out.ImagePrompt,
		StyleNotes:  out.StyleNotes,
	}
	if plan.Camera.Distance == "" {
		plan.Camera = models.DefaultCamera()
	}
	if len(plan.Entities) == 0 {
		plan.Entities = sceneEntities(scene)
	}
	return plan
}

func (l *Loop) plannerPrompt(scene *models.SceneData) string {
	return fmt.Sprintf(`Scene %d:
%s

Style:
%s

Entities:
%s

%s
Plan shot %d of %d for this scene. Return only JSON:
{"image_prompt": "...", "entities": [{"name": "", "pose": "", "emotion": ""}], "camera": {"type": "", "angle": "", "distance": "", "movement": ""}, "style_notes": ""}`,
		scene.SceneID, scene.RawText,
		l.state.StyleText, l.state.EntitiesText,
		l.shotCtx.describe(),
		l.state.ShotIdx+1, l.state.ShotsPerScene)
}

// fallbackPlan builds a usable plan straight from the scene data.
func (l *Loop) fallbackPlan(scene *models.SceneData) *models.ShotPlan {
	prompt := scene.Description
	if prompt == "" {
		prompt = scene.RawText
	}
	return &models.ShotPlan{
		SceneID:     scene.SceneID,
		ShotID:      l.shotNumber(),
		Entities:    sceneEntities(scene),
		Camera:      models.DefaultCamera(),
		ImagePrompt: prompt,
	}
}

func sceneEntities(scene *models.SceneData) []models.Entity {
	out := make([]models.Entity, 0, len(scene.Entities))
	for _, name := range scene.Entities {
		out = append(out, models.Entity{Name: name})
	}
	return out
}
