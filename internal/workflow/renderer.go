package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/raphaelgruber/storyboard-go/internal/budget"
	"github.com/raphaelgruber/storyboard-go/internal/models"
	"github.com/raphaelgruber/storyboard-go/internal/render"
)

// maxStylePromptLen caps how much of the style guide is folded into the
// render prompt.
const maxStylePromptLen = 200

// maxEditIssues caps how many QA issues the edit instruction repeats.
const maxEditIssues = 3

// renderAttempt produces the image for the current attempt. It prefers a
// pre-rendered result on the first attempt of a variation, runs the edit
// endpoint when the policy asked for a targeted fix, and otherwise performs
// a fresh generation. Every path is gated on the projected cost.
func (l *Loop) renderAttempt(ctx context.Context, plan models.ShotPlan) error {
	edit := l.state.Action == models.ActionRetryEdit && l.state.ImageB64 != ""

	if res, ok := l.prerender[l.state.VariationIdx]; ok && !edit &&
		l.state.RetryCount == 0 && l.state.EditRetryCount == 0 {
		delete(l.prerender, l.state.VariationIdx)
		return l.adoptRender(plan, res)
	}

	estimate := render.GenerateCost(l.cfg.Models.RendererNew)
	if edit {
		estimate = budget.EditImageCost
	}
	if !l.ledger.CanAfford(estimate) {
		l.logEvent(models.LogEvent{Stage: "render", Status: "budget_gated", CostUSD: estimate})
		return errRenderGated
	}

	var (
		res render.Result
		err error
	)
	if edit {
		var img []byte
		img, err = render.DecodeB64(l.state.ImageB64)
		if err == nil {
			res, err = l.renderer.Edit(ctx, l.editInstr, img)
		}
	} else {
		res, err = l.renderer.Generate(ctx, l.renderPrompt(ctx, plan), l.referenceBytes())
	}
	if err != nil {
		l.logEvent(models.LogEvent{Stage: "render", Status: "error", Error: err.Error()})
		return err
	}

	l.chargeCall(res.CostUSD, 0)
	l.logEvent(models.LogEvent{Stage: "render", Status: "ok", Model: res.Model, CostUSD: res.CostUSD,
		Extra: map[string]any{"edit": edit, "variation": l.state.VariationIdx}})
	return l.adoptRender(plan, res)
}

// adoptRender saves the rendered image under the run directory and points
// the state at it.
func (l *Loop) adoptRender(plan models.ShotPlan, res render.Result) error {
	l.frameUUID = newFrameUUID()
	name := models.FrameFilename(plan.SceneID, plan.ShotID, l.state.VariationIdx, l.frameUUID)
	path := filepath.Join(l.state.OutputDir, framesDir, name)

	if err := render.SaveB64(res.ImageB64, path); err != nil {
		l.logEvent(models.LogEvent{Stage: "render", Status: "save_error", Error: err.Error()})
		return err
	}
	l.state.ImageB64 = res.ImageB64
	l.state.ImagePath = path
	return nil
}

// prerenderVariations renders every variation of the shot up front through
// the bounded pool. Skipped entirely when the whole batch does not fit the
// budget; individual failures fall back to a fresh render at attempt time.
func (l *Loop) prerenderVariations(ctx context.Context) {
	perRender := render.GenerateCost(l.cfg.Models.RendererNew)
	if !l.ledger.CanAfford(perRender * float64(len(l.state.Variations))) {
		l.logEvent(models.LogEvent{Stage: "render_pool", Status: "budget_gated"})
		return
	}

	refs := l.referenceBytes()
	tasks := make([]RenderTask, 0, len(l.state.Variations))
	for i, v := range l.state.Variations {
		tasks = append(tasks, RenderTask{
			VariationIdx: i,
			Prompt:       l.renderPrompt(ctx, v),
			Refs:         refs,
		})
	}

	l.prerender = make(map[int]render.Result, len(tasks))
	for _, out := range RenderVariations(ctx, l.renderer, tasks, l.cfg.ParallelRender) {
		if out.Err != nil {
			l.logEvent(models.LogEvent{Stage: "render_pool", Status: "error",
				Error: out.Err.Error(), Extra: map[string]any{"variation": out.VariationIdx}})
			continue
		}
		l.chargeCall(out.Result.CostUSD, 0)
		l.prerender[out.VariationIdx] = out.Result
	}
	l.logEvent(models.LogEvent{Stage: "render_pool", Status: "ok",
		Extra: map[string]any{"rendered": len(l.prerender), "workers": l.cfg.ParallelRender}})
}

// renderPrompt flattens a plan into the generation prompt.
func (l *Loop) renderPrompt(ctx context.Context, plan models.ShotPlan) string {
	parts := []string{plan.ImagePrompt}

	if style := l.state.StyleText; style != "" {
		if len(style) > maxStylePromptLen {
			style = style[:maxStylePromptLen]
		}
		parts = append(parts, "Style: "+style)
	}
	if plan.StyleNotes != "" {
		parts = append(parts, plan.StyleNotes)
	}

	camera := fmt.Sprintf("Camera: %s shot, %s angle", plan.Camera.Distance, plan.Camera.Angle)
	if plan.Camera.Movement != "" {
		camera += fmt.Sprintf(", %s movement", plan.Camera.Movement)
	}
	parts = append(parts, camera)

	if neg := l.negativePrompt(ctx); neg != "" {
		parts = append(parts, "Avoid: "+neg)
	}
	return strings.Join(parts, " | ")
}

// negativePrompt folds the reviewer's negative prompt together with the
// tokens of recent failures, steering new renders away from known failure
// modes.
func (l *Loop) negativePrompt(ctx context.Context) string {
	var tokens []string
	seen := map[string]bool{}

	if rp := l.state.ReviewedPlan; rp != nil && rp.NegativePrompt != "" {
		tokens = append(tokens, rp.NegativePrompt)
		seen[rp.NegativePrompt] = true
	}

	failures, err := l.store.RecentFailures(ctx, 5)
	if err != nil {
		return strings.Join(tokens, ", ")
	}
	for _, f := range failures {
		if f.NegPromptToken == "" || seen[f.NegPromptToken] {
			continue
		}
		seen[f.NegPromptToken] = true
		tokens = append(tokens, f.NegPromptToken)
	}
	return strings.Join(tokens, ", ")
}

// referenceBytes loads the thumbnails of the shot's reference images.
// Unreadable thumbnails are skipped.
func (l *Loop) referenceBytes() [][]byte {
	var out [][]byte
	for _, hit := range l.shotCtx.images {
		if len(out) == render.MaxReferenceImages {
			break
		}
		data, err := os.ReadFile(hit.ThumbPath)
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out
}

// editInstruction turns the QA verdict into an instruction for the edit
// endpoint.
func editInstruction(qa *models.QAResult) string {
	s := "Edit this image to improve quality."
	if qa == nil {
		return s
	}
	if g := qa.GuidanceText(); g != "" {
		s += " " + g
	}
	if len(qa.Issues) > 0 {
		issues := qa.Issues
		if len(issues) > maxEditIssues {
			issues = issues[:maxEditIssues]
		}
		s += " Fix these issues: " + strings.Join(issues, "; ")
	}
	return s
}
