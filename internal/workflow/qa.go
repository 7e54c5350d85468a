package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/storyboard-go/internal/llm"
	"github.com/raphaelgruber/storyboard-go/internal/models"
	"github.com/raphaelgruber/storyboard-go/internal/render"
)

// Flat per-call QA prices. The judge calls are small and uniform, so a
// fixed estimate keeps the ledger moving without waiting on billing data.
const (
	fastQACost   = 0.01
	visionQACost = 0.02
)

// maxComparisonFrames caps how many reference thumbnails accompany the
// rendered image in the vision QA call.
const maxComparisonFrames = 2

const fastQASystemPrompt = "You are a storyboard quality checker. Assess whether the described render matches its plan."

const visionQASystemPrompt = "You are a storyboard quality checker. The first image is the rendered frame; any further images are references it should stay consistent with."

type qaResponse struct {
	QualityScore float64  `json:"quality_score"`
	Issues       []string `json:"issues"`
	Guidance     string   `json:"guidance"`
}

// runQA runs the fast QA pass and, for sampled passes, the deep vision
// pass. Returns false when the budget is exhausted before the fast pass,
// in which case the caller gives up on the attempt.
func (l *Loop) runQA(ctx context.Context, plan models.ShotPlan) bool {
	if !l.ledger.WithinBudget() {
		l.logEvent(models.LogEvent{Stage: "fast_qa", Status: "budget_gated"})
		return false
	}

	l.state.FastQA = l.fastQANode(ctx, plan)

	if l.state.FastQA.Status == models.QAPass && l.sample() < l.cfg.VisionSampleRate {
		l.state.VisionSampled = true
		if !l.ledger.WithinBudget() {
			// The fast verdict stands; the deep pass is an audit, not a
			// prerequisite.
			l.logEvent(models.LogEvent{Stage: "vision_qa", Status: "budget_skipped"})
			return true
		}
		l.state.VisionQA = l.visionQANode(ctx, plan)
	}
	return true
}

// fastQANode scores the attempt from the plan and prompt alone. On error it
// returns the lenient default verdict, leaving rejection to the sampled
// vision pass.
func (l *Loop) fastQANode(ctx context.Context, plan models.ShotPlan) *models.QAResult {
	lenient := &models.QAResult{Status: models.QAPass, QualityScore: 0.7}

	user := fmt.Sprintf(`Shot plan: %s
Camera: %s shot, %s angle.
Entities: %s.
Render prompt used: %s

Score how well a render of this prompt would satisfy the plan. Return only JSON:
{"quality_score": 0.0, "issues": ["..."], "guidance": ""}`,
		plan.ImagePrompt, plan.Camera.Distance, plan.Camera.Angle,
		strings.Join(plan.EntityNames(), ", "), l.renderPrompt(ctx, plan))

	resp, usage, err := l.chat.Complete(ctx, llm.CallOptions{
		Model:       l.cfg.Models.FastQA,
		Temperature: 0.3,
		MaxTokens:   500,
	}, fastQASystemPrompt, user)

	l.chargeCall(fastQACost, usage.Total())

	if err != nil {
		l.logEvent(models.LogEvent{Stage: "fast_qa", Status: "error", Model: l.cfg.Models.FastQA, Error: err.Error()})
		return lenient
	}

	var out qaResponse
	if !llm.DecodeObject(resp, &out) {
		l.logEvent(models.LogEvent{Stage: "fast_qa", Status: "malformed", Model: l.cfg.Models.FastQA})
		return lenient
	}

	qa := qaFromResponse(out, 0.4, 0.6, 2)
	l.logEvent(models.LogEvent{Stage: "fast_qa", Status: string(qa.Status), Model: l.cfg.Models.FastQA,
		Tokens: usage.Total(), CostUSD: fastQACost,
		Extra: map[string]any{"score": qa.QualityScore, "issues": len(qa.Issues)}})
	return qa
}

// visionQANode scores the rendered image against its references. On error
// it returns nil so the fast verdict stays in effect.
func (l *Loop) visionQANode(ctx context.Context, plan models.ShotPlan) *models.QAResult {
	img, err := render.DecodeB64(l.state.ImageB64)
	if err != nil {
		l.logEvent(models.LogEvent{Stage: "vision_qa", Status: "error", Error: err.Error()})
		return nil
	}

	images := []llm.Image{{MIME: "image/png", Data: img}}
	for _, ref := range l.referenceBytes() {
		if len(images) == maxComparisonFrames+1 {
			break
		}
		images = append(images, llm.Image{MIME: "image/png", Data: ref})
	}

	user := fmt.Sprintf(`Shot plan: %s
Camera: %s shot, %s angle.
Entities: %s.

Score the rendered frame for plan fidelity, entity consistency with the
references, and visual quality. Return only JSON:
{"quality_score": 0.0, "issues": ["..."], "guidance": ""}`,
		plan.ImagePrompt, plan.Camera.Distance, plan.Camera.Angle,
		strings.Join(plan.EntityNames(), ", "))

	resp, usage, err := l.chat.Complete(ctx, llm.CallOptions{
		Model:       l.cfg.Models.VisionQA,
		Temperature: 0.2,
		MaxTokens:   1000,
		Images:      images,
	}, visionQASystemPrompt, user)

	l.chargeCall(visionQACost, usage.Total())

	if err != nil {
		l.logEvent(models.LogEvent{Stage: "vision_qa", Status: "error", Model: l.cfg.Models.VisionQA, Error: err.Error()})
		return nil
	}

	var out qaResponse
	if !llm.DecodeObject(resp, &out) {
		l.logEvent(models.LogEvent{Stage: "vision_qa", Status: "malformed", Model: l.cfg.Models.VisionQA})
		return nil
	}

	qa := qaFromResponse(out, 0.5, 0.7, 1)
	l.logEvent(models.LogEvent{Stage: "vision_qa", Status: string(qa.Status), Model: l.cfg.Models.VisionQA,
		Tokens: usage.Total(), CostUSD: visionQACost,
		Extra: map[string]any{"score": qa.QualityScore, "issues": len(qa.Issues)}})
	return qa
}

// qaFromResponse derives the verdict from the score and issue count: below
// failBelow the attempt fails, below retryBelow with more than retryIssues
// issues it is retried, otherwise it passes.
func qaFromResponse(out qaResponse, failBelow, retryBelow float64, retryIssues int) *models.QAResult {
	qa := &models.QAResult{
		Status:       models.QAPass,
		QualityScore: clamp01(out.QualityScore),
		Issues:       out.Issues,
	}
	switch {
	case qa.QualityScore < failBelow:
		qa.Status = models.QAFail
	case qa.QualityScore < retryBelow && len(qa.Issues) > retryIssues:
		qa.Status = models.QARetry
	}
	if out.Guidance != "" {
		qa.Guidance = &models.RetryGuidance{
			Category: classifyGuidance(out.Guidance),
			Text:     out.Guidance,
		}
	}
	return qa
}

// classifyGuidance buckets free-text guidance so downstream logic keys on
// the category, never the wording.
func classifyGuidance(text string) models.GuidanceCategory {
	t := strings.ToLower(text)
	switch {
	case containsAny(t, "composition", "framing", "crop", "layout"):
		return models.GuidanceComposition
	case containsAny(t, "character", "face", "hand", "anatomy", "entity", "prop"):
		return models.GuidanceEntity
	case containsAny(t, "style", "color", "colour", "palette", "lighting", "tone"):
		return models.GuidanceStyle
	case containsAny(t, "artifact", "artefact", "blur", "distort", "noise", "glitch"):
		return models.GuidanceArtifact
	}
	return models.GuidanceOther
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
