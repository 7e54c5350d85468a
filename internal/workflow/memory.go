package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/storyboard-go/internal/models"
)

// acceptFrame records an accepted render: the durable AcceptedFrame entry,
// one episodic record and one visual-context record in the store, the frame
// index on disk, and a state snapshot. Store write failures are logged, not
// fatal; the frame itself is already on disk.
func (l *Loop) acceptFrame(ctx context.Context, plan models.ShotPlan) {
	qa := l.state.EffectiveQA()
	score := 0.0
	if qa != nil {
		score = qa.QualityScore
	}

	var negative string
	if rp := l.state.ReviewedPlan; rp != nil {
		negative = rp.NegativePrompt
	}

	frame := models.AcceptedFrame{
		FrameID:        l.frameUUID,
		SceneID:        plan.SceneID,
		ShotID:         plan.ShotID,
		VariationIdx:   l.state.VariationIdx,
		Prompt:         plan.ImagePrompt,
		NegativePrompt: negative,
		Entities:       plan.EntityNames(),
		Camera:         plan.Camera,
		ImagePath:      l.state.ImagePath,
		QualityScore:   score,
		RetryCount:     l.state.RetryCount,
		EditRetryCount: l.state.EditRetryCount,
	}
	l.state.AcceptedFrames = append(l.state.AcceptedFrames, frame)

	l.logEvent(models.LogEvent{Stage: "memory", Status: "accepted", Extra: map[string]any{
		"frame_id": frame.FrameID, "scene": frame.SceneID, "shot": frame.ShotID,
		"variation": frame.VariationIdx, "score": score,
	}})

	vec, err := l.embed.Embed(ctx, plan.ImagePrompt)
	if err != nil {
		slog.Warn("frame embedding failed, storing zero vector", "frame_id", frame.FrameID, "error", err)
		vec = models.ZeroVector()
	}

	now := time.Now()
	if err := l.store.InsertEpisode(ctx, models.Episode{
		SceneID:      plan.SceneID,
		ShotID:       plan.ShotID,
		Summary:      plan.ImagePrompt,
		Embedding:    vec,
		Entities:     plan.EntityNames(),
		QualityScore: score,
		Timestamp:    now,
	}); err != nil {
		slog.Warn("episode insert failed", "frame_id", frame.FrameID, "error", err)
	}

	entity := ""
	if names := plan.EntityNames(); len(names) > 0 {
		entity = names[0]
	}
	if err := l.store.InsertFrame(ctx, models.Frame{
		FrameID:      frame.FrameID,
		SceneID:      plan.SceneID,
		ShotID:       plan.ShotID,
		Embedding:    vec,
		ThumbPath:    l.state.ImagePath,
		Category:     models.CategoryGenerated,
		Entity:       entity,
		Tags:         frameTags(plan),
		Source:       models.SourceGenerated,
		Confidence:   score,
		Prompt:       plan.ImagePrompt,
		OriginalPath: l.state.ImagePath,
	}); err != nil {
		slog.Warn("frame insert failed", "frame_id", frame.FrameID, "error", err)
	}

	if err := appendFrameIndex(l.state.OutputDir, frame); err != nil {
		slog.Warn("frame index append failed", "frame_id", frame.FrameID, "error", err)
	}

	l.Persist()
}

// recordFailure stores the rejected attempt with its negative-prompt token.
func (l *Loop) recordFailure(ctx context.Context, plan models.ShotPlan, code string) {
	id := l.frameUUID
	if id == "" {
		id = fmt.Sprintf("s%d_sh%d_v%d", plan.SceneID, plan.ShotID, l.state.VariationIdx)
	}

	failure := models.Failure{
		FrameID:        id,
		ErrCode:        code,
		NegPromptToken: negPromptToken(l.state.EffectiveQA()),
		Timestamp:      time.Now(),
	}
	if err := l.store.InsertFailure(ctx, failure); err != nil {
		slog.Warn("failure insert failed", "frame_id", id, "error", err)
	}

	l.logEvent(models.LogEvent{Stage: "memory", Status: "rejected", Error: code, Extra: map[string]any{
		"frame_id": id, "neg_token": failure.NegPromptToken,
	}})
}

// negPromptToken extracts the phrase future negative prompts carry for this
// failure mode.
func negPromptToken(qa *models.QAResult) string {
	switch {
	case qa == nil:
		return "low quality"
	case qa.Guidance != nil:
		return string(qa.Guidance.Category) + " problems"
	case len(qa.Issues) > 0:
		return qa.Issues[0]
	default:
		return "low quality"
	}
}

func frameTags(plan models.ShotPlan) []string {
	tags := plan.EntityNames()
	if plan.Camera.Distance != "" {
		tags = append(tags, plan.Camera.Distance)
	}
	return tags
}
