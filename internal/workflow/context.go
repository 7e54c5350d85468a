package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/storyboard-go/internal/models"
	"github.com/raphaelgruber/storyboard-go/internal/retrieval"
)

// contextBlock is the retrieval output assembled once per shot and shared
// by the planner, reviewer and renderer.
type contextBlock struct {
	texts  []retrieval.TextHit
	images []retrieval.ImageHit
	nearby []models.AcceptedFrame
}

// assembleContext queries memory for the current shot: related episodic
// summaries, reference images and the most recent accepted frames. A failed
// embedding degrades to a zero-vector query; a failed retrieval degrades to
// an empty block.
func (l *Loop) assembleContext(ctx context.Context, scene *models.SceneData) contextBlock {
	query := scene.Description
	if query == "" {
		query = scene.RawText
	}

	vec, err := l.embed.Embed(ctx, query)
	if err != nil {
		slog.Warn("context query embedding failed, using zero vector", "error", err)
		vec = models.ZeroVector()
	}

	texts, images, err := l.retr.HybridRetrieve(ctx, vec, scene.Entities, l.shotNumber(),
		l.cfg.Retrieval.KText, l.cfg.Retrieval.KImage)
	if err != nil {
		slog.Warn("context retrieval failed", "error", err)
		texts, images = nil, nil
	}

	nearby := l.state.AcceptedFrames
	if window := l.cfg.Retrieval.CtxWindow; len(nearby) > window {
		nearby = nearby[len(nearby)-window:]
	}

	return contextBlock{texts: texts, images: images, nearby: nearby}
}

// describe renders the block as a prompt section. Empty blocks render as
// nothing so cold-start prompts stay clean.
func (c contextBlock) describe() string {
	var b strings.Builder

	if len(c.nearby) > 0 {
		b.WriteString("Recent frames:\n")
		for _, f := range c.nearby {
			fmt.Fprintf(&b, "- scene %d shot %d: %s\n", f.SceneID, f.ShotID, f.Prompt)
		}
	}

	if len(c.texts) > 0 {
		b.WriteString("Related shots:\n")
		for _, t := range c.texts {
			fmt.Fprintf(&b, "- scene %d shot %d: %s\n", t.SceneID, t.ShotID, t.Summary)
		}
	}

	if len(c.images) > 0 {
		b.WriteString("Reference images:\n")
		for _, im := range c.images {
			fmt.Fprintf(&b, "- %s (%s", im.FrameID, im.Entity)
			if len(im.Tags) > 0 {
				fmt.Fprintf(&b, ", %s", strings.Join(im.Tags, " "))
			}
			b.WriteString(")\n")
		}
	}

	return b.String()
}

// frameIDs returns the ids of up to limit reference images.
func (c contextBlock) frameIDs(limit int) []string {
	ids := make([]string, 0, limit)
	for _, im := range c.images {
		if len(ids) == limit {
			break
		}
		ids = append(ids, im.FrameID)
	}
	return ids
}
