package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/raphaelgruber/storyboard-go/internal/store"
)

// HybridRetrieve returns ranked text and image context for one shot. The
// pipeline is oversampled ANN search, heuristic re-score, then the enabled
// judge re-ranks. Judge unavailability degrades to the heuristic order and
// never surfaces as an error; only the store itself can fail.
func (e *Engine) HybridRetrieve(ctx context.Context, queryVec []float32, entities []string, shotID, kText, kImage int) ([]TextHit, []ImageHit, error) {
	episodeHits, err := e.store.SearchEpisodes(ctx, queryVec, kText*3)
	if err != nil {
		return nil, nil, fmt.Errorf("search episodes: %w", err)
	}
	frameHits, err := e.store.SearchFrames(ctx, queryVec, kImage*3)
	if err != nil {
		return nil, nil, fmt.Errorf("search frames: %w", err)
	}

	texts := e.scoreText(episodeHits, entities, shotID)
	sort.SliceStable(texts, func(i, j int) bool { return texts[i].Score > texts[j].Score })
	texts = dedupeText(texts)
	if len(texts) > kText {
		texts = texts[:kText]
	}

	images := e.scoreImages(frameHits, entities)
	sort.SliceStable(images, func(i, j int) bool { return images[i].Score > images[j].Score })
	images = dedupeImages(images)
	if len(images) > kImage {
		images = images[:kImage]
	}

	if e.cfg.TextRerank && e.judge != nil {
		texts, images = e.textRerank(ctx, entities, shotID, texts, images)
	}
	if e.cfg.VisionRerank && e.judge != nil {
		images = e.visionRerank(ctx, entities, shotID, images)
	}

	slog.Debug("hybrid retrieve complete", "shot_id", shotID,
		"text_hits", len(texts), "image_hits", len(images))
	return texts, images, nil
}

func (e *Engine) scoreText(hits []store.EpisodeHit, entities []string, shotID int) []TextHit {
	out := make([]TextHit, 0, len(hits))
	for _, h := range hits {
		score := 0.6*h.Similarity() +
			0.3*jaccard(h.Entities, entities) +
			0.1*recencyDecay(absInt(shotID-h.ShotID))
		out = append(out, TextHit{Episode: h.Episode, Score: score})
	}
	return out
}

func (e *Engine) scoreImages(hits []store.FrameHit, entities []string) []ImageHit {
	query := make(map[string]struct{}, len(entities))
	for _, en := range entities {
		query[en] = struct{}{}
	}

	out := make([]ImageHit, 0, len(hits))
	for _, h := range hits {
		boost := 1.0
		if _, ok := query[h.Entity]; ok {
			boost = 1.2
		}
		sim := h.Similarity()
		out = append(out, ImageHit{
			Frame:      h.Frame,
			Similarity: sim,
			Score:      sim * (0.5 + 0.5*h.Confidence) * boost,
		})
	}
	return out
}

// jaccard computes set overlap between two entity lists. Two empty lists
// overlap not at all.
func jaccard(a, b []string) float64 {
	setA := map[string]struct{}{}
	for _, s := range a {
		setA[s] = struct{}{}
	}
	setB := map[string]struct{}{}
	for _, s := range b {
		setB[s] = struct{}{}
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	intersection := 0
	for s := range setA {
		if _, ok := setB[s]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func recencyDecay(d int) float64 {
	return 1 / (1 + float64(d)/100)
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func dedupeText(hits []TextHit) []TextHit {
	seen := map[string]struct{}{}
	out := hits[:0]
	for _, h := range hits {
		key := fmt.Sprintf("%d/%d/%s", h.SceneID, h.ShotID, h.Summary)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h)
	}
	return out
}

func dedupeImages(hits []ImageHit) []ImageHit {
	seen := map[string]struct{}{}
	out := hits[:0]
	for _, h := range hits {
		if _, ok := seen[h.FrameID]; ok {
			continue
		}
		seen[h.FrameID] = struct{}{}
		out = append(out, h)
	}
	return out
}
