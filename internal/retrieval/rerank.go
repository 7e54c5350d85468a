package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/raphaelgruber/storyboard-go/internal/budget"
	"github.com/raphaelgruber/storyboard-go/internal/llm"
)

const judgeSystemPrompt = "You are a helpful storyboard assistant."

// textRerank re-orders both candidate lists using a metadata-only judge.
// The judge sees one compact line per candidate and returns a 0-100 score
// per id. Any failure keeps the heuristic order.
func (e *Engine) textRerank(ctx context.Context, entities []string, shotID int, texts []TextHit, images []ImageHit) ([]TextHit, []ImageHit) {
	if len(texts)+len(images) == 0 {
		return texts, images
	}

	var lines []string
	idx := 0
	for _, t := range texts {
		idx++
		lines = append(lines, fmt.Sprintf("[%d] %s | tags:  | scene %d shot %d | conf %.2f",
			idx, entityLabel(t.Entities), t.SceneID, t.ShotID, t.QualityScore))
	}
	for _, im := range images {
		idx++
		lines = append(lines, fmt.Sprintf("[%d] %s | tags: %s | scene %d shot %d | conf %.2f",
			idx, im.Entity, strings.Join(topTags(im.Tags, 5), ", "), im.SceneID, im.ShotID, im.Confidence))
	}

	prompt := fmt.Sprintf("Shot %d | entities: %s\n\n"+
		"For each reference line below, give a relevance score 0-100.\n"+
		"Return **only** a JSON array of objects {\"id\": <int>, \"score\": <float>}.\n%s",
		shotID, strings.Join(entities, ", "), strings.Join(lines, "\n"))

	e.chargeJudge(e.rerankModel)

	resp, _, err := e.judge.Complete(ctx, llm.CallOptions{
		Model:       e.rerankModel,
		Temperature: 0,
		MaxTokens:   120,
	}, judgeSystemPrompt, prompt)
	if err != nil {
		slog.Warn("text rerank failed, keeping heuristic order", "error", err)
		return texts, images
	}

	var parsed []struct {
		ID    int     `json:"id"`
		Score float64 `json:"score"`
	}
	if !llm.DecodeArray(resp, &parsed) {
		slog.Warn("text rerank returned malformed scores, keeping heuristic order")
		return texts, images
	}

	scores := map[int]float64{}
	for _, p := range parsed {
		scores[p.ID] = p.Score
	}

	textKey := func(i int) float64 { return scores[i+1] }
	imageKey := func(i int) float64 { return scores[len(texts)+i+1] }
	return sortByJudge(texts, textKey), sortByJudge(images, imageKey)
}

// sortByJudge re-orders hits by a per-original-index score, stable so that
// equal scores keep the heuristic order.
func sortByJudge[T any](hits []T, score func(origIdx int) float64) []T {
	type scored struct {
		hit   T
		score float64
	}
	tmp := make([]scored, len(hits))
	for i, h := range hits {
		tmp[i] = scored{hit: h, score: score(i)}
	}
	sort.SliceStable(tmp, func(i, j int) bool { return tmp[i].score > tmp[j].score })

	out := make([]T, len(hits))
	for i, s := range tmp {
		out[i] = s.hit
	}
	return out
}

// visionRerank re-orders image candidates with a judge that sees the
// thumbnails, batched at MaxVisionBatch per call with labels A..H. Scored
// candidates sort by score; candidates from failed batches keep their
// relative order at the bottom.
func (e *Engine) visionRerank(ctx context.Context, entities []string, shotID int, images []ImageHit) []ImageHit {
	if len(images) == 0 {
		return images
	}

	// unscored sorts below every real score, including the 0 default for
	// candidates the judge skipped.
	const unscored = -1.0

	scores := make([]float64, len(images))
	for i := range scores {
		scores[i] = unscored
	}

	for start := 0; start < len(images); start += MaxVisionBatch {
		end := start + MaxVisionBatch
		if end > len(images) {
			end = len(images)
		}
		batch := images[start:end]

		batchScores, err := e.judgeVisionBatch(ctx, entities, shotID, batch)
		if err != nil {
			slog.Warn("vision rerank batch failed, keeping pre-batch order",
				"batch_start", start, "error", err)
			continue
		}
		for i := range batch {
			score, ok := batchScores[i]
			if !ok {
				score = 0
			}
			scores[start+i] = score
		}
	}

	return sortByJudge(images, func(i int) float64 { return scores[i] })
}

// judgeVisionBatch scores one batch of at most MaxVisionBatch thumbnails.
// Returns scores keyed by position within the batch.
func (e *Engine) judgeVisionBatch(ctx context.Context, entities []string, shotID int, batch []ImageHit) (map[int]float64, error) {
	var lines []string
	var attachments []llm.Image
	for i, im := range batch {
		label := string(rune('A' + i))
		lines = append(lines, fmt.Sprintf("%s: %s | tags: %s | scene %d shot %d",
			label, im.Entity, strings.Join(topTags(im.Tags, 5), ", "), im.SceneID, im.ShotID))

		data, err := os.ReadFile(im.ThumbPath)
		if err != nil {
			slog.Debug("thumbnail unreadable, judging by metadata only",
				"frame_id", im.FrameID, "error", err)
			continue
		}
		attachments = append(attachments, llm.Image{MIME: mimeForPath(im.ThumbPath), Data: data})
	}

	prompt := fmt.Sprintf("Shot %d | entities: %s\n\n"+
		"The attached thumbnails are labelled in order. For each labelled candidate below, "+
		"give a relevance score 0-100 for how useful it is as visual reference for this shot.\n"+
		"Return **only** a JSON array of objects {\"label\": <string>, \"score\": <float>}.\n%s",
		shotID, strings.Join(entities, ", "), strings.Join(lines, "\n"))

	e.chargeJudge(e.visionModel)

	resp, _, err := e.judge.Complete(ctx, llm.CallOptions{
		Model:       e.visionModel,
		Temperature: 0,
		MaxTokens:   120,
		Images:      attachments,
	}, judgeSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var parsed []struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	}
	if !llm.DecodeArray(resp, &parsed) {
		return nil, fmt.Errorf("malformed score array")
	}

	out := map[int]float64{}
	for _, p := range parsed {
		label := strings.ToUpper(strings.TrimSpace(p.Label))
		if len(label) != 1 {
			continue
		}
		pos := int(label[0] - 'A')
		if pos < 0 || pos >= len(batch) {
			continue
		}
		out[pos] = p.Score
	}
	return out, nil
}

// chargeJudge records the fixed per-call estimate against the budget.
func (e *Engine) chargeJudge(model string) {
	if e.ledger == nil {
		return
	}
	cost := budget.TokenCost(model, rerankTokenEstimate, 0)
	e.ledger.Charge(cost, rerankTokenEstimate)
}

func entityLabel(entities []string) string {
	if len(entities) == 0 {
		return "?"
	}
	return strings.Join(entities, "/")
}

func topTags(tags []string, n int) []string {
	if len(tags) > n {
		return tags[:n]
	}
	return tags
}

func mimeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
