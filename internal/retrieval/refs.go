package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/raphaelgruber/storyboard-go/internal/models"
	"github.com/raphaelgruber/storyboard-go/internal/store"
)

// SearchReferences finds reference images for a query. Two callers exist:
// context assembly passes free text ("mara rooftop dusk"), the renderer
// passes a frame id. Ids are recognised by shape (hyphenated, 8+ chars) and
// resolved with an exact lookup; free text is embedded and ranked by
// similarity weighted with stored confidence.
func (e *Engine) SearchReferences(ctx context.Context, query, entityFilter string, limit int) ([]models.Frame, error) {
	if limit <= 0 {
		return []models.Frame{}, nil
	}

	if strings.Contains(query, "-") && len(query) >= 8 {
		frames, err := e.store.FilterFrames(ctx, store.FrameFilter{
			FrameID: query,
			Entity:  entityFilter,
		})
		if err != nil {
			return nil, fmt.Errorf("lookup frame id: %w", err)
		}
		if len(frames) > limit {
			frames = frames[:limit]
		}
		return frames, nil
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		// Degrade to a zero-vector query rather than failing the caller;
		// results become arbitrary but the pipeline keeps moving.
		slog.Warn("reference query embedding failed, using zero vector", "error", err)
		vec = models.ZeroVector()
	}

	hits, err := e.store.SearchFrames(ctx, vec, limit*3)
	if err != nil {
		return nil, fmt.Errorf("search frames: %w", err)
	}

	type scored struct {
		frame models.Frame
		score float64
	}
	ranked := make([]scored, 0, len(hits))
	for _, h := range hits {
		if entityFilter != "" && h.Entity != entityFilter {
			continue
		}
		ranked = append(ranked, scored{
			frame: h.Frame,
			score: h.Similarity() * (0.5 + 0.5*h.Confidence),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]models.Frame, 0, limit)
	for _, s := range ranked {
		if len(out) == limit {
			break
		}
		out = append(out, s.frame)
	}
	return out, nil
}
