// Package retrieval implements hybrid context retrieval over the memory
// store: oversampled ANN fan-out, heuristic re-score, and optional judge
// re-ranks (metadata-only and cross-modal).
package retrieval

import (
	"context"

	"github.com/raphaelgruber/storyboard-go/internal/budget"
	"github.com/raphaelgruber/storyboard-go/internal/config"
	"github.com/raphaelgruber/storyboard-go/internal/llm"
	"github.com/raphaelgruber/storyboard-go/internal/models"
	"github.com/raphaelgruber/storyboard-go/internal/store"
)

// MaxVisionBatch is the thumbnail cap per cross-modal judge call.
const MaxVisionBatch = 8

// rerankTokenEstimate is the fixed per-judge-call token charge. Re-rank
// prompts are small and uniform; an estimate keeps the ledger moving without
// blocking on billing data.
const rerankTokenEstimate = 300

// Judge is the chat collaborator used for re-ranking.
type Judge interface {
	Complete(ctx context.Context, opts llm.CallOptions, systemPrompt, userPrompt string) (string, llm.Usage, error)
}

// Embedder produces query vectors for free-text reference searches.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TextHit is a ranked episodic-text result.
type TextHit struct {
	models.Episode
	Score float64
}

// ImageHit is a ranked visual-context result.
type ImageHit struct {
	models.Frame
	Similarity float64
	Score      float64
}

// Engine runs hybrid retrieval against one store.
type Engine struct {
	store    store.Store
	judge    Judge
	embedder Embedder
	ledger   *budget.Ledger

	cfg         config.Retrieval
	rerankModel string
	visionModel string
}

// New creates a retrieval engine. judge may be nil when both re-rank stages
// are disabled.
func New(st store.Store, judge Judge, embedder Embedder, ledger *budget.Ledger, cfg config.Config) *Engine {
	return &Engine{
		store:       st,
		judge:       judge,
		embedder:    embedder,
		ledger:      ledger,
		cfg:         cfg.Retrieval,
		rerankModel: cfg.Models.RerankText,
		visionModel: cfg.Models.RerankVision,
	}
}
