package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/storyboard-go/internal/config"
)

// Embedder wraps langchaingo embeddings with dimension validation. All
// tables index fixed-width vectors, so every embedding is checked (and
// truncated, for models that return wider matryoshka vectors) before use.
type Embedder struct {
	model       embeddings.Embedder
	dimension   int
	modelName   string
	maxAttempts int
	callTimeout time.Duration
}

// NewEmbedder creates an embedder for the configured provider.
func NewEmbedder(cfg config.Config) (*Embedder, error) {
	var model embeddings.Embedder
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOpenAI, config.ProviderAnthropic:
		// Anthropic has no embedding API; both use the OpenAI embedder.
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required for embeddings")
		}
		llm, openaiErr := openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithEmbeddingModel(cfg.Models.Embedding),
		)
		if openaiErr != nil {
			return nil, fmt.Errorf("create openai client: %w", openaiErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}

	case config.ProviderOllama:
		llm, ollamaErr := ollama.New(
			ollama.WithModel(cfg.Models.Embedding),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if ollamaErr != nil {
			return nil, fmt.Errorf("create ollama client: %w", ollamaErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.LLMProvider)
	}

	return &Embedder{
		model:       model,
		dimension:   cfg.EmbedDimension,
		modelName:   cfg.Models.Embedding,
		maxAttempts: cfg.MaxAttempts,
		callTimeout: cfg.CallTimeout,
	}, nil
}

// Embed generates an embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one call.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	vectors, err := retryCall(ctx, e.maxAttempts, e.callTimeout, func(ctx context.Context) ([][]float32, error) {
		return e.model.EmbedDocuments(ctx, texts)
	})
	duration := time.Since(start)

	if err != nil {
		slog.Warn("embedding failed", "model", e.modelName, "count", len(texts),
			"duration_ms", duration.Milliseconds(), "error", err)
		return nil, wrapFatalError(fmt.Errorf("embed: %w", err))
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("count mismatch: got %d, want %d", len(vectors), len(texts))
	}

	for i, v := range vectors {
		switch {
		case len(v) == e.dimension:
		case len(v) > e.dimension:
			// Matryoshka-style models return wider vectors; the leading
			// dimensions are a valid truncation.
			vectors[i] = v[:e.dimension]
		default:
			return nil, fmt.Errorf("embedding %d dimension mismatch: got %d, want %d", i, len(v), e.dimension)
		}
	}

	slog.Debug("embedding complete", "model", e.modelName, "count", len(texts),
		"duration_ms", duration.Milliseconds())
	return vectors, nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.modelName
}

// Dimension returns the indexed vector width.
func (e *Embedder) Dimension() int {
	return e.dimension
}
