package script

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/storyboard-go/internal/models"
	"github.com/raphaelgruber/storyboard-go/internal/store"
)

// BatchEmbedder embeds many texts in one call.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// IndexCanonical chunks the script and style text and writes the chunks
// with their embeddings into the canonical table. Returns the number of
// chunks indexed. Chunk ids are deterministic, so re-running an ingest
// upserts rather than duplicates.
func IndexCanonical(ctx context.Context, st store.Store, embed BatchEmbedder, scriptText, styleText string) (int, error) {
	cfg := DefaultChunkConfig()

	type source struct {
		prefix string
		chunks []string
	}
	sources := []source{
		{"script", ChunkText(scriptText, cfg)},
		{"style", ChunkText(styleText, cfg)},
	}

	indexed := 0
	for _, src := range sources {
		if len(src.chunks) == 0 {
			continue
		}

		vectors, err := embed.EmbedBatch(ctx, src.chunks)
		if err != nil {
			// Zero vectors keep the chunks findable by id and filter even
			// when the embedding service is down.
			slog.Warn("canonical embedding failed, storing zero vectors",
				"source", src.prefix, "error", err)
			vectors = make([][]float32, len(src.chunks))
			for i := range vectors {
				vectors[i] = models.ZeroVector()
			}
		}

		for i, text := range src.chunks {
			chunk := models.CanonicalChunk{
				ChunkID:   fmt.Sprintf("%s_%03d", src.prefix, i),
				Text:      text,
				Embedding: vectors[i],
			}
			if err := st.InsertChunk(ctx, chunk); err != nil {
				return indexed, fmt.Errorf("insert chunk %s: %w", chunk.ChunkID, err)
			}
			indexed++
		}
	}
	return indexed, nil
}
