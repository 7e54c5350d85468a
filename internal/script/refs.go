package script

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/storyboard-go/internal/models"
	"github.com/raphaelgruber/storyboard-go/internal/store"
)

// RefEntry is one reference image in an ingest manifest. The manifest
// carries paths only; thumbnailing happens before ingest.
type RefEntry struct {
	Entity     string   `yaml:"entity"`
	Category   string   `yaml:"category"`
	Tags       []string `yaml:"tags"`
	Confidence float64  `yaml:"confidence"`
	Thumb      string   `yaml:"thumb"`
	Original   string   `yaml:"original"`
}

// RefManifest is the yaml document the refs command ingests.
type RefManifest struct {
	Refs []RefEntry `yaml:"refs"`
}

// LoadRefManifest reads and validates a reference manifest.
func LoadRefManifest(path string) (RefManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RefManifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m RefManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return RefManifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	for i, ref := range m.Refs {
		if ref.Entity == "" {
			return RefManifest{}, fmt.Errorf("manifest ref %d: entity is required", i)
		}
	}
	return m, nil
}

// Embedder embeds a single text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IndexRefs writes every manifest entry into the visual-context table as a
// reference record. Tag text drives the embedding so free-text reference
// searches find them.
func IndexRefs(ctx context.Context, st store.Store, embed Embedder, manifest RefManifest) (int, error) {
	indexed := 0
	for _, ref := range manifest.Refs {
		text := ref.Entity
		if len(ref.Tags) > 0 {
			text += " " + strings.Join(ref.Tags, " ")
		}

		vec, err := embed.Embed(ctx, text)
		if err != nil {
			slog.Warn("reference embedding failed, storing zero vector",
				"entity", ref.Entity, "error", err)
			vec = models.ZeroVector()
		}

		frame := models.Frame{
			FrameID:      fmt.Sprintf("ref-%s-%s", models.Slugify(ref.Entity), uuid.NewString()[:8]),
			SceneID:      models.RefSceneID,
			Embedding:    vec,
			ThumbPath:    ref.Thumb,
			Category:     refCategory(ref.Category),
			Entity:       ref.Entity,
			Tags:         ref.Tags,
			Source:       models.SourceUpload,
			Confidence:   ref.Confidence,
			OriginalPath: ref.Original,
		}
		if err := st.InsertFrame(ctx, frame); err != nil {
			return indexed, fmt.Errorf("insert reference %s: %w", ref.Entity, err)
		}
		indexed++
	}
	return indexed, nil
}

func refCategory(s string) models.FrameCategory {
	switch models.FrameCategory(s) {
	case models.CategoryCharacter, models.CategoryEnvironment, models.CategoryProps:
		return models.FrameCategory(s)
	default:
		return models.CategoryOther
	}
}
