// Package render wraps the image generation service. gpt-image-1 is driven
// through both its generate and edit endpoints: plain generation for fresh
// frames, the edit endpoint when reference images anchor the composition or
// when a QA retry asks for a targeted fix of the previous render.
package render

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/raphaelgruber/storyboard-go/internal/budget"
	"github.com/raphaelgruber/storyboard-go/internal/config"
)

const (
	renderSize    = "1024x1024"
	renderQuality = "medium"
	// MaxReferenceImages caps how many references anchor one generation.
	MaxReferenceImages = 4
)

// GenerateCost returns the flat price of one generation call before it
// runs, so callers can gate on the projected spend.
func GenerateCost(model string) float64 {
	return budget.ImageCost(model, renderSize, renderQuality)
}

// Result is one rendered image with its accounting data.
type Result struct {
	ImageB64 string
	Model    string
	CostUSD  float64
}

// Renderer generates and edits frames.
type Renderer interface {
	Generate(ctx context.Context, prompt string, refs [][]byte) (Result, error)
	Edit(ctx context.Context, instruction string, image []byte) (Result, error)
}

// OpenAI renders through the OpenAI images API.
type OpenAI struct {
	client    *openai.Client
	modelNew  string
	modelEdit string
	timeout   time.Duration
}

// NewOpenAI creates the renderer from configuration.
func NewOpenAI(cfg config.Config) (*OpenAI, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OpenAI API key required for rendering")
	}
	return &OpenAI{
		client:    openai.NewClient(cfg.OpenAIAPIKey),
		modelNew:  cfg.Models.RendererNew,
		modelEdit: cfg.Models.RendererEdit,
		timeout:   cfg.CallTimeout,
	}, nil
}

// Generate renders a new frame. With reference images the edit endpoint is
// used so the model sees them; without references it is a plain generation.
func (r *OpenAI) Generate(ctx context.Context, prompt string, refs [][]byte) (Result, error) {
	if len(refs) > MaxReferenceImages {
		refs = refs[:MaxReferenceImages]
	}

	if len(refs) > 0 {
		// Anchoring on the first reference; the edit endpoint takes one
		// image, the rest of the context lives in the prompt.
		b64, err := r.editCall(ctx, r.modelNew, prompt, refs[0])
		if err != nil {
			return Result{}, err
		}
		cost := budget.ImageCost(r.modelNew, renderSize, renderQuality)
		slog.Info("rendered frame with references", "model", r.modelNew,
			"refs", len(refs), "cost_usd", cost)
		return Result{ImageB64: b64, Model: r.modelNew, CostUSD: cost}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.CreateImage(ctx, openai.ImageRequest{
		Model:   r.modelNew,
		Prompt:  prompt,
		Size:    renderSize,
		Quality: renderQuality,
		N:       1,
	})
	if err != nil {
		return Result{}, fmt.Errorf("generate image: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return Result{}, fmt.Errorf("generate image: empty response")
	}

	cost := budget.ImageCost(r.modelNew, renderSize, renderQuality)
	slog.Info("rendered frame", "model", r.modelNew, "cost_usd", cost)
	return Result{ImageB64: resp.Data[0].B64JSON, Model: r.modelNew, CostUSD: cost}, nil
}

// Edit applies a targeted instruction to an existing frame.
func (r *OpenAI) Edit(ctx context.Context, instruction string, image []byte) (Result, error) {
	b64, err := r.editCall(ctx, r.modelEdit, instruction, image)
	if err != nil {
		return Result{}, err
	}
	slog.Info("edited frame", "model", r.modelEdit, "cost_usd", budget.EditImageCost)
	return Result{ImageB64: b64, Model: r.modelEdit, CostUSD: budget.EditImageCost}, nil
}

// editCall drives the images edit endpoint. The client wants an *os.File,
// so the image bytes take a detour through a temp file.
func (r *OpenAI) editCall(ctx context.Context, model, prompt string, image []byte) (string, error) {
	f, err := os.CreateTemp("", "render-src-*.png")
	if err != nil {
		return "", fmt.Errorf("stage edit image: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if _, err := f.Write(image); err != nil {
		return "", fmt.Errorf("stage edit image: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return "", fmt.Errorf("stage edit image: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.CreateEditImage(ctx, openai.ImageEditRequest{
		Model:  model,
		Image:  f,
		Prompt: prompt,
		N:      1,
		Size:   renderSize,
	})
	if err != nil {
		return "", fmt.Errorf("edit image: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", fmt.Errorf("edit image: empty response")
	}
	return resp.Data[0].B64JSON, nil
}

// DecodeB64 decodes a base64 image payload.
func DecodeB64(b64 string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return data, nil
}

// SaveB64 writes a base64 image payload to path, creating parent
// directories.
func SaveB64(b64, path string) error {
	data, err := DecodeB64(b64)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}
