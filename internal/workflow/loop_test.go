package workflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/storyboard-go/internal/budget"
	"github.com/raphaelgruber/storyboard-go/internal/config"
	"github.com/raphaelgruber/storyboard-go/internal/llm"
	"github.com/raphaelgruber/storyboard-go/internal/models"
	"github.com/raphaelgruber/storyboard-go/internal/render"
	"github.com/raphaelgruber/storyboard-go/internal/retrieval"
	"github.com/raphaelgruber/storyboard-go/internal/store"
)

// scriptedChat replays canned responses in call order. A response starting
// with "ERR:" fails that call.
type scriptedChat struct {
	queue   []string
	calls   []llm.CallOptions
	prompts []string
}

func (c *scriptedChat) Complete(_ context.Context, opts llm.CallOptions, _, user string) (string, llm.Usage, error) {
	c.calls = append(c.calls, opts)
	c.prompts = append(c.prompts, user)
	if len(c.queue) == 0 {
		return "", llm.Usage{}, errors.New("unexpected chat call")
	}
	resp := c.queue[0]
	c.queue = c.queue[1:]
	if strings.HasPrefix(resp, "ERR:") {
		return "", llm.Usage{}, errors.New(strings.TrimPrefix(resp, "ERR:"))
	}
	return resp, llm.Usage{InputTokens: 50, OutputTokens: 20}, nil
}

type stubRetriever struct{}

func (stubRetriever) HybridRetrieve(context.Context, []float32, []string, int, int, int) ([]retrieval.TextHit, []retrieval.ImageHit, error) {
	return nil, nil, nil
}

func (stubRetriever) SearchReferences(context.Context, string, string, int) ([]models.Frame, error) {
	return nil, nil
}

type stubEmbedder struct{ err error }

func (s stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return models.ZeroVector(), nil
}

// countingRenderer returns a fixed image and tracks endpoint usage.
type countingRenderer struct {
	mu           sync.Mutex
	generates    int
	edits        int
	instructions []string
	err          error
}

func (r *countingRenderer) Generate(context.Context, string, [][]byte) (render.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generates++
	if r.err != nil {
		return render.Result{}, r.err
	}
	return render.Result{
		ImageB64: base64.StdEncoding.EncodeToString([]byte("png-bytes")),
		Model:    "gpt-image-1",
		CostUSD:  0.08,
	}, nil
}

func (r *countingRenderer) Edit(_ context.Context, instruction string, _ []byte) (render.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits++
	r.instructions = append(r.instructions, instruction)
	if r.err != nil {
		return render.Result{}, r.err
	}
	return render.Result{
		ImageB64: base64.StdEncoding.EncodeToString([]byte("edited-png")),
		Model:    "gpt-image-1",
		CostUSD:  0.04,
	}, nil
}

func loopCfg(budgetUSD float64, nVariations, maxRetries, maxEdits int) config.Config {
	cfg := config.Load()
	cfg.BudgetUSD = budgetUSD
	cfg.NVariations = nVariations
	cfg.MaxRetries = maxRetries
	cfg.MaxEditRetries = maxEdits
	cfg.ShotsPerScene = 1
	cfg.ParallelRender = 1
	return cfg
}

func newTestLoop(t *testing.T, cfg config.Config, chat Chat, r render.Renderer) (*Loop, *store.Local) {
	t.Helper()

	st, err := store.NewLocal(t.TempDir())
	require.NoError(t, err)

	state := models.NewRunState()
	state.OutputDir = t.TempDir()
	state.Scenes = []models.SceneData{{
		SceneID:  1,
		RawText:  "Mara stands on the rooftop at dusk.",
		Entities: []string{"mara"},
	}}
	state.StyleText = "ink wash, muted palette"

	l := New(cfg, state, st, stubRetriever{}, chat, stubEmbedder{}, r, budget.NewLedger(cfg.BudgetUSD))
	l.sample = func() float64 { return 1.0 } // never sample the vision pass
	return l, st
}

const plannerJSON = `{"image_prompt": "mara silhouetted on the rooftop", "entities": [{"name": "mara"}], "camera": {"type": "static", "angle": "low", "distance": "wide"}, "style_notes": "long shadows"}`

const reviewerJSON = `{"approved": true, "modified_prompt": "", "style_adjustments": "", "negative_prompt": "no text overlays", "estimated_tokens": 800}`

const variationsJSON = `[{"camera": {"type": "static", "angle": "high", "distance": "close-up"}, "prompt_adjustment": "", "variation_notes": "tighter framing"}, {"camera": {"type": "tracking", "angle": "eye-level", "distance": "medium", "movement": "dolly"}, "prompt_adjustment": "", "variation_notes": ""}]`

func qaJSON(score float64, issues ...string) string {
	if issues == nil {
		issues = []string{}
	}
	b, _ := json.Marshal(map[string]any{"quality_score": score, "issues": issues})
	return string(b)
}

func TestRunSingleShotAccept(t *testing.T) {
	chat := &scriptedChat{queue: []string{plannerJSON, reviewerJSON, qaJSON(0.9)}}
	renderer := &countingRenderer{}
	l, st := newTestLoop(t, loopCfg(10, 1, 2, 1), chat, renderer)

	require.NoError(t, l.Run(context.Background()))

	state := l.State()
	assert.True(t, state.Complete)
	require.Len(t, state.AcceptedFrames, 1)

	frame := state.AcceptedFrames[0]
	assert.Equal(t, 1, frame.SceneID)
	assert.Equal(t, 1, frame.ShotID)
	assert.Equal(t, 0, frame.RetryCount)
	assert.InDelta(t, 0.9, frame.QualityScore, 1e-9)
	assert.Equal(t, "no text overlays", frame.NegativePrompt)

	// The image and the run artifacts are on disk.
	_, err := os.Stat(frame.ImagePath)
	assert.NoError(t, err)
	_, err = LoadState(state.OutputDir)
	assert.NoError(t, err)

	// Memory got one episode and one frame record.
	counts, err := st.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Episodes)
	assert.Equal(t, 1, counts.Frames)

	assert.Equal(t, 1, renderer.generates)
	assert.Empty(t, chat.queue, "all scripted responses consumed")
	assert.Greater(t, state.TotalCost, 0.08)
}

func TestRunBudgetGatesFirstRender(t *testing.T) {
	chat := &scriptedChat{queue: []string{plannerJSON, reviewerJSON}}
	renderer := &countingRenderer{}
	l, st := newTestLoop(t, loopCfg(0.01, 1, 2, 1), chat, renderer)

	require.NoError(t, l.Run(context.Background()))

	state := l.State()
	assert.True(t, state.Complete)
	assert.Empty(t, state.AcceptedFrames)
	assert.Equal(t, 0, renderer.generates, "render gated before execution")

	failures, err := st.RecentFailures(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "budget_exceeded", failures[0].ErrCode)
}

func TestRunBudgetGatesJudgeNodes(t *testing.T) {
	// The planner call alone costs more than this budget, so the reviewer
	// and variation nodes must degrade without reaching the model.
	chat := &scriptedChat{queue: []string{plannerJSON}}
	renderer := &countingRenderer{}
	l, _ := newTestLoop(t, loopCfg(0.0001, 3, 2, 1), chat, renderer)

	require.NoError(t, l.Run(context.Background()))

	state := l.State()
	assert.True(t, state.Complete)
	assert.Empty(t, state.AcceptedFrames)
	assert.Len(t, chat.calls, 1, "only the planner reached the model")
	assert.Equal(t, 0, renderer.generates)

	gated := map[string]bool{}
	for _, ev := range state.Events {
		if ev.Status == "budget_gated" {
			gated[ev.Stage] = true
		}
	}
	assert.True(t, gated["reviewer"], "reviewer not gated")
	assert.True(t, gated["variations"], "variations not gated")
}

func TestRunVariationsFailFailPass(t *testing.T) {
	chat := &scriptedChat{queue: []string{
		plannerJSON, reviewerJSON, variationsJSON,
		// Variation 0: fail, then fail under the low-score override.
		qaJSON(0.35, "muddy composition"),
		qaJSON(0.2, "muddy composition"),
		// Variation 1: same arc.
		qaJSON(0.35, "wrong angle"),
		qaJSON(0.2, "wrong angle"),
		// Variation 2: clean pass.
		qaJSON(0.9),
	}}
	renderer := &countingRenderer{}
	l, st := newTestLoop(t, loopCfg(10, 3, 2, 1), chat, renderer)

	require.NoError(t, l.Run(context.Background()))

	state := l.State()
	assert.True(t, state.Complete)
	require.Len(t, state.AcceptedFrames, 1)
	assert.Equal(t, 2, state.AcceptedFrames[0].VariationIdx)

	failures, err := st.RecentFailures(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, failures, 2)

	assert.Equal(t, 5, renderer.generates)
	assert.Empty(t, chat.queue)
}

func TestRunRetryEditUsesEditEndpoint(t *testing.T) {
	chat := &scriptedChat{queue: []string{
		plannerJSON, reviewerJSON,
		`{"quality_score": 0.5, "issues": ["a", "b", "c"], "guidance": "fix the framing"}`,
		qaJSON(0.9),
	}}
	renderer := &countingRenderer{}
	l, _ := newTestLoop(t, loopCfg(10, 1, 0, 1), chat, renderer)

	require.NoError(t, l.Run(context.Background()))

	state := l.State()
	require.Len(t, state.AcceptedFrames, 1)
	assert.Equal(t, 0, state.AcceptedFrames[0].RetryCount)
	assert.Equal(t, 1, state.AcceptedFrames[0].EditRetryCount)

	assert.Equal(t, 1, renderer.generates)
	assert.Equal(t, 1, renderer.edits)
	require.Len(t, renderer.instructions, 1)
	assert.Contains(t, renderer.instructions[0], "fix the framing")
	assert.Contains(t, renderer.instructions[0], "Fix these issues: a; b; c")
}

func TestRunVisionOverridesFastPass(t *testing.T) {
	chat := &scriptedChat{queue: []string{
		plannerJSON, reviewerJSON,
		qaJSON(0.9),
		qaJSON(0.4, "wrong face"),
	}}
	renderer := &countingRenderer{}
	l, st := newTestLoop(t, loopCfg(10, 1, 0, 0), chat, renderer)
	l.sample = func() float64 { return 0.0 } // always sample the vision pass

	require.NoError(t, l.Run(context.Background()))

	state := l.State()
	assert.Empty(t, state.AcceptedFrames)

	failures, err := st.RecentFailures(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, failures, 1)

	// The vision call carried the rendered frame as an attachment.
	require.Len(t, chat.calls, 4)
	assert.NotEmpty(t, chat.calls[3].Images)
}

func TestRunRenderErrorRetriesThenGivesUp(t *testing.T) {
	chat := &scriptedChat{queue: []string{plannerJSON, reviewerJSON}}
	renderer := &countingRenderer{err: errors.New("image service down")}
	l, st := newTestLoop(t, loopCfg(10, 1, 1, 0), chat, renderer)

	require.NoError(t, l.Run(context.Background()))

	state := l.State()
	assert.Empty(t, state.AcceptedFrames)
	assert.Equal(t, 2, renderer.generates, "one fresh attempt plus one retry")

	failures, err := st.RecentFailures(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, failures, 1)
}

func TestRunMultipleShotsAndScenes(t *testing.T) {
	cfg := loopCfg(10, 1, 2, 1)
	cfg.ShotsPerScene = 2

	var queue []string
	for i := 0; i < 4; i++ {
		queue = append(queue, plannerJSON, reviewerJSON, qaJSON(0.9))
	}
	chat := &scriptedChat{queue: queue}
	renderer := &countingRenderer{}
	l, _ := newTestLoop(t, cfg, chat, renderer)
	l.State().Scenes = append(l.State().Scenes, models.SceneData{
		SceneID: 2, RawText: "Mara slips into the alley.", Entities: []string{"mara"},
	})

	require.NoError(t, l.Run(context.Background()))

	state := l.State()
	require.Len(t, state.AcceptedFrames, 4)

	// Shots are numbered globally across scenes.
	var scenes, shots []int
	for _, f := range state.AcceptedFrames {
		scenes = append(scenes, f.SceneID)
		shots = append(shots, f.ShotID)
	}
	assert.Equal(t, []int{1, 1, 2, 2}, scenes)
	assert.Equal(t, []int{1, 2, 3, 4}, shots)
}

func TestRunPlannerFallbacks(t *testing.T) {
	chat := &scriptedChat{queue: []string{
		"this is not json at all",
		"ERR:reviewer timeout",
		qaJSON(0.9),
	}}
	renderer := &countingRenderer{}
	l, _ := newTestLoop(t, loopCfg(10, 1, 2, 1), chat, renderer)

	require.NoError(t, l.Run(context.Background()))

	state := l.State()
	require.Len(t, state.AcceptedFrames, 1)

	// Malformed plan falls back to the raw scene text with the default
	// camera; the failed review leaves the negative prompt empty.
	frame := state.AcceptedFrames[0]
	assert.Equal(t, "Mara stands on the rooftop at dusk.", frame.Prompt)
	assert.Equal(t, models.DefaultCamera(), frame.Camera)
	assert.Empty(t, frame.NegativePrompt)
}

func TestRunInterrupted(t *testing.T) {
	chat := &scriptedChat{}
	renderer := &countingRenderer{}
	l, _ := newTestLoop(t, loopCfg(10, 1, 2, 1), chat, renderer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// The interrupted state is persisted and resumable.
	got, loadErr := LoadState(l.State().OutputDir)
	require.NoError(t, loadErr)
	assert.False(t, got.Complete)
	assert.Empty(t, chat.calls)
}

func TestRunParallelPrerender(t *testing.T) {
	cfg := loopCfg(10, 3, 0, 0)
	cfg.ParallelRender = 2

	chat := &scriptedChat{queue: []string{
		plannerJSON, reviewerJSON, variationsJSON,
		qaJSON(0.9), qaJSON(0.9), qaJSON(0.9),
	}}
	renderer := &countingRenderer{}
	l, _ := newTestLoop(t, cfg, chat, renderer)

	require.NoError(t, l.Run(context.Background()))

	state := l.State()
	require.Len(t, state.AcceptedFrames, 3)
	// All three variations came out of the pre-render pool; no fresh
	// renders were needed.
	assert.Equal(t, 3, renderer.generates)
	for i, f := range state.AcceptedFrames {
		assert.Equal(t, i, f.VariationIdx)
	}
}
