package retrieval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/storyboard-go/internal/budget"
	"github.com/raphaelgruber/storyboard-go/internal/models"
	"github.com/raphaelgruber/storyboard-go/internal/store"
)

func imageHits(t *testing.T, n int) []ImageHit {
	t.Helper()
	dir := t.TempDir()

	out := make([]ImageHit, n)
	for i := range out {
		thumb := filepath.Join(dir, fmt.Sprintf("thumb_%d.png", i))
		require.NoError(t, os.WriteFile(thumb, []byte("png-bytes"), 0o644))
		out[i] = ImageHit{
			Frame: models.Frame{
				FrameID:   fmt.Sprintf("f%d", i),
				Entity:    "mara",
				ThumbPath: thumb,
			},
			Score: float64(n - i),
		}
	}
	return out
}

func TestVisionRerankBatching(t *testing.T) {
	images := imageHits(t, 10)
	judge := &fakeJudge{responses: []string{`[]`}}
	e := New(&fakeStore{}, judge, &fakeEmbedder{}, budget.NewLedger(10), testConfig(false, true))

	e.visionRerank(context.Background(), []string{"mara"}, 1, images)

	// 10 candidates split into exactly two batches of 8 and 2.
	require.Equal(t, 2, judge.calls)
	assert.Len(t, judge.images[0], 8)
	assert.Len(t, judge.images[1], 2)
	assert.Contains(t, judge.prompts[0], "A:")
	assert.Contains(t, judge.prompts[0], "H:")
	assert.NotContains(t, judge.prompts[1], "C:")
}

func TestVisionRerankScoresAndMissingDefaults(t *testing.T) {
	images := imageHits(t, 3)
	// f2 gets no score: defaults to 0 and sorts last.
	judge := &fakeJudge{responses: []string{`[{"label": "A", "score": 10}, {"label": "B", "score": 90}]`}}
	e := New(&fakeStore{}, judge, &fakeEmbedder{}, budget.NewLedger(10), testConfig(false, true))

	out := e.visionRerank(context.Background(), nil, 1, images)

	require.Len(t, out, 3)
	assert.Equal(t, "f1", out[0].FrameID)
	assert.Equal(t, "f0", out[1].FrameID)
	assert.Equal(t, "f2", out[2].FrameID)
}

func TestVisionRerankAllBatchesFailKeepsOrder(t *testing.T) {
	images := imageHits(t, 10)
	judge := &fakeJudge{err: errors.New("vision judge down")}
	e := New(&fakeStore{}, judge, &fakeEmbedder{}, budget.NewLedger(10), testConfig(false, true))

	out := e.visionRerank(context.Background(), nil, 1, images)

	require.Len(t, out, 10)
	for i, im := range out {
		assert.Equal(t, fmt.Sprintf("f%d", i), im.FrameID)
	}
	// Both batches were attempted.
	assert.Equal(t, 2, judge.calls)
}

func TestVisionRerankPartialBatchFailure(t *testing.T) {
	images := imageHits(t, 10)
	// First batch succeeds with low scores, second batch fails: its two
	// candidates keep their relative order below every scored candidate.
	judge := &fakeJudge{responses: []string{
		`[{"label": "A", "score": 5}, {"label": "B", "score": 60}]`,
		"judge exploded mid-run",
	}}
	e := New(&fakeStore{}, judge, &fakeEmbedder{}, budget.NewLedger(10), testConfig(false, true))

	out := e.visionRerank(context.Background(), nil, 1, images)

	require.Len(t, out, 10)
	assert.Equal(t, "f1", out[0].FrameID)
	assert.Equal(t, "f0", out[1].FrameID)
	// Failed batch candidates land at the bottom in pre-batch order.
	assert.Equal(t, "f8", out[8].FrameID)
	assert.Equal(t, "f9", out[9].FrameID)
}

func TestVisionRerankUnreadableThumbnail(t *testing.T) {
	images := imageHits(t, 2)
	images[1].ThumbPath = "/nonexistent/thumb.png"
	judge := &fakeJudge{responses: []string{`[{"label": "A", "score": 50}, {"label": "B", "score": 80}]`}}
	e := New(&fakeStore{}, judge, &fakeEmbedder{}, budget.NewLedger(10), testConfig(false, true))

	out := e.visionRerank(context.Background(), nil, 1, images)

	// Only the readable thumbnail is attached; scores still apply by label.
	require.Len(t, judge.images[0], 1)
	assert.Equal(t, "f1", out[0].FrameID)
}

func TestSearchReferencesFrameIDFastPath(t *testing.T) {
	st := &fakeStore{frameAll: []models.Frame{
		{FrameID: "frame-abc-123", Entity: "mara"},
		{FrameID: "frame-def-456", Entity: "tom"},
	}}
	e := New(st, nil, &fakeEmbedder{err: errors.New("must not be called")}, nil, testConfig(false, false))

	out, err := e.SearchReferences(context.Background(), "frame-abc-123", "", 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "mara", out[0].Entity)

	t.Run("entity filter excludes mismatch", func(t *testing.T) {
		out, err := e.SearchReferences(context.Background(), "frame-abc-123", "tom", 5)
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestSearchReferencesRanking(t *testing.T) {
	st := &fakeStore{
		frames: []store.FrameHit{
			// Closer but low confidence loses to slightly farther high
			// confidence: 0.9*(0.5+0.5*0.2)=0.54 vs 0.8*(0.5+0.5*1.0)=0.8.
			frameHit("low-conf", "mara", 0.2, 0.1),
			frameHit("high-conf", "mara", 1.0, 0.2),
			frameHit("other-entity", "tom", 1.0, 0.0),
		},
	}
	e := New(st, nil, &fakeEmbedder{vec: models.ZeroVector()}, nil, testConfig(false, false))

	out, err := e.SearchReferences(context.Background(), "mara at dusk", "mara", 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "high-conf", out[0].FrameID)
	assert.Equal(t, "low-conf", out[1].FrameID)
}

func TestSearchReferencesEmbedFailureDegrades(t *testing.T) {
	st := &fakeStore{
		frames: []store.FrameHit{frameHit("f1", "mara", 0.5, 0.1)},
	}
	e := New(st, nil, &fakeEmbedder{err: errors.New("embedding down")}, nil, testConfig(false, false))

	out, err := e.SearchReferences(context.Background(), "mara at dusk", "", 5)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}
