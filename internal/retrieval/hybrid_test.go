package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/storyboard-go/internal/budget"
	"github.com/raphaelgruber/storyboard-go/internal/config"
	"github.com/raphaelgruber/storyboard-go/internal/llm"
	"github.com/raphaelgruber/storyboard-go/internal/models"
	"github.com/raphaelgruber/storyboard-go/internal/store"
)

// fakeStore serves preset hits and records nothing.
type fakeStore struct {
	episodes []store.EpisodeHit
	frames   []store.FrameHit
	frameAll []models.Frame
}

func (f *fakeStore) InsertChunk(context.Context, models.CanonicalChunk) error { return nil }
func (f *fakeStore) InsertEpisode(context.Context, models.Episode) error      { return nil }
func (f *fakeStore) InsertFrame(context.Context, models.Frame) error          { return nil }
func (f *fakeStore) InsertFailure(context.Context, models.Failure) error      { return nil }

func (f *fakeStore) SearchChunks(_ context.Context, _ []float32, k int) ([]store.ChunkHit, error) {
	return []store.ChunkHit{}, nil
}

func (f *fakeStore) SearchEpisodes(_ context.Context, _ []float32, k int) ([]store.EpisodeHit, error) {
	if len(f.episodes) > k {
		return f.episodes[:k], nil
	}
	return f.episodes, nil
}

func (f *fakeStore) SearchFrames(_ context.Context, _ []float32, k int) ([]store.FrameHit, error) {
	if len(f.frames) > k {
		return f.frames[:k], nil
	}
	return f.frames, nil
}

func (f *fakeStore) FilterFrames(_ context.Context, filter store.FrameFilter) ([]models.Frame, error) {
	out := []models.Frame{}
	for _, fr := range f.frameAll {
		if filter.Matches(fr) {
			out = append(out, fr)
		}
	}
	return out, nil
}

func (f *fakeStore) RecentFailures(context.Context, int) ([]models.Failure, error) {
	return []models.Failure{}, nil
}

func (f *fakeStore) Counts(context.Context) (store.TableCounts, error) {
	return store.TableCounts{}, nil
}
func (f *fakeStore) Reset(context.Context) error { return nil }
func (f *fakeStore) Close(context.Context) error { return nil }

// fakeJudge replays canned responses per call, or fails every call.
type fakeJudge struct {
	responses []string
	err       error
	calls     int
	prompts   []string
	images    [][]llm.Image
}

func (j *fakeJudge) Complete(_ context.Context, opts llm.CallOptions, _, user string) (string, llm.Usage, error) {
	j.calls++
	j.prompts = append(j.prompts, user)
	j.images = append(j.images, opts.Images)
	if j.err != nil {
		return "", llm.Usage{}, j.err
	}
	resp := j.responses[0]
	if len(j.responses) > 1 {
		j.responses = j.responses[1:]
	}
	return resp, llm.Usage{InputTokens: 300}, nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vec, f.err
}

func testConfig(textRerank, visionRerank bool) config.Config {
	cfg := config.Load()
	cfg.Retrieval.TextRerank = textRerank
	cfg.Retrieval.VisionRerank = visionRerank
	return cfg
}

func episodeHit(scene, shot int, summary string, dist float64, entities ...string) store.EpisodeHit {
	return store.EpisodeHit{
		Episode:  models.Episode{SceneID: scene, ShotID: shot, Summary: summary, Entities: entities},
		Distance: dist,
	}
}

func frameHit(id, entity string, conf, dist float64) store.FrameHit {
	return store.FrameHit{
		Frame:    models.Frame{FrameID: id, Entity: entity, Confidence: conf},
		Distance: dist,
	}
}

func TestHybridRetrieveHeuristic(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{
		episodes: []store.EpisodeHit{
			// Same similarity, entity overlap decides.
			episodeHit(1, 10, "no overlap", 0.2, "tom"),
			episodeHit(1, 10, "full overlap", 0.2, "mara"),
		},
		frames: []store.FrameHit{
			// Equal similarity and confidence; entity boost decides.
			frameHit("f-other", "tom", 1.0, 0.1),
			frameHit("f-mara", "mara", 1.0, 0.1),
		},
	}
	e := New(st, nil, &fakeEmbedder{}, nil, testConfig(false, false))

	texts, images, err := e.HybridRetrieve(ctx, models.ZeroVector(), []string{"mara"}, 10, 5, 3)
	require.NoError(t, err)

	require.Len(t, texts, 2)
	assert.Equal(t, "full overlap", texts[0].Summary)
	// 0.6*0.8 + 0.3*1.0 + 0.1*1.0
	assert.InDelta(t, 0.88, texts[0].Score, 1e-9)
	// 0.6*0.8 + 0.3*0.0 + 0.1*1.0
	assert.InDelta(t, 0.58, texts[1].Score, 1e-9)

	require.Len(t, images, 2)
	assert.Equal(t, "f-mara", images[0].FrameID)
	// 0.9 * (0.5+0.5*1.0) * 1.2
	assert.InDelta(t, 1.08, images[0].Score, 1e-9)
	assert.InDelta(t, 0.9, images[1].Score, 1e-9)
}

func TestHybridRetrieveRecencyDecay(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{
		episodes: []store.EpisodeHit{
			episodeHit(1, 200, "distant shot", 0.2),
			episodeHit(1, 10, "current shot", 0.2),
		},
	}
	e := New(st, nil, &fakeEmbedder{}, nil, testConfig(false, false))

	texts, _, err := e.HybridRetrieve(ctx, models.ZeroVector(), nil, 10, 5, 3)
	require.NoError(t, err)
	require.Len(t, texts, 2)
	assert.Equal(t, "current shot", texts[0].Summary)
	// d=0: 0.6*0.8 + 0.1*1.0
	assert.InDelta(t, 0.58, texts[0].Score, 1e-9)
	// d=190: 0.6*0.8 + 0.1/(1+1.9)
	assert.InDelta(t, 0.48+0.1/2.9, texts[1].Score, 1e-9)
}

func TestHybridRetrieveBoundsAndDedup(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	for i := 0; i < 20; i++ {
		st.episodes = append(st.episodes, episodeHit(1, i, "summary", 0.1))
		st.frames = append(st.frames, frameHit("dup-frame", "mara", 0.5, 0.1))
	}
	e := New(st, nil, &fakeEmbedder{}, nil, testConfig(false, false))

	texts, images, err := e.HybridRetrieve(ctx, models.ZeroVector(), nil, 1, 5, 3)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(texts), 5)

	// All frames share one id; dedup leaves exactly one.
	require.Len(t, images, 1)

	ids := map[string]bool{}
	for _, im := range images {
		assert.False(t, ids[im.FrameID], "duplicate frame id %s", im.FrameID)
		ids[im.FrameID] = true
	}
}

func TestHybridRetrieveEmptyStore(t *testing.T) {
	e := New(&fakeStore{}, nil, &fakeEmbedder{}, nil, testConfig(true, true))

	texts, images, err := e.HybridRetrieve(context.Background(), models.ZeroVector(), nil, 1, 5, 3)
	require.NoError(t, err)
	assert.Empty(t, texts)
	assert.Empty(t, images)
}

func TestHybridRetrieveJudgeFailureKeepsHeuristicOrder(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{
		episodes: []store.EpisodeHit{
			episodeHit(1, 1, "first", 0.1),
			episodeHit(1, 1, "second", 0.3),
		},
		frames: []store.FrameHit{
			frameHit("f1", "mara", 0.9, 0.1),
			frameHit("f2", "tom", 0.9, 0.3),
		},
	}
	judge := &fakeJudge{err: errors.New("judge down")}
	ledger := budget.NewLedger(10)
	e := New(st, judge, &fakeEmbedder{}, ledger, testConfig(true, true))

	texts, images, err := e.HybridRetrieve(ctx, models.ZeroVector(), []string{"mara"}, 1, 5, 3)
	require.NoError(t, err)

	require.Len(t, texts, 2)
	assert.Equal(t, "first", texts[0].Summary)
	assert.Equal(t, "second", texts[1].Summary)

	require.Len(t, images, 2)
	assert.Equal(t, "f1", images[0].FrameID)
	assert.Equal(t, "f2", images[1].FrameID)

	// Both judge stages were attempted and charged despite failing.
	assert.Equal(t, 2, judge.calls)
	assert.Equal(t, 600, ledger.TotalTokens())
}

func TestHybridRetrieveTextRerankReorders(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{
		episodes: []store.EpisodeHit{
			episodeHit(1, 1, "heuristic favourite", 0.1),
			episodeHit(1, 1, "judge favourite", 0.3),
		},
	}
	// Candidate ids are 1-based across the combined table.
	judge := &fakeJudge{responses: []string{`[{"id": 1, "score": 20}, {"id": 2, "score": 95}]`}}
	e := New(st, judge, &fakeEmbedder{}, budget.NewLedger(10), testConfig(true, false))

	texts, _, err := e.HybridRetrieve(ctx, models.ZeroVector(), nil, 1, 5, 3)
	require.NoError(t, err)
	require.Len(t, texts, 2)
	assert.Equal(t, "judge favourite", texts[0].Summary)
	assert.Equal(t, 1, judge.calls)
}

func TestHybridRetrieveMalformedJudgeOutput(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{
		episodes: []store.EpisodeHit{
			episodeHit(1, 1, "first", 0.1),
			episodeHit(1, 1, "second", 0.3),
		},
	}
	judge := &fakeJudge{responses: []string{"I cannot rank these."}}
	e := New(st, judge, &fakeEmbedder{}, budget.NewLedger(10), testConfig(true, false))

	texts, _, err := e.HybridRetrieve(ctx, models.ZeroVector(), nil, 1, 5, 3)
	require.NoError(t, err)
	require.Len(t, texts, 2)
	assert.Equal(t, "first", texts[0].Summary)
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"both empty", nil, nil, 0},
		{"one empty", []string{"a"}, nil, 0},
		{"identical", []string{"a", "b"}, []string{"a", "b"}, 1},
		{"half overlap", []string{"a", "b"}, []string{"b", "c"}, 1.0 / 3.0},
		{"duplicates collapse", []string{"a", "a"}, []string{"a"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, jaccard(tt.a, tt.b), 1e-9)
		})
	}
}

func TestRecencyDecay(t *testing.T) {
	assert.InDelta(t, 1.0, recencyDecay(0), 1e-9)
	assert.InDelta(t, 0.5, recencyDecay(100), 1e-9)
	assert.Greater(t, recencyDecay(10), recencyDecay(50))
}
