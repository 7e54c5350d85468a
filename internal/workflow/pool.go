package workflow

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/storyboard-go/internal/render"
)

// RenderTask is an immutable snapshot of one variation render. Tasks are
// built before the pool starts so workers never touch shared loop state.
type RenderTask struct {
	VariationIdx int
	Prompt       string
	Refs         [][]byte
}

// RenderOutcome pairs a task with its result or error.
type RenderOutcome struct {
	VariationIdx int
	Result       render.Result
	Err          error
}

// RenderVariations renders tasks with at most workers concurrent calls and
// returns outcomes in task order. A failed render is reported in its
// outcome; it never cancels the sibling renders.
func RenderVariations(ctx context.Context, r render.Renderer, tasks []RenderTask, workers int) []RenderOutcome {
	if workers < 1 {
		workers = 1
	}
	if workers > 4 {
		workers = 4
	}

	out := make([]RenderOutcome, len(tasks))

	if workers == 1 {
		for i, t := range tasks {
			res, err := r.Generate(ctx, t.Prompt, t.Refs)
			out[i] = RenderOutcome{VariationIdx: t.VariationIdx, Result: res, Err: err}
		}
		return out
	}

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, t := range tasks {
		g.Go(func() error {
			res, err := r.Generate(ctx, t.Prompt, t.Refs)
			out[i] = RenderOutcome{VariationIdx: t.VariationIdx, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
