package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/storyboard-go/internal/budget"
	"github.com/raphaelgruber/storyboard-go/internal/config"
	"github.com/raphaelgruber/storyboard-go/internal/llm"
	"github.com/raphaelgruber/storyboard-go/internal/models"
	"github.com/raphaelgruber/storyboard-go/internal/render"
	"github.com/raphaelgruber/storyboard-go/internal/retrieval"
	"github.com/raphaelgruber/storyboard-go/internal/store"
)

// Chat is the completion collaborator shared by every judge node.
type Chat interface {
	Complete(ctx context.Context, opts llm.CallOptions, systemPrompt, userPrompt string) (string, llm.Usage, error)
}

// Embedder produces vectors for memory writes and context queries.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever supplies textual and visual context for a shot.
type Retriever interface {
	HybridRetrieve(ctx context.Context, queryVec []float32, entities []string, shotID, kText, kImage int) ([]retrieval.TextHit, []retrieval.ImageHit, error)
	SearchReferences(ctx context.Context, query, entityFilter string, limit int) ([]models.Frame, error)
}

// Loop owns one generation run. It is the only writer of the run state;
// nodes execute sequentially and the render pool works on snapshots.
type Loop struct {
	cfg      config.Config
	state    *models.RunState
	store    store.Store
	retr     Retriever
	chat     Chat
	embed    Embedder
	renderer render.Renderer
	ledger   *budget.Ledger

	// sample draws the vision QA sampling value; overridable in tests.
	sample func() float64

	shotCtx   contextBlock
	prerender map[int]render.Result
	frameUUID string
	editInstr string
}

// New creates a loop over the given collaborators. A fresh state adopts the
// configured run limits; a resumed state keeps the limits it was saved with.
func New(cfg config.Config, state *models.RunState, st store.Store, retr Retriever, chat Chat, embed Embedder, renderer render.Renderer, ledger *budget.Ledger) *Loop {
	if state.ShotsPerScene == 0 {
		state.BudgetUSD = cfg.BudgetUSD
		state.NVariations = cfg.NVariations
		state.MaxRetries = cfg.MaxRetries
		state.MaxEditRetries = cfg.MaxEditRetries
		state.ShotsPerScene = cfg.ShotsPerScene
	}
	return &Loop{
		cfg:      cfg,
		state:    state,
		store:    st,
		retr:     retr,
		chat:     chat,
		embed:    embed,
		renderer: renderer,
		ledger:   ledger,
		sample:   rand.Float64,
	}
}

// State exposes the run state for callers that report on it after Run.
func (l *Loop) State() *models.RunState { return l.state }

// Run drives the loop until every scene is processed, the budget is spent,
// or the context is cancelled. The state is persisted on every exit path,
// including panics, so a crashed run can resume.
func (l *Loop) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logEvent(models.LogEvent{Stage: "loop", Status: "panic", Error: fmt.Sprint(r)})
			l.Persist()
			err = fmt.Errorf("run panicked: %v", r)
		}
	}()

	for !l.state.Complete {
		if ctx.Err() != nil {
			l.logEvent(models.LogEvent{Stage: "loop", Status: "interrupted"})
			l.Persist()
			return ctx.Err()
		}
		l.step(ctx)
	}

	l.logEvent(models.LogEvent{
		Stage:   "loop",
		Status:  "complete",
		CostUSD: l.ledger.TotalUSD(),
		Extra:   map[string]any{"accepted_frames": len(l.state.AcceptedFrames)},
	})
	l.Persist()
	return nil
}

// Persist writes the current state snapshot to the run directory.
func (l *Loop) Persist() {
	if err := SaveState(l.state, l.state.OutputDir); err != nil {
		slog.Error("state persist failed", "error", err)
	}
}

// step processes one render attempt of the current variation, planning the
// shot first when the cursor just moved onto it.
func (l *Loop) step(ctx context.Context) {
	scene := l.state.CurrentScene()
	if scene == nil {
		l.state.Complete = true
		return
	}

	if !l.ledger.WithinBudget() {
		l.logEvent(models.LogEvent{Stage: "budget", Status: "exhausted", CostUSD: l.ledger.TotalUSD()})
		l.state.Complete = true
		return
	}

	if l.state.Plan == nil {
		l.planShot(ctx, scene)
	}

	l.attempt(ctx)
}

// errRenderGated marks a render refused because its projected cost does not
// fit the remaining budget.
var errRenderGated = errors.New("render gated by budget")

// attempt renders the current variation, runs QA and applies the policy
// decision.
func (l *Loop) attempt(ctx context.Context) {
	v := l.state.CurrentVariation()
	if v == nil {
		// Acting on an empty variation list is a no-op; skip the shot.
		l.logEvent(models.LogEvent{Stage: "loop", Status: "empty_variations"})
		l.advanceShot()
		return
	}
	plan := *v

	if err := l.renderAttempt(ctx, plan); err != nil {
		if errors.Is(err, errRenderGated) {
			l.giveUp(ctx, plan, "budget_exceeded")
			return
		}
		// A failed render scores as a failed attempt so the policy can
		// retry it or move on.
		l.state.FastQA = &models.QAResult{
			Status: models.QAFail,
			Issues: []string{"render failed: " + err.Error()},
		}
	} else if !l.runQA(ctx, plan) {
		l.giveUp(ctx, plan, "budget_exceeded")
		return
	}

	action, reason := Decide(l.state.EffectiveQA(),
		l.state.RetryCount, l.state.EditRetryCount,
		l.state.MaxRetries, l.state.MaxEditRetries)
	l.state.Action = action
	l.logEvent(models.LogEvent{Stage: "policy", Status: string(action), Extra: map[string]any{"reason": reason}})

	switch action {
	case models.ActionAccept:
		l.acceptFrame(ctx, plan)
		l.advance()
	case models.ActionGiveUp:
		l.recordFailure(ctx, plan, failCode(l.state.EffectiveQA()))
		l.advance()
	case models.ActionRetryNew:
		l.state.RetryCount++
		l.state.ResetAttempt()
	case models.ActionRetryEdit:
		l.state.EditRetryCount++
		l.editInstr = editInstruction(l.state.EffectiveQA())
		l.state.ResetAttempt()
	}
}

// giveUp records the failed attempt and moves the cursor on.
func (l *Loop) giveUp(ctx context.Context, plan models.ShotPlan, code string) {
	l.state.Action = models.ActionGiveUp
	l.logEvent(models.LogEvent{Stage: "policy", Status: string(models.ActionGiveUp), Extra: map[string]any{"reason": code}})
	l.recordFailure(ctx, plan, code)
	l.advance()
}

// advance moves the cursor to the next variation, or to the next shot when
// the variation list is exhausted.
func (l *Loop) advance() {
	if l.state.VariationIdx+1 < len(l.state.Variations) {
		l.state.VariationIdx++
		l.state.ImageB64 = ""
		l.state.ImagePath = ""
		l.state.Action = ""
		l.frameUUID = ""
		l.editInstr = ""
		l.state.ResetVariation()
		return
	}
	l.advanceShot()
}

// advanceShot drops all shot-scoped state and moves to the next shot,
// rolling over to the next scene at the shots-per-scene boundary.
func (l *Loop) advanceShot() {
	l.prerender = nil
	l.shotCtx = contextBlock{}
	l.frameUUID = ""
	l.editInstr = ""

	l.state.ShotIdx++
	if l.state.ShotIdx >= l.state.ShotsPerScene {
		l.state.ShotIdx = 0
		l.state.SceneIdx++
	}
	l.state.ResetShot()

	if l.state.CurrentScene() == nil {
		l.state.Complete = true
	}
}

// shotNumber is the global shot index, counted across scenes. Episodic
// records use it so recency decay sees one monotonic axis.
func (l *Loop) shotNumber() int {
	return l.state.SceneIdx*l.state.ShotsPerScene + l.state.ShotIdx + 1
}

// chargeCall records spend on the ledger and mirrors the totals into the
// persisted state.
func (l *Loop) chargeCall(usd float64, tokens int) {
	l.ledger.Charge(usd, tokens)
	l.state.TotalCost = l.ledger.TotalUSD()
	l.state.TotalTokens = l.ledger.TotalTokens()
}

// logEvent stamps and appends one event to the state and the JSONL log.
func (l *Loop) logEvent(ev models.LogEvent) {
	ev.TS = time.Now()
	ev.TraceID = l.state.TraceID
	l.state.Events = append(l.state.Events, ev)
	if err := appendEventLog(l.state.OutputDir, ev); err != nil {
		slog.Warn("event log append failed", "error", err)
	}
	if ev.Error != "" {
		slog.Warn(ev.Stage, "status", ev.Status, "error", ev.Error)
	} else {
		slog.Debug(ev.Stage, "status", ev.Status, "model", ev.Model, "cost_usd", ev.CostUSD)
	}
}

// failCode buckets a QA verdict for the failure record.
func failCode(qa *models.QAResult) string {
	switch {
	case qa == nil:
		return "unknown"
	case qa.Status == models.QAFail:
		return "qa_fail"
	default:
		return "low_quality"
	}
}

// newFrameUUID is split out so accept/failure records and file names agree
// on one id per rendered attempt.
func newFrameUUID() string {
	return uuid.NewString()
}
