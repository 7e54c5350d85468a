package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/storyboard-go/internal/budget"
	"github.com/raphaelgruber/storyboard-go/internal/llm"
	"github.com/raphaelgruber/storyboard-go/internal/metrics"
	"github.com/raphaelgruber/storyboard-go/internal/models"
	"github.com/raphaelgruber/storyboard-go/internal/render"
	"github.com/raphaelgruber/storyboard-go/internal/retrieval"
	"github.com/raphaelgruber/storyboard-go/internal/script"
	"github.com/raphaelgruber/storyboard-go/internal/store"
	"github.com/raphaelgruber/storyboard-go/internal/workflow"
)

var (
	runScript   string
	runStyle    string
	runEntities string
	runRefsPath string
	runOutput   string
	runResume   string

	runBudget     float64
	runShots      int
	runVariations int
	runParallel   int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate storyboard frames from a script",
	Long: `Run the generation loop over every scene of a script.

A fresh run needs the three markdown inputs; an interrupted run resumes
from its saved state with --resume. SIGINT persists the state and writes
the report before exit.

Examples:
  storyboard run --script script.md --style style.md --entities entities.md
  storyboard run --script script.md --style style.md --entities entities.md --refs refs.yaml
  storyboard run --resume output/run_20260901_120000`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runScript, "script", "", "script markdown file")
	runCmd.Flags().StringVar(&runStyle, "style", "", "style guide markdown file")
	runCmd.Flags().StringVar(&runEntities, "entities", "", "entity descriptions markdown file")
	runCmd.Flags().StringVar(&runRefsPath, "refs", "", "reference image manifest (yaml) to ingest before the run")
	runCmd.Flags().StringVar(&runOutput, "output", "output", "directory for run output")
	runCmd.Flags().StringVar(&runResume, "resume", "", "resume from a previous run directory")

	runCmd.Flags().Float64Var(&runBudget, "budget", 0, "budget in USD (overrides config)")
	runCmd.Flags().IntVar(&runShots, "shots", 0, "shots per scene (overrides config)")
	runCmd.Flags().IntVar(&runVariations, "variations", 0, "variations per shot (overrides config)")
	runCmd.Flags().IntVar(&runParallel, "parallel", 0, "parallel render workers (overrides config)")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	applyRunOverrides()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	chat, embed, err := getLLM()
	if err != nil {
		return err
	}
	renderer, err := render.NewOpenAI(cfg)
	if err != nil {
		return err
	}

	var state *models.RunState
	if runResume != "" {
		state, err = workflow.LoadState(runResume)
		if err != nil {
			return fmt.Errorf("resume run: %w", err)
		}
		if state.Complete {
			fmt.Printf("Run %s is already complete\n", state.TraceID)
			return nil
		}
		fmt.Printf("Resuming run %s at scene %d, shot %d ($%.2f spent)\n",
			state.TraceID, state.SceneIdx+1, state.ShotIdx+1, state.TotalCost)
	} else {
		state, err = prepareRun(ctx, st, embed)
		if err != nil {
			return err
		}
	}

	budgetUSD := cfg.BudgetUSD
	if runResume != "" {
		budgetUSD = state.BudgetUSD
	}
	ledger := budget.NewLedger(budgetUSD)
	// Spend from an interrupted run counts against the same budget.
	ledger.Charge(state.TotalCost, state.TotalTokens)

	engine := retrieval.New(st, chat, embed, ledger, cfg)
	loop := workflow.New(cfg, state, st, engine, chat, embed, renderer, ledger)

	runErr := loop.Run(ctx)

	state = loop.State()
	if err := metrics.WriteReport(state); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: report generation failed: %v\n", err)
	}

	fmt.Printf("\nFrames accepted: %d\n", len(state.AcceptedFrames))
	fmt.Printf("Total cost: $%.2f of $%.2f\n", state.TotalCost, state.BudgetUSD)
	fmt.Printf("Output: %s\n", state.OutputDir)

	if errors.Is(runErr, context.Canceled) {
		fmt.Printf("Interrupted; resume with: storyboard run --resume %s\n", state.OutputDir)
		return nil
	}
	return runErr
}

// prepareRun loads and indexes the inputs and creates a fresh run directory.
func prepareRun(ctx context.Context, st store.Store, embed *llm.Embedder) (*models.RunState, error) {
	if runScript == "" || runStyle == "" || runEntities == "" {
		return nil, fmt.Errorf("--script, --style and --entities are required (or --resume)")
	}

	in, err := script.LoadInputs(runScript, runStyle, runEntities)
	if err != nil {
		return nil, err
	}
	scenes := script.ParseScenes(in.Script)
	if len(scenes) == 0 {
		return nil, fmt.Errorf("no scenes found in %s", runScript)
	}

	outDir := filepath.Join(runOutput, "run_"+time.Now().Format("20060102_150405"))
	if err := os.MkdirAll(filepath.Join(outDir, "frames"), 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	state := models.NewRunState()
	state.ScriptPath = runScript
	state.StylePath = runStyle
	state.EntitiesPath = runEntities
	state.RefsDir = runRefsPath
	state.OutputDir = outDir
	state.Scenes = scenes
	state.StyleText = in.Style
	state.EntitiesText = in.Entities
	state.EntitiesMeta = in.EntitiesMeta

	n, err := script.IndexCanonical(ctx, st, embed, in.Script, in.Style)
	if err != nil {
		return nil, fmt.Errorf("index canonical text: %w", err)
	}
	fmt.Printf("Parsed %d scenes, indexed %d canonical chunks\n", len(scenes), n)

	if runRefsPath != "" {
		manifest, err := script.LoadRefManifest(runRefsPath)
		if err != nil {
			return nil, err
		}
		indexed, err := script.IndexRefs(ctx, st, embed, manifest)
		if err != nil {
			return nil, fmt.Errorf("index references: %w", err)
		}
		fmt.Printf("Indexed %d reference images\n", indexed)
	}

	return state, nil
}

func applyRunOverrides() {
	if runBudget > 0 {
		cfg.BudgetUSD = runBudget
	}
	if runShots > 0 {
		cfg.ShotsPerScene = runShots
	}
	if runVariations > 0 {
		cfg.NVariations = runVariations
	}
	if runParallel > 0 {
		cfg.ParallelRender = runParallel
	}
}
