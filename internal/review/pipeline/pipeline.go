// Package pipeline owns RunState and drives the static review graph:
// intent -> manager -> (experts or reporter) -> reporter -> end.
//
// Grounded on spec §4.9 directly, and on internal/llm/dual_pipeline.go's
// "choose mode, branch" idiom for the Chunked Intent Mode activation
// decision.
package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rohankatakam/coderisk/internal/review/diffctx"
	"github.com/rohankatakam/coderisk/internal/review/expert"
	"github.com/rohankatakam/coderisk/internal/review/gateway"
	"github.com/rohankatakam/coderisk/internal/review/intent"
	"github.com/rohankatakam/coderisk/internal/review/manager"
	"github.com/rohankatakam/coderisk/internal/review/prompt"
	"github.com/rohankatakam/coderisk/internal/review/reporter"
	"github.com/rohankatakam/coderisk/internal/review/toolsurface"
	"github.com/rohankatakam/coderisk/internal/review/types"
)

// Config bundles every stage's config plus the Driver's own knobs.
type Config struct {
	TimeoutSeconds int
	Activation     intent.ActivationConfig
	Intent         intent.Config
	Chunk          intent.ChunkConfig
	Manager        manager.Config
	Expert         expert.Config
	Reporter       reporter.Config
}

// DefaultConfig assembles every stage's defaults, matching spec §6.
func DefaultConfig() Config {
	return Config{
		TimeoutSeconds: 600,
		Activation:     intent.DefaultActivationConfig(),
		Intent:         intent.DefaultConfig(),
		Chunk:          intent.DefaultChunkConfig(),
		Manager:        manager.DefaultConfig(),
		Expert:         expert.DefaultConfig(),
		Reporter:       reporter.DefaultConfig(),
	}
}

// Driver injects the Gateway, Tool Surface, and Prompt Renderer into each
// stage and owns the deadline and RunState for one pipeline execution.
type Driver struct {
	gw       *gateway.Gateway
	surface  *toolsurface.Surface
	renderer *prompt.Renderer
	read     expert.ContentReader
	cfg      Config
}

// New builds a Driver.
func New(gw *gateway.Gateway, surface *toolsurface.Surface, renderer *prompt.Renderer, read expert.ContentReader, cfg Config) *Driver {
	return &Driver{gw: gw, surface: surface, renderer: renderer, read: read, cfg: cfg}
}

// Run executes the full static graph against one diff, returning the final
// RunState (including the rendered report). It owns the single wall-clock
// deadline per spec §4.9/§5 and propagates it via ctx.
func (d *Driver) Run(ctx context.Context, diffText string, lintErrors []types.LintError, contentRead expert.ContentReader) *types.RunState {
	runID := uuid.New().String()
	deadline := time.Now().Add(time.Duration(d.cfg.TimeoutSeconds) * time.Second)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	adapter := diffctx.New(diffText)
	changedFiles := adapter.ChangedFiles()

	state := &types.RunState{
		Diff:         diffText,
		ChangedFiles: changedFiles,
		LintErrors:   lintErrors,
		Metadata: types.Metadata{
			RunID:    runID,
			Deadline: deadline,
		},
	}

	// Intent stage: per-file map, or Chunked Intent Mode when the diff is
	// large enough to warrant it (spec §4.9's routing + §9's open question).
	if intent.ShouldActivate(changedFiles, diffText, d.cfg.Activation) {
		state.Metadata.ChunkedIntentMode = true
		chunked := intent.NewChunked(d.gw, d.renderer, d.cfg.Chunk, d.cfg.Intent.MaxConcurrentLLMRequests)
		analyses, _ := chunked.Run(ctx, adapter, changedFiles, deadline)
		state.FileAnalyses = analyses
	} else {
		analyzer := intent.New(d.gw, d.renderer, intent.ContentReader(contentRead), d.cfg.Intent)
		analyses, _ := analyzer.Run(ctx, adapter, changedFiles)
		state.FileAnalyses = analyses
	}
	// Canonical order at the Intent stage boundary: by file path.
	sort.SliceStable(state.FileAnalyses, func(i, j int) bool {
		return state.FileAnalyses[i].FilePath < state.FileAnalyses[j].FilePath
	})

	// Manager stage: deterministic reduce into a scored, capped work list.
	workList, expertTasks := manager.Run(state.FileAnalyses, state.LintErrors, adapter, d.cfg.Manager)
	state.WorkList = workList
	state.ExpertTasks = expertTasks

	// Route after Manager: empty expert_tasks skips straight to the Reporter.
	if hasAnyTasks(expertTasks) && !deadlineExceeded(ctx) {
		runtime := expert.New(d.gw, d.surface, d.renderer, expert.ContentReader(contentRead), d.cfg.Expert)
		state.ExpertResults = runtime.RunAll(ctx, adapter, expertTasks)
	}

	rep := reporter.New(d.gw, d.renderer, d.cfg.Reporter)
	state.FinalReport = rep.Run(ctx, state.ExpertResults)

	return state
}

func hasAnyTasks(tasks map[types.RiskType][]types.RiskItem) bool {
	for _, items := range tasks {
		if len(items) > 0 {
			return true
		}
	}
	return false
}

func deadlineExceeded(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
