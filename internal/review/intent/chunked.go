package intent

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/semaphore"

	"github.com/rohankatakam/coderisk/internal/review/diffctx"
	"github.com/rohankatakam/coderisk/internal/review/gateway"
	"github.com/rohankatakam/coderisk/internal/review/prompt"
	"github.com/rohankatakam/coderisk/internal/review/types"
)

// ChunkConfig holds every Chunked Intent Mode knob named in spec §6.
// Grounded on original_source/agents/nodes/intent_analysis_chunked.py's
// env-var defaults.
type ChunkConfig struct {
	MaxChunkChars     int
	MaxFileDiffChars  int
	TopKRatio         float64
	TopKMin           int
	TopKMax           int
	TopKDisableBelow  int
	BudgetRatio       float64
	SoftMarginSeconds float64
	SentinelSample    int
}

// DefaultChunkConfig matches spec §6's defaults.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChunkChars:     30000,
		MaxFileDiffChars:  24000,
		TopKRatio:         0.3,
		TopKMin:           4,
		TopKMax:           10,
		TopKDisableBelow:  4,
		BudgetRatio:       0.25,
		SoftMarginSeconds: 60,
		SentinelSample:    0,
	}
}

// ActivationConfig decides whether the Driver should switch to Chunked
// Intent Mode. This resolves spec §9's open question with explicit knobs
// rather than an inherited implicit heuristic.
type ActivationConfig struct {
	FileCountThreshold      int
	TotalDiffCharsThreshold int
}

// DefaultActivationConfig is DESIGN.md's decision for the open question.
func DefaultActivationConfig() ActivationConfig {
	return ActivationConfig{FileCountThreshold: 40, TotalDiffCharsThreshold: 120000}
}

// ShouldActivate reports whether Chunked Intent Mode should replace the
// per-file map stage for this diff.
func ShouldActivate(changedFiles []string, diff string, cfg ActivationConfig) bool {
	return len(changedFiles) > cfg.FileCountThreshold || len(diff) > cfg.TotalDiffCharsThreshold
}

// fileTypeWeight mirrors the source's type-weight table: tests/docs/config
// are discounted relative to ordinary source files.
var (
	testPathPattern   = regexp.MustCompile(`(?i)(^|/)(test|tests|__tests__|spec)(/|_|\.)|_test\.`)
	docsPathPattern   = regexp.MustCompile(`(?i)\.(md|rst|txt)$|(^|/)docs?/`)
	configPathPattern = regexp.MustCompile(`(?i)\.(ya?ml|json|toml|ini|cfg)$|(^|/)(config|\.github)/`)

	dangerPattern       = regexp.MustCompile(`(?i)\b(eval|exec|os\.system|subprocess|pickle\.loads|unsafe\.)`)
	strongDangerPattern = regexp.MustCompile(`\beval\(|\bexec\(`)
	publicAPIPattern    = regexp.MustCompile(`(?m)^\+\s*(func |export |public )`)
)

func fileTypeWeight(path string) float64 {
	switch {
	case testPathPattern.MatchString(path):
		return 0.4
	case docsPathPattern.MatchString(path):
		return 0.2
	case configPathPattern.MatchString(path):
		return 0.6
	default:
		return 1.0
	}
}

// scoreFile implements spec §4.5's Chunked Intent Mode scoring formula.
func scoreFile(fileDiff string, changedLines int) (score float64, strongDanger bool) {
	dangerHits := len(dangerPattern.FindAllString(fileDiff, -1))
	strongHits := len(strongDangerPattern.FindAllString(fileDiff, -1))
	apiHits := len(publicAPIPattern.FindAllString(fileDiff, -1))

	strongDanger = strongHits > 0

	s := 2*math.Log1p(float64(changedLines)) +
		0.6*math.Min(6, float64(apiHits)) +
		0.9*math.Min(6, float64(dangerHits))
	if strongDanger {
		s += 4
	}
	return s, strongDanger
}

// groupKey returns the first two path segments, the chunking group key.
func groupKey(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "/" + parts[1]
}

type fileScore struct {
	path         string
	score        float64
	strongDanger bool
	diff         string
}

// Chunk is one packed, scored group of files for a single chunked LLM call.
type Chunk struct {
	Files       []string
	DiffText    string
	MustInclude bool
	Score       float64
}

// packChunks groups files by depth-2 path, orders by score within each
// group, and packs members into chunks until MaxChunkChars is exceeded.
// Grounded on intent_analysis_chunked.py's _pack_chunks and
// internal/git/diff_chunker.go's BatchChunks mechanics.
func packChunks(files []fileScore, cfg ChunkConfig) []Chunk {
	groups := map[string][]fileScore{}
	var groupOrder []string
	for _, f := range files {
		k := groupKey(f.path)
		if _, ok := groups[k]; !ok {
			groupOrder = append(groupOrder, k)
		}
		groups[k] = append(groups[k], f)
	}

	var chunks []Chunk
	for _, k := range groupOrder {
		members := groups[k]
		sort.SliceStable(members, func(i, j int) bool { return members[i].score > members[j].score })

		var cur Chunk
		var curChars int
		for _, m := range members {
			diffText := m.diff
			if len(diffText) > cfg.MaxFileDiffChars {
				diffText = diffText[:cfg.MaxFileDiffChars] + "\n...[truncated]"
			}

			if curChars > 0 && curChars+len(diffText) > cfg.MaxChunkChars {
				chunks = append(chunks, cur)
				cur = Chunk{}
				curChars = 0
			}

			if len(diffText) > cfg.MaxChunkChars && curChars == 0 {
				chunks = append(chunks, Chunk{
					Files:       []string{m.path},
					DiffText:    diffText[:cfg.MaxChunkChars] + "\n...[truncated]",
					MustInclude: m.strongDanger,
					Score:       m.score,
				})
				continue
			}

			cur.Files = append(cur.Files, m.path)
			if cur.DiffText != "" {
				cur.DiffText += "\n"
			}
			cur.DiffText += diffText
			curChars += len(diffText)
			cur.MustInclude = cur.MustInclude || m.strongDanger
			cur.Score += m.score
		}
		if len(cur.Files) > 0 {
			chunks = append(chunks, cur)
		}
	}
	return chunks
}

// selectTopK implements spec §4.5's Top-K chunk selection: K =
// clamp(ceil(N*ratio), min, max); all must-include chunks are kept
// regardless of K, plus the highest-scoring remainder up to K.
func selectTopK(chunks []Chunk, cfg ChunkConfig) []Chunk {
	n := len(chunks)
	if n < cfg.TopKDisableBelow {
		return chunks
	}

	k := int(math.Ceil(float64(n) * cfg.TopKRatio))
	if k < cfg.TopKMin {
		k = cfg.TopKMin
	}
	if k > cfg.TopKMax {
		k = cfg.TopKMax
	}
	if k > n {
		k = n
	}

	var mustInclude, rest []Chunk
	for _, c := range chunks {
		if c.MustInclude {
			mustInclude = append(mustInclude, c)
		} else {
			rest = append(rest, c)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].Score > rest[j].Score })

	remaining := k - len(mustInclude)
	selected := append([]Chunk{}, mustInclude...)
	for i := 0; i < remaining && i < len(rest); i++ {
		selected = append(selected, rest[i])
	}

	if cfg.SentinelSample > 0 && len(rest) > len(selected)-len(mustInclude) {
		// deterministic sentinel: always the first remaining unselected
		// chunk in group order, not a random sample.
		for _, c := range chunks {
			already := false
			for _, s := range selected {
				if sameChunk(s, c) {
					already = true
					break
				}
			}
			if !already {
				selected = append(selected, c)
				break
			}
		}
	}
	return selected
}

func sameChunk(a, b Chunk) bool {
	if len(a.Files) != len(b.Files) {
		return false
	}
	for i := range a.Files {
		if a.Files[i] != b.Files[i] {
			return false
		}
	}
	return true
}

// ChunkedAnalyzer runs the Chunked Intent Mode map stage.
type ChunkedAnalyzer struct {
	gw          *gateway.Gateway
	renderer    *prompt.Renderer
	cfg         ChunkConfig
	concurrency int
}

// NewChunked builds a ChunkedAnalyzer.
func NewChunked(gw *gateway.Gateway, renderer *prompt.Renderer, cfg ChunkConfig, concurrency int) *ChunkedAnalyzer {
	return &ChunkedAnalyzer{gw: gw, renderer: renderer, cfg: cfg, concurrency: max1(concurrency)}
}

// Run scores, packs, and selects chunks, then runs one LLM call per
// selected chunk concurrently, enforcing the wall-clock budget from spec
// §4.5's last bullet: once the time left in the budget is at or below
// cfg.SoftMarginSeconds, no further chunk is dispatched and in-flight chunk
// calls are cancelled. deadline is the pipeline's overall deadline; budget_s
// is derived from it via cfg.BudgetRatio.
func (c *ChunkedAnalyzer) Run(ctx context.Context, adapter *diffctx.Adapter, changedFiles []string, deadline time.Time) ([]types.FileAnalysis, error) {
	var scored []fileScore
	for _, path := range changedFiles {
		fd := adapter.FileDiff(path)
		diffText := adapter.ExtractFileDiff(path)
		s, strongDanger := scoreFile(diffText, len(fd.ChangedLines()))
		s *= fileTypeWeight(path)
		scored = append(scored, fileScore{path: path, score: s, strongDanger: strongDanger, diff: diffText})
	}

	chunks := packChunks(scored, c.cfg)
	selected := selectTopK(chunks, c.cfg)

	totalRemaining := time.Until(deadline).Seconds()
	budgetS := totalRemaining * c.cfg.BudgetRatio
	if budgetS < 30 {
		budgetS = 30
	}
	chunkDeadline := time.Now().Add(time.Duration(budgetS * float64(time.Second)))
	softMargin := time.Duration(c.cfg.SoftMarginSeconds * float64(time.Second))
	cctx, cancel := context.WithDeadline(ctx, chunkDeadline.Add(-softMargin))
	defer cancel()

	sem := semaphore.NewWeighted(int64(c.concurrency))
	results := make([][]types.FileAnalysis, len(selected))
	done := make(chan int, len(selected))

	for i, chunk := range selected {
		i, chunk := i, chunk
		remaining := time.Until(chunkDeadline).Seconds()
		if remaining <= c.cfg.SoftMarginSeconds {
			done <- i // cancelled: contributes nothing, per spec §5
			continue
		}
		if err := sem.Acquire(cctx, 1); err != nil {
			done <- i
			continue
		}
		go func() {
			defer sem.Release(1)
			results[i] = c.analyzeChunk(cctx, chunk)
			done <- i
		}()
	}
	for range selected {
		<-done
	}

	var out []types.FileAnalysis
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func (c *ChunkedAnalyzer) analyzeChunk(ctx context.Context, chunk Chunk) []types.FileAnalysis {
	rendered, err := c.renderer.Render("intent_analysis_chunked", map[string]string{
		"chunk_files": strings.Join(chunk.Files, ", "),
		"chunk_diff":  chunk.DiffText,
	})
	if err != nil {
		return nil
	}

	messages := []types.Message{
		{Role: types.RoleSystem, Content: "You are an expert code reviewer."},
		{Role: types.RoleUser, Content: rendered},
	}
	resp, err := c.gw.NoTools(ctx, messages)
	if err != nil {
		return nil
	}

	declared := map[string]bool{}
	for _, f := range chunk.Files {
		declared[f] = true
	}

	stripped := stripFences(resp.Content)
	if !gjson.Valid(stripped) {
		obj, ok := extractFirstJSONObject(stripped)
		if !ok {
			return nil
		}
		stripped = obj
	}

	result := gjson.Parse(stripped)
	var out []types.FileAnalysis
	for _, faJSON := range result.Get("file_analyses").Array() {
		fa, err := decodeFileAnalysis(faJSON.Raw, "")
		if err != nil {
			continue
		}
		if !declared[fa.FilePath] {
			continue // not one of the chunk's declared files; discard
		}
		out = append(out, fa)
	}
	return out
}
