package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldActivate(t *testing.T) {
	cfg := ActivationConfig{FileCountThreshold: 40, TotalDiffCharsThreshold: 120000}

	assert.False(t, ShouldActivate(make([]string, 10), "short diff", cfg))
	assert.True(t, ShouldActivate(make([]string, 41), "short diff", cfg))
	assert.True(t, ShouldActivate(make([]string, 10), string(make([]byte, 120001)), cfg))
}

func TestFileTypeWeight(t *testing.T) {
	cases := []struct {
		path string
		want float64
	}{
		{"internal/foo/bar.go", 1.0},
		{"internal/foo/bar_test.go", 0.4},
		{"tests/fixtures/case.go", 0.4},
		{"__tests__/thing.test.js", 0.4},
		{"docs/guide.md", 0.2},
		{"README.rst", 0.2},
		{"config/app.yaml", 0.6},
		{".github/workflows/ci.yml", 0.6},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			assert.InDelta(t, tc.want, fileTypeWeight(tc.path), 1e-9)
		})
	}
}

func TestScoreFile_StrongDangerAddsBonus(t *testing.T) {
	plain, strongPlain := scoreFile("+ some ordinary line\n", 1)
	assert.False(t, strongPlain)

	dangerous, strongDangerous := scoreFile("+ eval(userInput)\n", 1)
	assert.True(t, strongDangerous)
	assert.Greater(t, dangerous, plain+3.9)
}

func TestScoreFile_MonotonicInChangedLines(t *testing.T) {
	small, _ := scoreFile("", 2)
	large, _ := scoreFile("", 50)
	assert.Less(t, small, large)
}

func TestScoreFile_DangerHitsAreCapped(t *testing.T) {
	manyHits := ""
	for i := 0; i < 20; i++ {
		manyHits += "subprocess.call(x)\n"
	}
	capped, _ := scoreFile(manyHits, 1)
	sixHits := ""
	for i := 0; i < 6; i++ {
		sixHits += "subprocess.call(x)\n"
	}
	atCap, _ := scoreFile(sixHits, 1)
	assert.InDelta(t, atCap, capped, 1e-9)
}

func TestGroupKey(t *testing.T) {
	assert.Equal(t, "internal/review", groupKey("internal/review/pipeline/pipeline.go"))
	assert.Equal(t, "internal/review", groupKey("internal/review/foo.go"))
	assert.Equal(t, "main.go", groupKey("main.go"))
}

func TestPackChunks_GroupsAndCapsByChars(t *testing.T) {
	cfg := ChunkConfig{MaxChunkChars: 20, MaxFileDiffChars: 100}
	files := []fileScore{
		{path: "internal/review/x.go", score: 1, diff: "0123456789"},
		{path: "internal/review/y.go", score: 2, diff: "0123456789"},
		{path: "internal/review/z.go", score: 3, diff: "0123456789"},
	}
	chunks := packChunks(files, cfg)
	if len(chunks) < 2 {
		t.Fatalf("expected packing to split the shared-group files across the char budget, got %d chunk(s)", len(chunks))
	}

	var allFiles []string
	for _, c := range chunks {
		allFiles = append(allFiles, c.Files...)
	}
	assert.ElementsMatch(t, []string{"internal/review/x.go", "internal/review/y.go", "internal/review/z.go"}, allFiles)
}

func TestPackChunks_OversizedFileGetsOwnTruncatedChunk(t *testing.T) {
	cfg := ChunkConfig{MaxChunkChars: 10, MaxFileDiffChars: 100}
	files := []fileScore{
		{path: "a/huge.go", score: 1, diff: "012345678901234567890123456789"},
	}
	chunks := packChunks(files, cfg)
	if len(chunks) != 1 {
		t.Fatalf("expected exactly one chunk, got %d", len(chunks))
	}
	assert.Contains(t, chunks[0].DiffText, "[truncated]")
}

func TestPackChunks_StrongDangerPropagatesMustInclude(t *testing.T) {
	cfg := ChunkConfig{MaxChunkChars: 1000, MaxFileDiffChars: 1000}
	files := []fileScore{
		{path: "internal/review/x.go", score: 1, diff: "benign", strongDanger: false},
		{path: "internal/review/y.go", score: 2, diff: "eval(x)", strongDanger: true},
	}
	chunks := packChunks(files, cfg)
	if len(chunks) != 1 {
		t.Fatalf("expected exactly one chunk, got %d", len(chunks))
	}
	assert.True(t, chunks[0].MustInclude)
}

func TestSelectTopK_BelowDisableThresholdReturnsAll(t *testing.T) {
	cfg := ChunkConfig{TopKDisableBelow: 4, TopKRatio: 0.3, TopKMin: 1, TopKMax: 2}
	chunks := []Chunk{{Score: 1}, {Score: 2}, {Score: 3}}
	assert.Len(t, selectTopK(chunks, cfg), 3)
}

func TestSelectTopK_ClampsToMinAndMax(t *testing.T) {
	cfg := ChunkConfig{TopKDisableBelow: 0, TopKRatio: 0.1, TopKMin: 2, TopKMax: 3}
	chunks := make([]Chunk, 10)
	for i := range chunks {
		chunks[i] = Chunk{Score: float64(i)}
	}
	selected := selectTopK(chunks, cfg)
	// ceil(10*0.1) = 1 is raised to TopKMin = 2.
	assert.Len(t, selected, 2)
	// Highest-scoring chunks (9, 8) should win.
	var scores []float64
	for _, s := range selected {
		scores = append(scores, s.Score)
	}
	assert.ElementsMatch(t, []float64{9, 8}, scores)
}

func TestSelectTopK_MustIncludeAlwaysSurvives(t *testing.T) {
	cfg := ChunkConfig{TopKDisableBelow: 0, TopKRatio: 0.1, TopKMin: 1, TopKMax: 1}
	chunks := []Chunk{
		{Score: 100, Files: []string{"high.go"}},
		{Score: 1, Files: []string{"danger.go"}, MustInclude: true},
	}
	selected := selectTopK(chunks, cfg)
	var found bool
	for _, s := range selected {
		if s.MustInclude {
			found = true
		}
	}
	assert.True(t, found, "must-include chunk should survive even when K=1 and its score is low")
}
