package diffctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiff = `diff --git a/internal/foo.go b/internal/foo.go
@@ -10,3 +10,5 @@
 func existing() {
+	newLine1()
+	newLine2()
 }
diff --git a/internal/bar.go b/internal/bar.go
@@ -1,2 +1,3 @@
 package bar
+var x = 1
`

func TestNew_EmptyDiffYieldsNoFiles(t *testing.T) {
	a := New("")
	assert.Empty(t, a.ChangedFiles())
	assert.Equal(t, "", a.ExtractFileDiff("internal/foo.go"))
}

func TestFileDiff_MissingPathReturnsEmptyNonNilStruct(t *testing.T) {
	a := New(sampleDiff)
	fd := a.FileDiff("internal/missing.go")
	assert.Equal(t, "internal/missing.go", fd.FilePath)
	assert.NotNil(t, fd.AddedLines)
	assert.Empty(t, fd.ChangedLines())
}

func TestFileDiff_AddedLinesMatchHunkArithmetic(t *testing.T) {
	a := New(sampleDiff)

	foo := a.FileDiff("internal/foo.go")
	assert.True(t, foo.AddedLines[11])
	assert.True(t, foo.AddedLines[12])
	assert.Len(t, foo.ChangedLines(), 2)

	bar := a.FileDiff("internal/bar.go")
	assert.True(t, bar.AddedLines[2])
	assert.Len(t, bar.ChangedLines(), 1)
}

func TestChangedFiles_ListsEveryFileInTheDiff(t *testing.T) {
	a := New(sampleDiff)
	assert.ElementsMatch(t, []string{"internal/foo.go", "internal/bar.go"}, a.ChangedFiles())
}

func TestNormalizePath_StripsGitPrefixes(t *testing.T) {
	a := New(sampleDiff)
	direct := a.FileDiff("internal/foo.go")
	prefixed := a.FileDiff("a/internal/foo.go")
	assert.Equal(t, direct.AddedLines, prefixed.AddedLines)
}

func TestExtractFileDiff_ReturnsRawSectionForKnownPath(t *testing.T) {
	a := New(sampleDiff)
	section := a.ExtractFileDiff("internal/foo.go")
	require.NotEmpty(t, section)
	assert.Contains(t, section, "diff --git a/internal/foo.go b/internal/foo.go")
	assert.Contains(t, section, "newLine1")
	assert.NotContains(t, section, "internal/bar.go", "raw section must not bleed into the next file's hunk")
}

func TestWindow_ClampsAndPads(t *testing.T) {
	a := New(sampleDiff)
	lines := a.Window("internal/foo.go", 11, 11, 1)
	var nums []int
	for _, l := range lines {
		nums = append(nums, l.Line)
	}
	assert.Contains(t, nums, 11)

	assert.Nil(t, a.Window("internal/missing.go", 1, 1, 1))
}

func TestFormatWindow_RendersNumberedLines(t *testing.T) {
	lines := []NumberedLine{{Line: 5, Text: "hello"}, {Line: 6, Text: "world"}}
	out := FormatWindow(lines)
	assert.Equal(t, "5: hello\n6: world\n", out)
}

func TestTruncateDiffForPrompt(t *testing.T) {
	short, truncated := TruncateDiffForPrompt("abc", 10)
	assert.Equal(t, "abc", short)
	assert.False(t, truncated)

	long, truncated := TruncateDiffForPrompt("0123456789", 5)
	assert.True(t, truncated)
	assert.Equal(t, "01234\n... [truncated]", long)
}
