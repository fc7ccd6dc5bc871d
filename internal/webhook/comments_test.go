package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/coderisk/internal/review/diffctx"
	"github.com/rohankatakam/coderisk/internal/review/types"
)

const commentTestDiff = `diff --git a/internal/foo.go b/internal/foo.go
@@ -10,3 +10,5 @@
 func existing() {
+	newLine1()
+	newLine2()
 }
`

func issue(file string, line int, desc string, confidence float64, sev types.Severity) types.RiskItem {
	return types.RiskItem{
		RiskType:    types.RiskRobustnessBoundaryConds,
		FilePath:    file,
		LineNumber:  types.LineRange{Start: line, End: line},
		Description: desc,
		Confidence:  confidence,
		Severity:    sev,
	}
}

func TestBuildReviewComments_ExactLineMatch(t *testing.T) {
	adapter := diffctx.New(commentTestDiff)
	issues := []types.RiskItem{issue("internal/foo.go", 11, "missing nil check", 0.8, types.SeverityWarning)}

	built := BuildReviewComments(adapter, issues, 10, 3)
	require.Len(t, built.ReviewComments, 1)
	assert.Equal(t, "internal/foo.go", built.ReviewComments[0].Path)
	assert.Equal(t, 11, built.ReviewComments[0].Line)
	assert.Equal(t, "RIGHT", built.ReviewComments[0].Side)
	assert.Empty(t, built.Skipped)
	assert.Equal(t, 1, built.TotalIssues)
}

func TestBuildReviewComments_FuzzMatchWithinWindow(t *testing.T) {
	adapter := diffctx.New(commentTestDiff)
	issues := []types.RiskItem{issue("internal/foo.go", 20, "off by a few lines", 0.7, types.SeverityWarning)}

	built := BuildReviewComments(adapter, issues, 10, 10)
	require.Len(t, built.ReviewComments, 1)
	assert.Equal(t, 10, built.ReviewComments[0].Line, "first commentable line found scanning ascending from the fuzzed range start")
}

func TestBuildReviewComments_UnmatchableLineIsSkipped(t *testing.T) {
	adapter := diffctx.New(commentTestDiff)
	issues := []types.RiskItem{issue("internal/foo.go", 1000, "far from any hunk", 0.9, types.SeverityError)}

	built := BuildReviewComments(adapter, issues, 10, 5)
	assert.Empty(t, built.ReviewComments)
	require.Len(t, built.Skipped, 1)
	assert.Equal(t, "far from any hunk", built.Skipped[0].Description)
}

func TestBuildReviewComments_UnknownFileIsSkipped(t *testing.T) {
	adapter := diffctx.New(commentTestDiff)
	issues := []types.RiskItem{issue("internal/other.go", 1, "not in this diff", 0.9, types.SeverityError)}

	built := BuildReviewComments(adapter, issues, 10, 5)
	assert.Empty(t, built.ReviewComments)
	require.Len(t, built.Skipped, 1)
}

func TestBuildReviewComments_GroupsIssuesAtSameLine(t *testing.T) {
	adapter := diffctx.New(commentTestDiff)
	issues := []types.RiskItem{
		issue("internal/foo.go", 11, "first issue here", 0.6, types.SeverityWarning),
		issue("internal/foo.go", 11, "second issue here", 0.7, types.SeverityError),
	}

	built := BuildReviewComments(adapter, issues, 10, 3)
	require.Len(t, built.ReviewComments, 1, "two issues anchored to the same line merge into one comment")
	assert.Contains(t, built.ReviewComments[0].Body, "first issue here")
	assert.Contains(t, built.ReviewComments[0].Body, "second issue here")
}

func TestBuildReviewComments_CapLimitsCommentsAndSkipsTheRest(t *testing.T) {
	adapter := diffctx.New(commentTestDiff)
	issues := []types.RiskItem{
		issue("internal/foo.go", 11, "high severity here", 0.9, types.SeverityError),
		issue("internal/foo.go", 12, "lower severity here", 0.5, types.SeverityInfo),
	}

	built := BuildReviewComments(adapter, issues, 1, 3)
	require.Len(t, built.ReviewComments, 1)
	assert.Contains(t, built.ReviewComments[0].Body, "high severity here", "the higher-severity group wins the single comment slot")
	require.Len(t, built.Skipped, 1)
	assert.Equal(t, "lower severity here", built.Skipped[0].Description)
}

func TestRenderCommentBody_IncludesSeverityRiskTypeAndSuggestion(t *testing.T) {
	suggestion := "add a bounds check"
	items := []types.RiskItem{
		{
			RiskType:    types.RiskRobustnessBoundaryConds,
			Severity:    types.SeverityError,
			Confidence:  0.85,
			Description: "index may go out of range",
			Suggestion:  &suggestion,
		},
	}
	body := renderCommentBody(items)
	assert.Contains(t, body, "ERROR")
	assert.Contains(t, body, "robustness_boundary_conditions")
	assert.Contains(t, body, "index may go out of range")
	assert.Contains(t, body, "Suggestion: add a bounds check")
}
