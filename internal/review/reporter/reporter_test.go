package reporter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/coderisk/internal/review/prompt"
	"github.com/rohankatakam/coderisk/internal/review/types"
)

func verdict(file string, line int, desc string, confidence float64, rt types.RiskType, sev types.Severity) types.ExpertVerdict {
	return types.ExpertVerdict{
		RiskType:    rt,
		FilePath:    file,
		LineNumber:  types.LineRange{Start: line, End: line},
		Description: desc,
		Confidence:  confidence,
		Severity:    sev,
	}
}

func TestFilter_DropsBelowDefaultThreshold(t *testing.T) {
	r := New(nil, nil, Config{DefaultConfidenceThreshold: 0.6})
	results := map[types.RiskType][]types.ExpertVerdict{
		types.RiskRobustnessBoundaryConds: {
			verdict("a.go", 1, "low confidence", 0.5, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
			verdict("a.go", 2, "high confidence", 0.7, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
		},
	}

	confirmed := r.filter(results)
	require.Len(t, confirmed, 1)
	assert.Equal(t, "high confidence", confirmed[0].Description)
}

func TestFilter_UsesPerRiskTypeThresholdOverride(t *testing.T) {
	r := New(nil, nil, Config{
		DefaultConfidenceThreshold: 0.6,
		ThresholdByRiskType: map[types.RiskType]float64{
			types.RiskAuthorizationDataExposure: 0.9,
		},
	})
	results := map[types.RiskType][]types.ExpertVerdict{
		types.RiskAuthorizationDataExposure: {
			verdict("auth.go", 1, "borderline auth issue", 0.8, types.RiskAuthorizationDataExposure, types.SeverityError),
		},
		types.RiskRobustnessBoundaryConds: {
			verdict("b.go", 1, "default-threshold issue", 0.65, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
		},
	}

	confirmed := r.filter(results)
	require.Len(t, confirmed, 1, "the stricter per-type threshold should drop the auth verdict but keep the default-threshold one")
	assert.Equal(t, "default-threshold issue", confirmed[0].Description)
}

func TestFilter_SortsBySeverityThenFilePath(t *testing.T) {
	r := New(nil, nil, Config{DefaultConfidenceThreshold: 0.0})
	results := map[types.RiskType][]types.ExpertVerdict{
		types.RiskRobustnessBoundaryConds: {
			verdict("z.go", 1, "info in z", 0.9, types.RiskRobustnessBoundaryConds, types.SeverityInfo),
			verdict("a.go", 1, "error in a", 0.9, types.RiskRobustnessBoundaryConds, types.SeverityError),
			verdict("m.go", 1, "warning in m", 0.9, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
		},
	}

	confirmed := r.filter(results)
	require.Len(t, confirmed, 3)
	assert.Equal(t, types.SeverityError, confirmed[0].Severity)
	assert.Equal(t, types.SeverityWarning, confirmed[1].Severity)
	assert.Equal(t, types.SeverityInfo, confirmed[2].Severity)
}

func TestRun_NoConfirmedVerdictsReturnsNoIssuesReport(t *testing.T) {
	r := New(nil, nil, DefaultConfig())
	report := r.Run(nil, map[types.RiskType][]types.ExpertVerdict{
		types.RiskRobustnessBoundaryConds: {
			verdict("a.go", 1, "too low confidence", 0.1, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
		},
	})
	assert.Contains(t, report, "No issues met the confidence threshold")
}

func TestRun_MissingTemplateFallsBackToDeterministicReport(t *testing.T) {
	renderer := prompt.New(t.TempDir())
	r := New(nil, renderer, DefaultConfig())
	report := r.Run(nil, map[types.RiskType][]types.ExpertVerdict{
		types.RiskRobustnessBoundaryConds: {
			verdict("a.go", 1, "missing nil check", 0.9, types.RiskRobustnessBoundaryConds, types.SeverityError),
		},
	})
	assert.Contains(t, report, "## Code Review Summary")
	assert.Contains(t, report, "1 issue(s) found")
	assert.Contains(t, report, "missing nil check")
}

func TestDeterministicReport_GroupsBySeverityThenFile(t *testing.T) {
	suggestion := "add a bounds check"
	confirmed := []types.ExpertVerdict{
		verdict("b.go", 5, "warning in b", 0.8, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
		{
			RiskType:    types.RiskAuthorizationDataExposure,
			FilePath:    "a.go",
			LineNumber:  types.LineRange{Start: 10, End: 10},
			Description: "error in a",
			Confidence:  0.9,
			Severity:    types.SeverityError,
			Suggestion:  &suggestion,
		},
		verdict("c.go", 1, "info in c", 0.95, types.RiskRobustnessBoundaryConds, types.SeverityInfo),
	}

	report := deterministicReport(confirmed)

	errorIdx := indexOf(t, report, "### ERROR")
	warningIdx := indexOf(t, report, "### WARNING")
	infoIdx := indexOf(t, report, "### INFO")
	assert.True(t, errorIdx < warningIdx, "ERROR section must come before WARNING")
	assert.True(t, warningIdx < infoIdx, "WARNING section must come before INFO")

	assert.Contains(t, report, "a.go:10")
	assert.Contains(t, report, "Suggestion: add a bounds check")
	assert.Contains(t, report, "3 issue(s) found")
}

func TestDeterministicReport_SortsWithinSeverityByFilePathThenLine(t *testing.T) {
	confirmed := []types.ExpertVerdict{
		verdict("z.go", 1, "z issue", 0.9, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
		verdict("a.go", 20, "a issue line 20", 0.9, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
		verdict("a.go", 5, "a issue line 5", 0.9, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
	}

	report := deterministicReport(confirmed)
	firstIdx := indexOf(t, report, "a issue line 5")
	secondIdx := indexOf(t, report, "a issue line 20")
	thirdIdx := indexOf(t, report, "z issue")
	assert.True(t, firstIdx < secondIdx)
	assert.True(t, secondIdx < thirdIdx)
}

func TestFormatIssueList_IncludesSuggestionLine(t *testing.T) {
	suggestion := "use context.WithTimeout"
	confirmed := []types.ExpertVerdict{
		{
			RiskType:    types.RiskConcurrencyTimingCorrect,
			FilePath:    "worker.go",
			LineNumber:  types.LineRange{Start: 3, End: 3},
			Description: "unbounded goroutine",
			Confidence:  0.8,
			Severity:    types.SeverityError,
			Suggestion:  &suggestion,
		},
	}

	list := formatIssueList(confirmed)
	assert.Contains(t, list, "worker.go:3")
	assert.Contains(t, list, "unbounded goroutine")
	assert.Contains(t, list, "suggestion: use context.WithTimeout")
}

func indexOf(t *testing.T, haystack, needle string) int {
	t.Helper()
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	t.Fatalf("expected %q to contain %q", haystack, needle)
	return -1
}
