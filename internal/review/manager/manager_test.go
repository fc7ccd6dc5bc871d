package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/coderisk/internal/review/diffctx"
	"github.com/rohankatakam/coderisk/internal/review/types"
)

const testDiff = `diff --git a/internal/foo.go b/internal/foo.go
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

func riskItem(file string, start, end int, desc string, confidence float64, rt types.RiskType, sev types.Severity) types.RiskItem {
	return types.RiskItem{
		RiskType:    rt,
		FilePath:    file,
		LineNumber:  types.LineRange{Start: start, End: end},
		Description: desc,
		Confidence:  confidence,
		Severity:    sev,
	}
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, jaccard("", ""))
	assert.Equal(t, 1.0, jaccard("nil pointer dereference risk", "nil pointer dereference risk"))
	assert.Equal(t, 0.0, jaccard("completely different", "nothing in common here"))

	partial := jaccard("nil pointer dereference on user object", "nil pointer dereference on session object")
	assert.Greater(t, partial, 0.5)
	assert.Less(t, partial, 1.0)
}

func TestConvertLintErrors(t *testing.T) {
	items := ConvertLintErrors([]types.LintError{
		{File: "a/internal/foo.go", Line: 11, Message: "unused variable", Severity: types.SeverityError},
		{File: "internal/bar.go", Line: 2, Message: "missing return"},
	})
	require.Len(t, items, 2)
	assert.Equal(t, types.RiskSyntaxStaticErrors, items[0].RiskType)
	assert.Equal(t, "internal/foo.go", items[0].FilePath)
	assert.Equal(t, 0.8, items[0].Confidence)
	assert.Equal(t, types.SeverityError, items[0].Severity)
	assert.Equal(t, types.SeverityWarning, items[1].Severity, "missing severity defaults to warning")
}

func TestRun_DropsUnanchoredItems(t *testing.T) {
	adapter := diffctx.New(testDiff)
	cfg := DefaultConfig()
	cfg.DropUnanchored = true

	fileAnalyses := []types.FileAnalysis{
		{
			FilePath: "internal/foo.go",
			PotentialRisks: []types.RiskItem{
				riskItem("internal/foo.go", 11, 11, "risk near the real change", 0.7, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
				riskItem("internal/foo.go", 9000, 9000, "risk nowhere near any change", 0.7, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
			},
		},
	}

	workList, _ := Run(fileAnalyses, nil, adapter, cfg)
	require.Len(t, workList, 1)
	assert.Equal(t, 11, workList[0].LineNumber.Start)
}

func TestRun_KeepsUnanchoredWithDroppedConfidenceWhenConfigured(t *testing.T) {
	adapter := diffctx.New(testDiff)
	cfg := DefaultConfig()
	cfg.DropUnanchored = false
	cfg.UnanchoredConfidence = 0.2

	fileAnalyses := []types.FileAnalysis{
		{
			FilePath: "internal/foo.go",
			PotentialRisks: []types.RiskItem{
				riskItem("internal/foo.go", 9000, 9000, "far from any change", 0.9, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
			},
		},
	}

	workList, _ := Run(fileAnalyses, nil, adapter, cfg)
	require.Len(t, workList, 1)
	assert.Equal(t, 0.2, workList[0].Confidence)
}

func TestRun_SyntaxStaticErrorsBypassAnchoring(t *testing.T) {
	adapter := diffctx.New(testDiff)
	cfg := DefaultConfig()

	fileAnalyses := []types.FileAnalysis{
		{
			FilePath: "internal/foo.go",
			PotentialRisks: []types.RiskItem{
				riskItem("internal/foo.go", 9000, 9000, "syntax error far from change", 0.9, types.RiskSyntaxStaticErrors, types.SeverityError),
			},
		},
	}

	workList, _ := Run(fileAnalyses, nil, adapter, cfg)
	require.Len(t, workList, 1)
}

func TestRun_MergesNearDuplicatesWithinWindow(t *testing.T) {
	adapter := diffctx.New(testDiff)
	cfg := DefaultConfig()

	fileAnalyses := []types.FileAnalysis{
		{
			FilePath: "internal/foo.go",
			PotentialRisks: []types.RiskItem{
				riskItem("internal/foo.go", 11, 11, "missing nil check on user input", 0.6, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
				riskItem("internal/foo.go", 12, 12, "missing nil check on user input", 0.8, types.RiskRobustnessBoundaryConds, types.SeverityError),
			},
		},
	}

	workList, _ := Run(fileAnalyses, nil, adapter, cfg)
	require.Len(t, workList, 1, "near-duplicate descriptions within the line window should merge")
	assert.Equal(t, 0.8, workList[0].Confidence, "merge keeps the max confidence")
	assert.Equal(t, types.SeverityError, workList[0].Severity, "merge keeps the higher severity")
	assert.Equal(t, types.LineRange{Start: 11, End: 12}, workList[0].LineNumber, "merge keeps the union line range")
}

func TestRun_DoesNotMergeDissimilarDescriptions(t *testing.T) {
	adapter := diffctx.New(testDiff)
	cfg := DefaultConfig()

	fileAnalyses := []types.FileAnalysis{
		{
			FilePath: "internal/foo.go",
			PotentialRisks: []types.RiskItem{
				riskItem("internal/foo.go", 11, 11, "missing nil check on user input", 0.6, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
				riskItem("internal/foo.go", 12, 12, "unrelated concurrency hazard in goroutine", 0.8, types.RiskRobustnessBoundaryConds, types.SeverityError),
			},
		},
	}

	workList, _ := Run(fileAnalyses, nil, adapter, cfg)
	assert.Len(t, workList, 2)
}

func TestRun_BudgetCapsPerFileAndTotal(t *testing.T) {
	adapter := diffctx.New(testDiff)
	cfg := DefaultConfig()
	cfg.MaxWorkItemsTotal = 100
	cfg.MaxItemsPerFile = 1

	fileAnalyses := []types.FileAnalysis{
		{
			FilePath: "internal/foo.go",
			PotentialRisks: []types.RiskItem{
				riskItem("internal/foo.go", 11, 11, "issue one about a totally unrelated topic alpha", 0.9, types.RiskRobustnessBoundaryConds, types.SeverityError),
				riskItem("internal/foo.go", 12, 12, "issue two about a totally unrelated topic beta", 0.5, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
			},
		},
	}

	workList, _ := Run(fileAnalyses, nil, adapter, cfg)
	require.Len(t, workList, 1, "MaxItemsPerFile=1 should cap to the single highest-scored item")
	assert.InDelta(t, 0.9, workList[0].Confidence, 1e-9)
}

func TestRun_DeterministicOrderAcrossRuns(t *testing.T) {
	adapter := diffctx.New(testDiff)
	cfg := DefaultConfig()

	fileAnalyses := []types.FileAnalysis{
		{
			FilePath: "internal/bar.go",
			PotentialRisks: []types.RiskItem{
				riskItem("internal/bar.go", 2, 2, "issue in bar about topic one", 0.5, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
			},
		},
		{
			FilePath: "internal/foo.go",
			PotentialRisks: []types.RiskItem{
				riskItem("internal/foo.go", 11, 11, "issue in foo about topic two", 0.5, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
			},
		},
	}

	first, _ := Run(fileAnalyses, nil, adapter, cfg)
	second, _ := Run(fileAnalyses, nil, adapter, cfg)
	require.Equal(t, first, second)
	require.Len(t, first, 2)
	assert.Equal(t, "internal/bar.go", first[0].FilePath, "sorted by file_path ascending")
	assert.Equal(t, "internal/foo.go", first[1].FilePath)
}

func TestRun_GroupsExpertTasksByRiskType(t *testing.T) {
	adapter := diffctx.New(testDiff)
	cfg := DefaultConfig()

	fileAnalyses := []types.FileAnalysis{
		{
			FilePath: "internal/foo.go",
			PotentialRisks: []types.RiskItem{
				riskItem("internal/foo.go", 11, 11, "concurrency hazard", 0.7, types.RiskConcurrencyTimingCorrect, types.SeverityWarning),
				riskItem("internal/foo.go", 12, 12, "boundary condition", 0.7, types.RiskRobustnessBoundaryConds, types.SeverityWarning),
			},
		},
	}

	_, expertTasks := Run(fileAnalyses, nil, adapter, cfg)
	assert.Len(t, expertTasks[types.RiskConcurrencyTimingCorrect], 1)
	assert.Len(t, expertTasks[types.RiskRobustnessBoundaryConds], 1)
}

func TestValidateLineRange(t *testing.T) {
	assert.NoError(t, ValidateLineRange(types.LineRange{Start: 1, End: 1}))
	assert.NoError(t, ValidateLineRange(types.LineRange{Start: 1, End: 5}))
	assert.Error(t, ValidateLineRange(types.LineRange{Start: 5, End: 1}))
	assert.Error(t, ValidateLineRange(types.LineRange{Start: 0, End: 1}))
}
