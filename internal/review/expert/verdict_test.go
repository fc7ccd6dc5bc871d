package expert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/coderisk/internal/review/types"
)

func baseTask() types.RiskItem {
	return types.RiskItem{
		RiskType:    types.RiskSyntaxStaticErrors,
		FilePath:    "internal/foo.go",
		LineNumber:  types.LineRange{Start: 10, End: 12},
		Description: "task anchor description",
		Confidence:  0.4,
		Severity:    types.SeverityWarning,
	}
}

func TestParseVerdict_WholeMessageJSON(t *testing.T) {
	content := `{"risk_type":"authorization_data_exposure","file_path":"internal/auth.go","line_number":42,"description":"missing auth check","confidence":0.9,"severity":"error","suggestion":"add a check"}`

	v, ok := ParseVerdict(content, baseTask())
	require.True(t, ok)
	assert.Equal(t, types.RiskAuthorizationDataExposure, v.RiskType)
	assert.Equal(t, "internal/auth.go", v.FilePath)
	assert.Equal(t, types.LineRange{Start: 42, End: 42}, v.LineNumber)
	assert.Equal(t, "missing auth check", v.Description)
	assert.InDelta(t, 0.9, v.Confidence, 1e-9)
	assert.Equal(t, types.SeverityError, v.Severity)
	require.NotNil(t, v.Suggestion)
	assert.Equal(t, "add a check", *v.Suggestion)
}

func TestParseVerdict_FencedJSONBlock(t *testing.T) {
	content := "Here is my analysis:\n```json\n{\"risk_type\":\"syntax_static_errors\",\"file_path\":\"internal/foo.go\",\"confidence\":0.75}\n```\nLet me know if you need more."

	v, ok := ParseVerdict(content, baseTask())
	require.True(t, ok)
	assert.Equal(t, types.RiskSyntaxStaticErrors, v.RiskType)
	assert.InDelta(t, 0.75, v.Confidence, 1e-9)
}

func TestParseVerdict_ProseWithEmbeddedObject(t *testing.T) {
	content := `I looked at this and found nothing unusual, though here's some context: {"note": "irrelevant"}. My conclusion is below.
{"risk_type": "concurrency_timing_correctness", "file_path": "internal/worker.go", "line_number": [5, 9], "confidence": 0.6, "severity": "warning"}`

	v, ok := ParseVerdict(content, baseTask())
	require.True(t, ok)
	assert.Equal(t, types.RiskConcurrencyTimingCorrect, v.RiskType)
	assert.Equal(t, "internal/worker.go", v.FilePath)
	assert.Equal(t, types.LineRange{Start: 5, End: 9}, v.LineNumber)
}

func TestParseVerdict_UnknownRiskTypeFallsBackToTask(t *testing.T) {
	content := `{"risk_type":"not_a_real_type","file_path":"internal/foo.go","confidence":0.5}`

	v, ok := ParseVerdict(content, baseTask())
	require.True(t, ok)
	assert.Equal(t, types.RiskSyntaxStaticErrors, v.RiskType)
}

func TestParseVerdict_MissingFieldsFallBackToTaskAnchor(t *testing.T) {
	content := `{"risk_type":"syntax_static_errors"}`

	task := baseTask()
	v, ok := ParseVerdict(content, task)
	require.True(t, ok)
	assert.Equal(t, task.FilePath, v.FilePath)
	assert.Equal(t, task.LineNumber, v.LineNumber)
	assert.Equal(t, task.Description, v.Description)
	assert.Equal(t, task.Confidence, v.Confidence)
	assert.Equal(t, task.Severity, v.Severity)
}

func TestParseVerdict_LineNumberShapes(t *testing.T) {
	cases := []struct {
		name string
		json string
		want types.LineRange
	}{
		{"single int", `{"risk_type":"syntax_static_errors","line_number":7}`, types.LineRange{Start: 7, End: 7}},
		{"one-element array", `{"risk_type":"syntax_static_errors","line_number":[7]}`, types.LineRange{Start: 7, End: 7}},
		{"two-element array", `{"risk_type":"syntax_static_errors","line_number":[9,3]}`, types.LineRange{Start: 3, End: 9}},
		{"numeric string", `{"risk_type":"syntax_static_errors","line_number":"11"}`, types.LineRange{Start: 11, End: 11}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, ok := ParseVerdict(tc.json, baseTask())
			require.True(t, ok)
			assert.Equal(t, tc.want, v.LineNumber)
		})
	}
}

func TestParseVerdict_NoJSONAnywhereFails(t *testing.T) {
	_, ok := ParseVerdict("I am not sure, sorry.", baseTask())
	assert.False(t, ok)
}

func TestParseVerdict_NoSuggestionLeavesNilPointer(t *testing.T) {
	content := `{"risk_type":"syntax_static_errors","confidence":0.3}`
	v, ok := ParseVerdict(content, baseTask())
	require.True(t, ok)
	assert.Nil(t, v.Suggestion)
}
