package expert

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/coderisk/internal/review/diffctx"
	"github.com/rohankatakam/coderisk/internal/review/gateway"
	"github.com/rohankatakam/coderisk/internal/review/prompt"
	"github.com/rohankatakam/coderisk/internal/review/toolsurface"
	"github.com/rohankatakam/coderisk/internal/review/types"
)

// fakeBackend lets tests script the Gateway's responses without any network
// call: completeFn receives whether this call bound tools (main loop) or not
// (a forcedFinalize NoTools call) and the 1-indexed call number.
type fakeBackend struct {
	completeFn func(tools []types.ToolDefinition, call int) (types.Message, error)
	calls      int
}

func (f *fakeBackend) Complete(_ context.Context, _ []types.Message, tools []types.ToolDefinition) (types.Message, error) {
	f.calls++
	return f.completeFn(tools, f.calls)
}

func newTestRuntime(t *testing.T, backend gateway.Backend, cfg Config) *Runtime {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "expert_syntax_static_errors.tmpl"),
		[]byte("Reviewing {risk_type}. Available tools:\n{available_tools}"),
		0o644,
	))
	renderer := prompt.New(dir)
	gw := gateway.New(gateway.Config{}, backend)
	surface := toolsurface.New(dir, nil)
	read := ContentReader(func(path string) (string, error) { return "", nil })
	return New(gw, surface, renderer, read, cfg)
}

func toolCallResponse() types.Message {
	return types.Message{
		Role: types.RoleAssistant,
		ToolCalls: []types.ToolCall{
			{Name: "run_grep", Args: map[string]interface{}{"pattern": "nonexistent_token_xyz"}},
		},
	}
}

const finalizeVerdictJSON = `{"risk_type":"syntax_static_errors","file_path":"internal/foo.go","confidence":0.55}`

func TestRunOne_ToolBudgetExhaustedTriggersForcedFinalize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxExpertToolCalls = 2
	cfg.MaxConsecutiveNoSignalTools = 100
	cfg.NoSignalWindow = 100
	cfg.MaxExpertRounds = 100

	backend := &fakeBackend{}
	backend.completeFn = func(tools []types.ToolDefinition, call int) (types.Message, error) {
		if tools != nil {
			return toolCallResponse(), nil
		}
		return types.Message{Role: types.RoleAssistant, Content: finalizeVerdictJSON}, nil
	}

	r := newTestRuntime(t, backend, cfg)
	adapter := diffctx.New("")

	v := r.runOne(context.Background(), adapter, baseTask())
	require.NotNil(t, v)
	assert.InDelta(t, 0.55, v.Confidence, 1e-9)
	assert.Equal(t, 3, backend.calls, "2 tool-calling rounds then one forced-finalize call")
}

func TestRunOne_RoundBudgetExhaustedTriggersForcedFinalize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxExpertRounds = 1
	cfg.MaxExpertToolCalls = 100
	cfg.MaxConsecutiveNoSignalTools = 100
	cfg.NoSignalWindow = 100

	backend := &fakeBackend{}
	backend.completeFn = func(tools []types.ToolDefinition, call int) (types.Message, error) {
		if tools != nil {
			return toolCallResponse(), nil
		}
		return types.Message{Role: types.RoleAssistant, Content: finalizeVerdictJSON}, nil
	}

	r := newTestRuntime(t, backend, cfg)
	adapter := diffctx.New("")

	v := r.runOne(context.Background(), adapter, baseTask())
	require.NotNil(t, v)
	assert.Equal(t, 2, backend.calls, "one tool-calling round, then forced finalize once the round budget is exceeded")
}

func TestRunOne_NoSignalCircuitBreaker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveNoSignalTools = 2
	cfg.NoSignalWindow = 10
	cfg.MaxExpertToolCalls = 100
	cfg.MaxExpertRounds = 100

	backend := &fakeBackend{}
	backend.completeFn = func(tools []types.ToolDefinition, call int) (types.Message, error) {
		if tools != nil {
			return toolCallResponse(), nil
		}
		return types.Message{Role: types.RoleAssistant, Content: finalizeVerdictJSON}, nil
	}

	r := newTestRuntime(t, backend, cfg)
	adapter := diffctx.New("")

	v := r.runOne(context.Background(), adapter, baseTask())
	require.NotNil(t, v)
	assert.Equal(t, 3, backend.calls, "two empty-result tool rounds trip the no-signal breaker, then one forced-finalize call")
}

func TestRunOne_TerminalResponseParsesVerdictDirectly(t *testing.T) {
	cfg := DefaultConfig()

	backend := &fakeBackend{}
	backend.completeFn = func(tools []types.ToolDefinition, call int) (types.Message, error) {
		return types.Message{Role: types.RoleAssistant, Content: finalizeVerdictJSON}, nil
	}

	r := newTestRuntime(t, backend, cfg)
	adapter := diffctx.New("")

	v := r.runOne(context.Background(), adapter, baseTask())
	require.NotNil(t, v)
	assert.Equal(t, 1, backend.calls, "a parseable terminal response ends the loop on the first call")
}

func TestRunOne_TransportErrorAbortsTask(t *testing.T) {
	cfg := DefaultConfig()

	backend := &fakeBackend{}
	backend.completeFn = func(tools []types.ToolDefinition, call int) (types.Message, error) {
		return types.Message{}, assertErr
	}

	r := newTestRuntime(t, backend, cfg)
	adapter := diffctx.New("")

	v := r.runOne(context.Background(), adapter, baseTask())
	assert.Nil(t, v)
}

func TestRunOne_UnparseableTerminalResponseTriggersForcedFinalize(t *testing.T) {
	cfg := DefaultConfig()

	backend := &fakeBackend{}
	backend.completeFn = func(tools []types.ToolDefinition, call int) (types.Message, error) {
		if tools != nil {
			return types.Message{Role: types.RoleAssistant, Content: "I'm not sure what to make of this."}, nil
		}
		return types.Message{Role: types.RoleAssistant, Content: finalizeVerdictJSON}, nil
	}

	r := newTestRuntime(t, backend, cfg)
	adapter := diffctx.New("")

	v := r.runOne(context.Background(), adapter, baseTask())
	require.NotNil(t, v)
	assert.Equal(t, 2, backend.calls, "unparseable terminal content forces one more finalize call")
}

var assertErr = &gateway.TransportError{Status: 503, Cause: context.DeadlineExceeded}

func TestIsNoSignal(t *testing.T) {
	assert.True(t, isNoSignal(""))
	assert.True(t, isNoSignal("   "))
	assert.True(t, isNoSignal(`{"matches": []}`))
	assert.True(t, isNoSignal(`{"total": 0}`))
	assert.True(t, isNoSignal("Error invoking tool: timeout"))
	assert.True(t, isNoSignal(`{"error":"asset unavailable"}`))
	assert.False(t, isNoSignal(`{"matches": [{"path":"a.go","line":1}], "total": 1}`))
}

func TestShrinkHistory_KeepsPairedToolMessageWithItsAssistantCall(t *testing.T) {
	messages := []types.Message{
		{Role: types.RoleUser, Content: "analyze"},
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "1", Name: "run_grep"}}},
		{Role: types.RoleTool, ToolCallID: "1", Content: "result"},
	}
	cfg := Config{MaxHistoryMessages: 1, MaxToolChars: 100, MaxAIChars: 100, MaxTotalChars: 100000}

	shrunk := shrinkHistory(messages, cfg)
	require.NotEmpty(t, shrunk)
	assert.NotEqual(t, types.RoleTool, shrunk[0].Role, "shrinking never leaves a dangling tool message with no preceding assistant call")
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "", truncateText("anything", 0))
	assert.Equal(t, "short", truncateText("short", 100))
	assert.Contains(t, truncateText("0123456789", 5), "[truncated]")
}

func TestBuildEvidenceDigest_MostRecentLast(t *testing.T) {
	messages := []types.Message{
		{Role: types.RoleAssistant, Content: "first finding"},
		{Role: types.RoleTool, ToolCallID: "1", Content: "tool output"},
		{Role: types.RoleAssistant, Content: "second finding"},
	}
	digest := buildEvidenceDigest(messages, 16000)
	firstIdx := indexOfSubstr(digest, "first finding")
	secondIdx := indexOfSubstr(digest, "second finding")
	require.GreaterOrEqual(t, firstIdx, 0)
	require.GreaterOrEqual(t, secondIdx, 0)
	assert.Less(t, firstIdx, secondIdx)
}

func TestWindowedExcerpt_ClampsToFileBounds(t *testing.T) {
	content := "l1\nl2\nl3\nl4\nl5"
	out := windowedExcerpt(content, types.LineRange{Start: 1, End: 1}, 2)
	assert.Contains(t, out, "1: l1")
	assert.Contains(t, out, "3: l3")
	assert.NotContains(t, out, "0:")
}

func indexOfSubstr(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
