package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/coderisk/internal/review/expert"
	"github.com/rohankatakam/coderisk/internal/review/types"
)

func TestHasAnyTasks(t *testing.T) {
	assert.False(t, hasAnyTasks(nil))
	assert.False(t, hasAnyTasks(map[types.RiskType][]types.RiskItem{
		types.RiskRobustnessBoundaryConds: {},
	}))
	assert.True(t, hasAnyTasks(map[types.RiskType][]types.RiskItem{
		types.RiskRobustnessBoundaryConds: {{}},
	}))
}

func TestDeadlineExceeded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.False(t, deadlineExceeded(ctx))
	cancel()
	assert.True(t, deadlineExceeded(ctx))
}

func TestRun_EmptyDiffSkipsExpertsAndReturnsNoIssuesReport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeoutSeconds = 60

	read := expert.ContentReader(func(path string) (string, error) { return "", nil })
	driver := New(nil, nil, nil, read, cfg)

	state := driver.Run(context.Background(), "", nil, read)

	require.NotNil(t, state)
	assert.False(t, state.Metadata.ChunkedIntentMode, "an empty diff has too few files/chars to trigger Chunked Intent Mode")
	assert.Empty(t, state.ChangedFiles)
	assert.Empty(t, state.WorkList)
	assert.False(t, hasAnyTasks(state.ExpertTasks), "an empty work list produces no expert tasks")
	assert.Contains(t, state.FinalReport, "No issues met the confidence threshold")
	assert.NotEmpty(t, state.Metadata.RunID)
}
