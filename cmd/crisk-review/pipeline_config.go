package main

import (
	"context"

	"github.com/rohankatakam/coderisk/internal/config"
	"github.com/rohankatakam/coderisk/internal/review/expert"
	"github.com/rohankatakam/coderisk/internal/review/gateway"
	"github.com/rohankatakam/coderisk/internal/review/intent"
	"github.com/rohankatakam/coderisk/internal/review/manager"
	"github.com/rohankatakam/coderisk/internal/review/pipeline"
	"github.com/rohankatakam/coderisk/internal/review/reporter"
	"github.com/rohankatakam/coderisk/internal/review/types"
)

// buildPipelineConfig translates the YAML-facing config.ReviewConfig into
// the typed per-stage configs the Pipeline Driver consumes.
func buildPipelineConfig(rc config.ReviewConfig) pipeline.Config {
	return pipeline.Config{
		TimeoutSeconds: rc.System.TimeoutSeconds,
		Activation: intent.ActivationConfig{
			FileCountThreshold:      rc.Chunk.FileCountThreshold,
			TotalDiffCharsThreshold: rc.Chunk.TotalDiffCharsThreshold,
		},
		Intent: intent.Config{
			MaxConcurrentLLMRequests: rc.System.MaxConcurrentLLMRequests,
			MaxFileContentChars:      intent.DefaultConfig().MaxFileContentChars,
		},
		Chunk: intent.ChunkConfig{
			MaxChunkChars:     rc.Chunk.MaxChunkChars,
			MaxFileDiffChars:  rc.Chunk.MaxFileDiffChars,
			TopKRatio:         rc.Chunk.TopKRatio,
			TopKMin:           rc.Chunk.TopKMin,
			TopKMax:           rc.Chunk.TopKMax,
			TopKDisableBelow:  rc.Chunk.TopKDisableBelow,
			BudgetRatio:       rc.Chunk.BudgetRatio,
			SoftMarginSeconds: rc.Chunk.SoftMarginSeconds,
			SentinelSample:    rc.Chunk.SentinelSample,
		},
		Manager: manager.Config{
			AnchorWindow:         rc.Manager.AnchorWindow,
			DropUnanchored:       rc.Manager.DropUnanchored,
			UnanchoredConfidence: rc.Manager.UnanchoredConfidence,
			MaxWorkItemsTotal:    rc.Manager.MaxWorkItemsTotal,
			MaxItemsPerFile:      rc.Manager.MaxItemsPerFile,
			MaxItemsPerRiskType:  riskTypeIntMap(rc.Manager.MaxItemsPerRiskType),
			RiskTypeWeights:      riskTypeFloatMap(rc.Manager.RiskTypeWeights),
			SeverityWeights:      severityFloatMap(rc.Manager.SeverityWeights),
			MergeLineWindow:      rc.Manager.MergeLineWindow,
			MergeJaccard:         rc.Manager.MergeJaccard,
		},
		Expert: expertConfigFrom(rc),
		Reporter: reporter.Config{
			DefaultConfidenceThreshold: rc.Reporter.ConfidenceThreshold,
			ThresholdByRiskType:        riskTypeFloatMap(rc.Reporter.ConfidenceThresholdByRiskType),
		},
	}
}

func expertConfigFrom(rc config.ReviewConfig) expert.Config {
	e := expert.DefaultConfig()
	e.MaxExpertRounds = rc.System.MaxExpertRounds
	e.MaxExpertToolCalls = rc.System.MaxExpertToolCalls
	e.MaxConcurrentLLMRequests = rc.System.MaxConcurrentLLMRequests
	return e
}

func riskTypeIntMap(in map[string]int) map[types.RiskType]int {
	if in == nil {
		return nil
	}
	out := make(map[types.RiskType]int, len(in))
	for k, v := range in {
		out[types.RiskType(k)] = v
	}
	return out
}

func riskTypeFloatMap(in map[string]float64) map[types.RiskType]float64 {
	if in == nil {
		return nil
	}
	out := make(map[types.RiskType]float64, len(in))
	for k, v := range in {
		out[types.RiskType(k)] = v
	}
	return out
}

func severityFloatMap(in map[string]float64) map[types.Severity]float64 {
	if in == nil {
		return nil
	}
	out := make(map[types.Severity]float64, len(in))
	for k, v := range in {
		out[types.Severity(k)] = v
	}
	return out
}

func buildGateway(ctx context.Context, rc config.ReviewConfig) (*gateway.Gateway, error) {
	return gateway.NewFromConfig(ctx, gateway.Config{
		Provider:    gateway.Provider(rc.Gateway.Provider),
		Model:       rc.Gateway.Model,
		APIKey:      rc.Gateway.APIKey,
		BaseURL:     rc.Gateway.BaseURL,
		Temperature: rc.Gateway.Temperature,
	})
}
