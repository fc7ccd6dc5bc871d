// Package intent implements the Intent Analyzer (Map stage): a per-file LLM
// call producing FileAnalysis, with strict parsing, a textual fallback, and
// line_number normalization.
//
// Grounded on original_source/agents/nodes/intent_analysis.py.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/semaphore"

	"github.com/rohankatakam/coderisk/internal/review/diffctx"
	"github.com/rohankatakam/coderisk/internal/review/gateway"
	"github.com/rohankatakam/coderisk/internal/review/prompt"
	"github.com/rohankatakam/coderisk/internal/review/types"
)

// ContentReader reads a file's current content from the working tree (or
// any store standing in for it in tests).
type ContentReader func(path string) (string, error)

// Config holds the Intent Analyzer's knobs.
type Config struct {
	MaxConcurrentLLMRequests int
	MaxFileContentChars      int
}

// DefaultConfig matches spec §6's system.max_concurrent_llm_requests default.
func DefaultConfig() Config {
	return Config{MaxConcurrentLLMRequests: 5, MaxFileContentChars: 20000}
}

// Analyzer runs the per-file map stage.
type Analyzer struct {
	gw       *gateway.Gateway
	renderer *prompt.Renderer
	read     ContentReader
	cfg      Config
}

// New builds an Analyzer.
func New(gw *gateway.Gateway, renderer *prompt.Renderer, read ContentReader, cfg Config) *Analyzer {
	return &Analyzer{gw: gw, renderer: renderer, read: read, cfg: cfg}
}

// Run analyzes every changedFile concurrently, bounded by
// MaxConcurrentLLMRequests, and returns one FileAnalysis per input file (in
// input order; callers needing the canonical sort order apply it at the
// pipeline's stage-output boundary).
func (a *Analyzer) Run(ctx context.Context, adapter *diffctx.Adapter, changedFiles []string) ([]types.FileAnalysis, error) {
	sem := semaphore.NewWeighted(int64(max1(a.cfg.MaxConcurrentLLMRequests)))
	results := make([]types.FileAnalysis, len(changedFiles))

	done := make(chan struct{}, len(changedFiles))

	for i, path := range changedFiles {
		i, path := i, path
		if err := sem.Acquire(ctx, 1); err != nil {
			// Deadline hit while waiting for a slot: remaining files get an
			// empty, diagnostic FileAnalysis rather than blocking forever.
			results[i] = diagnosticAnalysis(path, "deadline exceeded before analysis started")
			done <- struct{}{}
			continue
		}
		go func() {
			defer sem.Release(1)
			results[i] = a.analyzeFile(ctx, adapter, path)
			done <- struct{}{}
		}()
	}

	for range changedFiles {
		<-done
	}
	return results, nil
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func diagnosticAnalysis(path, reason string) types.FileAnalysis {
	return types.FileAnalysis{
		FilePath:      path,
		IntentSummary: "analysis unavailable: " + reason,
	}
}

// analyzeFile implements spec §4.5's per-file operation. Any failure —
// transport, schema — yields a FileAnalysis with empty risks and a
// diagnostic summary; it never propagates an error into the stage.
func (a *Analyzer) analyzeFile(ctx context.Context, adapter *diffctx.Adapter, path string) types.FileAnalysis {
	fileDiff := adapter.ExtractFileDiff(path)

	content := ""
	if a.read != nil {
		if c, err := a.read(path); err == nil {
			content = c
		}
	}
	if len(content) > a.cfg.MaxFileContentChars {
		content = content[:a.cfg.MaxFileContentChars] + "\n...[truncated]"
	}

	rendered, err := a.renderer.Render("intent_analysis", map[string]string{
		"file_path": path,
		"file_diff": fileDiff,
		"file_content": content,
	})
	if err != nil {
		return diagnosticAnalysis(path, fmt.Sprintf("prompt render failed: %v", err))
	}

	messages := []types.Message{
		{Role: types.RoleSystem, Content: "You are an expert code reviewer."},
		{Role: types.RoleUser, Content: rendered},
	}

	resp, err := a.gw.NoTools(ctx, messages)
	if err != nil {
		return diagnosticAnalysis(path, fmt.Sprintf("llm call failed: %v", err))
	}

	fa, err := ParseFileAnalysis(resp.Content, path)
	if err != nil {
		return diagnosticAnalysis(path, fmt.Sprintf("could not parse model output: %v", err))
	}
	return fa
}

// stripFences removes surrounding ```json fences, if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

// extractFirstJSONObject finds the first top-level balanced {...} object
// using a simple brace-depth scan (tidwall/gjson validates candidates).
func extractFirstJSONObject(s string) (string, bool) {
	depth := 0
	start := -1
	for i, r := range s {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidate := s[start : i+1]
					if gjson.Valid(candidate) {
						return candidate, true
					}
					start = -1
				}
			}
		}
	}
	return "", false
}

// NormalizeLineNumber implements spec §8's normalize(): accepts n, "n",
// [n], [a,b]. Grounded on original_source intent_analysis.py's
// _normalize_line_number.
func NormalizeLineNumber(raw any) (types.LineRange, error) {
	switch v := raw.(type) {
	case float64:
		n := int(v)
		return types.LineRange{Start: n, End: n}, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return types.LineRange{}, fmt.Errorf("intent: cannot parse line_number string %q", v)
		}
		return types.LineRange{Start: n, End: n}, nil
	case []any:
		switch len(v) {
		case 1:
			n, ok := v[0].(float64)
			if !ok {
				return types.LineRange{}, fmt.Errorf("intent: invalid single-element line_number")
			}
			return types.LineRange{Start: int(n), End: int(n)}, nil
		case 2:
			a, okA := v[0].(float64)
			b, okB := v[1].(float64)
			if !okA || !okB {
				return types.LineRange{}, fmt.Errorf("intent: invalid two-element line_number")
			}
			if int(a) > int(b) {
				return types.LineRange{}, fmt.Errorf("intent: line_number start > end")
			}
			return types.LineRange{Start: int(a), End: int(b)}, nil
		default:
			return types.LineRange{}, fmt.Errorf("intent: line_number array must have 1 or 2 elements")
		}
	default:
		return types.LineRange{}, fmt.Errorf("intent: unsupported line_number shape %T", raw)
	}
}

func coerceRiskType(raw string) types.RiskType {
	rt := types.RiskType(raw)
	if rt.IsValid() {
		return rt
	}
	return types.RiskRobustnessBoundaryConds
}

// ParseFileAnalysis parses an LLM response into FileAnalysis per spec §4.5
// step 5: strict parse first, then a best-effort textual fallback.
func ParseFileAnalysis(content, fallbackPath string) (types.FileAnalysis, error) {
	stripped := stripFences(content)

	if gjson.Valid(stripped) {
		if fa, err := decodeFileAnalysis(stripped, fallbackPath); err == nil {
			return fa, nil
		}
	}

	if obj, ok := extractFirstJSONObject(stripped); ok {
		if fa, err := decodeFileAnalysis(obj, fallbackPath); err == nil {
			return fa, nil
		}
	}

	return types.FileAnalysis{}, fmt.Errorf("no parseable JSON object found")
}

func decodeFileAnalysis(jsonText, fallbackPath string) (types.FileAnalysis, error) {
	result := gjson.Parse(jsonText)
	if !result.IsObject() {
		return types.FileAnalysis{}, fmt.Errorf("not a JSON object")
	}

	filePath := result.Get("file_path").String()
	if filePath == "" {
		filePath = fallbackPath
	}

	fa := types.FileAnalysis{
		FilePath:      filePath,
		IntentSummary: result.Get("intent_summary").String(),
	}
	if cs := result.Get("complexity_score"); cs.Exists() {
		v := cs.Float()
		fa.ComplexityScore = &v
	}

	for _, riskJSON := range result.Get("potential_risks").Array() {
		item, err := decodeRiskItem(riskJSON, filePath)
		if err != nil {
			continue // best-effort: skip unparseable entries, keep the rest
		}
		fa.PotentialRisks = append(fa.PotentialRisks, item)
	}
	return fa, nil
}

func decodeRiskItem(riskJSON gjson.Result, defaultPath string) (types.RiskItem, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(riskJSON.Raw), &raw); err != nil {
		return types.RiskItem{}, err
	}

	lineRaw, ok := raw["line_number"]
	if !ok {
		return types.RiskItem{}, fmt.Errorf("missing line_number")
	}
	lr, err := NormalizeLineNumber(lineRaw)
	if err != nil {
		return types.RiskItem{}, err
	}

	filePath := defaultPath
	if fp, ok := raw["file_path"].(string); ok && fp != "" {
		filePath = fp
	}

	item := types.RiskItem{
		RiskType:    coerceRiskType(stringOr(raw["risk_type"], "")),
		FilePath:    filePath,
		LineNumber:  lr,
		Description: stringOr(raw["description"], ""),
		Confidence:  floatOr(raw["confidence"], 0),
		Severity:    severityOr(raw["severity"]),
	}
	if sugg, ok := raw["suggestion"].(string); ok && sugg != "" {
		item.Suggestion = &sugg
	}
	return item, nil
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

func floatOr(v any, def float64) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return def
}

func severityOr(v any) types.Severity {
	s, _ := v.(string)
	switch types.Severity(strings.ToLower(s)) {
	case types.SeverityError:
		return types.SeverityError
	case types.SeverityWarning:
		return types.SeverityWarning
	case types.SeverityInfo:
		return types.SeverityInfo
	default:
		return types.SeverityInfo
	}
}
