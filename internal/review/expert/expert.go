// Package expert implements the Expert Runtime: one bounded reason-act loop
// per risk item, with round/tool-call/no-signal circuit breakers, history
// shrinking, an evidence digest for forced finalization, and verdict
// parsing.
//
// Grounded on original_source/agents/expert_graph_runtime.py (loop control,
// history shrinking, evidence digest, circuit breakers) and
// original_source/agents/nodes/expert_execution.py (per-risk-type
// concurrent dispatch over a shared semaphore).
package expert

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
	"github.com/rohankatakam/coderisk/internal/review/toolsurface"
	"github.com/rohankatakam/coderisk/internal/review/types"
)

// Config holds every Expert Runtime knob named in spec §6.
type Config struct {
	MaxExpertRounds              int
	MaxExpertToolCalls           int
	MaxConsecutiveNoSignalTools  int
	NoSignalWindow               int
	MaxHistoryMessages           int
	MaxTotalChars                int
	MaxToolChars                 int
	MaxAIChars                   int
	MaxDiffChars                 int
	MaxEvidenceDigestChars       int
	FileWindowLines              int
	MaxConcurrentLLMRequests     int
}

// DefaultConfig matches spec §6's defaults and
// expert_graph_runtime.py's EXPERT_* env-var defaults.
func DefaultConfig() Config {
	return Config{
		MaxExpertRounds:             20,
		MaxExpertToolCalls:          6,
		MaxConsecutiveNoSignalTools: 5,
		NoSignalWindow:              10,
		MaxHistoryMessages:          16,
		MaxTotalChars:               80000,
		MaxToolChars:                6000,
		MaxAIChars:                  12000,
		MaxDiffChars:                12000,
		MaxEvidenceDigestChars:      16000,
		FileWindowLines:             200,
		MaxConcurrentLLMRequests:    5,
	}
}

// ContentReader reads a file's current content.
type ContentReader func(path string) (string, error)

// Runtime owns the Gateway, tool surface, prompt renderer, and shared
// concurrency semaphore for all expert tasks across all risk types.
type Runtime struct {
	gw       *gateway.Gateway
	surface  *toolsurface.Surface
	renderer *prompt.Renderer
	read     ContentReader
	cfg      Config
	sem      *semaphore.Weighted
}

// New builds a Runtime. sem is created here, sized by
// cfg.MaxConcurrentLLMRequests, and shared across every call to RunAll —
// per spec §4.7's closing line, all expert tasks share one semaphore.
func New(gw *gateway.Gateway, surface *toolsurface.Surface, renderer *prompt.Renderer, read ContentReader, cfg Config) *Runtime {
	n := cfg.MaxConcurrentLLMRequests
	if n < 1 {
		n = 1
	}
	return &Runtime{gw: gw, surface: surface, renderer: renderer, read: read, cfg: cfg, sem: semaphore.NewWeighted(int64(n))}
}

// RunAll runs every task in expertTasks (grouped by risk type) concurrently,
// bounded by the Runtime's shared semaphore, and returns the verdicts
// grouped the same way. A task whose main loop hits a transport error
// contributes no verdict, per spec §4.7's failure semantics.
func (r *Runtime) RunAll(ctx context.Context, adapter *diffctx.Adapter, expertTasks map[types.RiskType][]types.RiskItem) map[types.RiskType][]types.ExpertVerdict {
	type job struct {
		riskType types.RiskType
		item     types.RiskItem
	}
	var jobs []job
	for rt, items := range expertTasks {
		for _, it := range items {
			jobs = append(jobs, job{riskType: rt, item: it})
		}
	}

	results := make([]*types.ExpertVerdict, len(jobs))
	done := make(chan int, len(jobs))

	for i, j := range jobs {
		i, j := i, j
		if err := r.sem.Acquire(ctx, 1); err != nil {
			done <- i
			continue
		}
		go func() {
			defer r.sem.Release(1)
			v := r.runOne(ctx, adapter, j.item)
			results[i] = v
			done <- i
		}()
	}
	for range jobs {
		<-done
	}

	out := map[types.RiskType][]types.ExpertVerdict{}
	for i, j := range jobs {
		if results[i] == nil {
			continue // transport error aborted this task; contributes no verdict
		}
		out[j.riskType] = append(out[j.riskType], *results[i])
	}
	return out
}

// runOne executes the bounded reason-act loop for a single risk item.
func (r *Runtime) runOne(ctx context.Context, adapter *diffctx.Adapter, task types.RiskItem) *types.ExpertVerdict {
	fileContent := ""
	if r.read != nil {
		if c, err := r.read(task.FilePath); err == nil {
			fileContent = c
		}
	}
	diffExcerpt := adapter.ExtractFileDiff(task.FilePath)

	system, err := r.buildSystemMessage(task, fileContent, diffExcerpt)
	if err != nil {
		return nil
	}

	tools := r.surface.Definitions()

	messages := []types.Message{
		{Role: types.RoleSystem, Content: system},
		{Role: types.RoleUser, Content: "analyze the above; you may call tools; produce final JSON when ready."},
	}

	for {
		round := 1 + countAssistant(messages)
		if round > r.cfg.MaxExpertRounds {
			return r.forcedFinalize(ctx, task, messages, "round budget exhausted")
		}

		toolCount := countTool(messages)
		noSignal := countRecentNoSignal(messages, r.cfg.NoSignalWindow)
		if toolCount >= r.cfg.MaxExpertToolCalls || noSignal >= r.cfg.MaxConsecutiveNoSignalTools {
			return r.forcedFinalize(ctx, task, messages, "tool budget exhausted")
		}

		shrunk := append([]types.Message{system0(messages)}, shrinkHistory(messages[1:], r.cfg)...)

		resp, err := r.gw.Invoke(ctx, shrunk, tools)
		if err != nil {
			return nil // transport error aborts this task
		}

		if len(resp.ToolCalls) == 0 {
			if verdict, ok := ParseVerdict(resp.Content, task); ok {
				return &verdict
			}
			// no tool calls but unparseable content: one more forced attempt
			messages = append(messages, resp)
			return r.forcedFinalize(ctx, task, messages, "unparseable terminal response")
		}

		messages = append(messages, resp)
		for _, tc := range resp.ToolCalls {
			result := r.surface.Execute(tc.Name, tc.Args)
			msg := toolResultMessage(tc.ID, result)
			msg.Name = tc.Name
			messages = append(messages, msg)
		}
	}
}

func system0(messages []types.Message) types.Message {
	if len(messages) > 0 {
		return messages[0]
	}
	return types.Message{Role: types.RoleSystem}
}

func countAssistant(messages []types.Message) int {
	n := 0
	for _, m := range messages {
		if m.Role == types.RoleAssistant {
			n++
		}
	}
	return n
}

func countTool(messages []types.Message) int {
	n := 0
	for _, m := range messages {
		if m.Role == types.RoleTool {
			n++
		}
	}
	return n
}

func toolResultMessage(toolCallID string, result types.ToolResult) types.Message {
	b, err := json.Marshal(result)
	content := string(b)
	if err != nil {
		content = fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return types.Message{Role: types.RoleTool, ToolCallID: toolCallID, Content: content}
}

// isNoSignal implements spec §4.7's no-signal heuristic.
func isNoSignal(content string) bool {
	if strings.TrimSpace(content) == "" {
		return true
	}
	switch {
	case strings.Contains(content, "Error invoking tool"):
		return true
	case strings.Contains(content, `"matches": []`) || strings.Contains(content, `"matches":[]`):
		return true
	case strings.Contains(content, `"total": 0`) || strings.Contains(content, `"total":0`):
		return true
	case strings.Contains(content, "index unavailable") || strings.Contains(content, "asset unavailable"):
		return true
	}
	if gjson.Valid(content) {
		errField := gjson.Get(content, "error")
		if errField.Exists() && errField.String() != "" {
			return true
		}
	}
	return false
}

func countRecentNoSignal(messages []types.Message, window int) int {
	n := 0
	seen := 0
	for i := len(messages) - 1; i >= 0 && seen < window; i-- {
		if messages[i].Role != types.RoleTool {
			continue
		}
		seen++
		if isNoSignal(messages[i].Content) {
			n++
		}
	}
	return n
}

// shrinkHistory implements spec §4.7's history-shrinking contract, applied
// to every message after the system message.
func shrinkHistory(messages []types.Message, cfg Config) []types.Message {
	if len(messages) == 0 {
		return nil
	}

	maxHistory := cfg.MaxHistoryMessages
	if maxHistory < 1 {
		maxHistory = 1
	}

	collected := make([]types.Message, 0, len(messages))
	idx := len(messages) - 1
	needPrevForTool := false
	for idx >= 0 && (len(collected) < maxHistory || needPrevForTool) {
		m := messages[idx]
		collected = append(collected, m)
		needPrevForTool = m.Role == types.RoleTool
		idx--
	}
	reverseMessages(collected)

	for len(collected) > 0 && collected[0].Role == types.RoleTool {
		collected = collected[1:]
	}

	hasUser := false
	for _, m := range collected {
		if m.Role == types.RoleUser {
			hasUser = true
			break
		}
	}
	if !hasUser {
		for i := idx; i >= 0; i-- {
			if messages[i].Role == types.RoleUser {
				collected = append([]types.Message{messages[i]}, collected...)
				break
			}
		}
	}

	clipped := make([]types.Message, len(collected))
	copy(clipped, collected)
	for i := range clipped {
		switch clipped[i].Role {
		case types.RoleTool:
			clipped[i].Content = truncateText(clipped[i].Content, cfg.MaxToolChars)
		case types.RoleAssistant:
			clipped[i].Content = truncateText(clipped[i].Content, cfg.MaxAIChars)
		}
	}

	for len(clipped) > 1 && totalChars(clipped) > cfg.MaxTotalChars {
		clipped = clipped[1:]
		for len(clipped) > 0 && clipped[0].Role == types.RoleTool {
			clipped = clipped[1:]
		}
	}
	return clipped
}

func reverseMessages(m []types.Message) {
	for i, j := 0, len(m)-1; i < j; i, j = i+1, j-1 {
		m[i], m[j] = m[j], m[i]
	}
}

func truncateText(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n...[truncated]"
}

func totalChars(messages []types.Message) int {
	n := 0
	for _, m := range messages {
		n += len(m.Content)
	}
	return n
}

// buildEvidenceDigest implements spec §4.7's evidence digest: a labeled,
// truncated concatenation of recent assistant/tool contents, most recent
// last, used to let the model conclude without further tools.
func buildEvidenceDigest(messages []types.Message, maxChars int) string {
	if maxChars < 1000 {
		maxChars = 1000
	}
	var parts []string
	used := 0
	for i := len(messages) - 1; i >= 0 && used < maxChars; i-- {
		m := messages[i]
		var block string
		switch m.Role {
		case types.RoleTool:
			block = fmt.Sprintf("[TOOL id=%s]\n%s\n", m.ToolCallID, truncateText(m.Content, 3000))
		case types.RoleAssistant:
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			block = fmt.Sprintf("[ASSISTANT]\n%s\n", truncateText(m.Content, 3000))
		default:
			continue
		}
		if used+len(block) > maxChars && len(parts) > 0 {
			break
		}
		parts = append(parts, block)
		used += len(block)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// forcedFinalize builds the evidence digest and issues a tool-less finalize
// call per spec §4.7. If that call itself fails, it returns a zero-confidence
// verdict preserving the task anchor.
func (r *Runtime) forcedFinalize(ctx context.Context, task types.RiskItem, messages []types.Message, reason string) *types.ExpertVerdict {
	shrunk := shrinkHistory(messages[1:], r.cfg)
	evidence := buildEvidenceDigest(shrunk, r.cfg.MaxEvidenceDigestChars)

	content := fmt.Sprintf(
		"STOP: %s. Do not call any more tools. Output the final JSON verdict now, matching the required schema exactly.\n\nTask anchor:\nrisk_type: %s\nfile_path: %s\nline_number: %d:%d\ndescription: %s\n",
		reason, task.RiskType, task.FilePath, task.LineNumber.Start, task.LineNumber.End, task.Description,
	)
	if evidence != "" {
		content += "\nEvidence collected so far:\n" + evidence
	}

	finalizeMessages := []types.Message{
		{Role: types.RoleSystem, Content: content},
		{Role: types.RoleUser, Content: "Output the final JSON now. No explanation, no tools."},
	}

	resp, err := r.gw.NoTools(ctx, finalizeMessages)
	if err != nil {
		return zeroConfidenceVerdict(task)
	}
	if verdict, ok := ParseVerdict(resp.Content, task); ok {
		return &verdict
	}
	return zeroConfidenceVerdict(task)
}

func zeroConfidenceVerdict(task types.RiskItem) *types.ExpertVerdict {
	v := types.ExpertVerdict{
		RiskType:    task.RiskType,
		FilePath:    task.FilePath,
		LineNumber:  task.LineNumber,
		Description: task.Description,
		Confidence:  0,
		Severity:    types.SeverityInfo,
	}
	return &v
}

// buildSystemMessage renders the risk-type-specific expert template,
// falling back to expert_generic, and appends the task anchor, a windowed
// file excerpt, and a truncated diff excerpt, per spec §4.7.
func (r *Runtime) buildSystemMessage(task types.RiskItem, fileContent, diffExcerpt string) (string, error) {
	templateName := prompt.ExpertTemplateName(string(task.RiskType))

	toolList := r.toolDescriptions()

	base, err := r.renderer.Render(templateName, map[string]string{
		"risk_type":       string(task.RiskType),
		"available_tools": toolList,
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\n## Task anchor\n")
	sb.WriteString(fmt.Sprintf("risk_type: %s\nfile_path: %s\nline_number: %d:%d\ndescription: %s\n",
		task.RiskType, task.FilePath, task.LineNumber.Start, task.LineNumber.End, task.Description))

	if diffExcerpt != "" {
		sb.WriteString("\n## Diff excerpt (truncated)\n")
		sb.WriteString(truncateText(diffExcerpt, r.cfg.MaxDiffChars))
		sb.WriteString("\n")
	}

	if fileContent != "" {
		sb.WriteString("\n## File window\n")
		sb.WriteString(windowedExcerpt(fileContent, task.LineNumber, r.cfg.FileWindowLines))
		sb.WriteString("\n")
	}

	sb.WriteString("\n## Output format\nRespond with a single JSON object: {\"risk_type\":..,\"file_path\":..,\"line_number\":..,\"description\":..,\"confidence\":..,\"severity\":..,\"suggestion\":..}\n")
	return sb.String(), nil
}

func (r *Runtime) toolDescriptions() string {
	var sb strings.Builder
	for _, d := range r.surface.Definitions() {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", d.Name, d.Description))
	}
	return sb.String()
}

func windowedExcerpt(content string, lr types.LineRange, window int) string {
	lines := strings.Split(content, "\n")
	lo := lr.Start - window
	if lo < 1 {
		lo = 1
	}
	hi := lr.End + window
	if hi > len(lines) {
		hi = len(lines)
	}
	var sb strings.Builder
	for i := lo; i <= hi; i++ {
		if i < 1 || i > len(lines) {
			continue
		}
		sb.WriteString(strconv.Itoa(i))
		sb.WriteString(": ")
		sb.WriteString(lines[i-1])
		sb.WriteString("\n")
	}
	return sb.String()
}
