// Package reporter renders the final Markdown report from expert verdicts:
// per-type confidence filtering, one LLM render call, and a deterministic
// fallback formatter.
//
// Grounded on original_source/agents/nodes/reporter.py, translated from its
// Chinese persona/strings into an English reviewer persona.
package reporter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rohankatakam/coderisk/internal/review/gateway"
	"github.com/rohankatakam/coderisk/internal/review/prompt"
	"github.com/rohankatakam/coderisk/internal/review/types"
)

// Config holds the Reporter's confidence-threshold knobs, per spec §6.
type Config struct {
	DefaultConfidenceThreshold float64
	ThresholdByRiskType        map[types.RiskType]float64
}

// DefaultConfig matches spec §6: default threshold 0.6, no per-type overrides.
func DefaultConfig() Config {
	return Config{DefaultConfidenceThreshold: 0.6}
}

func (c Config) thresholdFor(rt types.RiskType) float64 {
	if t, ok := c.ThresholdByRiskType[rt]; ok {
		return t
	}
	return c.DefaultConfidenceThreshold
}

// Reporter renders the Markdown report.
type Reporter struct {
	gw       *gateway.Gateway
	renderer *prompt.Renderer
	cfg      Config
}

// New builds a Reporter.
func New(gw *gateway.Gateway, renderer *prompt.Renderer, cfg Config) *Reporter {
	return &Reporter{gw: gw, renderer: renderer, cfg: cfg}
}

// Run filters verdicts by confidence threshold, then renders the report
// via the LLM, falling back to a deterministic formatter on empty input,
// transport error, or render error. Implements spec §4.8 steps 1-3.
func (r *Reporter) Run(ctx context.Context, expertResults map[types.RiskType][]types.ExpertVerdict) string {
	confirmed := r.filter(expertResults)

	if len(confirmed) == 0 {
		return noIssuesReport()
	}

	rendered, err := r.renderViaLLM(ctx, confirmed)
	if err != nil {
		return deterministicReport(confirmed)
	}
	return rendered
}

func (r *Reporter) filter(expertResults map[types.RiskType][]types.ExpertVerdict) []types.ExpertVerdict {
	var confirmed []types.ExpertVerdict
	for rt, verdicts := range expertResults {
		threshold := r.cfg.thresholdFor(rt)
		for _, v := range verdicts {
			if v.Confidence >= threshold {
				confirmed = append(confirmed, v)
			}
		}
	}
	sort.SliceStable(confirmed, func(i, j int) bool {
		si, sj := confirmed[i].Severity.Rank(), confirmed[j].Severity.Rank()
		if si != sj {
			return si > sj
		}
		return confirmed[i].FilePath < confirmed[j].FilePath
	})
	return confirmed
}

func (r *Reporter) renderViaLLM(ctx context.Context, confirmed []types.ExpertVerdict) (string, error) {
	issueList := formatIssueList(confirmed)

	rendered, err := r.renderer.Render("reporter", map[string]string{
		"issue_count": fmt.Sprintf("%d", len(confirmed)),
		"issue_list":  issueList,
	})
	if err != nil {
		return "", err
	}

	messages := []types.Message{
		{Role: types.RoleSystem, Content: "You are a senior code reviewer writing a concise, actionable PR review summary."},
		{Role: types.RoleUser, Content: rendered},
	}
	resp, err := r.gw.NoTools(ctx, messages)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("reporter: empty LLM response")
	}
	return resp.Content, nil
}

func noIssuesReport() string {
	return "## Code Review Summary\n\nNo issues met the confidence threshold for reporting. The change looks good.\n"
}

// deterministicReport implements reporter.py's _generate_simple_report:
// grouped by severity (error, warning, info) then by file path, with a
// one-line entry per verdict.
func deterministicReport(confirmed []types.ExpertVerdict) string {
	bySeverity := map[types.Severity][]types.ExpertVerdict{}
	for _, v := range confirmed {
		bySeverity[v.Severity] = append(bySeverity[v.Severity], v)
	}

	var sb strings.Builder
	sb.WriteString("## Code Review Summary\n\n")
	sb.WriteString(fmt.Sprintf("%d issue(s) found.\n\n", len(confirmed)))

	order := []types.Severity{types.SeverityError, types.SeverityWarning, types.SeverityInfo}
	for _, sev := range order {
		items := bySeverity[sev]
		if len(items) == 0 {
			continue
		}
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].FilePath != items[j].FilePath {
				return items[i].FilePath < items[j].FilePath
			}
			return items[i].LineNumber.Start < items[j].LineNumber.Start
		})

		sb.WriteString(fmt.Sprintf("### %s\n\n", strings.ToUpper(string(sev))))
		for _, v := range items {
			sb.WriteString(fmt.Sprintf("- **%s:%s** [%s] %s", v.FilePath, v.LineNumber.String(), v.RiskType, v.Description))
			if v.Suggestion != nil && *v.Suggestion != "" {
				sb.WriteString(fmt.Sprintf(" — _Suggestion: %s_", *v.Suggestion))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatIssueList(confirmed []types.ExpertVerdict) string {
	var sb strings.Builder
	for i, v := range confirmed {
		sb.WriteString(fmt.Sprintf("%d. [%s][%s] %s:%s — %s (confidence %.2f)\n",
			i+1, v.Severity, v.RiskType, v.FilePath, v.LineNumber.String(), v.Description, v.Confidence))
		if v.Suggestion != nil && *v.Suggestion != "" {
			sb.WriteString(fmt.Sprintf("   suggestion: %s\n", *v.Suggestion))
		}
	}
	return sb.String()
}
