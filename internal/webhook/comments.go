// Package webhook turns a RunState's confirmed issues into GitHub review
// comments, listens for the trigger webhook, dedups deliveries, and
// dispatches review jobs to the Pipeline Driver.
//
// Grounded on original_source/github_pat/app.py (webhook handling) and
// original_source/github_pat/comment_builder.py (comment grouping/fuzz
// matching/truncation).
package webhook

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rohankatakam/coderisk/internal/review/diffctx"
	"github.com/rohankatakam/coderisk/internal/review/types"
)

// ReviewComment is one GitHub pull-request review comment.
type ReviewComment struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Side string `json:"side"`
	Body string `json:"body"`
}

// BuiltComments is the output of BuildReviewComments: the comments to post,
// the issues that could not be anchored to a commentable line, and the
// total issue count seen.
type BuiltComments struct {
	ReviewComments []ReviewComment
	Skipped        []types.RiskItem
	TotalIssues    int
}

func normalizeCommentPath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		p = p[2:]
	}
	return strings.TrimLeft(p, "/")
}

func severityRank(s types.Severity) int {
	switch s {
	case types.SeverityError:
		return 3
	case types.SeverityWarning:
		return 2
	default:
		return 1
	}
}

type groupKey struct {
	path string
	line int
}

// BuildReviewComments implements comment_builder.py's build_review_comments:
// for each confirmed issue, find a commentable line in the diff (exact
// match, then a fuzz window, then nearest-within-fuzz), group issues by
// (path, line), sort groups by (max severity, max confidence) descending,
// and keep the top maxReviewComments groups; everything else (unanchorable
// or cut by the cap) goes to Skipped.
func BuildReviewComments(adapter *diffctx.Adapter, confirmedIssues []types.RiskItem, maxReviewComments, maxLineFuzz int) BuiltComments {
	// Commentable lines are every line GitHub shows in the diff's hunks
	// (added + surrounding context), not only changed lines — matching
	// comment_builder.py's use of new_file_lines rather than changed_lines.
	commentable := map[string]map[int]bool{}
	for _, path := range adapter.ChangedFiles() {
		fd := adapter.FileDiff(path)
		lines := map[int]bool{}
		for _, nl := range fd.NewFileLines {
			lines[nl.Line] = true
		}
		commentable[normalizeCommentPath(path)] = lines
	}

	grouped := map[groupKey][]types.RiskItem{}
	var skipped []types.RiskItem
	total := 0

	for _, issue := range confirmedIssues {
		total++
		path := normalizeCommentPath(issue.FilePath)
		startLine, endLine := issue.LineNumber.Start, issue.LineNumber.End

		lines, hasFile := commentable[path]
		if path == "" || !hasFile || len(lines) == 0 || startLine <= 0 {
			skipped = append(skipped, issue)
			continue
		}

		selected, ok := selectCommentableLine(lines, startLine, endLine, maxLineFuzz)
		if !ok {
			skipped = append(skipped, issue)
			continue
		}

		key := groupKey{path: path, line: selected}
		grouped[key] = append(grouped[key], issue)
	}

	type scoredGroup struct {
		key   groupKey
		items []types.RiskItem
		sev   int
		conf  float64
	}
	var groups []scoredGroup
	for k, items := range grouped {
		maxSev, maxConf := 0, 0.0
		for _, it := range items {
			if r := severityRank(it.Severity); r > maxSev {
				maxSev = r
			}
			if it.Confidence > maxConf {
				maxConf = it.Confidence
			}
		}
		groups = append(groups, scoredGroup{key: k, items: items, sev: maxSev, conf: maxConf})
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].sev != groups[j].sev {
			return groups[i].sev > groups[j].sev
		}
		return groups[i].conf > groups[j].conf
	})

	if maxReviewComments >= 0 && len(groups) > maxReviewComments {
		groups = groups[:maxReviewComments]
	}

	included := map[groupKey]bool{}
	var comments []ReviewComment
	for _, g := range groups {
		comments = append(comments, ReviewComment{
			Path: g.key.path,
			Line: g.key.line,
			Side: "RIGHT",
			Body: renderCommentBody(g.items),
		})
		included[g.key] = true
	}

	for k, items := range grouped {
		if !included[k] {
			skipped = append(skipped, items...)
		}
	}

	return BuiltComments{ReviewComments: comments, Skipped: skipped, TotalIssues: total}
}

func selectCommentableLine(commentable map[int]bool, startLine, endLine, maxLineFuzz int) (int, bool) {
	if commentable[startLine] {
		return startLine, true
	}

	rangeStart, rangeEnd := startLine, endLine
	if rangeEnd < rangeStart {
		rangeEnd = rangeStart
	}
	if maxLineFuzz > 0 {
		rangeStart -= maxLineFuzz
		if rangeStart < 1 {
			rangeStart = 1
		}
		rangeEnd += maxLineFuzz
	}
	for candidate := rangeStart; candidate <= rangeEnd; candidate++ {
		if commentable[candidate] {
			return candidate, true
		}
	}

	if maxLineFuzz > 0 {
		nearest := -1
		nearestDist := -1
		for candidate := range commentable {
			dist := candidate - startLine
			if dist < 0 {
				dist = -dist
			}
			if nearest == -1 || dist < nearestDist {
				nearest = candidate
				nearestDist = dist
			}
		}
		if nearest != -1 && nearestDist <= maxLineFuzz {
			return nearest, true
		}
	}

	return 0, false
}

func renderCommentBody(items []types.RiskItem) string {
	var sb strings.Builder
	for _, item := range items {
		header := fmt.Sprintf("- **%s** `%s` (confidence %.2f)", strings.ToUpper(string(item.Severity)), item.RiskType, item.Confidence)
		sb.WriteString(header)
		sb.WriteString("\n")
		if item.Description != "" {
			sb.WriteString("  - " + item.Description + "\n")
		}
		if item.Suggestion != nil && *item.Suggestion != "" {
			sb.WriteString("  - Suggestion: " + *item.Suggestion + "\n")
		}
	}
	body := strings.TrimRight(sb.String(), "\n")
	const maxBodyChars = 65000
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}
	return body
}
