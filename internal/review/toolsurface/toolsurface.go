// Package toolsurface implements the read-only tool trio the Expert Runtime
// binds to the Gateway: read_file_snippet, run_grep, and an optional
// fetch_repo_map backed by a pre-built asset.
//
// Grounded on internal/mcp/tools/get_risk_summary.go's typed-args /
// structured-result / GetSchema convention and internal/mcp/handler.go's
// dispatch-by-name.
package toolsurface

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rohankatakam/coderisk/internal/review/types"
)

// RepoMapAsset is the pre-built, read-only asset fetch_repo_map serves.
// Loading/refreshing it is an out-of-core concern (spec §6's persisted
// asset store); the Tool Surface only reads it.
type RepoMapAsset struct {
	Tree      string
	FileList  []string
}

// Surface is bound to a single workspace root and an optional repo map.
type Surface struct {
	Root    string
	RepoMap *RepoMapAsset
}

// New returns a Surface bound to root.
func New(root string, repoMap *RepoMapAsset) *Surface {
	return &Surface{Root: root, RepoMap: repoMap}
}

// Definitions returns the ToolDefinitions the Gateway should bind for this
// surface, in the order spec §4.4 lists them.
func (s *Surface) Definitions() []types.ToolDefinition {
	defs := []types.ToolDefinition{
		{
			Name:        "read_file_snippet",
			Description: "Read a snippet of a file in the workspace by line range.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":      map[string]any{"type": "string"},
					"start":     map[string]any{"type": "integer"},
					"end":       map[string]any{"type": "integer"},
					"max_lines": map[string]any{"type": "integer"},
				},
				"required": []string{"path", "start", "end"},
			},
		},
		{
			Name:        "run_grep",
			Description: "Search the workspace for a pattern, optionally with include/exclude globs.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pattern":     map[string]any{"type": "string"},
					"is_regex":    map[string]any{"type": "boolean"},
					"case":        map[string]any{"type": "string", "enum": []string{"sensitive", "insensitive"}},
					"include":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"exclude":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"context":     map[string]any{"type": "integer"},
					"max_results": map[string]any{"type": "integer"},
				},
				"required": []string{"pattern"},
			},
		},
	}
	if s.RepoMap != nil {
		defs = append(defs, types.ToolDefinition{
			Name:        "fetch_repo_map",
			Description: "Fetch a textual tree and a prefix of the repository's file list.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		})
	}
	return defs
}

// Execute dispatches toolName with args and returns a ToolResult whose Error
// field is set on any failure, never a bare Go error — tool calls must
// always produce a serializable tool message.
func (s *Surface) Execute(toolName string, args map[string]any) types.ToolResult {
	switch toolName {
	case "read_file_snippet":
		return s.readFileSnippet(args)
	case "run_grep":
		return s.runGrep(args)
	case "fetch_repo_map":
		return s.fetchRepoMap(args)
	default:
		return types.ToolResult{Error: fmt.Sprintf("unknown tool: %s", toolName)}
	}
}

func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return def
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func stringSliceArg(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if str, ok := item.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

// resolvePath joins path against Root and rejects any escape outside it.
func (s *Surface) resolvePath(rel string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(s.Root, rel))
	if !strings.HasPrefix(cleaned, filepath.Clean(s.Root)+string(filepath.Separator)) && cleaned != filepath.Clean(s.Root) {
		return "", fmt.Errorf("path escapes workspace root: %s", rel)
	}
	return cleaned, nil
}

func (s *Surface) readFileSnippet(args map[string]any) types.ToolResult {
	path := stringArg(args, "path")
	start := intArg(args, "start", 1)
	end := intArg(args, "end", start)
	maxLines := intArg(args, "max_lines", 500)

	abs, err := s.resolvePath(path)
	if err != nil {
		return types.ToolResult{Error: err.Error()}
	}
	f, err := os.Open(abs)
	if err != nil {
		return types.ToolResult{Error: fmt.Sprintf("read_file_snippet: %v", err)}
	}
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo < start {
			continue
		}
		if lineNo > end || len(lines) >= maxLines {
			break
		}
		lines = append(lines, map[string]any{"line": lineNo, "text": scanner.Text()})
	}
	if err := scanner.Err(); err != nil {
		return types.ToolResult{Error: fmt.Sprintf("read_file_snippet: %v", err)}
	}

	return types.ToolResult{Data: map[string]any{
		"path":     path,
		"lines":    lines,
		"returned": len(lines),
	}}
}

func (s *Surface) runGrep(args map[string]any) types.ToolResult {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return types.ToolResult{Error: "run_grep: pattern is required"}
	}
	isRegex := boolArg(args, "is_regex")
	caseMode := stringArg(args, "case")
	context := intArg(args, "context", 0)
	maxResults := intArg(args, "max_results", 50)
	includes := stringSliceArg(args, "include")
	excludes := stringSliceArg(args, "exclude")

	var re *regexp.Regexp
	var err error
	expr := pattern
	if !isRegex {
		expr = regexp.QuoteMeta(pattern)
	}
	if caseMode == "insensitive" {
		expr = "(?i)" + expr
	}
	re, err = regexp.Compile(expr)
	if err != nil {
		return types.ToolResult{Error: fmt.Sprintf("run_grep: invalid pattern: %v", err)}
	}

	type match struct {
		Path    string   `json:"path"`
		Line    int      `json:"line"`
		Text    string   `json:"text"`
		Context []string `json:"context,omitempty"`
	}
	var matches []match

	walkErr := filepath.Walk(s.Root, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if len(matches) >= maxResults {
			return nil
		}
		rel, _ := filepath.Rel(s.Root, p)
		if !globMatch(rel, includes, true) || !globMatch(rel, excludes, false) {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return nil
		}
		defer f.Close()

		var buf []string
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			text := scanner.Text()
			buf = append(buf, text)
			if re.MatchString(text) {
				var ctxLines []string
				if context > 0 {
					lo := len(buf) - 1 - context
					if lo < 0 {
						lo = 0
					}
					ctxLines = append(ctxLines, buf[lo:]...)
				}
				matches = append(matches, match{Path: rel, Line: lineNo, Text: text, Context: ctxLines})
				if len(matches) >= maxResults {
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return types.ToolResult{Error: fmt.Sprintf("run_grep: %v", walkErr)}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Path != matches[j].Path {
			return matches[i].Path < matches[j].Path
		}
		return matches[i].Line < matches[j].Line
	})

	return types.ToolResult{Data: map[string]any{
		"matches": matches,
		"total":   len(matches),
	}}
}

// globMatch reports whether rel matches any of patterns. For includes, an
// empty pattern list means "match everything"; for excludes, an empty list
// means "exclude nothing".
func globMatch(rel string, patterns []string, isInclude bool) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, rel); ok {
			return isInclude
		}
		if ok, _ := filepath.Match(pat, filepath.Base(rel)); ok {
			return isInclude
		}
	}
	return !isInclude
}

func (s *Surface) fetchRepoMap(_ map[string]any) types.ToolResult {
	if s.RepoMap == nil {
		return types.ToolResult{Error: "fetch_repo_map: asset unavailable"}
	}
	const filePrefix = 500
	files := s.RepoMap.FileList
	if len(files) > filePrefix {
		files = files[:filePrefix]
	}
	return types.ToolResult{Data: map[string]any{
		"tree":       s.RepoMap.Tree,
		"file_list":  files,
		"truncated":  len(s.RepoMap.FileList) > filePrefix,
	}}
}
