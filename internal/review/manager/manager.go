// Package manager implements the Manager (Reduce) stage: deterministic
// anchoring, near-duplicate merging, budgeting, and grouping of candidate
// risks into the expert work list. It makes no LLM call.
//
// Grounded line-for-line on original_source/agents/nodes/manager.py.
package manager

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rohankatakam/coderisk/internal/review/diffctx"
	"github.com/rohankatakam/coderisk/internal/review/types"
)

// Config holds every Manager knob named in spec §6.
type Config struct {
	AnchorWindow           int
	DropUnanchored         bool
	UnanchoredConfidence   float64
	MaxWorkItemsTotal      int
	MaxItemsPerFile        int
	MaxItemsPerRiskType    map[types.RiskType]int
	RiskTypeWeights        map[types.RiskType]float64
	SeverityWeights        map[types.Severity]float64
	MergeLineWindow        int
	MergeJaccard           float64
}

// DefaultConfig matches spec §6's defaults, with weights favoring
// syntax/concurrency/authorization per spec's Manager prose.
func DefaultConfig() Config {
	return Config{
		AnchorWindow:         5,
		DropUnanchored:       true,
		UnanchoredConfidence: 0.2,
		MaxWorkItemsTotal:    30,
		MaxItemsPerFile:      6,
		MaxItemsPerRiskType:  map[types.RiskType]int{},
		RiskTypeWeights: map[types.RiskType]float64{
			types.RiskSyntaxStaticErrors:        1.3,
			types.RiskConcurrencyTimingCorrect:  1.2,
			types.RiskAuthorizationDataExposure: 1.2,
			types.RiskRobustnessBoundaryConds:   1.0,
			types.RiskIntentSemanticConsistency: 0.9,
			types.RiskLifecycleStateConsistency: 1.0,
		},
		SeverityWeights: map[types.Severity]float64{
			types.SeverityError:   1.3,
			types.SeverityWarning: 1.0,
			types.SeverityInfo:    0.7,
		},
		MergeLineWindow: 5,
		MergeJaccard:    0.75,
	}
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		p = p[2:]
	}
	for strings.HasPrefix(p, "/") {
		p = p[1:]
	}
	return p
}

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9_]+`)

func tokenize(s string) map[string]bool {
	toks := tokenPattern.FindAllString(strings.ToLower(s), -1)
	out := make(map[string]bool, len(toks))
	for _, t := range toks {
		out[t] = true
	}
	return out
}

// jaccard computes the token Jaccard similarity of two descriptions.
func jaccard(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// ConvertLintErrors converts lint diagnostics into syntax_static_errors
// RiskItems, confidence 0.8, suggestion nil, per spec §4.6 step 1.
func ConvertLintErrors(lintErrors []types.LintError) []types.RiskItem {
	out := make([]types.RiskItem, 0, len(lintErrors))
	for _, le := range lintErrors {
		sev := le.Severity
		if sev == "" {
			sev = types.SeverityWarning
		}
		out = append(out, types.RiskItem{
			RiskType:    types.RiskSyntaxStaticErrors,
			FilePath:    normalizePath(le.File),
			LineNumber:  types.LineRange{Start: le.Line, End: le.Line},
			Description: le.Message,
			Confidence:  0.8,
			Severity:    sev,
		})
	}
	return out
}

// isAnchoredToChanges reports whether [start-W, end+W] intersects the
// file's changed-line set, using a sorted-slice binary search the way the
// source's bisect-based _is_anchored_to_changes does.
func isAnchoredToChanges(item types.RiskItem, sortedChangedLines []int, window int) bool {
	if len(sortedChangedLines) == 0 {
		return false
	}
	lo := item.LineNumber.Start - window
	hi := item.LineNumber.End + window

	idx := sort.SearchInts(sortedChangedLines, lo)
	if idx < len(sortedChangedLines) && sortedChangedLines[idx] <= hi {
		return true
	}
	return false
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// anchorFilter applies spec §4.6 step 2. adapter supplies each file's
// changed-line set.
func anchorFilter(items []types.RiskItem, adapter *diffctx.Adapter, cfg Config) []types.RiskItem {
	changedByFile := map[string][]int{}
	out := make([]types.RiskItem, 0, len(items))

	for _, item := range items {
		if item.RiskType == types.RiskSyntaxStaticErrors {
			out = append(out, item)
			continue
		}

		changed, ok := changedByFile[item.FilePath]
		if !ok {
			fd := adapter.FileDiff(item.FilePath)
			changed = sortedKeys(fd.ChangedLines())
			changedByFile[item.FilePath] = changed
		}

		if isAnchoredToChanges(item, changed, cfg.AnchorWindow) {
			out = append(out, item)
			continue
		}

		if cfg.DropUnanchored {
			continue
		}
		item.Confidence = min(item.Confidence, cfg.UnanchoredConfidence)
		out = append(out, item)
	}
	return out
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// mergeNearDuplicates applies spec §4.6 step 3 within each (file_path,
// risk_type) group.
func mergeNearDuplicates(items []types.RiskItem, cfg Config) []types.RiskItem {
	type key struct {
		file string
		rt   types.RiskType
	}
	groups := map[key][]types.RiskItem{}
	var order []key
	for _, item := range items {
		k := key{item.FilePath, item.RiskType}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], item)
	}

	var merged []types.RiskItem
	for _, k := range order {
		merged = append(merged, mergeGroup(groups[k], cfg)...)
	}
	return merged
}

func mergeGroup(items []types.RiskItem, cfg Config) []types.RiskItem {
	used := make([]bool, len(items))
	var out []types.RiskItem

	for i := range items {
		if used[i] {
			continue
		}
		cur := items[i]
		used[i] = true

		for j := i + 1; j < len(items); j++ {
			if used[j] {
				continue
			}
			other := items[j]

			withinWindow := abs(other.LineNumber.Start-cur.LineNumber.Start) <= cfg.MergeLineWindow ||
				rangesOverlapPadded(cur.LineNumber, other.LineNumber, cfg.MergeLineWindow)
			if !withinWindow {
				continue
			}
			if jaccard(cur.Description, other.Description) < cfg.MergeJaccard {
				continue
			}

			cur = mergeTwo(cur, other)
			used[j] = true
		}
		out = append(out, cur)
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func rangesOverlapPadded(a, b types.LineRange, pad int) bool {
	return a.Start-pad <= b.End+pad && b.Start-pad <= a.End+pad
}

func mergeTwo(a, b types.RiskItem) types.RiskItem {
	start := a.LineNumber.Start
	if b.LineNumber.Start < start {
		start = b.LineNumber.Start
	}
	end := a.LineNumber.End
	if b.LineNumber.End > end {
		end = b.LineNumber.End
	}

	sev := a.Severity
	if b.Severity.Rank() > sev.Rank() {
		sev = b.Severity
	}

	return types.RiskItem{
		RiskType:    a.RiskType,
		FilePath:    a.FilePath,
		LineNumber:  types.LineRange{Start: start, End: end},
		Description: strings.TrimSpace(a.Description) + "\n\n" + strings.TrimSpace(b.Description),
		Confidence:  max(a.Confidence, b.Confidence),
		Severity:    sev,
		Suggestion:  nil, // cleared; the expert re-emits
	}
}

func descriptionHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// sortDeterministic orders items by (file_path, line_start, description
// hash) per the Open Question decision recorded in DESIGN.md.
func sortDeterministic(items []types.RiskItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].FilePath != items[j].FilePath {
			return items[i].FilePath < items[j].FilePath
		}
		if items[i].LineNumber.Start != items[j].LineNumber.Start {
			return items[i].LineNumber.Start < items[j].LineNumber.Start
		}
		return descriptionHash(items[i].Description) < descriptionHash(items[j].Description)
	})
}

// budgetItems applies spec §4.6 step 4: score, sort, greedily cap.
func budgetItems(items []types.RiskItem, cfg Config) []types.RiskItem {
	type scored struct {
		item  types.RiskItem
		score float64
	}
	scoredItems := make([]scored, 0, len(items))
	for _, item := range items {
		typeWeight := cfg.RiskTypeWeights[item.RiskType]
		if typeWeight == 0 {
			typeWeight = 1.0
		}
		sevWeight := cfg.SeverityWeights[item.Severity]
		if sevWeight == 0 {
			sevWeight = 1.0
		}
		scoredItems = append(scoredItems, scored{item, item.Confidence * typeWeight * sevWeight})
	}

	sort.SliceStable(scoredItems, func(i, j int) bool {
		if scoredItems[i].score != scoredItems[j].score {
			return scoredItems[i].score > scoredItems[j].score
		}
		if scoredItems[i].item.Severity.Rank() != scoredItems[j].item.Severity.Rank() {
			return scoredItems[i].item.Severity.Rank() > scoredItems[j].item.Severity.Rank()
		}
		if scoredItems[i].item.FilePath != scoredItems[j].item.FilePath {
			return scoredItems[i].item.FilePath < scoredItems[j].item.FilePath
		}
		return scoredItems[i].item.LineNumber.Start < scoredItems[j].item.LineNumber.Start
	})

	perFile := map[string]int{}
	perType := map[types.RiskType]int{}
	var out []types.RiskItem

	for _, s := range scoredItems {
		if len(out) >= cfg.MaxWorkItemsTotal {
			break
		}
		if cfg.MaxItemsPerFile > 0 && perFile[s.item.FilePath] >= cfg.MaxItemsPerFile {
			continue
		}
		if cap, ok := cfg.MaxItemsPerRiskType[s.item.RiskType]; ok && cap > 0 && perType[s.item.RiskType] >= cap {
			continue
		}
		out = append(out, s.item)
		perFile[s.item.FilePath]++
		perType[s.item.RiskType]++
	}
	return out
}

// Run executes the full Manager reduce pipeline: converts lint errors,
// appends them to potential risks, anchors, merges, budgets, sorts, and
// groups by risk type. It is deterministic and idempotent: Run(Run(x)) is
// stable because merging and budgeting only ever shrink a fixed-point set.
func Run(fileAnalyses []types.FileAnalysis, lintErrors []types.LintError, adapter *diffctx.Adapter, cfg Config) (workList []types.WorkListEntry, expertTasks map[types.RiskType][]types.RiskItem) {
	var all []types.RiskItem
	for _, fa := range fileAnalyses {
		all = append(all, fa.PotentialRisks...)
	}
	all = append(all, ConvertLintErrors(lintErrors)...)

	anchored := anchorFilter(all, adapter, cfg)
	merged := mergeNearDuplicates(anchored, cfg)
	sortDeterministic(merged)
	budgeted := budgetItems(merged, cfg)
	sortDeterministic(budgeted)

	expertTasks = groupByRiskType(budgeted)
	return budgeted, expertTasks
}

func groupByRiskType(items []types.RiskItem) map[types.RiskType][]types.RiskItem {
	out := make(map[types.RiskType][]types.RiskItem)
	for _, item := range items {
		out[item.RiskType] = append(out[item.RiskType], item)
	}
	return out
}

// ValidateLineRange enforces spec §3/§8's line_number invariant: 1 ≤ s ≤ e.
func ValidateLineRange(r types.LineRange) error {
	if !r.Valid() {
		return fmt.Errorf("manager: invalid line range [%d,%d]", r.Start, r.End)
	}
	return nil
}
