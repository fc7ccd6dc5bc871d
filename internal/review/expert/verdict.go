package expert

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rohankatakam/coderisk/internal/review/types"
)

// ParseVerdict implements spec §4.7's verdict-parsing contract: strip
// fences, try a whole-message parse, else scan for the first balanced
// {...} object containing risk_type or file_path, else fall back to the
// first fenced JSON block. An unknown risk_type falls back to the task's
// original type.
func ParseVerdict(content string, task types.RiskItem) (types.ExpertVerdict, bool) {
	stripped := stripCodeFences(content)

	if gjson.Valid(stripped) && gjson.Parse(stripped).IsObject() {
		if v, ok := decodeVerdict(stripped, task); ok {
			return v, true
		}
	}

	if obj, ok := firstRelevantObject(stripped); ok {
		if v, ok := decodeVerdict(obj, task); ok {
			return v, true
		}
	}

	if block, ok := firstFencedBlock(content); ok {
		if v, ok := decodeVerdict(block, task); ok {
			return v, true
		}
	}

	return types.ExpertVerdict{}, false
}

func stripCodeFences(s string) string {
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

// firstRelevantObject scans for balanced {...} objects in order and returns
// the first one whose top level has a risk_type or file_path key.
func firstRelevantObject(s string) (string, bool) {
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
						res := gjson.Parse(candidate)
						if res.Get("risk_type").Exists() || res.Get("file_path").Exists() {
							return candidate, true
						}
					}
					start = -1
				}
			}
		}
	}
	return "", false
}

// firstFencedBlock finds the content of the first ```...``` fenced block,
// ignoring the initial whole-message strip (used as a last resort when the
// model wrapped JSON inside explanatory prose).
func firstFencedBlock(s string) (string, bool) {
	const fence = "```"
	start := strings.Index(s, fence)
	if start < 0 {
		return "", false
	}
	rest := s[start+len(fence):]
	rest = strings.TrimPrefix(rest, "json")
	rest = strings.TrimPrefix(rest, "\n")
	end := strings.Index(rest, fence)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func decodeVerdict(jsonText string, task types.RiskItem) (types.ExpertVerdict, bool) {
	result := gjson.Parse(jsonText)
	if !result.IsObject() {
		return types.ExpertVerdict{}, false
	}

	riskType := types.RiskType(result.Get("risk_type").String())
	if !riskType.IsValid() {
		riskType = task.RiskType
	}

	filePath := result.Get("file_path").String()
	if filePath == "" {
		filePath = task.FilePath
	}

	lr := task.LineNumber
	if ln := result.Get("line_number"); ln.Exists() {
		if parsed, err := decodeLineNumber(ln); err == nil {
			lr = parsed
		}
	}

	description := result.Get("description").String()
	if description == "" {
		description = task.Description
	}

	confidence := task.Confidence
	if c := result.Get("confidence"); c.Exists() {
		confidence = c.Float()
	}

	severity := task.Severity
	if sv := result.Get("severity"); sv.Exists() {
		switch types.Severity(strings.ToLower(sv.String())) {
		case types.SeverityError:
			severity = types.SeverityError
		case types.SeverityWarning:
			severity = types.SeverityWarning
		case types.SeverityInfo:
			severity = types.SeverityInfo
		}
	}

	v := types.ExpertVerdict{
		RiskType:    riskType,
		FilePath:    filePath,
		LineNumber:  lr,
		Description: description,
		Confidence:  confidence,
		Severity:    severity,
	}
	if sugg := result.Get("suggestion"); sugg.Exists() && sugg.String() != "" {
		s := sugg.String()
		v.Suggestion = &s
	}
	return v, true
}

func decodeLineNumber(ln gjson.Result) (types.LineRange, error) {
	switch {
	case ln.IsArray():
		arr := ln.Array()
		switch len(arr) {
		case 1:
			n := int(arr[0].Float())
			return types.LineRange{Start: n, End: n}, nil
		case 2:
			a, b := int(arr[0].Float()), int(arr[1].Float())
			if a > b {
				a, b = b, a
			}
			return types.LineRange{Start: a, End: b}, nil
		}
		return types.LineRange{}, errInvalidLineNumber
	case ln.Type == gjson.Number:
		n := int(ln.Float())
		return types.LineRange{Start: n, End: n}, nil
	case ln.Type == gjson.String:
		n, err := strconv.Atoi(strings.TrimSpace(ln.String()))
		if err != nil {
			return types.LineRange{}, err
		}
		return types.LineRange{Start: n, End: n}, nil
	}
	return types.LineRange{}, errInvalidLineNumber
}

var errInvalidLineNumber = &verdictError{"expert: invalid line_number shape"}

type verdictError struct{ msg string }

func (e *verdictError) Error() string { return e.msg }
