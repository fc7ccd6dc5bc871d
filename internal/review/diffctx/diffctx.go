// Package diffctx parses a unified diff once into per-file structures that
// every later pipeline stage consults: the set of changed line numbers and a
// windowed viewer over the new file content.
//
// Grounded on internal/git/diff_chunker.go and internal/git/diff.go.
package diffctx

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

var atHeaderPattern = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// FileDiff holds the per-file view spec §4.1 requires.
type FileDiff struct {
	FilePath     string
	AddedLines   map[int]bool
	ModifiedLines map[int]bool
	NewFileLines []NumberedLine // absolute_line -> text, in order
	RawSection   string
}

// NumberedLine pairs an absolute new-file line number with its text.
type NumberedLine struct {
	Line int
	Text string
}

// ChangedLines returns the union of added and modified line numbers.
func (f FileDiff) ChangedLines() map[int]bool {
	out := make(map[int]bool, len(f.AddedLines)+len(f.ModifiedLines))
	for l := range f.AddedLines {
		out[l] = true
	}
	for l := range f.ModifiedLines {
		out[l] = true
	}
	return out
}

// Adapter parses a unified diff once and answers per-file queries against it.
type Adapter struct {
	files map[string]*FileDiff
	log   *log.Entry
}

// New parses diffText and returns a ready-to-query Adapter. A malformed or
// empty diff yields an Adapter with no files rather than an error — per
// spec §4.1, missing-file lookups return empty structures, never failures.
func New(diffText string) *Adapter {
	a := &Adapter{
		files: make(map[string]*FileDiff),
		log:   log.WithField("component", "diffctx"),
	}
	a.parse(diffText)
	return a
}

// normalizePath strips leading a/, b/, or / prefixes per spec §4.1.
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

func parseDiffGitHeader(line string) string {
	parts := strings.Fields(line)
	if len(parts) < 3 {
		return ""
	}
	// "diff --git a/path b/path" — prefer the b/ side (the new path).
	return normalizePath(parts[len(parts)-1])
}

func (a *Adapter) parse(diffText string) {
	if strings.TrimSpace(diffText) == "" {
		return
	}

	var current *FileDiff
	var rawSection strings.Builder
	var newLineNo int
	var inHunk bool

	flush := func() {
		if current != nil {
			current.RawSection = rawSection.String()
			a.files[current.FilePath] = current
		}
		rawSection.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(diffText))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "diff --git") {
			flush()
			path := parseDiffGitHeader(line)
			current = &FileDiff{
				FilePath:      path,
				AddedLines:    map[int]bool{},
				ModifiedLines: map[int]bool{},
			}
			inHunk = false
			rawSection.WriteString(line + "\n")
			continue
		}

		if current == nil {
			continue
		}
		rawSection.WriteString(line + "\n")

		if strings.HasPrefix(line, "@@") {
			m := atHeaderPattern.FindStringSubmatch(line)
			if m != nil {
				start, _ := strconv.Atoi(m[1])
				newLineNo = start
				inHunk = true
			}
			continue
		}

		if !inHunk {
			continue
		}

		switch {
		case strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---"):
			// file-header noise inside the hunk area, ignore
		case strings.HasPrefix(line, "+"):
			text := line[1:]
			current.AddedLines[newLineNo] = true
			current.NewFileLines = append(current.NewFileLines, NumberedLine{Line: newLineNo, Text: text})
			newLineNo++
		case strings.HasPrefix(line, "-"):
			// removed lines don't occupy a new-file line number
		default:
			text := strings.TrimPrefix(line, " ")
			current.NewFileLines = append(current.NewFileLines, NumberedLine{Line: newLineNo, Text: text})
			newLineNo++
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		a.log.WithError(err).Warn("diff scan ended with error; using partial parse")
	}
}

// FileDiff returns the parsed view for path, or an empty (non-nil) FileDiff
// if the path is not present in the diff.
func (a *Adapter) FileDiff(path string) FileDiff {
	path = normalizePath(path)
	if f, ok := a.files[path]; ok {
		return *f
	}
	return FileDiff{FilePath: path, AddedLines: map[int]bool{}, ModifiedLines: map[int]bool{}}
}

// ExtractFileDiff returns the raw diff section for path, or "" if absent.
func (a *Adapter) ExtractFileDiff(path string) string {
	path = normalizePath(path)
	if f, ok := a.files[path]; ok {
		return f.RawSection
	}
	return ""
}

// ChangedFiles returns every file path seen in the diff, in first-seen
// order is not guaranteed — callers that need determinism should sort.
func (a *Adapter) ChangedFiles() []string {
	out := make([]string, 0, len(a.files))
	for p := range a.files {
		out = append(out, p)
	}
	return out
}

// Window returns lines [start-pad, end+pad] (clamped) from the new file
// content captured in the diff, numbered absolutely. It only has visibility
// into lines the diff actually touched (plus context lines git included);
// callers needing the full file should read it from the working tree and
// fall back to this window only when that read is unavailable.
func (a *Adapter) Window(path string, start, end, pad int) []NumberedLine {
	path = normalizePath(path)
	f, ok := a.files[path]
	if !ok {
		return nil
	}
	lo := start - pad
	hi := end + pad
	var out []NumberedLine
	for _, nl := range f.NewFileLines {
		if nl.Line >= lo && nl.Line <= hi {
			out = append(out, nl)
		}
	}
	return out
}

// FormatWindow renders a Window result as "NNNN: text" lines, the shape the
// Expert Runtime embeds in its system message.
func FormatWindow(lines []NumberedLine) string {
	var b strings.Builder
	for _, nl := range lines {
		fmt.Fprintf(&b, "%d: %s\n", nl.Line, nl.Text)
	}
	return b.String()
}

// TruncateDiffForPrompt caps a diff string at maxChars, append an ellipsis
// marker so prompts stay bounded. Grounded on internal/git/diff.go's
// TruncateDiffForPrompt.
func TruncateDiffForPrompt(diff string, maxChars int) (string, bool) {
	if len(diff) <= maxChars {
		return diff, false
	}
	return diff[:maxChars] + "\n... [truncated]", true
}
