// Package diff computes line statistics, unified diffs and UI decorations
// between two versions of a file.
package diff

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Stats summarizes a change as line counts.
type Stats struct {
	LinesAdded     int `json:"lines_added"`
	LinesRemoved   int `json:"lines_removed"`
	LinesUnchanged int `json:"lines_unchanged"`
}

// LineRange marks an inclusive 1-indexed span in the new content.
type LineRange struct {
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Kind      string `json:"kind"` // added, modified
}

// LineStats runs a line-granular sequence diff between two contents.
func LineStats(oldContent, newContent string) Stats {
	if oldContent == newContent {
		lines := 0
		if oldContent != "" {
			lines = strings.Count(oldContent, "\n") + 1
		}
		return Stats{LinesUnchanged: lines}
	}

	dmp := diffmatchpatch.New()
	chars1, chars2, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(chars1, chars2, false), lineArray)

	var stats Stats
	for _, d := range diffs {
		lines := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			stats.LinesAdded += lines
		case diffmatchpatch.DiffDelete:
			stats.LinesRemoved += lines
		case diffmatchpatch.DiffEqual:
			stats.LinesUnchanged += lines
		}
	}
	return stats
}

// Decorations returns the line spans of newContent that differ from
// oldContent, for editor gutter highlighting.
func Decorations(oldContent, newContent string) []LineRange {
	if oldContent == newContent {
		return nil
	}

	dmp := diffmatchpatch.New()
	chars1, chars2, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(chars1, chars2, false), lineArray)

	var ranges []LineRange
	newLine := 1
	pendingDelete := false
	for _, d := range diffs {
		lines := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			pendingDelete = true
		case diffmatchpatch.DiffInsert:
			kind := "added"
			if pendingDelete {
				kind = "modified"
			}
			ranges = appendRange(ranges, LineRange{StartLine: newLine, EndLine: newLine + lines - 1, Kind: kind})
			newLine += lines
			pendingDelete = false
		case diffmatchpatch.DiffEqual:
			newLine += lines
			pendingDelete = false
		}
	}
	return ranges
}

// AppendDecorations computes decorations for the pure-append case without a
// full diff: everything from the first line touched by the append is new.
func AppendDecorations(previous, current string) []LineRange {
	if len(current) <= len(previous) || !strings.HasPrefix(current, previous) {
		return Decorations(previous, current)
	}
	startLine := strings.Count(previous, "\n") + 1
	endLine := strings.Count(current, "\n") + 1
	return []LineRange{{StartLine: startLine, EndLine: endLine, Kind: "added"}}
}

// appendRange merges adjacent spans of the same kind.
func appendRange(ranges []LineRange, r LineRange) []LineRange {
	if n := len(ranges); n > 0 {
		last := &ranges[n-1]
		if last.Kind == r.Kind && r.StartLine <= last.EndLine+1 {
			if r.EndLine > last.EndLine {
				last.EndLine = r.EndLine
			}
			return ranges
		}
	}
	return append(ranges, r)
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

// IsBinary reports whether content looks binary (NUL byte in the head).
func IsBinary(content string) bool {
	limit := len(content)
	if limit > 8000 {
		limit = 8000
	}
	for i := 0; i < limit; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

// Generator renders unified diffs for terminal display.
type Generator struct {
	colorEnabled bool
}

// NewGenerator creates a diff renderer.
func NewGenerator(colorEnabled bool) *Generator {
	return &Generator{colorEnabled: colorEnabled}
}

const maxDiffBytes = 10 * 1024 * 1024

// Unified renders a unified diff between old and new content.
func (g *Generator) Unified(oldContent, newContent, filename string) string {
	if oldContent == newContent {
		return ""
	}
	if IsBinary(oldContent) || IsBinary(newContent) {
		return fmt.Sprintf("Binary file %s has changed", filename)
	}
	if len(oldContent) > maxDiffBytes || len(newContent) > maxDiffBytes {
		return fmt.Sprintf("--- a/%s\n+++ b/%s\n@@ Large file, diff skipped @@", filename, filename)
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldContent, newContent, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	patchText := dmp.PatchToText(dmp.PatchMake(oldContent, diffs))

	var out strings.Builder
	out.WriteString(g.colorize("--- a/"+filename+"\n", color.FgRed))
	out.WriteString(g.colorize("+++ b/"+filename+"\n", color.FgGreen))
	for _, line := range strings.Split(patchText, "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			out.WriteString(g.colorize(line+"\n", color.FgCyan))
		case strings.HasPrefix(line, "+"):
			out.WriteString(g.colorize(line+"\n", color.FgGreen))
		case strings.HasPrefix(line, "-"):
			out.WriteString(g.colorize(line+"\n", color.FgRed))
		case line != "":
			out.WriteString(line + "\n")
		}
	}
	return out.String()
}

func (g *Generator) colorize(text string, attr color.Attribute) string {
	if !g.colorEnabled {
		return text
	}
	return color.New(attr).Sprint(text)
}
