package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineStatsIdentical(t *testing.T) {
	stats := LineStats("a\nb\nc", "a\nb\nc")
	assert.Equal(t, 0, stats.LinesAdded)
	assert.Equal(t, 0, stats.LinesRemoved)
	assert.Equal(t, 3, stats.LinesUnchanged)
}

func TestLineStatsAddition(t *testing.T) {
	stats := LineStats("a\nb\n", "a\nb\nc\n")
	assert.Equal(t, 1, stats.LinesAdded)
	assert.Equal(t, 0, stats.LinesRemoved)
}

func TestLineStatsReplacement(t *testing.T) {
	stats := LineStats("a\nold\nc\n", "a\nnew\nc\n")
	assert.Equal(t, 1, stats.LinesAdded)
	assert.Equal(t, 1, stats.LinesRemoved)
	assert.Equal(t, 2, stats.LinesUnchanged)
}

func TestLineStatsEmptyToContent(t *testing.T) {
	stats := LineStats("", "one\ntwo\n")
	assert.Equal(t, 2, stats.LinesAdded)
	assert.Equal(t, 0, stats.LinesRemoved)
}

func TestDecorationsMarksChangedSpans(t *testing.T) {
	before := "a\nb\nc\n"
	after := "a\nB\nc\nd\n"
	ranges := Decorations(before, after)
	assert.NotEmpty(t, ranges)
	// The replaced line 2 must be covered.
	covered := func(line int) bool {
		for _, r := range ranges {
			if line >= r.StartLine && line <= r.EndLine {
				return true
			}
		}
		return false
	}
	assert.True(t, covered(2))
	assert.True(t, covered(4))
	assert.False(t, covered(1))
}

func TestAppendDecorationsFastPath(t *testing.T) {
	prev := "line1\nline2\npart"
	curr := "line1\nline2\npartial line3\nline4"
	ranges := AppendDecorations(prev, curr)
	assert.Equal(t, []LineRange{{StartLine: 3, EndLine: 4, Kind: "added"}}, ranges)
}

func TestAppendDecorationsFallsBackOnNonPrefix(t *testing.T) {
	ranges := AppendDecorations("a\nb\n", "a\nX\n")
	assert.NotEmpty(t, ranges)
}

func TestIsBinary(t *testing.T) {
	assert.False(t, IsBinary("plain text\nwith lines"))
	assert.True(t, IsBinary("head\x00tail"))
}

func TestUnifiedDiffPlain(t *testing.T) {
	g := NewGenerator(false)
	out := g.Unified("hello\nworld\n", "hello\nthere\n", "greet.txt")
	assert.Contains(t, out, "--- a/greet.txt")
	assert.Contains(t, out, "+++ b/greet.txt")
	assert.Contains(t, out, "@@")
}

func TestUnifiedDiffIdenticalIsEmpty(t *testing.T) {
	g := NewGenerator(false)
	assert.Empty(t, g.Unified("same", "same", "f.txt"))
}

func TestUnifiedDiffBinary(t *testing.T) {
	g := NewGenerator(false)
	out := g.Unified("a\x00b", "c", "blob.bin")
	assert.Equal(t, "Binary file blob.bin has changed", out)
}

func TestUnifiedDiffLargeFileGuard(t *testing.T) {
	g := NewGenerator(false)
	big := strings.Repeat("x", maxDiffBytes+1)
	out := g.Unified(big, "small", "huge.txt")
	assert.Contains(t, out, "Large file, diff skipped")
}
