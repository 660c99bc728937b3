package apply

import (
	"strings"

	"github.com/forgeware/codeforge/internal/model"
)

// ApplyTextEdits splices a set of text edits into content and returns the
// result. Edits are applied in descending order of start position so that
// earlier edits' offsets are unaffected by later (lower-offset) edits.
// Ranges are half-open in the end column and clamped to the line length
// when they overrun it rather than rejected.
func ApplyTextEdits(content string, edits []model.TextEdit) string {
	lines := splitKeepNone(content)
	sorted := make([]model.TextEdit, len(edits))
	copy(sorted, edits)
	sortDescending(sorted)

	for _, e := range sorted {
		lines = applyOne(lines, e)
	}
	return strings.Join(lines, "\n")
}

// splitKeepNone splits LF-normalized content into lines without trailing
// newline markers. Callers must normalize CRLF/CR before calling this.
func splitKeepNone(content string) []string {
	return strings.Split(content, "\n")
}

func sortDescending(edits []model.TextEdit) {
	for i := 1; i < len(edits); i++ {
		for j := i; j > 0 && startsAfter(edits[j], edits[j-1]); j-- {
			edits[j], edits[j-1] = edits[j-1], edits[j]
		}
	}
}

func startsAfter(a, b model.TextEdit) bool {
	if a.StartLine != b.StartLine {
		return a.StartLine > b.StartLine
	}
	return a.StartCol > b.StartCol
}

func applyOne(lines []string, e model.TextEdit) []string {
	startLine := e.StartLine - 1
	endLine := e.EndLine - 1
	if startLine < 0 || startLine >= len(lines) || endLine < startLine || endLine >= len(lines) {
		return lines
	}

	startCol := clampCol(e.StartCol, lines[startLine])
	endCol := clampCol(e.EndCol, lines[endLine])

	prefix := lines[startLine][:startCol]
	suffix := lines[endLine][endCol:]

	replacement := prefix + e.NewText + suffix
	replacementLines := strings.Split(replacement, "\n")

	out := make([]string, 0, len(lines)-(endLine-startLine+1)+len(replacementLines))
	out = append(out, lines[:startLine]...)
	out = append(out, replacementLines...)
	out = append(out, lines[endLine+1:]...)
	return out
}

// clampCol clamps a 1-indexed column to the line's length.
func clampCol(col int, line string) int {
	c := col - 1
	if c < 0 {
		return 0
	}
	if c > len(line) {
		return len(line)
	}
	return c
}
