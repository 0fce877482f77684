package position

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// SpanHighlighter renders source excerpts with the covered columns
// underlined. The diagnostic engine uses it to attach snippets to text output.
type SpanHighlighter struct {
	sourceMap *SourceMap
	context   int
}

// NewSpanHighlighter creates a new span highlighter that shows context lines
// around each highlighted span.
func NewSpanHighlighter(sourceMap *SourceMap, context int) *SpanHighlighter {
	if context < 0 {
		context = 0
	}
	return &SpanHighlighter{
		sourceMap: sourceMap,
		context:   context,
	}
}

// Snippet returns the source lines of span with ^ markers under the covered
// columns. It returns "" when the file is not registered or span is invalid.
func (sh *SpanHighlighter) Snippet(span Span) string {
	if sh == nil || sh.sourceMap == nil || !span.IsValid() {
		return ""
	}

	file := sh.sourceMap.GetFile(span.Start.Filename)
	if file == nil {
		return ""
	}

	var result strings.Builder

	startLine := max(1, span.Start.Line-sh.context)
	endLine := min(len(file.Lines), span.End.Line+sh.context)

	for lineNum := startLine; lineNum <= endLine; lineNum++ {
		line := file.GetLine(lineNum)
		fmt.Fprintf(&result, "%4d | %s\n", lineNum, line)

		if lineNum >= span.Start.Line && lineNum <= span.End.Line {
			sh.addHighlighting(&result, lineNum, line, span)
		}
	}

	return result.String()
}

// addHighlighting adds ASCII highlighting under the relevant part of the line.
func (sh *SpanHighlighter) addHighlighting(result *strings.Builder, lineNum int, line string, span Span) {
	result.WriteString("     | ")

	width := utf8.RuneCountInString(line) + 1
	switch {
	case lineNum == span.Start.Line && lineNum == span.End.Line:
		addSingleLineHighlight(result, line, span.Start.Column, span.End.Column)
	case lineNum == span.Start.Line:
		addSingleLineHighlight(result, line, span.Start.Column, width)
	case lineNum == span.End.Line:
		addSingleLineHighlight(result, line, 1, span.End.Column)
	default:
		addSingleLineHighlight(result, line, 1, width)
	}

	result.WriteString("\n")
}

// addSingleLineHighlight adds highlighting for a single line between given columns.
func addSingleLineHighlight(result *strings.Builder, line string, startCol, endCol int) {
	runes := []rune(line)

	for i := 1; i < startCol; i++ {
		if i <= len(runes) && runes[i-1] == '\t' {
			result.WriteString("\t")
		} else {
			result.WriteString(" ")
		}
	}

	// Always draw at least one marker, even past the end of the line.
	highlightLen := min(endCol-startCol, len(runes)-startCol+1)
	result.WriteString(strings.Repeat("^", max(highlightLen, 1)))
}
