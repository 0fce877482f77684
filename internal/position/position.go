// Package position provides source position tracking for the capsafe
// checker. Every violation, diagnostic and proof note is anchored to a Span
// from this package.
package position

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Position represents a single point in source code
type Position struct {
	Filename string // Source file name
	Line     int    // 1-based line number
	Column   int    // 1-based column number
	Offset   int    // 0-based byte offset in source, 0 when unknown
}

// IsValid returns true if the position is valid
func (p Position) IsValid() bool {
	return p.Line > 0 && p.Column > 0 && p.Offset >= 0
}

// String returns a string representation of the position
func (p Position) String() string {
	if p.Filename != "" {
		return fmt.Sprintf("%s:%d:%d", filepath.Base(p.Filename), p.Line, p.Column)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Compare orders positions by file, then line, then column.
// It returns -1, 0 or +1.
func (p Position) Compare(other Position) int {
	switch {
	case p.Filename != other.Filename:
		if p.Filename < other.Filename {
			return -1
		}
		return 1
	case p.Line != other.Line:
		if p.Line < other.Line {
			return -1
		}
		return 1
	case p.Column != other.Column:
		if p.Column < other.Column {
			return -1
		}
		return 1
	}
	return 0
}

// Before returns true if this position comes before other
func (p Position) Before(other Position) bool {
	return p.Compare(other) < 0
}

// After returns true if this position comes after other
func (p Position) After(other Position) bool {
	return p.Compare(other) > 0
}

// Span represents a range of source code between two positions
type Span struct {
	Start Position // Starting position (inclusive)
	End   Position // Ending position (exclusive)
}

// At returns a one-column span at line:col of filename.
func At(filename string, line, col int) Span {
	return Span{
		Start: Position{Filename: filename, Line: line, Column: col},
		End:   Position{Filename: filename, Line: line, Column: col + 1},
	}
}

// IsValid returns true if the span is valid
func (s Span) IsValid() bool {
	return s.Start.IsValid() && s.End.IsValid() &&
		s.Start.Filename == s.End.Filename &&
		!s.End.Before(s.Start)
}

// IsZero reports whether the span was never set.
func (s Span) IsZero() bool {
	return s == Span{}
}

// String returns a string representation of the span
func (s Span) String() string {
	if s.Start.Filename != "" {
		filename := filepath.Base(s.Start.Filename)
		if s.Start.Line == s.End.Line {
			return fmt.Sprintf("%s:%d:%d-%d", filename, s.Start.Line, s.Start.Column, s.End.Column)
		}
		return fmt.Sprintf("%s:%d:%d-%d:%d", filename, s.Start.Line, s.Start.Column, s.End.Line, s.End.Column)
	}

	if s.Start.Line == s.End.Line {
		return fmt.Sprintf("%d:%d-%d", s.Start.Line, s.Start.Column, s.End.Column)
	}
	return fmt.Sprintf("%d:%d-%d:%d", s.Start.Line, s.Start.Column, s.End.Line, s.End.Column)
}

// ContainsSpan reports whether other lies entirely inside s.
func (s Span) ContainsSpan(other Span) bool {
	if !s.IsValid() || !other.IsValid() || s.Start.Filename != other.Start.Filename {
		return false
	}
	return !other.Start.Before(s.Start) && !other.End.After(s.End)
}

// Union returns a span that encompasses both this span and other
func (s Span) Union(other Span) Span {
	if !s.IsValid() {
		return other
	}
	if !other.IsValid() {
		return s
	}
	if s.Start.Filename != other.Start.Filename {
		return s // Cannot union spans from different files
	}

	start := s.Start
	if other.Start.Before(start) {
		start = other.Start
	}

	end := s.End
	if other.End.After(end) {
		end = other.End
	}

	return Span{Start: start, End: end}
}

// ParseSpan parses the compact span notation used by traces and tests:
//
//	L:C          a one-column span
//	L:C-C2       a span on one line
//	L:C-L2:C2    a multi-line span
//
// Offsets are left at zero.
func ParseSpan(filename, text string) (Span, error) {
	text = strings.TrimSpace(text)
	startText, endText, ranged := strings.Cut(text, "-")

	line, col, err := parseLineCol(startText)
	if err != nil {
		return Span{}, fmt.Errorf("span %q: %w", text, err)
	}

	span := At(filename, line, col)
	if !ranged {
		return span, nil
	}

	if strings.Contains(endText, ":") {
		endLine, endCol, err := parseLineCol(endText)
		if err != nil {
			return Span{}, fmt.Errorf("span %q: %w", text, err)
		}
		span.End = Position{Filename: filename, Line: endLine, Column: endCol}
	} else {
		endCol, err := strconv.Atoi(endText)
		if err != nil {
			return Span{}, fmt.Errorf("span %q: bad end column", text)
		}
		span.End = Position{Filename: filename, Line: line, Column: endCol}
	}

	if !span.IsValid() {
		return Span{}, fmt.Errorf("span %q: end precedes start", text)
	}
	return span, nil
}

func parseLineCol(text string) (int, int, error) {
	lineText, colText, ok := strings.Cut(text, ":")
	if !ok {
		return 0, 0, fmt.Errorf("expected line:col, got %q", text)
	}
	line, err := strconv.Atoi(lineText)
	if err != nil || line < 1 {
		return 0, 0, fmt.Errorf("bad line %q", lineText)
	}
	col, err := strconv.Atoi(colText)
	if err != nil || col < 1 {
		return 0, 0, fmt.Errorf("bad column %q", colText)
	}
	return line, col, nil
}

// SourceFile represents a source file with content and position tracking
type SourceFile struct {
	Filename string   // File path
	Content  string   // Source code content
	Lines    []string // Lines of source code for efficient access
}

// NewSourceFile creates a new source file from content
func NewSourceFile(filename, content string) *SourceFile {
	lines := strings.Split(content, "\n")
	return &SourceFile{
		Filename: filename,
		Content:  content,
		Lines:    lines,
	}
}

// GetLine returns the specified line (1-based) or empty string if invalid
func (sf *SourceFile) GetLine(lineNum int) string {
	if lineNum < 1 || lineNum > len(sf.Lines) {
		return ""
	}
	return sf.Lines[lineNum-1]
}

// SourceMap manages multiple source files and provides unified position tracking
type SourceMap struct {
	files map[string]*SourceFile // filename -> SourceFile
}

// NewSourceMap creates a new source map
func NewSourceMap() *SourceMap {
	return &SourceMap{
		files: make(map[string]*SourceFile),
	}
}

// AddFile adds a source file to the map
func (sm *SourceMap) AddFile(filename, content string) *SourceFile {
	file := NewSourceFile(filename, content)
	sm.files[filename] = file
	return file
}

// GetFile returns the source file for the given filename
func (sm *SourceMap) GetFile(filename string) *SourceFile {
	return sm.files[filename]
}
