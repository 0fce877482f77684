package position

import (
	"testing"
)

func TestPosition(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		pos      Position
		isValid  bool
	}{
		{
			name: "Valid position with filename",
			pos: Position{
				Filename: "unit.oz",
				Line:     10,
				Column:   5,
				Offset:   100,
			},
			isValid:  true,
			expected: "unit.oz:10:5",
		},
		{
			name: "Valid position without filename",
			pos: Position{
				Line:   1,
				Column: 1,
				Offset: 0,
			},
			isValid:  true,
			expected: "1:1",
		},
		{
			name: "Invalid position - zero line",
			pos: Position{
				Line:   0,
				Column: 1,
				Offset: 0,
			},
			isValid: false,
		},
		{
			name: "Invalid position - zero column",
			pos: Position{
				Line:   1,
				Column: 0,
				Offset: 0,
			},
			isValid: false,
		},
		{
			name: "Invalid position - negative offset",
			pos: Position{
				Line:   1,
				Column: 1,
				Offset: -1,
			},
			isValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pos.IsValid(); got != tt.isValid {
				t.Errorf("Position.IsValid() = %v, want %v", got, tt.isValid)
			}

			if tt.isValid {
				if got := tt.pos.String(); got != tt.expected {
					t.Errorf("Position.String() = %v, want %v", got, tt.expected)
				}
			}
		})
	}
}

func TestPositionComparison(t *testing.T) {
	pos1 := Position{Filename: "unit.oz", Line: 1, Column: 5, Offset: 4}
	pos2 := Position{Filename: "unit.oz", Line: 1, Column: 10, Offset: 9}
	pos3 := Position{Filename: "other.oz", Line: 1, Column: 1, Offset: 0}

	if !pos1.Before(pos2) {
		t.Error("pos1 should be before pos2")
	}

	if !pos2.After(pos1) {
		t.Error("pos2 should be after pos1")
	}

	if !pos3.Before(pos1) {
		t.Error("pos3 should be before pos1 (different filename)")
	}
}

func TestSpan(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		span     Span
		isValid  bool
	}{
		{
			name: "Valid span same line",
			span: Span{
				Start: Position{Filename: "unit.oz", Line: 1, Column: 5, Offset: 4},
				End:   Position{Filename: "unit.oz", Line: 1, Column: 10, Offset: 9},
			},
			isValid:  true,
			expected: "unit.oz:1:5-10",
		},
		{
			name: "Valid span multiple lines",
			span: Span{
				Start: Position{Filename: "unit.oz", Line: 1, Column: 5, Offset: 4},
				End:   Position{Filename: "unit.oz", Line: 3, Column: 2, Offset: 20},
			},
			isValid:  true,
			expected: "unit.oz:1:5-3:2",
		},
		{
			name: "Invalid span - different files",
			span: Span{
				Start: Position{Filename: "a.oz", Line: 1, Column: 1, Offset: 0},
				End:   Position{Filename: "b.oz", Line: 1, Column: 5, Offset: 4},
			},
			isValid: false,
		},
		{
			name: "Invalid span - end before start",
			span: Span{
				Start: Position{Filename: "unit.oz", Line: 1, Column: 10, Offset: 9},
				End:   Position{Filename: "unit.oz", Line: 1, Column: 5, Offset: 4},
			},
			isValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.span.IsValid(); got != tt.isValid {
				t.Errorf("Span.IsValid() = %v, want %v", got, tt.isValid)
			}

			if tt.isValid {
				if got := tt.span.String(); got != tt.expected {
					t.Errorf("Span.String() = %v, want %v", got, tt.expected)
				}
			}
		})
	}
}

func TestSpanUnion(t *testing.T) {
	span1 := Span{
		Start: Position{Filename: "unit.oz", Line: 1, Column: 5, Offset: 4},
		End:   Position{Filename: "unit.oz", Line: 1, Column: 10, Offset: 9},
	}

	span2 := Span{
		Start: Position{Filename: "unit.oz", Line: 1, Column: 8, Offset: 7},
		End:   Position{Filename: "unit.oz", Line: 1, Column: 15, Offset: 14},
	}

	union := span1.Union(span2)
	expected := Span{
		Start: Position{Filename: "unit.oz", Line: 1, Column: 5, Offset: 4},
		End:   Position{Filename: "unit.oz", Line: 1, Column: 15, Offset: 14},
	}

	if union != expected {
		t.Errorf("Span.Union() = %v, want %v", union, expected)
	}
}

func TestSpanContainsSpan(t *testing.T) {
	decl := Span{
		Start: Position{Filename: "unit.oz", Line: 2, Column: 1},
		End:   Position{Filename: "unit.oz", Line: 9, Column: 2},
	}

	tests := []struct {
		name  string
		inner Span
		want  bool
	}{
		{"nested statement", At("unit.oz", 4, 5), true},
		{"starts at declaration start", At("unit.oz", 2, 1), true},
		{"after declaration", At("unit.oz", 12, 1), false},
		{"other file", At("other.oz", 4, 5), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decl.ContainsSpan(tt.inner); got != tt.want {
				t.Errorf("ContainsSpan(%v) = %v, want %v", tt.inner, got, tt.want)
			}
		})
	}
}

func TestParseSpan(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{name: "single column", text: "3:5", want: "unit.oz:3:5-6"},
		{name: "same line range", text: "3:5-9", want: "unit.oz:3:5-9"},
		{name: "multi line range", text: "3:5-7:2", want: "unit.oz:3:5-7:2"},
		{name: "padded", text: "  4:1 ", want: "unit.oz:4:1-2"},
		{name: "missing column", text: "3", wantErr: true},
		{name: "zero line", text: "0:1", wantErr: true},
		{name: "end before start", text: "5:5-2:1", wantErr: true},
		{name: "garbage end", text: "5:5-x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span, err := ParseSpan("unit.oz", tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseSpan(%q) succeeded with %v, want error", tt.text, span)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSpan(%q) failed: %v", tt.text, err)
			}
			if got := span.String(); got != tt.want {
				t.Errorf("ParseSpan(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestSourceMapLines(t *testing.T) {
	sm := NewSourceMap()
	sm.AddFile("unit.oz", "let s = open()\nuse(s)\nclose(s)")

	file := sm.GetFile("unit.oz")
	if file == nil {
		t.Fatal("GetFile(unit.oz) = nil")
	}

	if got := file.GetLine(3); got != "close(s)" {
		t.Errorf("GetLine(3) = %q", got)
	}

	if got := file.GetLine(4); got != "" {
		t.Errorf("GetLine(4) = %q, want empty", got)
	}

	if sm.GetFile("other.oz") != nil {
		t.Error("unregistered file should be nil")
	}
}

func TestInvalidPositions(t *testing.T) {
	invalidPos := Position{Line: 0, Column: 1, Offset: 0}
	if invalidPos.IsValid() {
		t.Error("Invalid position should not be valid")
	}

	invalidSpan := Span{
		Start: invalidPos,
		End:   Position{Line: 1, Column: 1, Offset: 0},
	}
	if invalidSpan.IsValid() {
		t.Error("Invalid span should not be valid")
	}

	if invalidSpan.ContainsSpan(At("", 1, 1)) {
		t.Error("Invalid span should not contain any span")
	}

	if !(Span{}).IsZero() {
		t.Error("zero span should report IsZero")
	}
}
