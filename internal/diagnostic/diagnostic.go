// Package diagnostic turns resource-safety violations into span-anchored
// diagnostics and collects, filters and formats them.
package diagnostic

import (
	"fmt"
	"sort"
	"strings"

	"github.com/orizon-lang/capsafe/internal/position"
)

// Level represents the severity of a diagnostic.
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelNote
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelNote:
		return "note"
	default:
		return "unknown"
	}
}

// Category groups diagnostics by the component that found them.
type Category int

const (
	CategoryOwnership Category = iota
	CategoryCapability
	CategoryConcurrency
	CategoryProof
)

func (c Category) String() string {
	switch c {
	case CategoryOwnership:
		return "ownership"
	case CategoryCapability:
		return "capability"
	case CategoryConcurrency:
		return "concurrency"
	case CategoryProof:
		return "proof"
	default:
		return "unknown"
	}
}

// Diagnostic is a single structured report. It is the only artifact handed
// to the report layer.
type Diagnostic struct {
	Code       string
	Title      string
	Message    string
	Suggestion string
	Binding    string
	Related    []RelatedInformation
	Tags       []string
	Span       position.Span
	Level      Level
	Category   Category
}

// RelatedInformation points at a secondary location, such as the move site.
type RelatedInformation struct {
	Message string
	Span    position.Span
}

// Builder constructs diagnostics with a fluent API.
type Builder struct {
	diagnostic *Diagnostic
}

// NewDiagnostic creates a new diagnostic builder.
func NewDiagnostic() *Builder {
	return &Builder{diagnostic: &Diagnostic{}}
}

func (b *Builder) Error() *Builder {
	b.diagnostic.Level = LevelError

	return b
}

func (b *Builder) Warning() *Builder {
	b.diagnostic.Level = LevelWarning

	return b
}

func (b *Builder) Category(c Category) *Builder {
	b.diagnostic.Category = c

	return b
}

func (b *Builder) Code(code string) *Builder {
	b.diagnostic.Code = code

	return b
}

func (b *Builder) Title(title string) *Builder {
	b.diagnostic.Title = title

	return b
}

func (b *Builder) Message(message string) *Builder {
	b.diagnostic.Message = message

	return b
}

func (b *Builder) Binding(name string) *Builder {
	b.diagnostic.Binding = name

	return b
}

func (b *Builder) Span(span position.Span) *Builder {
	b.diagnostic.Span = span

	return b
}

// Suggest sets the repair suggestion. A diagnostic carries at most one.
func (b *Builder) Suggest(suggestion string) *Builder {
	b.diagnostic.Suggestion = suggestion

	return b
}

// Related adds a secondary location. Invalid spans are dropped.
func (b *Builder) Related(span *position.Span, message string) *Builder {
	if span == nil || !span.IsValid() {
		return b
	}

	b.diagnostic.Related = append(b.diagnostic.Related, RelatedInformation{
		Span:    *span,
		Message: message,
	})

	return b
}

func (b *Builder) Tag(tag string) *Builder {
	b.diagnostic.Tags = append(b.diagnostic.Tags, tag)

	return b
}

func (b *Builder) Build() *Diagnostic {
	return b.diagnostic
}

// Engine manages the collection and processing of diagnostics.
type Engine struct {
	diagnostics []Diagnostic
	config      Config
	truncated   bool
}

// Config controls engine behavior.
type Config struct {
	IgnoreCodes      []string
	MaxErrors        int // 0 means unlimited
	WarningsAsErrors bool
	ShowSuggestions  bool
	ShowRelatedInfo  bool

	// Highlighter, when set, attaches source snippets to formatted output.
	Highlighter *position.SpanHighlighter
}

// NewEngine creates a new diagnostic engine.
func NewEngine(config Config) *Engine {
	return &Engine{config: config}
}

// Add adds a diagnostic to the engine.
func (e *Engine) Add(d *Diagnostic) {
	if d == nil || e.truncated || e.shouldIgnore(d) {
		return
	}

	if e.config.WarningsAsErrors && d.Level == LevelWarning {
		d.Level = LevelError
	}

	e.diagnostics = append(e.diagnostics, *d)

	if e.config.MaxErrors > 0 && len(e.Errors()) >= e.config.MaxErrors {
		e.truncated = true
		e.diagnostics = append(e.diagnostics, *NewDiagnostic().
			Error().
			Code("E5000").
			Title("Too many errors").
			Message(fmt.Sprintf("stopping after %d errors", e.config.MaxErrors)).
			Build())
	}
}

func (e *Engine) shouldIgnore(d *Diagnostic) bool {
	for _, code := range e.config.IgnoreCodes {
		if d.Code == code {
			return true
		}
	}

	return false
}

// Diagnostics returns all diagnostics.
func (e *Engine) Diagnostics() []Diagnostic {
	return e.diagnostics
}

// Errors returns only error-level diagnostics.
func (e *Engine) Errors() []Diagnostic {
	return e.byLevel(LevelError)
}

// Warnings returns only warning-level diagnostics.
func (e *Engine) Warnings() []Diagnostic {
	return e.byLevel(LevelWarning)
}

func (e *Engine) byLevel(level Level) []Diagnostic {
	out := make([]Diagnostic, 0)

	for _, d := range e.diagnostics {
		if d.Level == level {
			out = append(out, d)
		}
	}

	return out
}

// HasErrors returns true if there are any errors.
func (e *Engine) HasErrors() bool {
	for _, d := range e.diagnostics {
		if d.Level == LevelError {
			return true
		}
	}

	return false
}

// Truncated reports whether MaxErrors cut the collection short.
func (e *Engine) Truncated() bool {
	return e.truncated
}

// Clear removes all diagnostics.
func (e *Engine) Clear() {
	e.diagnostics = e.diagnostics[:0]
	e.truncated = false
}

// Sort sorts diagnostics by position, then severity, then code. Diagnostics
// without a span sort last.
func (e *Engine) Sort() {
	sort.SliceStable(e.diagnostics, func(i, j int) bool {
		a, b := e.diagnostics[i], e.diagnostics[j]

		if av, bv := a.Span.IsValid(), b.Span.IsValid(); av != bv {
			return av
		}

		if c := a.Span.Start.Compare(b.Span.Start); c != 0 {
			return c < 0
		}

		if a.Level != b.Level {
			return a.Level < b.Level
		}

		return a.Code < b.Code
	})
}

// Format returns a text rendering of all diagnostics followed by a summary.
func (e *Engine) Format() string {
	if len(e.diagnostics) == 0 {
		return "no issues found\n"
	}

	e.Sort()

	var result strings.Builder

	for i := range e.diagnostics {
		if i > 0 {
			result.WriteString("\n")
		}

		result.WriteString(e.formatSingle(&e.diagnostics[i]))
	}

	result.WriteString("\n")
	result.WriteString(e.formatSummary())

	return result.String()
}

func (e *Engine) formatSingle(d *Diagnostic) string {
	var result strings.Builder

	if d.Span.IsValid() {
		fmt.Fprintf(&result, "%s:%d:%d: ", d.Span.Start.Filename, d.Span.Start.Line, d.Span.Start.Column)
	}

	fmt.Fprintf(&result, "%s[%s]: %s\n", d.Level, d.Code, d.Title)

	if d.Message != "" {
		fmt.Fprintf(&result, "  %s\n", d.Message)
	}

	if snippet := e.config.Highlighter.Snippet(d.Span); snippet != "" {
		result.WriteString(snippet)
	}

	if e.config.ShowRelatedInfo {
		for _, related := range d.Related {
			fmt.Fprintf(&result, "  note: %s:%d:%d: %s\n",
				related.Span.Start.Filename,
				related.Span.Start.Line,
				related.Span.Start.Column,
				related.Message,
			)
		}
	}

	if e.config.ShowSuggestions && d.Suggestion != "" {
		fmt.Fprintf(&result, "  help: %s\n", d.Suggestion)
	}

	return result.String()
}

func (e *Engine) formatSummary() string {
	errorCount := len(e.Errors())
	warningCount := len(e.Warnings())

	if errorCount == 0 && warningCount == 0 {
		return "no issues found\n"
	}

	var parts []string
	if errorCount > 0 {
		parts = append(parts, fmt.Sprintf("%d error(s)", errorCount))
	}

	if warningCount > 0 {
		parts = append(parts, fmt.Sprintf("%d warning(s)", warningCount))
	}

	return fmt.Sprintf("found %s\n", strings.Join(parts, ", "))
}
