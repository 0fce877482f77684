package diagnostic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/capsafe/internal/position"
	"github.com/orizon-lang/capsafe/internal/violation"
)

func at(line int) position.Span {
	return position.At("unit.oz", line, 1)
}

func TestFromViolationCodes(t *testing.T) {
	f := NewFactory(FactoryOptions{})

	tests := []struct {
		kind     violation.Kind
		code     string
		level    Level
		category Category
	}{
		{violation.UseAfterMove, "E5001", LevelError, CategoryOwnership},
		{violation.DoubleMove, "E5002", LevelError, CategoryOwnership},
		{violation.BorrowAfterMove, "E5003", LevelError, CategoryOwnership},
		{violation.BorrowExclusivity, "E5004", LevelError, CategoryOwnership},
		{violation.UseAfterConsumption, "E5101", LevelError, CategoryCapability},
		{violation.ResourceLeak, "E5102", LevelError, CategoryCapability},
		{violation.ConcurrentUseWithoutSync, "E5103", LevelError, CategoryConcurrency},
		{violation.ProofRefuted, "E5201", LevelError, CategoryProof},
		{violation.SolverTimeout, "W5202", LevelWarning, CategoryProof},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			d := f.FromViolation(violation.New(tt.kind, "x", at(3), at(2)))
			require.NotNil(t, d)
			assert.Equal(t, tt.code, d.Code)
			assert.Equal(t, tt.level, d.Level)
			assert.Equal(t, tt.category, d.Category)
			assert.Equal(t, at(3), d.Span)
			assert.NotEmpty(t, d.Message)
			assert.NotEmpty(t, d.Suggestion)
		})
	}
}

func TestFromViolationRelatedSpan(t *testing.T) {
	f := NewFactory(FactoryOptions{})

	d := f.FromViolation(violation.New(violation.UseAfterMove, "s", at(3), at(2)))
	require.Len(t, d.Related, 1)
	assert.Equal(t, at(2), d.Related[0].Span)
	assert.Equal(t, "value moved here", d.Related[0].Message)
	assert.Contains(t, d.Message, "`s`")

	leak := f.FromViolation(violation.New(violation.ResourceLeak, "sock", at(9), at(1)))
	require.Len(t, leak.Related, 1)
	assert.Equal(t, "defined here", leak.Related[0].Message)

	none := f.FromViolation(violation.New(violation.UseAfterMove, "s", at(3), position.Span{}))
	assert.Empty(t, none.Related)

	assert.Nil(t, f.FromViolation(nil))
}

func TestFromViolationConcurrent(t *testing.T) {
	v := violation.New(violation.ConcurrentUseWithoutSync, "buf", at(5), at(4))
	v.Threads = [2]violation.ThreadTag{"main", "worker"}

	d := NewFactory(FactoryOptions{}).FromViolation(v)
	assert.Contains(t, d.Message, "threads main and worker")
	require.Len(t, d.Related, 1)
	assert.Equal(t, "accessed from thread main here", d.Related[0].Message)
}

func TestFromViolationMovedWhileBorrowed(t *testing.T) {
	v := violation.New(violation.BorrowAfterMove, "x", at(4), at(3))
	v.Reason = "moved while borrowed"

	d := NewFactory(FactoryOptions{}).FromViolation(v)
	assert.Equal(t, "Move of borrowed value", d.Title)
	assert.Equal(t, "borrowed here", d.Related[0].Message)
}

func TestFromViolationProof(t *testing.T) {
	v := violation.New(violation.ProofRefuted, "", at(7), position.Span{})
	v.Obligation = "150 in [0, 100]"
	v.Model = "(define-fun v0 () Int 150)"
	v.Assignments = map[string]string{"v0": "150"}

	d := NewFactory(FactoryOptions{}).FromViolation(v)
	assert.Equal(t, "cannot prove 150 in [0, 100]: counterexample v0 = 150", d.Message)
	require.Len(t, d.Related, 1)
	assert.Contains(t, d.Related[0].Message, "(define-fun v0 () Int 150)")

	u := violation.New(violation.SolverTimeout, "", at(7), position.Span{})
	u.Obligation = "h0 in [0, 9]"
	u.Reason = "timeout"

	assert.Equal(t, LevelWarning, NewFactory(FactoryOptions{}).FromViolation(u).Level)
	assert.Equal(t, LevelError, NewFactory(FactoryOptions{UnknownAsError: true}).FromViolation(u).Level)
}

func TestEngineFilters(t *testing.T) {
	f := NewFactory(FactoryOptions{})
	e := NewEngine(Config{IgnoreCodes: []string{"E5004"}, WarningsAsErrors: true})

	e.Add(f.FromViolation(violation.New(violation.BorrowExclusivity, "x", at(1), at(1))))
	e.Add(f.FromViolation(violation.New(violation.SolverTimeout, "", at(2), position.Span{})))
	e.Add(nil)

	require.Len(t, e.Diagnostics(), 1)
	assert.Equal(t, LevelError, e.Diagnostics()[0].Level)
	assert.True(t, e.HasErrors())
	assert.Empty(t, e.Warnings())

	e.Clear()
	assert.False(t, e.HasErrors())
}

func TestEngineMaxErrors(t *testing.T) {
	f := NewFactory(FactoryOptions{})
	e := NewEngine(Config{MaxErrors: 2})

	for line := 1; line <= 5; line++ {
		e.Add(f.FromViolation(violation.New(violation.ResourceLeak, "s", at(line), position.Span{})))
	}

	assert.True(t, e.Truncated())
	require.Len(t, e.Diagnostics(), 3)
	assert.Equal(t, "E5000", e.Diagnostics()[2].Code)
}

func TestEngineSort(t *testing.T) {
	f := NewFactory(FactoryOptions{})
	e := NewEngine(Config{})

	e.Add(f.FromViolation(violation.New(violation.ResourceLeak, "b", at(9), position.Span{})))
	e.Add(f.FromViolation(violation.New(violation.SolverTimeout, "", at(2), position.Span{})))
	e.Add(f.FromViolation(violation.New(violation.UseAfterMove, "a", at(2), position.Span{})))
	e.Add(NewDiagnostic().Error().Code("E5102").Title("no span").Build())
	e.Sort()

	var codes []string
	for _, d := range e.Diagnostics() {
		codes = append(codes, d.Code)
	}
	assert.Equal(t, []string{"E5001", "W5202", "E5102", "E5102"}, codes)
	assert.False(t, e.Diagnostics()[3].Span.IsValid())
}

func TestEngineFormat(t *testing.T) {
	sm := position.NewSourceMap()
	sm.AddFile("unit.oz", "let s = open()\nconsume(s)\nuse(s)\n")

	e := NewEngine(Config{
		ShowRelatedInfo: true,
		ShowSuggestions: true,
		Highlighter:     position.NewSpanHighlighter(sm, 0),
	})
	e.Add(NewFactory(FactoryOptions{}).FromViolation(violation.New(violation.UseAfterConsumption, "s", at(3), at(2))))

	out := e.Format()
	lines := strings.Split(out, "\n")
	assert.Equal(t, "unit.oz:3:1: error[E5101]: Use of consumed capability", lines[0])
	assert.Contains(t, out, "   3 | use(s)\n     | ^\n")
	assert.Contains(t, out, "  note: unit.oz:2:1: consumed here\n")
	assert.Contains(t, out, "  help: ")
	assert.True(t, strings.HasSuffix(out, "found 1 error(s)\n"))

	assert.Equal(t, "no issues found\n", NewEngine(Config{}).Format())
}
