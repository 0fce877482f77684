package discharge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/orizon-lang/capsafe/internal/position"
)

// Subject is what an obligation is about. Only literals and handles from
// FreshSymbol can be encoded.
type Subject interface {
	isSubject()
	String() string
}

// IntLit is a literal integer subject.
type IntLit struct {
	Value uint64
}

// Handle is a symbolic integer allocated by FreshSymbol.
type Handle struct {
	Symbol string
}

// Opaque is any other expression. It is never encoded.
type Opaque struct {
	Text string
}

func (IntLit) isSubject() {}
func (Handle) isSubject() {}
func (Opaque) isSubject() {}

func (l IntLit) String() string { return strconv.FormatUint(l.Value, 10) }
func (h Handle) String() string { return h.Symbol }
func (o Opaque) String() string { return o.Text }

// Kind is the kind of an obligation.
type Kind int

const (
	KindRange Kind = iota
	KindShape
)

func (k Kind) String() string {
	if k == KindShape {
		return "shape"
	}
	return "range"
}

// Obligation is a queued side condition.
type Obligation struct {
	Kind    Kind
	Span    position.Span
	Subject Subject
	Lo, Hi  uint64   // KindRange, inclusive
	Dims    []uint64 // KindShape
}

// String describes the obligation for diagnostics.
func (o Obligation) String() string {
	if o.Kind == KindShape {
		dims := make([]string, len(o.Dims))
		for i, d := range o.Dims {
			dims[i] = strconv.FormatUint(d, 10)
		}
		return fmt.Sprintf("shape of %s is [%s]", o.Subject, strings.Join(dims, ", "))
	}
	return fmt.Sprintf("%s in [%d, %d]", o.Subject, o.Lo, o.Hi)
}

// Outcome is the result of discharging one obligation.
type Outcome int

const (
	Proved Outcome = iota
	Refuted
	Undecided
)

func (o Outcome) String() string {
	switch o {
	case Proved:
		return "proved"
	case Refuted:
		return "refuted"
	default:
		return "unknown"
	}
}
