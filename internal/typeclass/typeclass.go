// Package typeclass decides how a binding is tracked from its semantic type.
//
// Classification is structural for builtins and declarative for named types:
// a named type is linear only if its declaration conforms to Linear or carries
// a capability attribute. Type names are never inspected for hints.
package typeclass

import (
	"fmt"
	"strings"
)

// TypeKind is the structural kind of a semantic type.
type TypeKind int

const (
	KindUnit TypeKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTensor
	KindNamed
	KindApplied
	KindRef
	KindRange
)

// Type is a resolved semantic type as handed over by the type checker.
type Type struct {
	Kind    TypeKind
	Name    string  // primitive or declaration name
	Args    []*Type // KindApplied type arguments
	Elem    *Type   // KindRef referent, KindTensor element, KindRange base
	Mutable bool    // KindRef only
	Lo, Hi  uint64  // KindRange bounds, inclusive
}

// String returns the textual form accepted by ParseType.
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}

	switch t.Kind {
	case KindUnit:
		return "()"
	case KindRef:
		if t.Mutable {
			return "&mut " + t.Elem.String()
		}
		return "&" + t.Elem.String()
	case KindTensor:
		if t.Elem == nil {
			return "tensor"
		}
		return "tensor<" + t.Elem.String() + ">"
	case KindApplied:
		args := make([]string, len(t.Args))
		for i, arg := range t.Args {
			args[i] = arg.String()
		}
		return t.Name + "<" + strings.Join(args, ", ") + ">"
	case KindRange:
		return fmt.Sprintf("%s[%d..%d]", t.Elem, t.Lo, t.Hi)
	default:
		return t.Name
	}
}

// Class is the ownership classification of a type.
type Class int

const (
	Copyable Class = iota
	Linear
	Reference
)

func (c Class) String() string {
	switch c {
	case Copyable:
		return "copyable"
	case Linear:
		return "linear"
	case Reference:
		return "reference"
	default:
		return "unknown"
	}
}

// CapabilityKind is the resource family a capability binding belongs to.
type CapabilityKind int

const (
	NoCapability CapabilityKind = iota
	Socket
	Tensor
	Region
	Concurrent
)

var capabilityNames = map[CapabilityKind]string{
	Socket:     "socket",
	Tensor:     "tensor",
	Region:     "region",
	Concurrent: "concurrent",
}

func (k CapabilityKind) String() string {
	if name, ok := capabilityNames[k]; ok {
		return name
	}
	return "none"
}

// ParseCapabilityKind maps the attribute argument to a kind.
func ParseCapabilityKind(name string) (CapabilityKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range capabilityNames {
		if n == name {
			return k, nil
		}
	}
	return NoCapability, fmt.Errorf("unknown capability kind %q", name)
}

// ParseCapabilityAttr parses an attribute of the form #[capability(socket)].
func ParseCapabilityAttr(attr string) (CapabilityKind, error) {
	body := strings.TrimSpace(attr)
	if !strings.HasPrefix(body, "#[") || !strings.HasSuffix(body, "]") {
		return NoCapability, fmt.Errorf("attribute %q: expected #[...]", attr)
	}
	body = strings.TrimSpace(body[2 : len(body)-1])

	arg, ok := strings.CutPrefix(body, "capability(")
	if !ok || !strings.HasSuffix(arg, ")") {
		return NoCapability, fmt.Errorf("attribute %q: expected capability(kind)", attr)
	}
	return ParseCapabilityKind(strings.TrimSuffix(arg, ")"))
}

// Mode is the tracking decision for a binding.
type Mode struct {
	Linear     bool
	Capability CapabilityKind
}

// None reports whether the binding needs no tracking at all.
func (m Mode) None() bool {
	return !m.Linear && m.Capability == NoCapability
}

// HasCapability reports whether the binding is registered with the capability context.
func (m Mode) HasCapability() bool {
	return m.Capability != NoCapability
}

func (m Mode) String() string {
	switch {
	case m.Linear && m.HasCapability():
		return "linear+capability(" + m.Capability.String() + ")"
	case m.HasCapability():
		return "capability(" + m.Capability.String() + ")"
	case m.Linear:
		return "linear"
	default:
		return "none"
	}
}
