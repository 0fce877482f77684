package typeclass

import (
	"slices"
	"sort"

	capserr "github.com/orizon-lang/capsafe/internal/errors"
)

// Trait is a declared conformance on a named type.
type Trait string

const (
	TraitCopy   Trait = "Copy"
	TraitLinear Trait = "Linear"
)

// Decl is the declared metadata of a named type, resolved once at type
// registration.
type Decl struct {
	Name       string
	Traits     []Trait
	Capability CapabilityKind
}

// Has reports whether the declaration conforms to trait.
func (d *Decl) Has(trait Trait) bool {
	return slices.Contains(d.Traits, trait)
}

// Registry holds the named type declarations of one compilation unit.
// Lookups are read-only once registration is done.
type Registry struct {
	decls map[string]*Decl
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{decls: make(map[string]*Decl)}
}

// Register adds a declaration. Registering the same name twice, declaring
// both Copy and Linear, or attaching a capability to a Copy type is rejected.
func (r *Registry) Register(d Decl) error {
	if d.Name == "" {
		return capserr.InvalidDecl(d.Name, "empty type name")
	}
	if _, exists := r.decls[d.Name]; exists {
		return capserr.DuplicateDecl(d.Name)
	}

	for _, trait := range d.Traits {
		if trait != TraitCopy && trait != TraitLinear {
			return capserr.InvalidDecl(d.Name, "unknown trait "+string(trait))
		}
	}
	if d.Capability != NoCapability {
		if _, ok := capabilityNames[d.Capability]; !ok {
			return capserr.InvalidDecl(d.Name, "unknown capability kind")
		}
	}

	decl := &Decl{Name: d.Name, Traits: slices.Clone(d.Traits), Capability: d.Capability}
	if decl.Has(TraitCopy) && decl.Has(TraitLinear) {
		return capserr.InvalidDecl(d.Name, "cannot be both Copy and Linear")
	}
	if decl.Has(TraitCopy) && decl.Capability != NoCapability {
		return capserr.InvalidDecl(d.Name, "a capability type cannot be Copy")
	}

	r.decls[d.Name] = decl
	return nil
}

// Lookup returns the declaration for name.
func (r *Registry) Lookup(name string) (*Decl, bool) {
	if r == nil {
		return nil, false
	}
	d, ok := r.decls[name]
	return d, ok
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.decls))
	for name := range r.decls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Classify maps a type to Copyable, Linear or Reference. Undeclared named
// types are Copyable. A generic application is Linear when its declaration
// says so, or when it is not declared Copy and one of its arguments is Linear.
func (r *Registry) Classify(t *Type) Class {
	if t == nil {
		return Copyable
	}

	switch t.Kind {
	case KindRef:
		return Reference
	case KindTensor:
		return Linear
	case KindRange:
		return r.Classify(t.Elem)
	case KindNamed, KindApplied:
		decl, ok := r.Lookup(t.Name)
		if ok {
			if decl.Has(TraitLinear) || decl.Capability != NoCapability {
				return Linear
			}
			if decl.Has(TraitCopy) {
				return Copyable
			}
		}
		for _, arg := range t.Args {
			if r.Classify(arg) == Linear {
				return Linear
			}
		}
		return Copyable
	default:
		return Copyable
	}
}

// CapabilityOf returns the declared capability kind of t. References do not
// carry the capability of their referent.
func (r *Registry) CapabilityOf(t *Type) (CapabilityKind, bool) {
	if t == nil {
		return NoCapability, false
	}

	switch t.Kind {
	case KindTensor:
		return Tensor, true
	case KindRange:
		return r.CapabilityOf(t.Elem)
	case KindNamed, KindApplied:
		if decl, ok := r.Lookup(t.Name); ok && decl.Capability != NoCapability {
			return decl.Capability, true
		}
	}
	return NoCapability, false
}

// TrackingMode combines Classify and CapabilityOf into the decision the
// checker consults when a binding is declared.
func (r *Registry) TrackingMode(t *Type) Mode {
	kind, _ := r.CapabilityOf(t)
	return Mode{
		Linear:     r.Classify(t) == Linear,
		Capability: kind,
	}
}

// Classify classifies t against an empty registry: builtins only.
func Classify(t *Type) Class {
	return (*Registry)(nil).Classify(t)
}
