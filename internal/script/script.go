// Package script loads event traces of a semantic-checker walk from YAML.
//
// A trace carries exactly what the semantic checker would report for one
// compilation unit: type declarations, binding declarations, and the
// accesses, blocks, thread regions and proof side conditions in program
// order. Running a trace drives a checker.Unit.
package script

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orizon-lang/capsafe/internal/typeclass"
)

// Script is one compilation unit's trace.
type Script struct {
	// Unit names the compilation unit; spans refer to it.
	Unit string `yaml:"unit"`

	// Source is the optional program text, used for snippets in reports.
	Source string `yaml:"source,omitempty"`

	// Types declares the named types the unit uses.
	Types []TypeDecl `yaml:"types,omitempty"`

	// Steps are the events of the walk in program order.
	Steps []Step `yaml:"steps"`
}

// TypeDecl registers a named type. Capability is a kind name or a
// #[capability(kind)] attribute.
type TypeDecl struct {
	Name       string   `yaml:"name"`
	Traits     []string `yaml:"traits,omitempty"`
	Capability string   `yaml:"capability,omitempty"`
}

// Step is one event. Exactly one operation field is set; At, End, Type
// and Body qualify it.
type Step struct {
	Declare   string `yaml:"declare,omitempty"`
	Read      string `yaml:"read,omitempty"`
	Move      string `yaml:"move,omitempty"`
	Borrow    string `yaml:"borrow,omitempty"`
	BorrowMut string `yaml:"borrow_mut,omitempty"`
	Release   string `yaml:"release,omitempty"`
	Use       string `yaml:"use,omitempty"`
	Consume   string `yaml:"consume,omitempty"`
	Share     string `yaml:"share,omitempty"`

	Function string   `yaml:"function,omitempty"`
	Block    bool     `yaml:"block,omitempty"`
	Thread   string   `yaml:"thread,omitempty"`
	Sync     bool     `yaml:"sync,omitempty"`
	Branch   [][]Step `yaml:"branch,omitempty"`

	Fresh       string     `yaml:"fresh,omitempty"`
	AssertShape *ShapeStep `yaml:"assert_shape,omitempty"`
	ProveRange  *RangeStep `yaml:"prove_range,omitempty"`
	ProveShape  *ShapeStep `yaml:"prove_shape,omitempty"`

	Type string `yaml:"type,omitempty"`
	At   string `yaml:"at,omitempty"`
	End  string `yaml:"end,omitempty"`
	Body []Step `yaml:"body,omitempty"`
}

// RangeStep is a range obligation on a literal or on a fresh handle.
type RangeStep struct {
	Value  *uint64 `yaml:"value,omitempty"`
	Handle string  `yaml:"handle,omitempty"`
	Lo     uint64  `yaml:"lo"`
	Hi     uint64  `yaml:"hi"`
}

// ShapeStep names a fresh handle and its dimensions.
type ShapeStep struct {
	Handle string   `yaml:"handle"`
	Dims   []uint64 `yaml:"dims"`
}

// op returns the name of the operation the step performs, and how many
// operation fields are set.
func (s *Step) op() (string, int) {
	var (
		name  string
		count int
	)
	set := func(ok bool, n string) {
		if ok {
			count++
			name = n
		}
	}
	set(s.Declare != "", "declare")
	set(s.Read != "", "read")
	set(s.Move != "", "move")
	set(s.Borrow != "", "borrow")
	set(s.BorrowMut != "", "borrow_mut")
	set(s.Release != "", "release")
	set(s.Use != "", "use")
	set(s.Consume != "", "consume")
	set(s.Share != "", "share")
	set(s.Function != "", "function")
	set(s.Block, "block")
	set(s.Thread != "", "thread")
	set(s.Sync, "sync")
	set(len(s.Branch) > 0, "branch")
	set(s.Fresh != "", "fresh")
	set(s.AssertShape != nil, "assert_shape")
	set(s.ProveRange != nil, "prove_range")
	set(s.ProveShape != nil, "prove_shape")
	return name, count
}

// Load parses a trace. Unknown fields are rejected so typos surface early.
func Load(r io.Reader) (*Script, error) {
	s, err := decode(r)
	if err != nil {
		return nil, err
	}

	if err := validate(s); err != nil {
		return nil, fmt.Errorf("invalid trace: %w", err)
	}
	return s, nil
}

// LoadFile reads and parses the trace at path. A trace without a unit name
// is named after its file.
func LoadFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}

	s, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Unit == "" {
		s.Unit = filepath.Base(path)
	}

	if err := validate(s); err != nil {
		return nil, fmt.Errorf("%s: invalid trace: %w", path, err)
	}
	return s, nil
}

func decode(r io.Reader) (*Script, error) {
	var s Script
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &s, nil
}

func validate(s *Script) error {
	if s.Unit == "" {
		return fmt.Errorf("unit is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, t := range s.Types {
		if t.Name == "" {
			return fmt.Errorf("types[%d]: name is required", i)
		}
	}
	return validateSteps("steps", s.Steps)
}

func validateSteps(path string, steps []Step) error {
	for i := range steps {
		step := &steps[i]
		where := fmt.Sprintf("%s[%d]", path, i)

		name, count := step.op()
		switch {
		case count == 0:
			return fmt.Errorf("%s: no operation", where)
		case count > 1:
			return fmt.Errorf("%s: more than one operation", where)
		}

		switch name {
		case "declare":
			if step.Type == "" {
				return fmt.Errorf("%s: declare needs a type", where)
			}
		case "sync", "fresh", "assert_shape", "thread":
		default:
			if step.At == "" {
				return fmt.Errorf("%s: %s needs a span (at)", where, name)
			}
		}

		if len(step.Body) > 0 && name != "function" && name != "block" && name != "thread" {
			return fmt.Errorf("%s: %s takes no body", where, name)
		}
		if r := step.ProveRange; r != nil && (r.Value == nil) == (r.Handle == "") {
			return fmt.Errorf("%s: prove_range needs exactly one of value or handle", where)
		}

		if err := validateSteps(where+".body", step.Body); err != nil {
			return err
		}
		for j, arm := range step.Branch {
			if err := validateSteps(fmt.Sprintf("%s.branch[%d]", where, j), arm); err != nil {
				return err
			}
		}
	}
	return nil
}

// Registry registers the declared types.
func (s *Script) Registry() (*typeclass.Registry, error) {
	reg := typeclass.NewRegistry()
	for _, t := range s.Types {
		decl := typeclass.Decl{Name: t.Name}
		for _, trait := range t.Traits {
			decl.Traits = append(decl.Traits, typeclass.Trait(trait))
		}

		if t.Capability != "" {
			var (
				kind typeclass.CapabilityKind
				err  error
			)
			if strings.HasPrefix(t.Capability, "#[") {
				kind, err = typeclass.ParseCapabilityAttr(t.Capability)
			} else {
				kind, err = typeclass.ParseCapabilityKind(t.Capability)
			}
			if err != nil {
				return nil, fmt.Errorf("type %s: %w", t.Name, err)
			}
			decl.Capability = kind
		}

		if err := reg.Register(decl); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
