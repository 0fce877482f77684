package typeclass

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var primitives = map[string]TypeKind{
	"bool":   KindBool,
	"string": KindString,
	"str":    KindString,
	"i8":     KindInt,
	"i16":    KindInt,
	"i32":    KindInt,
	"i64":    KindInt,
	"u8":     KindInt,
	"u16":    KindInt,
	"u32":    KindInt,
	"u64":    KindInt,
	"isize":  KindInt,
	"usize":  KindInt,
	"int":    KindInt,
	"char":   KindInt,
	"f32":    KindFloat,
	"f64":    KindFloat,
}

// ParseType parses the textual type syntax used by traces:
//
//	()  bool  u32  string      primitives
//	&T  &mut T                 references
//	Name  Name<A, B>           named and applied types
//	tensor<f32>                builtin tensor
//	u32[0..255]                integer refinement
func ParseType(text string) (*Type, error) {
	p := &typeParser{src: text}
	t, err := p.parseType()
	if err != nil {
		return nil, fmt.Errorf("type %q: %w", text, err)
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("type %q: unexpected %q at %d", text, p.src[p.pos:], p.pos)
	}
	return t, nil
}

// MustParseType is ParseType for fixed inputs in tests and tables.
func MustParseType(text string) *Type {
	t, err := ParseType(text)
	if err != nil {
		panic(err)
	}
	return t
}

type typeParser struct {
	src string
	pos int
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *typeParser) accept(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *typeParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		r := rune(p.src[p.pos])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ':' {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *typeParser) parseType() (*Type, error) {
	if p.accept("()") {
		return p.parseRange(&Type{Kind: KindUnit, Name: "()"})
	}

	if p.accept("&") {
		mutable := false
		save := p.pos
		if p.ident() == "mut" {
			mutable = true
		} else {
			p.pos = save
		}
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindRef, Elem: elem, Mutable: mutable}, nil
	}

	name := p.ident()
	if name == "" {
		return nil, fmt.Errorf("expected type at %d", p.pos)
	}

	var args []*Type
	if p.accept("<") {
		for {
			arg, err := p.parseType()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.accept(">") {
				break
			}
			if !p.accept(",") {
				return nil, fmt.Errorf("expected ',' or '>' at %d", p.pos)
			}
		}
	}

	var t *Type
	switch kind, ok := primitives[name]; {
	case name == "tensor":
		if len(args) > 1 {
			return nil, fmt.Errorf("tensor takes one element type")
		}
		t = &Type{Kind: KindTensor, Name: name}
		if len(args) == 1 {
			t.Elem = args[0]
		}
	case ok:
		if len(args) > 0 {
			return nil, fmt.Errorf("primitive %s takes no type arguments", name)
		}
		t = &Type{Kind: kind, Name: name}
	case len(args) > 0:
		t = &Type{Kind: KindApplied, Name: name, Args: args}
	default:
		t = &Type{Kind: KindNamed, Name: name}
	}

	return p.parseRange(t)
}

// parseRange handles an optional [lo..hi] suffix.
func (p *typeParser) parseRange(base *Type) (*Type, error) {
	if !p.accept("[") {
		return base, nil
	}
	if base.Kind != KindInt {
		return nil, fmt.Errorf("range refinement requires an integer base, got %s", base)
	}

	end := strings.IndexByte(p.src[p.pos:], ']')
	if end < 0 {
		return nil, fmt.Errorf("unterminated range at %d", p.pos)
	}
	body := p.src[p.pos : p.pos+end]
	p.pos += end + 1

	loText, hiText, ok := strings.Cut(body, "..")
	if !ok {
		return nil, fmt.Errorf("range %q: expected lo..hi", body)
	}
	lo, err := strconv.ParseUint(strings.TrimSpace(loText), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("range %q: bad lower bound", body)
	}
	hi, err := strconv.ParseUint(strings.TrimSpace(hiText), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("range %q: bad upper bound", body)
	}
	if lo > hi {
		return nil, fmt.Errorf("range %q: empty", body)
	}

	return &Type{Kind: KindRange, Elem: base, Lo: lo, Hi: hi}, nil
}
