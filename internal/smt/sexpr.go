package smt

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// sexpr is an atom or a list read from solver output.
type sexpr struct {
	atom   string
	list   []sexpr
	isList bool
}

func (s sexpr) String() string {
	if !s.isList {
		return s.atom
	}
	parts := make([]string, len(s.list))
	for i, e := range s.list {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// readResponse reads one complete response: a bare atom line or a balanced
// parenthesised expression that may span lines.
func readResponse(r *bufio.Reader) (string, error) {
	var (
		b       strings.Builder
		depth   int
		started bool
		inStr   bool
	)
	for {
		c, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && b.Len() > 0 && depth == 0 {
				return strings.TrimSpace(b.String()), nil
			}
			return "", err
		}

		switch {
		case inStr:
			if c == '"' {
				inStr = false
			}
		case c == '"':
			inStr = true
		case c == '(':
			depth++
			started = true
		case c == ')':
			depth--
		case c == '\n' && depth == 0:
			if text := strings.TrimSpace(b.String()); text != "" {
				return text, nil
			}
			b.Reset()
			continue
		}
		b.WriteByte(c)

		if started && depth == 0 {
			return strings.TrimSpace(b.String()), nil
		}
	}
}

// parseSexpr parses a single expression.
func parseSexpr(text string) (sexpr, error) {
	tokens := tokenize(text)
	expr, rest, err := parseTokens(tokens)
	if err != nil {
		return sexpr{}, err
	}
	if len(rest) != 0 {
		return sexpr{}, fmt.Errorf("trailing input %q", strings.Join(rest, " "))
	}
	return expr, nil
}

func tokenize(text string) []string {
	var (
		tokens []string
		cur    strings.Builder
		inStr  bool
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case inStr:
			cur.WriteRune(r)
			if r == '"' {
				inStr = false
				flush()
			}
		case r == '"':
			flush()
			inStr = true
			cur.WriteRune(r)
		case r == '(' || r == ')':
			flush()
			tokens = append(tokens, string(r))
		case r == ' ' || r == '\n' || r == '\t' || r == '\r':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func parseTokens(tokens []string) (sexpr, []string, error) {
	if len(tokens) == 0 {
		return sexpr{}, nil, fmt.Errorf("unexpected end of input")
	}
	switch tokens[0] {
	case "(":
		out := sexpr{isList: true}
		rest := tokens[1:]
		for {
			if len(rest) == 0 {
				return sexpr{}, nil, fmt.Errorf("unbalanced parentheses")
			}
			if rest[0] == ")" {
				return out, rest[1:], nil
			}
			var (
				elem sexpr
				err  error
			)
			elem, rest, err = parseTokens(rest)
			if err != nil {
				return sexpr{}, nil, err
			}
			out.list = append(out.list, elem)
		}
	case ")":
		return sexpr{}, nil, fmt.Errorf("unexpected ')'")
	default:
		return sexpr{atom: tokens[0]}, tokens[1:], nil
	}
}

// parseModel extracts constant assignments from a get-model response.
// Integer values such as (- 5) are flattened to -5; function definitions
// are skipped.
func parseModel(text string) (Model, error) {
	expr, err := parseSexpr(text)
	if err != nil {
		return Model{}, fmt.Errorf("model: %w", err)
	}
	entries := expr.list
	if len(entries) > 0 && !entries[0].isList && entries[0].atom == "model" {
		entries = entries[1:]
	}

	m := Model{Values: make(map[string]string)}
	for _, e := range entries {
		if !e.isList || len(e.list) != 5 || e.list[0].atom != "define-fun" {
			continue
		}
		if params := e.list[2]; !params.isList || len(params.list) != 0 {
			continue
		}
		m.Values[e.list[1].atom] = flattenInt(e.list[4])
	}
	return m, nil
}

func flattenInt(e sexpr) string {
	if e.isList && len(e.list) == 2 && e.list[0].atom == "-" {
		return "-" + e.list[1].String()
	}
	return e.String()
}

// parseCore extracts the names of a get-unsat-core response.
func parseCore(text string) ([]string, error) {
	expr, err := parseSexpr(text)
	if err != nil {
		return nil, fmt.Errorf("unsat core: %w", err)
	}
	if !expr.isList {
		return nil, fmt.Errorf("unsat core: expected a list, got %q", text)
	}
	names := make([]string, 0, len(expr.list))
	for _, e := range expr.list {
		names = append(names, e.String())
	}
	return names, nil
}
