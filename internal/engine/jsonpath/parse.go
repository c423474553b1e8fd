// internal/engine/jsonpath/parse.go
package jsonpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"document-eligibility/internal/engine/value"
)

/*
 * Path expressions over decoded JSON documents.
 *
 * Supported forms:
 *   $                  the document root
 *   .name  ['name']    object member
 *   [n]  [-n]          array element, negative counts from the end
 *   .*  [*]            every member or element
 *   ..name  ..*        recursive descent
 *   [?(@.f op lit)]    filter on a relative field; op is one of
 *                      == != < <= > >=, lit is a quoted string, number,
 *                      true, false or null
 *   [?(@.f)]           filter on existence of a non-null field
 *
 * A path made only of member and index steps is definite and yields a
 * single value. Any wildcard, descent or filter makes it indefinite and
 * the result is the array of every match.
 *
 * Expressions without a leading $ are read relative to the root.
 */

var ErrSyntax = errors.New("invalid path expression")

type stepKind int

const (
	stepMember stepKind = iota
	stepIndex
	stepWildcard
	stepDescend
	stepFilter
)

type step struct {
	kind   stepKind
	name   string
	index  int
	filter *filter
}

type filter struct {
	field   []string
	op      string
	literal value.Value
}

// Path is a compiled expression. It is safe for concurrent use.
type Path struct {
	expr     string
	steps    []step
	definite bool
}

func (p *Path) String() string { return p.expr }

// Definite reports whether the path can match at most one value.
func (p *Path) Definite() bool { return p.definite }

// Compile parses expr.
func Compile(expr string) (*Path, error) {
	src := strings.TrimSpace(expr)
	if src == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	if !strings.HasPrefix(src, "$") {
		if strings.HasPrefix(src, "[") {
			src = "$" + src
		} else {
			src = "$." + src
		}
	}

	p := &parser{src: src, pos: 1}
	steps, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrSyntax, expr, err)
	}

	definite := true
	for _, s := range steps {
		if s.kind != stepMember && s.kind != stepIndex {
			definite = false
			break
		}
	}
	return &Path{expr: expr, steps: steps, definite: definite}, nil
}

// MustCompile panics if expr does not parse.
func MustCompile(expr string) *Path {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

type parser struct {
	src string
	pos int
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) parse() ([]step, error) {
	var steps []step
	for p.pos < len(p.src) {
		switch {
		case strings.HasPrefix(p.src[p.pos:], ".."):
			p.pos += 2
			s, err := p.descend()
			if err != nil {
				return nil, err
			}
			steps = append(steps, s)
		case p.peek() == '.':
			p.pos++
			if p.peek() == '*' {
				p.pos++
				steps = append(steps, step{kind: stepWildcard})
				continue
			}
			name := p.name()
			if name == "" {
				return nil, fmt.Errorf("missing member name at %d", p.pos)
			}
			steps = append(steps, step{kind: stepMember, name: name})
		case p.peek() == '[':
			s, err := p.bracket()
			if err != nil {
				return nil, err
			}
			steps = append(steps, s)
		default:
			return nil, fmt.Errorf("unexpected %q at %d", p.peek(), p.pos)
		}
	}
	return steps, nil
}

func (p *parser) descend() (step, error) {
	switch p.peek() {
	case '*':
		p.pos++
		return step{kind: stepDescend}, nil
	case '[':
		s, err := p.bracket()
		if err != nil {
			return step{}, err
		}
		switch s.kind {
		case stepMember:
			return step{kind: stepDescend, name: s.name}, nil
		case stepWildcard:
			return step{kind: stepDescend}, nil
		default:
			return step{}, fmt.Errorf("unsupported descent at %d", p.pos)
		}
	default:
		name := p.name()
		if name == "" {
			return step{}, fmt.Errorf("missing member name after '..' at %d", p.pos)
		}
		return step{kind: stepDescend, name: name}, nil
	}
}

func (p *parser) name() string {
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != '.' && p.src[p.pos] != '[' {
		p.pos++
	}
	return strings.TrimSpace(p.src[start:p.pos])
}

func (p *parser) skipSpaces() {
	for p.peek() == ' ' {
		p.pos++
	}
}

func (p *parser) expect(c byte) error {
	p.skipSpaces()
	if p.peek() != c {
		return fmt.Errorf("expected %q at %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *parser) bracket() (step, error) {
	p.pos++
	p.skipSpaces()

	switch c := p.peek(); {
	case c == '*':
		p.pos++
		return step{kind: stepWildcard}, p.expect(']')
	case c == '\'' || c == '"':
		s, err := p.quoted()
		if err != nil {
			return step{}, err
		}
		return step{kind: stepMember, name: s}, p.expect(']')
	case c == '?':
		p.pos++
		if err := p.expect('('); err != nil {
			return step{}, err
		}
		body, err := p.filterBody()
		if err != nil {
			return step{}, err
		}
		f, err := parseFilter(body)
		if err != nil {
			return step{}, err
		}
		return step{kind: stepFilter, filter: f}, p.expect(']')
	case c == '-' || (c >= '0' && c <= '9'):
		start := p.pos
		p.pos++
		for p.peek() >= '0' && p.peek() <= '9' {
			p.pos++
		}
		n, err := strconv.Atoi(p.src[start:p.pos])
		if err != nil {
			return step{}, fmt.Errorf("bad index %q", p.src[start:p.pos])
		}
		return step{kind: stepIndex, index: n}, p.expect(']')
	default:
		return step{}, fmt.Errorf("unexpected %q in brackets at %d", c, p.pos)
	}
}

func (p *parser) quoted() (string, error) {
	quote := p.peek()
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '\\' && p.pos+1 < len(p.src):
			b.WriteByte(p.src[p.pos+1])
			p.pos += 2
		case c == quote:
			p.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", fmt.Errorf("unterminated string")
}

// filterBody returns the text up to the ')' closing the filter, skipping
// parentheses that appear inside quoted literals.
func (p *parser) filterBody() (string, error) {
	start := p.pos
	var quote byte
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ')':
			body := p.src[start:p.pos]
			p.pos++
			return body, nil
		}
		p.pos++
	}
	return "", fmt.Errorf("unterminated filter")
}

var filterOps = []string{"==", "!=", "<=", ">=", "<", ">"}

func parseFilter(body string) (*filter, error) {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, "@") {
		return nil, fmt.Errorf("filter must start with @")
	}

	rest := body[1:]
	f := &filter{}
fields:
	for len(rest) > 0 {
		switch {
		case strings.HasPrefix(rest, "."):
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[ =!<>")
			if end < 0 {
				end = len(rest)
			}
			if end == 0 {
				return nil, fmt.Errorf("missing field name in filter")
			}
			f.field = append(f.field, rest[:end])
			rest = rest[end:]
		case strings.HasPrefix(rest, "['") || strings.HasPrefix(rest, `["`):
			quote := rest[1]
			end := strings.IndexByte(rest[2:], quote)
			if end < 0 || len(rest) < end+4 || rest[end+3] != ']' {
				return nil, fmt.Errorf("bad quoted field in filter")
			}
			f.field = append(f.field, rest[2:end+2])
			rest = rest[end+4:]
		default:
			break fields
		}
	}

	rest = strings.TrimSpace(rest)
	if len(f.field) == 0 {
		return nil, fmt.Errorf("filter needs a field")
	}
	if rest == "" {
		return f, nil
	}
	for _, op := range filterOps {
		if strings.HasPrefix(rest, op) {
			f.op = op
			rest = strings.TrimSpace(rest[len(op):])
			break
		}
	}
	if f.op == "" {
		return nil, fmt.Errorf("unsupported filter operator in %q", body)
	}
	lit, err := parseLiteral(rest)
	if err != nil {
		return nil, err
	}
	f.literal = lit
	return f, nil
}

func parseLiteral(s string) (value.Value, error) {
	switch {
	case s == "":
		return value.Null(), fmt.Errorf("missing filter literal")
	case s == "null":
		return value.Null(), nil
	case s == "true":
		return value.Bool(true), nil
	case s == "false":
		return value.Bool(false), nil
	case len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0]:
		return value.String(s[1 : len(s)-1]), nil
	default:
		v, err := value.Decode([]byte(s))
		if err != nil || v.Kind() != value.KindNumber {
			return value.Null(), fmt.Errorf("bad filter literal %q", s)
		}
		return v, nil
	}
}
