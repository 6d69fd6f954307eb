package expr

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dshills/pgrnscan/pkg/types"
)

type scriptTokenKind int

const (
	stEOF scriptTokenKind = iota
	stIdent
	stString
	stNumber
	stOp
	stAnd
	stOr
	stAndNot
	stLParen
	stRParen
	stComma
)

type scriptToken struct {
	kind scriptTokenKind
	text string
}

var scriptOps = []string{"@^", "@~", "==", "!=", "<=", ">=", "@", "<", ">"}

func lexScript(text string) ([]scriptToken, error) {
	rs := []rune(text)
	var tokens []scriptToken
	for i := 0; i < len(rs); {
		r := rs[i]
		rest := string(rs[i:min(i+2, len(rs))])
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, scriptToken{kind: stLParen})
			i++
		case r == ')':
			tokens = append(tokens, scriptToken{kind: stRParen})
			i++
		case r == ',':
			tokens = append(tokens, scriptToken{kind: stComma})
			i++
		case rest == "&&":
			tokens = append(tokens, scriptToken{kind: stAnd})
			i += 2
		case rest == "||":
			tokens = append(tokens, scriptToken{kind: stOr})
			i += 2
		case rest == "&!":
			tokens = append(tokens, scriptToken{kind: stAndNot})
			i += 2
		case r == '"':
			var b strings.Builder
			i++
			closed := false
			for i < len(rs) {
				if rs[i] == '\\' && i+1 < len(rs) {
					b.WriteRune(rs[i+1])
					i += 2
					continue
				}
				if rs[i] == '"' {
					closed = true
					i++
					break
				}
				b.WriteRune(rs[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("[script] unterminated string in %q: %w", text, types.ErrSyntax)
			}
			tokens = append(tokens, scriptToken{kind: stString, text: b.String()})
		case r == '-' || unicode.IsDigit(r):
			start := i
			i++
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.' || rs[i] == 'e' || rs[i] == 'E') {
				i++
			}
			tokens = append(tokens, scriptToken{kind: stNumber, text: string(rs[start:i])})
		case isIdentRune(r):
			start := i
			for i < len(rs) && isIdentRune(rs[i]) {
				i++
			}
			tokens = append(tokens, scriptToken{kind: stIdent, text: string(rs[start:i])})
		default:
			matched := false
			for _, op := range scriptOps {
				if strings.HasPrefix(rest, op) {
					tokens = append(tokens, scriptToken{kind: stOp, text: op})
					i += len([]rune(op))
					matched = true
					break
				}
			}
			if !matched {
				return nil, fmt.Errorf("[script] unexpected character %q in %q: %w", r, text, types.ErrSyntax)
			}
		}
	}
	return append(tokens, scriptToken{kind: stEOF}), nil
}

type scriptParser struct {
	text   string
	tokens []scriptToken
	pos    int
	schema Schema
}

// ParseScript parses text in the script syntax against the columns of
// schema.
func ParseScript(text string, schema Schema) (Node, error) {
	tokens, err := lexScript(text)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 1 {
		return nil, fmt.Errorf("[script] empty script: %w", types.ErrSyntax)
	}
	p := &scriptParser{text: text, tokens: tokens, schema: schema}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != stEOF {
		return nil, p.errorf("unexpected %q", p.peek().text)
	}
	return n, nil
}

func (p *scriptParser) errorf(format string, args ...any) error {
	return fmt.Errorf("[script] %s in %q: %w", fmt.Sprintf(format, args...), p.text, types.ErrSyntax)
}

func (p *scriptParser) peek() scriptToken { return p.tokens[p.pos] }

func (p *scriptParser) next() scriptToken {
	t := p.tokens[p.pos]
	if t.kind != stEOF {
		p.pos++
	}
	return t
}

func (p *scriptParser) expect(kind scriptTokenKind, what string) (scriptToken, error) {
	t := p.next()
	if t.kind != kind {
		return t, p.errorf("expected %s", what)
	}
	return t, nil
}

func (p *scriptParser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []Node{left}
	for p.peek().kind == stOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &Or{Children: children}, nil
}

func (p *scriptParser) parseAnd() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case stAnd:
			p.next()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			if and, ok := left.(*And); ok {
				and.Children = append(and.Children, right)
			} else {
				left = &And{Children: []Node{left, right}}
			}
		case stAndNot:
			p.next()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &AndNot{Left: left, Right: right}
		default:
			return left, nil
		}
	}
}

func (p *scriptParser) parseUnary() (Node, error) {
	t := p.next()
	switch t.kind {
	case stLParen:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(stRParen, "')'"); err != nil {
			return nil, err
		}
		return n, nil
	case stIdent:
	default:
		return nil, p.errorf("expected a column or function")
	}

	if p.peek().kind == stLParen {
		return p.call(t.text)
	}

	c, ok := p.lookup(t.text)
	if !ok {
		return nil, p.errorf("unknown column %s", t.text)
	}
	op, err := p.expect(stOp, "an operator")
	if err != nil {
		return nil, err
	}
	lit := p.next()
	if lit.kind != stString && lit.kind != stNumber && lit.kind != stIdent {
		return nil, p.errorf("expected a literal after %s", op.text)
	}

	switch op.text {
	case "@":
		return &Match{Keyword: lit.text, Targets: []MatchTarget{Target(c)}}, nil
	case "@^":
		return &Prefix{Column: c, Prefix: lit.text}, nil
	case "@~":
		return &Regexp{Column: c, Pattern: lit.text}, nil
	}

	value, err := literal(c, lit.text)
	if err != nil {
		return nil, p.errorf("invalid value %q for %s: %v", lit.text, c.Name, err)
	}
	cmp := CompareOp(op.text)
	if op.text == "==" {
		cmp = OpEqual
	}
	return &Compare{Column: c, Op: cmp, Value: value}, nil
}

func (p *scriptParser) lookup(name string) (Column, bool) {
	if p.schema == nil {
		return Column{}, false
	}
	return p.schema.Lookup(name)
}

// call parses all_records() and in_values(column, v...).
func (p *scriptParser) call(name string) (Node, error) {
	p.next() // (
	switch name {
	case "all_records":
		if _, err := p.expect(stRParen, "')'"); err != nil {
			return nil, err
		}
		return AllRecords{}, nil
	case "in_values":
		col, err := p.expect(stIdent, "a column")
		if err != nil {
			return nil, err
		}
		c, ok := p.lookup(col.text)
		if !ok {
			return nil, p.errorf("unknown column %s", col.text)
		}
		n := &InValues{Column: c}
		for p.peek().kind == stComma {
			p.next()
			lit := p.next()
			if lit.kind != stString && lit.kind != stNumber {
				return nil, p.errorf("expected a literal in in_values")
			}
			v, err := literal(c, lit.text)
			if err != nil {
				return nil, p.errorf("invalid value %q for %s: %v", lit.text, c.Name, err)
			}
			n.Values = append(n.Values, v)
		}
		if _, err := p.expect(stRParen, "')'"); err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, fmt.Errorf("[script] function %s: %w", name, types.ErrNotImplemented)
	}
}
