package expr

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dshills/pgrnscan/internal/domain"
	"github.com/dshills/pgrnscan/pkg/types"
)

type queryTokenKind int

const (
	qtEOF queryTokenKind = iota
	qtLParen
	qtRParen
	qtOr
	qtPlus
	qtMinus
	qtTerm
	qtPragma
)

type queryToken struct {
	kind   queryTokenKind
	text   string // term text, or the pragma value
	column string // pragma column
	op     string // pragma operator
	raw    string // pragma source text
}

func isQuerySpace(r rune) bool {
	return unicode.IsSpace(r)
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '.' || (r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)))
}

var pragmaOps = []string{">=", "<=", ">", "<", "@", "^", "~", "!"}

func lexQuery(text string) ([]queryToken, error) {
	rs := []rune(text)
	var tokens []queryToken
	i := 0
	atStart := true // whether a +/- modifier may start here

	readQuoted := func() (string, error) {
		// rs[i] is the opening quote
		var b strings.Builder
		i++
		for i < len(rs) {
			switch rs[i] {
			case '\\':
				if i+1 < len(rs) {
					b.WriteRune(rs[i+1])
					i += 2
					continue
				}
				i++
			case '"':
				i++
				return b.String(), nil
			default:
				b.WriteRune(rs[i])
				i++
			}
		}
		return "", fmt.Errorf("[query] unterminated phrase in %q: %w", text, types.ErrSyntax)
	}
	readBare := func() string {
		var b strings.Builder
		for i < len(rs) && !isQuerySpace(rs[i]) && rs[i] != '(' && rs[i] != ')' {
			if rs[i] == '\\' && i+1 < len(rs) {
				b.WriteRune(rs[i+1])
				i += 2
				continue
			}
			b.WriteRune(rs[i])
			i++
		}
		return b.String()
	}

	for i < len(rs) {
		r := rs[i]
		switch {
		case isQuerySpace(r):
			i++
			atStart = true
			continue
		case r == '(':
			tokens = append(tokens, queryToken{kind: qtLParen})
			i++
			atStart = true
			continue
		case r == ')':
			tokens = append(tokens, queryToken{kind: qtRParen})
			i++
			atStart = true
			continue
		case atStart && (r == '+' || r == '-') && i+1 < len(rs) && !isQuerySpace(rs[i+1]):
			kind := qtPlus
			if r == '-' {
				kind = qtMinus
			}
			tokens = append(tokens, queryToken{kind: kind})
			i++
			atStart = false
			continue
		case r == '"':
			s, err := readQuoted()
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, queryToken{kind: qtTerm, text: s})
			atStart = false
			continue
		}
		atStart = false

		// column:op value
		start := i
		j := i
		for j < len(rs) && isIdentRune(rs[j]) {
			j++
		}
		if j > start && j < len(rs) && rs[j] == ':' {
			column := string(rs[start:j])
			i = j + 1
			op := ""
			for _, candidate := range pragmaOps {
				if strings.HasPrefix(string(rs[i:min(i+2, len(rs))]), candidate) {
					op = candidate
					break
				}
			}
			i += len(op)
			var value string
			if i < len(rs) && rs[i] == '"' {
				s, err := readQuoted()
				if err != nil {
					return nil, err
				}
				value = s
			} else {
				value = readBare()
			}
			tokens = append(tokens, queryToken{
				kind:   qtPragma,
				column: column,
				op:     op,
				text:   value,
				raw:    string(rs[start:i]),
			})
			continue
		}

		word := readBare()
		if word == "OR" {
			tokens = append(tokens, queryToken{kind: qtOr})
			atStart = true
			continue
		}
		tokens = append(tokens, queryToken{kind: qtTerm, text: word})
	}
	return append(tokens, queryToken{kind: qtEOF}), nil
}

type queryParser struct {
	text     string
	tokens   []queryToken
	pos      int
	defaults []MatchTarget
	schema   Schema
}

// ParseQuery parses text in the query syntax. Bare terms and phrases match
// against defaults. Pragmas naming a column unknown to schema are read as
// plain terms. An empty query matches nothing.
func ParseQuery(text string, defaults []MatchTarget, schema Schema) (Node, error) {
	tokens, err := lexQuery(text)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 1 {
		return False{}, nil
	}

	p := &queryParser{text: text, tokens: tokens, defaults: defaults, schema: schema}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != qtEOF {
		return nil, fmt.Errorf("[query] unexpected token at %d in %q: %w", p.pos, text, types.ErrSyntax)
	}
	return n, nil
}

func (p *queryParser) peek() queryToken { return p.tokens[p.pos] }

func (p *queryParser) next() queryToken {
	t := p.tokens[p.pos]
	if t.kind != qtEOF {
		p.pos++
	}
	return t
}

func (p *queryParser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []Node{left}
	for p.peek().kind == qtOr {
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

func (p *queryParser) parseAnd() (Node, error) {
	var positives, negatives []Node
	for {
		switch p.peek().kind {
		case qtEOF, qtRParen, qtOr:
			if len(positives) == 0 && len(negatives) == 0 {
				return nil, fmt.Errorf("[query] empty expression in %q: %w", p.text, types.ErrSyntax)
			}
			var result Node
			switch len(positives) {
			case 0:
				result = AllRecords{}
			case 1:
				result = positives[0]
			default:
				result = &And{Children: positives}
			}
			for _, n := range negatives {
				result = &AndNot{Left: result, Right: n}
			}
			return result, nil
		}

		negate := false
		switch p.peek().kind {
		case qtPlus:
			p.next()
		case qtMinus:
			p.next()
			negate = true
		}
		unit, err := p.parseUnit()
		if err != nil {
			return nil, err
		}
		if negate {
			negatives = append(negatives, unit)
		} else {
			positives = append(positives, unit)
		}
	}
}

func (p *queryParser) parseUnit() (Node, error) {
	t := p.next()
	switch t.kind {
	case qtLParen:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != qtRParen {
			return nil, fmt.Errorf("[query] missing ')' in %q: %w", p.text, types.ErrSyntax)
		}
		return n, nil
	case qtTerm:
		return p.term(t.text)
	case qtPragma:
		return p.pragma(t)
	default:
		return nil, fmt.Errorf("[query] unexpected token in %q: %w", p.text, types.ErrSyntax)
	}
}

func (p *queryParser) term(text string) (Node, error) {
	if len(p.defaults) == 0 {
		return nil, fmt.Errorf("[query] no default column for %q: %w", text, types.ErrSyntax)
	}
	return &Match{Keyword: text, Targets: p.defaults}, nil
}

func (p *queryParser) pragma(t queryToken) (Node, error) {
	var c Column
	ok := false
	if p.schema != nil {
		c, ok = p.schema.Lookup(t.column)
	}
	if !ok {
		return p.term(t.raw)
	}

	switch t.op {
	case "@":
		return &Match{Keyword: t.text, Targets: []MatchTarget{Target(c)}}, nil
	case "^":
		return &Prefix{Column: c, Prefix: t.text}, nil
	case "~":
		return &Regexp{Column: c, Pattern: t.text}, nil
	}

	value, err := literal(c, t.text)
	if err != nil {
		return nil, fmt.Errorf("[query] invalid value for %s: %w", c.Name, err)
	}
	op := OpEqual
	switch t.op {
	case "!":
		op = OpNotEqual
	case ">", ">=", "<", "<=":
		op = CompareOp(t.op)
	}
	return &Compare{Column: c, Op: op, Value: value}, nil
}

// literal converts text into the stored form of a column element.
func literal(c Column, text any) (any, error) {
	return domain.Encode(c.Domain.Element(), text)
}
