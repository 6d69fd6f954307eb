package expr

import "github.com/dshills/pgrnscan/pkg/types"

// Column describes a data column of a sources table as expressions see it.
type Column struct {
	Name   string
	Domain types.TypeID
	Vector bool
	// Lexicon is the FTS5 table when Tokenizer is set and the b-tree index
	// otherwise. Empty when the column has no lexicon.
	Lexicon   string
	Tokenizer string
	// Sections is the number of FTS5 columns of the lexicon.
	Sections int
}

// Tokenized reports whether the column has a full-text lexicon.
func (c Column) Tokenized() bool {
	return c.Tokenizer != "" && c.Lexicon != ""
}

// Schema resolves column names used in query pragmas and scripts.
type Schema interface {
	Lookup(name string) (Column, bool)
}

// Node is an expression tree node.
type Node interface {
	node()
}

// AllRecords matches every record.
type AllRecords struct{}

// False matches nothing.
type False struct{}

type And struct{ Children []Node }

type Or struct{ Children []Node }

// AndNot matches Left records that don't match Right.
type AndNot struct{ Left, Right Node }

// CompareOp is a comparison operator.
type CompareOp string

const (
	OpEqual        CompareOp = "="
	OpNotEqual     CompareOp = "!="
	OpLess         CompareOp = "<"
	OpLessEqual    CompareOp = "<="
	OpGreater      CompareOp = ">"
	OpGreaterEqual CompareOp = ">="
)

type Compare struct {
	Column Column
	Op     CompareOp
	Value  any // stored representation
}

// InValues matches records whose column equals one of Values.
type InValues struct {
	Column Column
	Values []any
}

// MatchTarget is one column section a Match searches. Section -1 searches
// every section of the lexicon.
type MatchTarget struct {
	Column  Column
	Section int
	Weight  float64
	Scorer  *Scorer
}

// Target returns the default target of c: every section, weight 1.
func Target(c Column) MatchTarget {
	return MatchTarget{Column: c, Section: -1, Weight: 1}
}

// Match is a full-text match of Keyword against any of Targets.
type Match struct {
	Keyword string
	Targets []MatchTarget
}

type Prefix struct {
	Column Column
	Prefix string
	RK     bool
}

type PrefixIn struct {
	Column   Column
	Prefixes []string
}

type Regexp struct {
	Column  Column
	Pattern string
}

// Similar matches records sharing any token with Text.
type Similar struct {
	Column Column
	Text   string
}

func (AllRecords) node() {}
func (False) node()      {}
func (*And) node()       {}
func (*Or) node()        {}
func (*AndNot) node()    {}
func (*Compare) node()   {}
func (*InValues) node()  {}
func (*Match) node()     {}
func (*Prefix) node()    {}
func (*PrefixIn) node()  {}
func (*Regexp) node()    {}
func (*Similar) node()   {}

// Walk calls fn for n and every descendant in depth-first order.
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch n := n.(type) {
	case *And:
		for _, c := range n.Children {
			Walk(c, fn)
		}
	case *Or:
		for _, c := range n.Children {
			Walk(c, fn)
		}
	case *AndNot:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	}
}
