package expr

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dshills/pgrnscan/pkg/types"
)

// Fragment is a piece of SQL with its positional arguments.
type Fragment struct {
	SQL  string
	Args []any
}

// Rendered is a tree rendered against a sources table alias.
type Rendered struct {
	Where Fragment
	// Score is empty when no Match leaf contributes a score.
	Score Fragment
}

// ScoreOr returns the score expression, or def when the tree has none.
func (r *Rendered) ScoreOr(def string) Fragment {
	if r.Score.SQL == "" {
		return Fragment{SQL: def}
	}
	return r.Score
}

// QuoteIdent quotes a SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Render converts n into SQL over the sources table aliased as alias.
func Render(n Node, alias string) (*Rendered, error) {
	r := &renderer{alias: alias}
	where, score, err := r.render(n)
	if err != nil {
		return nil, err
	}
	return &Rendered{Where: where, Score: score}, nil
}

type renderer struct {
	alias string
}

func (r *renderer) column(c Column) string {
	return r.alias + "." + QuoteIdent(c.Name)
}

// leaf renders cond against the column, or against each element of a vector
// column. cond uses %s for the value.
func (r *renderer) leaf(c Column, cond string, args ...any) Fragment {
	if c.Vector {
		return Fragment{
			SQL:  fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE %s)", r.column(c), fmt.Sprintf(cond, "value")),
			Args: args,
		}
	}
	return Fragment{SQL: fmt.Sprintf(cond, r.column(c)), Args: args}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (r *renderer) render(n Node) (where, score Fragment, err error) {
	switch n := n.(type) {
	case AllRecords, *AllRecords:
		return Fragment{SQL: "1"}, Fragment{}, nil
	case False, *False:
		return Fragment{SQL: "0"}, Fragment{}, nil
	case *And:
		return r.combine(n.Children, " AND ", "1")
	case *Or:
		return r.combine(n.Children, " OR ", "0")
	case *AndNot:
		lw, ls, err := r.render(n.Left)
		if err != nil {
			return Fragment{}, Fragment{}, err
		}
		rw, _, err := r.render(n.Right)
		if err != nil {
			return Fragment{}, Fragment{}, err
		}
		return Fragment{
			SQL:  fmt.Sprintf("(%s AND NOT %s)", lw.SQL, rw.SQL),
			Args: append(append([]any{}, lw.Args...), rw.Args...),
		}, ls, nil
	case *Compare:
		if n.Value == nil {
			return Fragment{SQL: "0"}, Fragment{}, nil
		}
		if n.Column.Vector && n.Op == OpNotEqual {
			eq := r.leaf(n.Column, "%s = ?", n.Value)
			return Fragment{SQL: "NOT " + eq.SQL, Args: eq.Args}, Fragment{}, nil
		}
		return r.leaf(n.Column, "%s "+string(n.Op)+" ?", n.Value), Fragment{}, nil
	case *InValues:
		if len(n.Values) == 0 {
			return Fragment{SQL: "0"}, Fragment{}, nil
		}
		return r.leaf(n.Column, "%s IN ("+placeholders(len(n.Values))+")", n.Values...), Fragment{}, nil
	case *Prefix:
		fn := "pgrn_prefix"
		if n.RK {
			fn = "pgrn_prefix_rk"
		}
		return r.leaf(n.Column, fn+"(%s, ?)", n.Prefix), Fragment{}, nil
	case *PrefixIn:
		if len(n.Prefixes) == 0 {
			return Fragment{SQL: "0"}, Fragment{}, nil
		}
		args := make([]any, len(n.Prefixes))
		for i, p := range n.Prefixes {
			args[i] = p
		}
		return r.leaf(n.Column, "pgrn_prefix_in(%s, "+placeholders(len(args))+")", args...), Fragment{}, nil
	case *Regexp:
		return r.leaf(n.Column, "%s REGEXP ?", n.Pattern), Fragment{}, nil
	case *Match:
		return r.match(n)
	case *Similar:
		return r.similar(n)
	case nil:
		return Fragment{}, Fragment{}, fmt.Errorf("[expr][render] nil node: %w", types.ErrInvalidArgument)
	default:
		return Fragment{}, Fragment{}, fmt.Errorf("[expr][render] unknown node %T: %w", n, types.ErrNotImplemented)
	}
}

func (r *renderer) combine(children []Node, op, empty string) (Fragment, Fragment, error) {
	if len(children) == 0 {
		return Fragment{SQL: empty}, Fragment{}, nil
	}
	if len(children) == 1 {
		return r.render(children[0])
	}

	wheres := make([]string, 0, len(children))
	scores := make([]string, 0, len(children))
	var whereArgs, scoreArgs []any
	for _, c := range children {
		w, s, err := r.render(c)
		if err != nil {
			return Fragment{}, Fragment{}, err
		}
		wheres = append(wheres, w.SQL)
		whereArgs = append(whereArgs, w.Args...)
		if s.SQL != "" {
			scores = append(scores, s.SQL)
			scoreArgs = append(scoreArgs, s.Args...)
		}
	}

	where := Fragment{SQL: "(" + strings.Join(wheres, op) + ")", Args: whereArgs}
	if len(scores) == 0 {
		return where, Fragment{}, nil
	}
	return where, Fragment{SQL: "(" + strings.Join(scores, " + ") + ")", Args: scoreArgs}, nil
}

// ftsString quotes s as one FTS5 string, which FTS5 treats as a phrase.
func ftsString(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// useLexicon reports whether keyword can be searched through the lexicon of
// c. Trigram lexicons can't find keywords shorter than three characters.
func useLexicon(c Column, keyword string) bool {
	if !c.Tokenized() {
		return false
	}
	if strings.HasPrefix(c.Tokenizer, "trigram") && utf8.RuneCountInString(keyword) < 3 {
		return false
	}
	return true
}

func (r *renderer) match(n *Match) (Fragment, Fragment, error) {
	if n.Keyword == "" || len(n.Targets) == 0 {
		return Fragment{SQL: "0"}, Fragment{}, nil
	}

	wheres := make([]string, 0, len(n.Targets))
	scores := make([]string, 0, len(n.Targets))
	var whereArgs, scoreArgs []any
	for _, t := range n.Targets {
		w, s, err := r.matchTarget(n.Keyword, t)
		if err != nil {
			return Fragment{}, Fragment{}, err
		}
		wheres = append(wheres, w.SQL)
		whereArgs = append(whereArgs, w.Args...)
		scores = append(scores, s.SQL)
		scoreArgs = append(scoreArgs, s.Args...)
	}
	if len(wheres) == 1 {
		return Fragment{SQL: wheres[0], Args: whereArgs}, Fragment{SQL: scores[0], Args: scoreArgs}, nil
	}
	return Fragment{SQL: "(" + strings.Join(wheres, " OR ") + ")", Args: whereArgs},
		Fragment{SQL: "(" + strings.Join(scores, " + ") + ")", Args: scoreArgs}, nil
}

func (r *renderer) matchTarget(keyword string, t MatchTarget) (Fragment, Fragment, error) {
	c := t.Column
	if t.Scorer != nil && t.Scorer.Lexicon != c.Lexicon {
		return Fragment{}, Fragment{}, fmt.Errorf("[expr][match] scorer targets %s, not %s: %w",
			t.Scorer.Lexicon, c.Lexicon, types.ErrInvalidArgument)
	}

	var where Fragment
	var base string
	var baseArgs []any
	if useLexicon(c, keyword) {
		query := ftsString(keyword)
		if t.Section >= 0 && c.Sections > 1 {
			section := min(t.Section, c.Sections-1)
			query = fmt.Sprintf("s%d : %s", section, query)
		}
		lex := QuoteIdent(c.Lexicon)
		where = Fragment{
			SQL:  fmt.Sprintf("%s._id IN (SELECT rowid FROM %s WHERE %s MATCH ?)", r.alias, lex, lex),
			Args: []any{query},
		}
		base = fmt.Sprintf("COALESCE((SELECT -bm25(%s) FROM %s WHERE %s MATCH ? AND rowid = %s._id), 0)",
			lex, lex, lex, r.alias)
		baseArgs = []any{query}
	} else {
		where = r.leaf(c, "instr(%s, ?) > 0", keyword)
		base = "(CASE WHEN " + where.SQL + " THEN 1 ELSE 0 END)"
		baseArgs = append([]any{}, where.Args...)
	}

	if t.Scorer != nil {
		base = t.Scorer.apply(base)
	}
	if t.Weight != 1 {
		base = fmt.Sprintf("(%s * %s)", base, formatFloat(t.Weight))
	}
	return where, Fragment{SQL: base, Args: baseArgs}, nil
}

func (r *renderer) similar(n *Similar) (Fragment, Fragment, error) {
	if !n.Column.Tokenized() {
		return Fragment{}, Fragment{}, fmt.Errorf("[expr][similar] column %s has no full-text lexicon: %w",
			n.Column.Name, types.ErrInvalidArgument)
	}
	words := strings.Fields(n.Text)
	if len(words) == 0 {
		return Fragment{SQL: "0"}, Fragment{}, nil
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = ftsString(w)
	}
	query := strings.Join(quoted, " OR ")
	lex := QuoteIdent(n.Column.Lexicon)
	return Fragment{
			SQL:  fmt.Sprintf("%s._id IN (SELECT rowid FROM %s WHERE %s MATCH ?)", r.alias, lex, lex),
			Args: []any{query},
		}, Fragment{
			SQL:  fmt.Sprintf("COALESCE((SELECT -bm25(%s) FROM %s WHERE %s MATCH ? AND rowid = %s._id), 0)", lex, lex, lex, r.alias),
			Args: []any{query},
		}, nil
}
