package compiler

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/dshills/pgrnscan/internal/domain"
	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/internal/expr"
	"github.com/dshills/pgrnscan/pkg/types"
)

// Predicate is one classified scan key.
type Predicate interface {
	// Key returns the scan key the predicate was built from.
	Key() types.ScanKey
	// Compile adds the predicate to d.
	Compile(d *SearchData) error
}

type base struct {
	key    types.ScanKey
	column types.IndexColumn
}

func (b base) Key() types.ScanKey { return b.key }

// RangePredicate compares the column with a value: < <= = >= >.
type RangePredicate struct {
	base
	Op expr.CompareOp
}

// InValuesPredicate tests the column against the elements of an array.
type InValuesPredicate struct {
	base
	Values types.Array
}

// MatchPredicate is a full-text match of one keyword.
type MatchPredicate struct {
	base
	Keyword string
}

// QueryPredicate is a full-text search in the query syntax.
type QueryPredicate struct {
	base
	Query string
}

// ScriptPredicate is a filter in the script syntax.
type ScriptPredicate struct {
	base
	Script string
}

type RegexpPredicate struct {
	base
	Pattern string
}

// SimilarPredicate finds records sharing tokens with a document. It needs a
// scan to run.
type SimilarPredicate struct {
	base
	Document string
}

type PrefixPredicate struct {
	base
	Prefix string
}

// PrefixRKPredicate matches the normalized reading of the column.
type PrefixRKPredicate struct {
	base
	Prefix string
}

// ContainPredicate requires every keyword to match.
type ContainPredicate struct {
	base
	Keywords []string
}

// KeywordsKind selects the operator a KeywordsInPredicate ORs.
type KeywordsKind int

const (
	KeywordsMatch KeywordsKind = iota
	KeywordsPrefix
	KeywordsRegexp
)

// KeywordsInPredicate matches when any keyword matches.
type KeywordsInPredicate struct {
	base
	Kind     KeywordsKind
	Keywords []string
}

// QueriesInPredicate matches when any query matches.
type QueriesInPredicate struct {
	base
	Queries []string
}

type PrefixRKInPredicate struct {
	base
	Prefixes []string
}

// NotPrefixInPredicate removes records starting with any of the prefixes.
type NotPrefixInPredicate struct {
	base
	Prefixes []string
}

// LikePredicate is SQL LIKE or ILIKE.
type LikePredicate struct {
	base
	Pattern     string
	Insensitive bool
}

// ConditionPredicate is a match or query condition with optional section
// weights and scorers.
type ConditionPredicate struct {
	base
	Condition types.Condition
	Query     bool
}

var rangeOps = map[types.Strategy]expr.CompareOp{
	types.StrategyLess:         expr.OpLess,
	types.StrategyLessEqual:    expr.OpLessEqual,
	types.StrategyEqual:        expr.OpEqual,
	types.StrategyGreaterEqual: expr.OpGreaterEqual,
	types.StrategyGreater:      expr.OpGreater,
}

// Classify maps key onto its predicate variant. ok is false when the key is
// rejected: a NULL argument or a NULL element of an IN array never matches.
func Classify(index *types.Index, key types.ScanKey) (p Predicate, ok bool, err error) {
	const tag = "[build-condition]"

	column, found := index.Column(key.Attno)
	if !found {
		return nil, false, fmt.Errorf("%s %s has no column %d: %w", tag, index.Name, key.Attno, types.ErrColumnNotFound)
	}
	if key.IsNull || key.Argument == nil {
		return nil, false, nil
	}
	b := base{key: key, column: column}

	if key.IsInCondition() {
		values, err := arrayArgument(key.Argument)
		if err != nil {
			return nil, false, fmt.Errorf("%s[in] %w", tag, err)
		}
		if values.Dims > 1 {
			return nil, false, fmt.Errorf("%s[in] 2 or more dimensions array isn't supported yet: %d: %w",
				tag, values.Dims, types.ErrNotImplemented)
		}
		for _, v := range values.Elements {
			if v == nil {
				return nil, false, nil
			}
		}
		return &InValuesPredicate{base: b, Values: values}, true, nil
	}

	switch key.Strategy {
	case types.StrategyMatchCondition, types.StrategyMatchConditionWithScorers,
		types.StrategyQueryCondition, types.StrategyQueryConditionWithScorers:
		cond, err := conditionArgument(key.Argument)
		if err != nil {
			return nil, false, fmt.Errorf("%s[condition] %w", tag, err)
		}
		query := key.Strategy == types.StrategyQueryCondition ||
			key.Strategy == types.StrategyQueryConditionWithScorers
		return &ConditionPredicate{base: b, Condition: cond, Query: query}, true, nil
	}

	if column.Type == types.TypeJSONB {
		return nil, false, fmt.Errorf("%s[jsonb] %s: %w", tag, key.Strategy, types.ErrNotImplemented)
	}

	if op, isRange := rangeOps[key.Strategy]; isRange {
		return &RangePredicate{base: b, Op: op}, true, nil
	}

	switch key.Strategy {
	case types.StrategyContain, types.StrategyMatchIn, types.StrategyPrefixIn,
		types.StrategyRegexpIn, types.StrategyQueryIn, types.StrategyPrefixRKIn,
		types.StrategyNotPrefixIn:
		words, err := stringsArgument(key.Argument)
		if err != nil {
			return nil, false, fmt.Errorf("%s[%s] %w", tag, key.Strategy, err)
		}
		switch key.Strategy {
		case types.StrategyContain:
			return &ContainPredicate{base: b, Keywords: words}, true, nil
		case types.StrategyMatchIn:
			return &KeywordsInPredicate{base: b, Kind: KeywordsMatch, Keywords: words}, true, nil
		case types.StrategyPrefixIn:
			return &KeywordsInPredicate{base: b, Kind: KeywordsPrefix, Keywords: words}, true, nil
		case types.StrategyRegexpIn:
			return &KeywordsInPredicate{base: b, Kind: KeywordsRegexp, Keywords: words}, true, nil
		case types.StrategyQueryIn:
			return &QueriesInPredicate{base: b, Queries: words}, true, nil
		case types.StrategyPrefixRKIn:
			return &PrefixRKInPredicate{base: b, Prefixes: words}, true, nil
		default:
			return &NotPrefixInPredicate{base: b, Prefixes: words}, true, nil
		}
	}

	text, err := textArgument(key.Argument)
	if err != nil {
		return nil, false, fmt.Errorf("%s[%s] %w", tag, key.Strategy, err)
	}
	switch key.Strategy {
	case types.StrategyLike:
		return &LikePredicate{base: b, Pattern: text}, true, nil
	case types.StrategyILike:
		return &LikePredicate{base: b, Pattern: text, Insensitive: true}, true, nil
	case types.StrategyMatch:
		return &MatchPredicate{base: b, Keyword: text}, true, nil
	case types.StrategyQuery:
		return &QueryPredicate{base: b, Query: text}, true, nil
	case types.StrategyScript:
		return &ScriptPredicate{base: b, Script: text}, true, nil
	case types.StrategyRegexp:
		return &RegexpPredicate{base: b, Pattern: text}, true, nil
	case types.StrategySimilar:
		return &SimilarPredicate{base: b, Document: text}, true, nil
	case types.StrategyPrefix:
		return &PrefixPredicate{base: b, Prefix: text}, true, nil
	case types.StrategyPrefixRK:
		return &PrefixRKPredicate{base: b, Prefix: text}, true, nil
	}
	return nil, false, fmt.Errorf("%s unexpected strategy number: %d: %w", tag, int(key.Strategy), types.ErrInvalidStrategy)
}

func arrayArgument(arg any) (types.Array, error) {
	switch v := arg.(type) {
	case types.Array:
		return v, nil
	case *types.Array:
		if v == nil {
			return types.Array{}, nil
		}
		return *v, nil
	}
	elements, err := domain.Elements(arg)
	if err != nil {
		return types.Array{}, fmt.Errorf("%v: %w", err, types.ErrInvalidArgument)
	}
	return types.NewArray(elements...), nil
}

// stringsArgument returns the non-NULL elements of an array argument, or the
// argument itself when it is a scalar.
func stringsArgument(arg any) ([]string, error) {
	if s, ok := arg.(string); ok {
		return []string{s}, nil
	}
	values, err := arrayArgument(arg)
	if err != nil {
		return nil, err
	}
	return values.Strings(), nil
}

func textArgument(arg any) (string, error) {
	s, err := cast.ToStringE(arg)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, types.ErrInvalidArgument)
	}
	return s, nil
}

func conditionArgument(arg any) (types.Condition, error) {
	switch v := arg.(type) {
	case types.Condition:
		return v, nil
	case *types.Condition:
		if v != nil {
			return *v, nil
		}
	}
	return types.Condition{}, fmt.Errorf("condition value expected, got %T: %w", arg, types.ErrInvalidArgument)
}

func encodeValue(c expr.Column, v any) (any, error) {
	value, err := domain.Encode(c.Domain.Element(), v)
	if err != nil {
		return nil, fmt.Errorf("[build-condition] invalid value %v for %s: %v: %w", v, c.Name, err, types.ErrInvalidArgument)
	}
	return value, nil
}

func (p *RangePredicate) Compile(d *SearchData) error {
	c, err := d.column(p.key.Attno)
	if err != nil {
		return err
	}
	value, err := encodeValue(c, p.key.Argument)
	if err != nil {
		return err
	}
	d.Append(&expr.Compare{Column: c, Op: p.Op, Value: value})
	return nil
}

func (p *InValuesPredicate) Compile(d *SearchData) error {
	c, err := d.column(p.key.Attno)
	if err != nil {
		return err
	}
	if p.Values.Dims == 0 {
		d.Append(expr.False{})
		return nil
	}
	values := make([]any, len(p.Values.Elements))
	for i, v := range p.Values.Elements {
		if values[i], err = encodeValue(c, v); err != nil {
			return err
		}
	}
	d.Append(&expr.InValues{Column: c, Values: values})
	return nil
}

func (p *MatchPredicate) Compile(d *SearchData) error {
	c, err := d.column(p.key.Attno)
	if err != nil {
		return err
	}
	d.Append(&expr.Match{Keyword: p.Keyword, Targets: []expr.MatchTarget{expr.Target(c)}})
	return nil
}

func (p *QueryPredicate) Compile(d *SearchData) error {
	c, err := d.column(p.key.Attno)
	if err != nil {
		return err
	}
	n, err := expr.ParseQuery(p.Query, []expr.MatchTarget{expr.Target(c)}, d.Sources)
	if err != nil {
		return fmt.Errorf("[build-condition][query] failed to parse expression: <%s>: %w", p.Query, err)
	}
	d.Append(n)
	return nil
}

func (p *ScriptPredicate) Compile(d *SearchData) error {
	if _, err := d.column(p.key.Attno); err != nil {
		return err
	}
	n, err := expr.ParseScript(p.Script, d.Sources)
	if err != nil {
		return fmt.Errorf("[build-condition][script] failed to parse expression: %w", err)
	}
	d.Append(n)
	return nil
}

func (p *RegexpPredicate) Compile(d *SearchData) error {
	c, err := d.column(p.key.Attno)
	if err != nil {
		return err
	}
	if _, err := engine.CompileRegexp(p.Pattern); err != nil {
		return fmt.Errorf("[build-condition][regexp] %v: %w", err, types.ErrInvalidArgument)
	}
	d.Append(&expr.Regexp{Column: c, Pattern: p.Pattern})
	return nil
}

func (p *SimilarPredicate) Compile(d *SearchData) error {
	if !d.InScan {
		return fmt.Errorf("[build-condition][similar] similar search is available only in index scan: %w",
			types.ErrNotImplemented)
	}
	c, err := d.column(p.key.Attno)
	if err != nil {
		return err
	}
	d.Append(&expr.Similar{Column: c, Text: p.Document})
	return nil
}

func (p *PrefixPredicate) Compile(d *SearchData) error {
	c, err := d.column(p.key.Attno)
	if err != nil {
		return err
	}
	d.Append(&expr.Prefix{Column: c, Prefix: p.Prefix})
	return nil
}

func (p *PrefixRKPredicate) Compile(d *SearchData) error {
	c, err := d.column(p.key.Attno)
	if err != nil {
		return err
	}
	d.Append(&expr.Prefix{Column: c, Prefix: p.Prefix, RK: true})
	return nil
}

func (p *ContainPredicate) Compile(d *SearchData) error {
	c, err := d.column(p.key.Attno)
	if err != nil {
		return err
	}
	if len(p.Keywords) == 0 {
		d.Append(expr.AllRecords{})
		return nil
	}
	and := &expr.And{}
	for _, k := range p.Keywords {
		and.Children = append(and.Children, &expr.Match{Keyword: k, Targets: []expr.MatchTarget{expr.Target(c)}})
	}
	d.Append(and)
	return nil
}

func (p *KeywordsInPredicate) Compile(d *SearchData) error {
	c, err := d.column(p.key.Attno)
	if err != nil {
		return err
	}
	if p.Kind == KeywordsPrefix {
		d.Append(&expr.PrefixIn{Column: c, Prefixes: p.Keywords})
		return nil
	}
	or := &expr.Or{}
	for _, k := range p.Keywords {
		switch p.Kind {
		case KeywordsRegexp:
			if _, err := engine.CompileRegexp(k); err != nil {
				return fmt.Errorf("[build-condition][regexp-in] %v: %w", err, types.ErrInvalidArgument)
			}
			or.Children = append(or.Children, &expr.Regexp{Column: c, Pattern: k})
		default:
			or.Children = append(or.Children, &expr.Match{Keyword: k, Targets: []expr.MatchTarget{expr.Target(c)}})
		}
	}
	d.Append(or)
	return nil
}

func (p *QueriesInPredicate) Compile(d *SearchData) error {
	c, err := d.column(p.key.Attno)
	if err != nil {
		return err
	}
	or := &expr.Or{}
	for _, q := range p.Queries {
		n, err := expr.ParseQuery(q, []expr.MatchTarget{expr.Target(c)}, d.Sources)
		if err != nil {
			return fmt.Errorf("[build-condition][query-in] failed to parse expression: <%s>: %w", q, err)
		}
		or.Children = append(or.Children, n)
	}
	d.Append(or)
	return nil
}

func (p *PrefixRKInPredicate) Compile(d *SearchData) error {
	c, err := d.column(p.key.Attno)
	if err != nil {
		return err
	}
	or := &expr.Or{}
	for _, prefix := range p.Prefixes {
		or.Children = append(or.Children, &expr.Prefix{Column: c, Prefix: prefix, RK: true})
	}
	d.Append(or)
	return nil
}

// Compile subtracts each prefix from the expression built so far, starting
// from all records when it is the first one.
func (p *NotPrefixInPredicate) Compile(d *SearchData) error {
	c, err := d.column(p.key.Attno)
	if err != nil {
		return err
	}
	if d.NExpressions == 0 || d.Root == nil {
		d.Root = expr.AllRecords{}
	}
	for _, prefix := range p.Prefixes {
		d.Root = &expr.AndNot{Left: d.Root, Right: &expr.Prefix{Column: c, Prefix: prefix}}
	}
	return nil
}

func (p *LikePredicate) Compile(d *SearchData) error {
	c, err := d.column(p.key.Attno)
	if err != nil {
		return err
	}
	d.Recheck = true

	if !p.Insensitive && p.column.Family == types.FamilyRegexp {
		pattern, err := LikeToRegexp(p.Pattern)
		if err != nil {
			return err
		}
		d.Append(&expr.Regexp{Column: c, Pattern: pattern})
		return nil
	}

	if p.Pattern == "" {
		d.IsEmptyCondition = true
		return nil
	}
	keywords := LikeKeywords(p.Pattern)
	if len(keywords) == 0 {
		d.Append(expr.AllRecords{})
		return nil
	}
	or := &expr.Or{}
	for _, k := range keywords {
		or.Children = append(or.Children, &expr.Match{Keyword: k, Targets: []expr.MatchTarget{expr.Target(c)}})
	}
	d.Append(or)
	return nil
}
