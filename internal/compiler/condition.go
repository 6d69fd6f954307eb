package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/dshills/pgrnscan/internal/expr"
	"github.com/dshills/pgrnscan/pkg/types"
)

func (p *ConditionPredicate) tag() string {
	if p.Query {
		return "[build-condition][query-condition]"
	}
	return "[build-condition][match-condition]"
}

func (p *ConditionPredicate) Compile(d *SearchData) error {
	c, err := d.column(p.key.Attno)
	if err != nil {
		return err
	}
	cond := p.Condition
	if cond.Query == nil {
		return fmt.Errorf("%s query must not NULL: %w", p.tag(), types.ErrInvalidArgument)
	}

	targets, err := p.matchTargets(d, c)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		// every section is weighted 0
		d.Append(expr.False{})
		return nil
	}

	if p.Query {
		n, err := expr.ParseQuery(*cond.Query, targets, d.Sources)
		if err != nil {
			return fmt.Errorf("%s failed to parse query: <%s>: %w", p.tag(), *cond.Query, err)
		}
		d.Append(n)
		return nil
	}
	d.Append(&expr.Match{Keyword: *cond.Query, Targets: targets})
	return nil
}

// matchTargets builds the per-section targets of the condition. Sections are
// the index columns of a multicolumn index and the element positions of a
// single vector column.
func (p *ConditionPredicate) matchTargets(d *SearchData, c expr.Column) ([]expr.MatchTarget, error) {
	cond := p.Condition
	if cond.Weights == nil && cond.Scorers == nil {
		return []expr.MatchTarget{expr.Target(c)}, nil
	}
	if cond.Weights != nil && cond.Weights.Dims == 0 {
		return nil, fmt.Errorf("%s weights must not empty array: %w", p.tag(), types.ErrInvalidArgument)
	}

	var weights, scorers []any
	if cond.Weights != nil {
		weights = cond.Weights.Elements
	}
	if cond.Scorers != nil {
		scorers = cond.Scorers.Elements
	}

	multiColumn := len(d.Sources.Columns) > 1
	var targets []expr.MatchTarget
	for section := 0; section < max(len(weights), len(scorers)); section++ {
		weight := int32(1)
		if section < len(weights) && weights[section] != nil {
			w, err := cast.ToInt32E(weights[section])
			if err != nil {
				return nil, fmt.Errorf("%s invalid weight <%v>[%d]: %w", p.tag(), weights[section], section, types.ErrInvalidArgument)
			}
			weight = w
		}
		if weight == 0 {
			continue
		}

		t := expr.MatchTarget{Column: c, Section: -1, Weight: float64(weight)}
		switch {
		case multiColumn:
			sc, ok := d.Sources.Column(section + 1)
			if !ok {
				continue
			}
			t.Column = sc.Column
		case c.Vector:
			t.Section = section
		case section > 0:
			// a scalar column has one section
			continue
		}

		if section < len(scorers) && scorers[section] != nil {
			text, err := cast.ToStringE(scorers[section])
			if err != nil {
				return nil, fmt.Errorf("%s invalid scorer <%v>[%d]: %w", p.tag(), scorers[section], section, types.ErrInvalidArgument)
			}
			scorer, err := expr.ParseScorer(substituteIndex(text, t.Column.Lexicon, t.Section))
			if err != nil {
				return nil, fmt.Errorf("%s failed to parse scorer: <%s>[%d]: <%s>: %w",
					p.tag(), t.Column.Lexicon, section, text, err)
			}
			t.Scorer = scorer
		}

		d.MatchTargets = append(d.MatchTargets, t)
		targets = append(targets, t)
	}
	return targets, nil
}

// substituteIndex replaces $index with the quoted lexicon, followed by the
// section when there is one, and $section with the section number.
func substituteIndex(scorer, lexicon string, section int) string {
	index := expr.QuoteIdent(lexicon)
	if section >= 0 {
		index += "[" + strconv.Itoa(section) + "]"
	}
	scorer = strings.ReplaceAll(scorer, "$section", strconv.Itoa(max(section, 0)))
	return strings.ReplaceAll(scorer, "$index", index)
}
