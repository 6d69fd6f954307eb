package scan

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/dshills/pgrnscan/internal/domain"
	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/internal/expr"
	"github.com/dshills/pgrnscan/pkg/types"
)

// border is one end of a range search.
type border struct {
	value     any
	inclusive bool
}

// IsRangeSearchable reports whether the keys can be served by walking the
// plain index of one column, and returns that column. Without keys the
// first column qualifies when it is a scalar without tokenizer. Otherwise
// every key must be an ordering comparison of a scalar against the same
// such column.
func (so *Opaque) IsRangeSearchable() (engine.Column, bool) {
	plain := func(attno int) (engine.Column, bool) {
		c, ok := so.sources.Column(attno)
		if !ok || c.Vector || c.Domain == types.TypeJSONB || c.Tokenizer != "" || c.Lexicon == "" {
			return engine.Column{}, false
		}
		return c, true
	}

	if len(so.keys) == 0 {
		return plain(1)
	}

	attno := so.keys[0].Attno
	for _, key := range so.keys {
		if key.Attno != attno || !key.Strategy.IsOrdering() || key.SearchArray || key.IsNull {
			return engine.Column{}, false
		}
		switch key.Argument.(type) {
		case types.Array, *types.Array, []any, []string:
			return engine.Column{}, false
		}
	}
	return plain(attno)
}

// foldBorders folds ordering keys into the tightest bounds. A bound only
// replaces the current one when it is strictly more restrictive; at equal
// values the exclusive bound wins.
func foldBorders(keys []types.ScanKey, c engine.Column) (lower, upper *border, err error) {
	for _, key := range keys {
		value, err := domain.Encode(c.Domain, key.Argument)
		if err != nil {
			return nil, nil, fmt.Errorf("[range][fill-border] <%v>: %v: %w", key.Argument, err, types.ErrInvalidArgument)
		}
		b := &border{value: value}

		switch key.Strategy {
		case types.StrategyLess, types.StrategyLessEqual:
			b.inclusive = key.Strategy == types.StrategyLessEqual
			if upper != nil {
				cmp, err := compareValues(b.value, upper.value)
				if err != nil {
					return nil, nil, err
				}
				if cmp > 0 || (cmp == 0 && (b.inclusive || !upper.inclusive)) {
					continue
				}
			}
			upper = b
		case types.StrategyGreater, types.StrategyGreaterEqual:
			b.inclusive = key.Strategy == types.StrategyGreaterEqual
			if lower != nil {
				cmp, err := compareValues(b.value, lower.value)
				if err != nil {
					return nil, nil, err
				}
				if cmp < 0 || (cmp == 0 && (b.inclusive || !lower.inclusive)) {
					continue
				}
			}
			lower = b
		default:
			return nil, nil, fmt.Errorf("[range][fill-border] unexpected strategy number for range search: %d: %w",
				key.Strategy, types.ErrInvalidStrategy)
		}
	}
	return lower, upper, nil
}

// compareValues compares two stored values of one domain.
func compareValues(a, b any) (int, error) {
	if as, ok := a.(string); ok {
		bs, err := cast.ToStringE(b)
		if err != nil {
			return 0, fmt.Errorf("[range] incomparable <%v> and <%v>: %w", a, b, types.ErrInvalidArgument)
		}
		return strings.Compare(as, bs), nil
	}
	af, err := cast.ToFloat64E(a)
	if err != nil {
		return 0, fmt.Errorf("[range] incomparable <%v>: %w", a, types.ErrInvalidArgument)
	}
	bf, err := cast.ToFloat64E(b)
	if err != nil {
		return 0, fmt.Errorf("[range] incomparable <%v>: %w", b, types.ErrInvalidArgument)
	}
	switch {
	case af < bf:
		return -1, nil
	case af > bf:
		return 1, nil
	default:
		return 0, nil
	}
}

// rangeSearch opens a cursor walking the plain index of c between the
// folded borders.
func (so *Opaque) rangeSearch(ctx context.Context, dir types.ScanDirection, c engine.Column) error {
	lower, upper, err := foldBorders(so.keys, c)
	if err != nil {
		return err
	}

	col := expr.QuoteIdent(c.Name)
	var conds []string
	var args []any
	if lower != nil {
		op := ">"
		if lower.inclusive {
			op = ">="
		}
		conds = append(conds, fmt.Sprintf("%s %s ?", col, op))
		args = append(args, lower.value)
	}
	if upper != nil {
		op := "<"
		if upper.inclusive {
			op = "<="
		}
		conds = append(conds, fmt.Sprintf("%s %s ?", col, op))
		args = append(args, upper.value)
	}

	order := "ASC"
	if dir.IsBackward() {
		order = "DESC"
	}
	query := "SELECT _id FROM " + expr.QuoteIdent(so.sources.Name)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s %s, _id %s", col, order, order)

	ids, err := so.queryIDs(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("[range] failed to open cursor: %w", err)
	}
	so.cursor = &cursor{path: "range", ids: ids}
	so.metrics.CursorOpened("range")
	so.logger.Debug().Str("column", c.Name).Int("records", len(ids)).Msg("[range][open]")
	return nil
}
