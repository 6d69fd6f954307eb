package compiler

import (
	"fmt"

	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/internal/expr"
	"github.com/dshills/pgrnscan/pkg/types"
)

// SearchData collects the expression compiled from the keys of one scan.
type SearchData struct {
	Sources *engine.Sources
	Index   *types.Index
	// InScan is false when compiling for the planner.
	InScan bool

	Root expr.Node
	// MatchTargets holds the per-section targets built for conditions.
	MatchTargets  []expr.MatchTarget
	TargetColumns []expr.Column
	// IsEmptyCondition is set when a key proves nothing can match.
	IsEmptyCondition bool
	NExpressions     int
	// Rejected counts keys left out of the expression.
	Rejected int
	// Recheck is set when the host must recheck delivered rows.
	Recheck bool

	closed bool
}

// NewSearchData returns an empty SearchData for the sources table of index.
func NewSearchData(src *engine.Sources, index *types.Index, inScan bool) *SearchData {
	return &SearchData{Sources: src, Index: index, InScan: inScan}
}

// Compile builds the conjunction of keys. The caller owns the result and
// must Close it.
func Compile(src *engine.Sources, index *types.Index, keys []types.ScanKey, inScan bool) (*SearchData, error) {
	d := NewSearchData(src, index, inScan)
	for _, key := range keys {
		p, ok, err := Classify(index, key)
		if err != nil {
			d.Close()
			return nil, err
		}
		if !ok {
			d.Rejected++
			continue
		}
		if err := d.Add(p); err != nil {
			d.Close()
			return nil, err
		}
		if d.IsEmptyCondition {
			break
		}
	}
	return d, nil
}

// Add compiles p into the expression.
func (d *SearchData) Add(p Predicate) error {
	if d.closed {
		return fmt.Errorf("[build-condition] search data is closed: %w", types.ErrInvalidArgument)
	}
	if err := p.Compile(d); err != nil {
		return err
	}
	if !d.IsEmptyCondition {
		d.NExpressions++
	}
	return nil
}

// Append ANDs n to the expression.
func (d *SearchData) Append(n expr.Node) {
	switch root := d.Root.(type) {
	case nil:
		d.Root = n
	case *expr.And:
		root.Children = append(root.Children, n)
	default:
		d.Root = &expr.And{Children: []expr.Node{root, n}}
	}
}

// Node returns the compiled expression. Without any expression nothing
// matches.
func (d *SearchData) Node() expr.Node {
	if d.Root == nil || d.IsEmptyCondition {
		return expr.False{}
	}
	return d.Root
}

// Render renders the compiled expression against alias.
func (d *SearchData) Render(alias string) (*expr.Rendered, error) {
	return expr.Render(d.Node(), alias)
}

// column resolves the data column of index column attno and records it as a
// target column.
func (d *SearchData) column(attno int) (expr.Column, error) {
	c, ok := d.Sources.Column(attno)
	if !ok {
		return expr.Column{}, fmt.Errorf("[build-condition] %s has no column %d: %w",
			d.Sources.Name, attno, types.ErrColumnNotFound)
	}
	d.TargetColumns = append(d.TargetColumns, c.Column)
	return c.Column, nil
}

// Close drops the expression and everything allocated for it. It is safe to
// call more than once.
func (d *SearchData) Close() {
	if d.closed {
		return
	}
	d.Root = nil
	d.MatchTargets = nil
	d.TargetColumns = nil
	d.closed = true
}
