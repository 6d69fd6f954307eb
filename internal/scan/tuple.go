package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dshills/pgrnscan/internal/domain"
	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/internal/expr"
	"github.com/dshills/pgrnscan/pkg/types"
)

// IndexOnlyScanThreshold is the record size from which index-only scans
// are refused.
const IndexOnlyScanThreshold = engine.IndexOnlyScanThreshold

// arena holds the buffers of the reconstructed index tuple. It is reset on
// every rescan.
type arena struct {
	tuple types.IndexTuple
}

func (a *arena) reset() {
	a.tuple.Values = a.tuple.Values[:0]
	a.tuple.IsNull = a.tuple.IsNull[:0]
}

func (a *arena) indexTuple(n int) *types.IndexTuple {
	if cap(a.tuple.Values) < n {
		a.tuple.Values = make([]any, n)
		a.tuple.IsNull = make([]bool, n)
	}
	a.tuple.Values = a.tuple.Values[:n]
	a.tuple.IsNull = a.tuple.IsNull[:n]
	for i := range a.tuple.Values {
		a.tuple.Values[i] = nil
		a.tuple.IsNull[i] = false
	}
	return &a.tuple
}

// resolveID follows a cursor id through the sorted and searched tables to
// the id of the source record. ok is false when a link is gone.
func (so *Opaque) resolveID(ctx context.Context, id int64) (int64, bool, error) {
	for _, table := range []string{so.sorted, so.searched} {
		if table == "" {
			continue
		}
		err := so.db.QueryRowContext(ctx, "SELECT _key FROM "+tempIdent(table)+" WHERE _id = ?", id).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("[scan] failed to resolve id %d: %w", id, err)
		}
	}
	return id, true, nil
}

// CanReturn reports whether index-only scans can return the columns of
// index. Every index column must be NOT NULL in table under the same name
// and type, none may be jsonb or prefix-search, and the largest recorded
// source record must stay under IndexOnlyScanThreshold.
func CanReturn(index *types.Index, table *types.Table, maxRecordSize int) bool {
	if table == nil {
		return false
	}
	for _, ic := range index.Columns {
		nullable := true
		for _, a := range table.Attributes {
			if a.Name != ic.Name || a.Type != ic.Type {
				continue
			}
			nullable = !a.NotNull
			break
		}
		if nullable {
			return false
		}
		if ic.Type == types.TypeJSONB {
			return false
		}
		if ic.Family == types.FamilyPrefix {
			return false
		}
	}
	return float64(maxRecordSize) < IndexOnlyScanThreshold
}

func (so *Opaque) canReturn(i int) bool {
	if !so.canReturnsComputed.Test(uint(i)) {
		table, _ := so.deps.Heap.Table(so.index.HeapOID)
		if CanReturn(so.index, table, so.maxRecordSize) {
			so.canReturns.Set(uint(i))
		}
		so.canReturnsComputed.Set(uint(i))
	}
	return so.canReturns.Test(uint(i))
}

// fillIndexTuple reads the index columns of a source record back into host
// values. Columns that can't be returned are NULL.
func (so *Opaque) fillIndexTuple(ctx context.Context, sourceID int64) (*types.IndexTuple, error) {
	it := so.arena.indexTuple(len(so.index.Columns))
	for i := range so.index.Columns {
		if !so.canReturn(i) {
			it.IsNull[i] = true
			continue
		}

		c, ok := so.sources.Column(i + 1)
		if !ok {
			return nil, fmt.Errorf("[get-tuple][index-tuple] attribute %d: %w", i+1, types.ErrColumnNotFound)
		}
		var raw any
		err := so.db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT %s FROM %s WHERE _id = ?", expr.QuoteIdent(c.Name), expr.QuoteIdent(so.sources.Name)),
			sourceID).Scan(&raw)
		if err != nil {
			return nil, fmt.Errorf("[get-tuple][index-tuple] %s: %w", c.Name, err)
		}
		value, err := domain.Decode(c.Domain, raw)
		if err != nil {
			return nil, fmt.Errorf("[get-tuple][index-tuple] %s: %w", c.Name, err)
		}
		it.Values[i] = value
		it.IsNull[i] = value == nil
	}
	return it, nil
}
