package am

import (
	"context"

	"github.com/dshills/pgrnscan/internal/cost"
	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/internal/scan"
	"github.com/dshills/pgrnscan/pkg/types"
)

// CanReturn reports whether an index-only scan of index can return column
// (1-based). The decision covers every column of the index.
func (am *AccessMethod) CanReturn(ctx context.Context, index *types.Index, column int) (bool, error) {
	if column < 1 || column > len(index.Columns) {
		return false, nil
	}
	table, ok := am.heap.Table(index.HeapOID)
	if !ok {
		return false, nil
	}
	db, err := am.engine.EnsureDatabase(ctx)
	if err != nil {
		return false, err
	}
	size, err := engine.MaxRecordSize(ctx, db, index.RelFileNode)
	if err != nil {
		return false, err
	}
	return scan.CanReturn(index, table, size), nil
}

// CostEstimate estimates a scan of index with keys.
func (am *AccessMethod) CostEstimate(ctx context.Context, index *types.Index, keys []types.ScanKey) (cost.Estimate, error) {
	return am.cost.Estimate(ctx, index, keys)
}
