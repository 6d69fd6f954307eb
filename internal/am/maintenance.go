package am

import (
	"context"
	"errors"

	"github.com/dshills/pgrnscan/internal/indexer"
	"github.com/dshills/pgrnscan/internal/mutation"
	"github.com/dshills/pgrnscan/pkg/types"
)

// Insert adds the index entry of the row at ctid. It never reports a
// uniqueness check, so inserted is always false.
func (am *AccessMethod) Insert(ctx context.Context, index *types.Index, values []any, isNull []bool, ctid types.Ctid) (bool, error) {
	return am.writer.Insert(ctx, index, values, isNull, ctid)
}

// Build creates the sources table of index from the live rows of its heap.
func (am *AccessMethod) Build(ctx context.Context, index *types.Index) (indexer.Result, error) {
	return am.indexer.Build(ctx, am.heap, index)
}

// BuildEmpty creates the empty sources table of index.
func (am *AccessMethod) BuildEmpty(ctx context.Context, index *types.Index) error {
	return am.indexer.BuildEmpty(ctx, index)
}

// BulkDelete removes the entries whose ctid shouldDelete accepts.
func (am *AccessMethod) BulkDelete(ctx context.Context, index *types.Index, shouldDelete func(types.Ctid) bool) (mutation.Stats, error) {
	return am.writer.BulkDelete(ctx, index, shouldDelete)
}

// VacuumCleanup finishes a vacuum. It passes stats through, or zero stats
// when none were collected, and drops the sources tables of relations the
// catalog no longer knows. Cleanup failures are only logged.
func (am *AccessMethod) VacuumCleanup(ctx context.Context, stats *mutation.Stats) (mutation.Stats, error) {
	var result mutation.Stats
	if stats != nil {
		result = *stats
	}
	if !am.engine.Writable() {
		return result, nil
	}

	removed, err := am.engine.RemoveUnused(ctx, am.catalog.IsValidFileNode)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return result, err
		}
		am.logger.Warn().Err(err).Int("removed", removed).Msg("[vacuum-cleanup] failed to remove unused tables")
		return result, nil
	}
	if removed > 0 {
		am.logger.Info().Int("removed", removed).Msg("[vacuum-cleanup] removed unused tables")
	}
	return result, nil
}
