package mutation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/pgrnscan/internal/expr"
	"github.com/dshills/pgrnscan/pkg/types"
)

// Stats summarizes a bulk delete.
type Stats struct {
	NumPages       int
	NumIndexTuples int64 // records before the delete
	TuplesRemoved  int64
}

// BulkDelete removes every source record whose ctid shouldDelete accepts.
// A missing sources table is reported with a warning and empty stats.
func (w *Writer) BulkDelete(ctx context.Context, index *types.Index, shouldDelete func(types.Ctid) bool) (stats Stats, err error) {
	const tag = "[bulk-delete]"
	start := time.Now()
	defer func() { w.metrics.Observe("bulk_delete", start, err) }()

	if err := w.engine.CheckWritable(tag + " can't delete bulk records"); err != nil {
		return Stats{}, err
	}

	src, err := w.engine.LookupSources(ctx, index.RelFileNode)
	if errors.Is(err, types.ErrSourcesNotFound) {
		w.logger.Warn().Str("index", index.Name).Err(err).Msg(tag + " sources table is missing")
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, err
	}
	db, err := w.engine.EnsureDatabase(ctx)
	if err != nil {
		return Stats{}, err
	}

	table := expr.QuoteIdent(src.Name)
	stats.NumPages = 1
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&stats.NumIndexTuples); err != nil {
		return Stats{}, fmt.Errorf("%s failed to count records: %w", tag, err)
	}
	if shouldDelete == nil {
		return stats, nil
	}

	type record struct {
		id     int64
		packed int64
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT _id, %s FROM %s ORDER BY _id", src.CtidColumn(), table))
	if err != nil {
		return Stats{}, fmt.Errorf("%s failed to open cursor: %w", tag, err)
	}
	var records []record
	for rows.Next() {
		var r record
		if err := rows.Scan(&r.id, &r.packed); err != nil {
			_ = rows.Close()
			return Stats{}, err
		}
		records = append(records, r)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("%s failed to begin transaction: %w", tag, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return Stats{}, err
		}
		ctid := types.UnpackCtid(uint64(r.packed))
		if !shouldDelete(ctid) {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE _id = ?", r.id); err != nil {
			return Stats{}, fmt.Errorf("%s failed to delete <%s>: %w", tag, ctid, err)
		}
		if err := w.wal.Delete(ctx, tx, index.OID, src.Name, uint64(r.packed)); err != nil {
			return Stats{}, err
		}
		w.logger.Debug().Str("index", index.Name).Int64("id", r.id).Stringer("ctid", ctid).Msg(tag)
		stats.TuplesRemoved++
	}
	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("%s failed to commit: %w", tag, err)
	}

	w.metrics.Mutation("delete", int(stats.TuplesRemoved))
	return stats, nil
}
