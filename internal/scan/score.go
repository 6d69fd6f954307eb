package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dshills/pgrnscan/internal/domain"
	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/internal/expr"
	"github.com/dshills/pgrnscan/internal/host"
	"github.com/dshills/pgrnscan/internal/registry"
	"github.com/dshills/pgrnscan/pkg/types"
)

// PrimaryKeyColumn maps one primary key attribute of the heap onto the
// source column holding it.
type PrimaryKeyColumn struct {
	Number int16        // heap attribute number
	Type   types.TypeID // heap attribute type
	Domain types.TypeID // source column domain
	Column engine.Column
}

// primaryKeyColumns maps the primary key of the heap of index. It returns
// nil when any primary key attribute isn't an index column.
func primaryKeyColumns(heap host.Heap, index *types.Index, src *engine.Sources) []PrimaryKeyColumn {
	table, ok := heap.Table(index.HeapOID)
	if !ok || len(table.PrimaryKey) == 0 {
		return nil
	}

	columns := make([]PrimaryKeyColumn, 0, len(table.PrimaryKey))
	for _, number := range table.PrimaryKey {
		found := false
		for j, ic := range index.Columns {
			if ic.HeapAttno != number {
				continue
			}
			attr, _ := table.Attribute(number)
			c, ok := src.Column(j + 1)
			if !ok {
				return nil
			}
			columns = append(columns, PrimaryKeyColumn{
				Number: number,
				Type:   attr.Type,
				Domain: ic.Type,
				Column: c,
			})
			found = true
			break
		}
		if !found {
			return nil
		}
	}
	return columns
}

// PrimaryKeyColumns returns the primary key mapping of the scan.
func (so *Opaque) PrimaryKeyColumns() []PrimaryKeyColumn {
	return so.primaryKeyColumns
}

// ScoreIsTarget reports whether the scan can score rows of tableOID.
func (so *Opaque) ScoreIsTarget(tableOID uint32) bool {
	if so.index.HeapOID != tableOID {
		so.logger.Debug().Uint32("table", so.index.HeapOID).Uint32("target", tableOID).Msg("[score][target][no] different table")
		return false
	}
	if !so.hasScore {
		so.logger.Debug().Uint32("table", so.index.HeapOID).Msg("[score][target][no] no score accessor")
		return false
	}
	so.logger.Debug().Uint32("table", so.index.HeapOID).Msg("[score][target][yes]")
	return true
}

// ScoreByRow sums the scores the live scans computed for row, finding its
// source records through the primary key.
func ScoreByRow(ctx context.Context, reg *registry.Registry, row types.Row) (float64, error) {
	var total float64
	var errs []error
	reg.Range(func(_ registry.Handle, s registry.Scan) bool {
		so, ok := s.(*Opaque)
		if !ok || so.closed || !so.ScoreIsTarget(row.TableOID) || len(so.primaryKeyColumns) == 0 {
			return true
		}
		var score float64
		var err error
		if len(so.primaryKeyColumns) > 1 {
			score, err = so.scoreMultiColumnPrimaryKey(ctx, row)
		} else {
			score, err = so.scoreOneColumnPrimaryKey(ctx, row)
		}
		if err != nil {
			errs = append(errs, err)
			return true
		}
		total += score
		return true
	})
	return total, errors.Join(errs...)
}

// ScoreByCtid sums the scores the live scans computed for the row at ctid.
func ScoreByCtid(ctx context.Context, reg *registry.Registry, tableOID uint32, ctid types.Ctid) (float64, error) {
	var total float64
	var errs []error
	reg.Range(func(_ registry.Handle, s registry.Scan) bool {
		so, ok := s.(*Opaque)
		if !ok || so.closed || !so.ScoreIsTarget(tableOID) {
			return true
		}
		score, err := so.scoreCtid(ctx, ctid)
		if err != nil {
			errs = append(errs, err)
			return true
		}
		total += score
		return true
	})
	return total, errors.Join(errs...)
}

func (so *Opaque) primaryKeyValue(pk PrimaryKeyColumn, row types.Row) (any, bool, error) {
	v, ok := row.Value(pk.Number)
	if !ok {
		return nil, false, nil
	}
	stored, err := domain.Encode(pk.Domain, v)
	if err != nil {
		return nil, false, fmt.Errorf("[score][row] %s: %v: %w", pk.Column.Name, err, types.ErrInvalidArgument)
	}
	return stored, true, nil
}

// scoreOneColumnPrimaryKey walks the source records holding the primary
// key value.
func (so *Opaque) scoreOneColumnPrimaryKey(ctx context.Context, row types.Row) (float64, error) {
	pk := so.primaryKeyColumns[0]
	value, ok, err := so.primaryKeyValue(pk, row)
	if err != nil || !ok {
		return 0, err
	}

	ids, err := so.queryIDs(ctx,
		fmt.Sprintf("SELECT _id FROM %s WHERE %s = ? ORDER BY _id",
			expr.QuoteIdent(so.sources.Name), expr.QuoteIdent(pk.Column.Name)),
		value)
	if err != nil {
		return 0, fmt.Errorf("[score][row] failed to look up %s: %w", pk.Column.Name, err)
	}

	var score float64
	for _, id := range ids {
		s, err := so.getScore(ctx, id)
		if err != nil {
			return 0, err
		}
		score += s
	}
	return score, nil
}

// scoreMultiColumnPrimaryKey selects the source records matching every
// primary key value into the score scratch table, then consumes it.
func (so *Opaque) scoreMultiColumnPrimaryKey(ctx context.Context, row types.Row) (float64, error) {
	if so.scoreTargets == "" {
		name := fmt.Sprintf("ScoreTargets_%d", so.handle)
		if err := so.createTemp(ctx, name, "_key INTEGER PRIMARY KEY"); err != nil {
			return 0, err
		}
		so.scoreTargets = name
	}

	and := &expr.And{}
	for _, pk := range so.primaryKeyColumns {
		value, ok, err := so.primaryKeyValue(pk, row)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		and.Children = append(and.Children, &expr.Compare{Column: pk.Column.Column, Op: expr.OpEqual, Value: value})
	}
	rendered, err := expr.Render(and, "s")
	if err != nil {
		return 0, err
	}
	_, err = so.db.ExecContext(ctx, fmt.Sprintf("INSERT OR IGNORE INTO %s (_key) SELECT s._id FROM %s AS s WHERE %s",
		tempIdent(so.scoreTargets), expr.QuoteIdent(so.sources.Name), rendered.Where.SQL), rendered.Where.Args...)
	if err != nil {
		return 0, fmt.Errorf("[score][row] failed to select targets: %w", err)
	}

	ids, err := so.queryIDs(ctx, "SELECT _key FROM "+tempIdent(so.scoreTargets)+" ORDER BY _key")
	if err != nil {
		return 0, err
	}
	var score float64
	for _, id := range ids {
		if _, err := so.db.ExecContext(ctx, "DELETE FROM "+tempIdent(so.scoreTargets)+" WHERE _key = ?", id); err != nil {
			return 0, err
		}
		s, err := so.getScore(ctx, id)
		if err != nil {
			return 0, err
		}
		score += s
	}
	return score, nil
}

// getScore returns the score of a source record when it was searched and
// its row version is still live.
func (so *Opaque) getScore(ctx context.Context, sourceID int64) (float64, error) {
	score, found, err := so.searchedScore(ctx, sourceID)
	if err != nil || !found {
		return 0, err
	}
	packed, found, err := so.ctidOf(ctx, sourceID)
	if err != nil || !found {
		return 0, err
	}
	if _, alive := so.deps.Heap.Resolve(so.index.HeapOID, types.UnpackCtid(packed)); !alive {
		return 0, nil
	}
	return score, nil
}

func (so *Opaque) searchedScore(ctx context.Context, sourceID int64) (float64, bool, error) {
	if so.searched == "" {
		return 0, false, nil
	}
	var score float64
	err := so.db.QueryRowContext(ctx, "SELECT score FROM "+tempIdent(so.searched)+" WHERE _key = ?", sourceID).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("[score] failed to read score: %w", err)
	}
	return score, true, nil
}

// ensureCtidResolveTable maps the live ctids of searched records to their
// source records. Keyed records whose ctid is still live are found by key
// and left out.
func (so *Opaque) ensureCtidResolveTable(ctx context.Context) error {
	if so.ctidResolve != "" {
		return nil
	}
	name := so.tableName("CtidResolve")
	if err := so.createTemp(ctx, name, "_key INTEGER PRIMARY KEY, source INTEGER NOT NULL"); err != nil {
		return err
	}
	so.ctidResolve = name

	type record struct {
		source int64
		ctid   int64
	}
	rows, err := so.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT s._id, s.%s FROM %s AS r JOIN %s AS s ON s._id = r._key ORDER BY s._id",
		so.sources.CtidColumn(), tempIdent(so.searched), expr.QuoteIdent(so.sources.Name)))
	if err != nil {
		return fmt.Errorf("[score][ctid][resolve] failed to read searched records: %w", err)
	}
	var records []record
	for rows.Next() {
		var r record
		if err := rows.Scan(&r.source, &r.ctid); err != nil {
			_ = rows.Close()
			return err
		}
		records = append(records, r)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range records {
		ctid := types.UnpackCtid(uint64(r.ctid))
		resolved, alive := so.deps.Heap.Resolve(so.index.HeapOID, ctid)
		if !alive {
			so.logger.Debug().Int64("source", r.source).Msg("[score][ctid][resolve][ignore][dead]")
			continue
		}
		if so.sources.Keyed && resolved == ctid {
			continue
		}
		if _, err := so.db.ExecContext(ctx,
			"INSERT OR REPLACE INTO "+tempIdent(name)+" (_key, source) VALUES (?, ?)",
			int64(resolved.Pack()), r.source); err != nil {
			return fmt.Errorf("[score][ctid][resolve] failed to add: %w", err)
		}
		so.logger.Debug().Int64("source", r.source).Stringer("ctid", ctid).Stringer("resolved", resolved).Msg("[score][ctid][resolve][add]")
	}
	return nil
}

// scoreCtid returns the score of the source record of the row at ctid.
func (so *Opaque) scoreCtid(ctx context.Context, ctid types.Ctid) (float64, error) {
	if err := so.ensureCtidResolveTable(ctx); err != nil {
		return 0, err
	}
	packed := int64(ctid.Pack())

	var sourceID int64
	err := so.db.QueryRowContext(ctx, "SELECT source FROM "+tempIdent(so.ctidResolve)+" WHERE _key = ?", packed).Scan(&sourceID)
	switch {
	case err == nil:
		so.logger.Debug().Stringer("ctid", ctid).Msg("[score][ctid][hot-resolved]")
	case errors.Is(err, sql.ErrNoRows):
		if so.sources.Keyed {
			err = so.db.QueryRowContext(ctx, "SELECT _id FROM "+expr.QuoteIdent(so.sources.Name)+" WHERE _key = ?", packed).Scan(&sourceID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return 0, fmt.Errorf("[score][ctid] failed to look up key: %w", err)
			}
		}
	default:
		return 0, fmt.Errorf("[score][ctid] failed to resolve: %w", err)
	}
	if sourceID == 0 {
		so.logger.Debug().Stringer("ctid", ctid).Msg("[score][ctid][no-record]")
		return 0, nil
	}

	score, found, err := so.searchedScore(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	if !found {
		so.logger.Debug().Stringer("ctid", ctid).Int64("source", sourceID).Msg("[score][ctid][not-match]")
		return 0, nil
	}
	so.logger.Debug().Stringer("ctid", ctid).Int64("source", sourceID).Float64("score", score).Msg("[score][ctid][found]")
	return score, nil
}
