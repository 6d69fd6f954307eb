package scan

import (
	"context"
	"fmt"

	"github.com/dshills/pgrnscan/internal/compiler"
	"github.com/dshills/pgrnscan/internal/expr"
	"github.com/dshills/pgrnscan/pkg/types"
)

// EnsureCursorOpened prepares the cursor of the scan unless one is open.
// needSort enables the sort stage for a single IN key.
func (so *Opaque) EnsureCursorOpened(ctx context.Context, dir types.ScanDirection, needSort bool) error {
	if so.closed {
		return types.ErrScanClosed
	}

	so.recheck = false
	for _, key := range so.keys {
		if key.Strategy == types.StrategyLike || key.Strategy == types.StrategyILike {
			so.recheck = true
			break
		}
	}

	if so.cursor != nil {
		return nil
	}

	if col, ok := so.IsRangeSearchable(); ok {
		return so.rangeSearch(ctx, dir, col)
	}
	if err := so.search(ctx); err != nil {
		return err
	}
	if needSort {
		if err := so.sort(ctx); err != nil {
			return err
		}
	}
	return so.openTableCursor(ctx, dir)
}

// search selects the records matching the keys into the searched table.
// Without keys no searched table is created and the cursor walks every
// source record.
func (so *Opaque) search(ctx context.Context) error {
	if len(so.keys) == 0 {
		return nil
	}

	data, err := compiler.Compile(so.sources, so.index, so.keys, true)
	if err != nil {
		return err
	}
	defer data.Close()

	name := so.tableName("Searched")
	if err := so.createTemp(ctx, name,
		"_id INTEGER PRIMARY KEY, _key INTEGER NOT NULL UNIQUE, score REAL NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	so.searched = name

	if data.IsEmptyCondition {
		so.logger.Debug().Str("table", name).Msg("[search][empty-condition]")
		return nil
	}

	rendered, err := data.Render("s")
	if err != nil {
		return err
	}
	score := rendered.ScoreOr("1")
	query := fmt.Sprintf(
		"INSERT INTO %s (_key, score) SELECT s._id, %s FROM %s AS s WHERE %s ORDER BY s._id",
		tempIdent(name), score.SQL, expr.QuoteIdent(so.sources.Name), rendered.Where.SQL)
	args := append(append([]any{}, score.Args...), rendered.Where.Args...)

	result, err := so.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("[search] failed to select: %w", err)
	}
	n, _ := result.RowsAffected()
	so.logger.Debug().Str("table", name).Int64("records", n).Int("rejected", data.Rejected).Msg("[search]")
	return nil
}

// sort orders the searched records by the target column of a single IN
// key, so rows come back in value order.
func (so *Opaque) sort(ctx context.Context) error {
	if so.searched == "" || len(so.keys) != 1 || !so.keys[0].IsInCondition() {
		return nil
	}
	c, ok := so.sources.Column(so.keys[0].Attno)
	if !ok {
		return fmt.Errorf("[sort] attribute %d: %w", so.keys[0].Attno, types.ErrColumnNotFound)
	}

	name := so.tableName("Sorted")
	if err := so.createTemp(ctx, name, "_id INTEGER PRIMARY KEY, _key INTEGER NOT NULL, value"); err != nil {
		return err
	}
	so.sorted = name

	col := "s." + expr.QuoteIdent(c.Name)
	_, err := so.db.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (_key, value) SELECT r._id, %s FROM %s AS r JOIN %s AS s ON s._id = r._key ORDER BY %s ASC, r._id ASC",
		tempIdent(name), col, tempIdent(so.searched), expr.QuoteIdent(so.sources.Name), col))
	if err != nil {
		return fmt.Errorf("[sort] failed to sort: %w", err)
	}
	return nil
}

// openTableCursor opens a cursor on the most specific table: sorted, then
// searched, then the sources table.
func (so *Opaque) openTableCursor(ctx context.Context, dir types.ScanDirection) error {
	table, path := expr.QuoteIdent(so.sources.Name), "sources"
	switch {
	case so.sorted != "":
		table, path = tempIdent(so.sorted), "sorted"
	case so.searched != "":
		table, path = tempIdent(so.searched), "searched"
	}

	order := "ASC"
	if dir.IsBackward() {
		order = "DESC"
	}
	ids, err := so.queryIDs(ctx, fmt.Sprintf("SELECT _id FROM %s ORDER BY _id %s", table, order))
	if err != nil {
		return fmt.Errorf("[cursor][open] %w", err)
	}

	so.cursor = &cursor{path: path, ids: ids}
	so.hasScore = so.searched != ""
	so.metrics.CursorOpened(path)
	so.logger.Debug().Str("path", path).Int("records", len(ids)).Msg("[cursor][open]")
	return nil
}

// queryIDs reads a column of ids. The rows are drained before returning
// since the engine has a single connection.
func (so *Opaque) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := so.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
