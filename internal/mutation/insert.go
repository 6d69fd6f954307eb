package mutation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/internal/expr"
	"github.com/dshills/pgrnscan/internal/logging"
	"github.com/dshills/pgrnscan/internal/metrics"
	"github.com/dshills/pgrnscan/internal/wal"
	"github.com/dshills/pgrnscan/pkg/types"
)

// Writer adds and removes source records.
type Writer struct {
	engine  *engine.Engine
	wal     *wal.Log
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a Writer logging its changes to w.
func New(e *engine.Engine, w *wal.Log) *Writer {
	return &Writer{
		engine:  e,
		wal:     w,
		logger:  logging.Component(e.Logger(), "mutation"),
		metrics: e.Metrics(),
	}
}

// Record is an index tuple cast into the data columns of a sources table.
type Record struct {
	Ctid    types.Ctid
	NValid  int      // non-NULL values plus the ctid
	Columns []string // data column names
	Values  []any
	Size    int
}

// Prepare casts the index tuple of the heap row at ctid. Values that can't
// be cast are logged and left out. Prepare is safe for concurrent use.
func (w *Writer) Prepare(index *types.Index, src *engine.Sources, values []any, isNull []bool, ctid types.Ctid) (Record, error) {
	const tag = "[insert]"
	if len(values) != len(src.Columns) || len(isNull) != len(src.Columns) {
		return Record{}, fmt.Errorf("%s %s expects %d values, got %d: %w",
			tag, index.Name, len(src.Columns), len(values), types.ErrInvalidArgument)
	}

	rec := Record{Ctid: ctid, NValid: 1}
	for i, c := range src.Columns {
		if isNull[i] {
			continue
		}
		rec.NValid++
		stored, size, err := Cast(c, values[i])
		if err != nil {
			w.logger.Warn().
				Str("index", index.Name).
				Str("column", c.Name).
				Str("value", fmt.Sprintf("%#v", values[i])).
				Err(err).
				Msg(tag + " failed to cast")
			w.metrics.CastFailure()
			continue
		}
		rec.Columns = append(rec.Columns, c.Name)
		rec.Values = append(rec.Values, stored)
		rec.Size += size
	}
	return rec, nil
}

// Write stores rec through tx together with its WAL entry. Keyed tables
// replace the record already stored under the ctid.
func (w *Writer) Write(ctx context.Context, tx *sql.Tx, index *types.Index, src *engine.Sources, rec Record) (err error) {
	const tag = "[insert]"
	txn := w.wal.Start(index.OID, src.Name, rec.NValid)
	defer func() {
		if err != nil {
			txn.Abort()
		}
	}()

	packed := rec.Ctid.Pack()
	if src.Keyed {
		err = txn.Key(packed)
	} else {
		err = txn.Column("ctid", packed)
	}
	if err != nil {
		return err
	}

	columns := make([]string, 0, len(rec.Columns)+1)
	columns = append(columns, src.CtidColumn())
	args := make([]any, 0, len(rec.Values)+1)
	args = append(args, int64(packed))
	for i, name := range rec.Columns {
		if err := txn.Column(name, rec.Values[i]); err != nil {
			return err
		}
		columns = append(columns, expr.QuoteIdent(name))
		args = append(args, rec.Values[i])
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		expr.QuoteIdent(src.Name), strings.Join(columns, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", "))
	if src.Keyed {
		query += " ON CONFLICT(_key) DO "
		if len(columns) == 1 {
			query += "NOTHING"
		} else {
			sets := make([]string, 0, len(columns)-1)
			for _, col := range columns[1:] {
				sets = append(sets, col+" = excluded."+col)
			}
			query += "UPDATE SET " + strings.Join(sets, ", ")
		}
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s failed to add a record: <%s>: %w", tag, rec.Ctid, err)
	}
	if err := txn.Finish(ctx, tx); err != nil {
		return err
	}

	w.logger.Debug().
		Str("index", index.Name).
		Stringer("ctid", rec.Ctid).
		Int("size", rec.Size).
		Msg(tag)
	return nil
}

// TrackRecordSize records size as the max record size of the sources table
// when records of index can grow that large and size reaches the index-only
// scan threshold.
func (w *Writer) TrackRecordSize(ctx context.Context, q engine.Querier, index *types.Index, src *engine.Sources, size int) error {
	if !needMaxRecordSizeUpdate(index) || float64(size) < engine.IndexOnlyScanThreshold {
		return nil
	}
	return engine.UpdateMaxRecordSize(ctx, q, src.RelFileNode, size)
}

// Insert stores the index tuple of the heap row at ctid. values and isNull
// are in index column order. Insert never asks the host to check
// uniqueness, so it always reports false.
func (w *Writer) Insert(ctx context.Context, index *types.Index, values []any, isNull []bool, ctid types.Ctid) (_ bool, err error) {
	const tag = "[insert]"
	start := time.Now()
	defer func() { w.metrics.Observe("insert", start, err) }()

	if err := w.engine.CheckWritable(tag + " can't insert a record"); err != nil {
		return false, err
	}
	src, err := w.engine.LookupSources(ctx, index.RelFileNode)
	if err != nil {
		return false, fmt.Errorf("%s %w", tag, err)
	}
	rec, err := w.Prepare(index, src, values, isNull, ctid)
	if err != nil {
		return false, err
	}
	db, err := w.engine.EnsureDatabase(ctx)
	if err != nil {
		return false, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%s failed to begin transaction: %w", tag, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := w.Write(ctx, tx, index, src, rec); err != nil {
		return false, err
	}
	if err := w.TrackRecordSize(ctx, tx, index, src, rec.Size); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%s failed to commit: %w", tag, err)
	}

	w.metrics.Mutation("insert", 1)
	return false, nil
}
