package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/dshills/pgrnscan/internal/expr"
	"github.com/dshills/pgrnscan/pkg/types"
)

// cursor walks the ids of one table, materialized when it was opened.
type cursor struct {
	path string
	ids  []int64
	pos  int
}

// next returns the next id, or 0 once exhausted.
func (c *cursor) next() int64 {
	if c.pos >= len(c.ids) {
		return 0
	}
	id := c.ids[c.pos]
	c.pos++
	return id
}

// Tuple is a row delivered by GetTuple. IndexTuple is only set when asked
// for and stays valid until the next GetTuple or Rescan.
type Tuple struct {
	Ctid       types.Ctid
	IndexTuple *types.IndexTuple
	Recheck    bool
}

// GetTuple returns the next row of the scan. kill reports that the host
// found the previous row stale: its source record is deleted when the
// engine is writable.
func (so *Opaque) GetTuple(ctx context.Context, dir types.ScanDirection, kill, wantIndexTuple bool) (Tuple, bool, error) {
	if so.closed {
		return Tuple{}, false, types.ErrScanClosed
	}
	if !so.parallel.Acquire(so.cursor != nil) {
		return Tuple{}, false, nil
	}
	if err := so.EnsureCursorOpened(ctx, dir, true); err != nil {
		return Tuple{}, false, err
	}

	if kill && so.currentID != 0 && so.deps.Engine.Writable() {
		if err := so.killCurrent(ctx); err != nil {
			return Tuple{}, false, err
		}
	}

	for {
		so.currentID = so.cursor.next()
		if so.currentID == 0 {
			return Tuple{}, false, nil
		}

		sourceID, ok, err := so.resolveID(ctx, so.currentID)
		if err != nil {
			return Tuple{}, false, err
		}
		packed, found := uint64(0), false
		if ok {
			packed, found, err = so.ctidOf(ctx, sourceID)
			if err != nil {
				return Tuple{}, false, err
			}
		}
		if !found {
			so.logger.Debug().Int64("id", so.currentID).Int64("source", sourceID).Msg("[get-tuple][nonexistent]")
			continue
		}

		ctid := types.UnpackCtid(packed)
		valid := ctid.IsValid()
		so.logger.Debug().
			Int64("id", so.currentID).
			Int64("source", sourceID).
			Stringer("ctid", ctid).
			Bool("valid", valid).
			Msg("[get-tuple]")
		if !valid {
			continue
		}

		t := Tuple{Ctid: ctid, Recheck: so.recheck}
		if wantIndexTuple {
			it, err := so.fillIndexTuple(ctx, sourceID)
			if err != nil {
				return Tuple{}, false, err
			}
			t.IndexTuple = it
		}
		so.metrics.RowsDelivered("tuple", 1)
		return t, true, nil
	}
}

// killCurrent deletes the source record of the last delivered row and logs
// the deletion.
func (so *Opaque) killCurrent(ctx context.Context) error {
	sourceID, ok, err := so.resolveID(ctx, so.currentID)
	if err != nil {
		return err
	}
	packed, found := uint64(0), false
	if ok {
		packed, found, err = so.ctidOf(ctx, sourceID)
		if err != nil {
			return err
		}
	}
	if !found {
		so.logger.Debug().Int64("id", so.currentID).Int64("source", sourceID).Msg("[get-tuple][delete][nonexistent]")
		return nil
	}

	tx, err := so.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("[get-tuple][delete] failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+expr.QuoteIdent(so.sources.Name)+" WHERE _id = ?", sourceID); err != nil {
		return fmt.Errorf("[get-tuple][delete] %s: %w", so.sources.Name, err)
	}
	if err := so.deps.WAL.Delete(ctx, tx, so.index.OID, so.sources.Name, packed); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("[get-tuple][delete] failed to commit: %w", err)
	}

	so.metrics.Killed()
	so.logger.Debug().
		Int64("id", so.currentID).
		Int64("source", sourceID).
		Stringer("ctid", types.UnpackCtid(packed)).
		Msg("[get-tuple][delete]")
	return nil
}

// GetBitmap adds the ctid of every matching row to a bitmap and returns the
// bitmap and the number of rows added.
func (so *Opaque) GetBitmap(ctx context.Context) (*roaring64.Bitmap, int64, error) {
	bitmap := roaring64.New()
	if so.closed {
		return bitmap, 0, types.ErrScanClosed
	}
	if !so.parallel.Acquire(so.cursor != nil) {
		return bitmap, 0, nil
	}
	if err := so.EnsureCursorOpened(ctx, types.ForwardScanDirection, false); err != nil {
		return bitmap, 0, err
	}

	var n int64
	for {
		so.currentID = so.cursor.next()
		if so.currentID == 0 {
			break
		}
		sourceID, ok, err := so.resolveID(ctx, so.currentID)
		if err != nil {
			return bitmap, n, err
		}
		packed, found := uint64(0), false
		if ok {
			packed, found, err = so.ctidOf(ctx, sourceID)
			if err != nil {
				return bitmap, n, err
			}
		}
		if !found {
			so.logger.Debug().Int64("id", so.currentID).Msg("[get-bitmap][nonexistent]")
			continue
		}
		if !types.UnpackCtid(packed).IsValid() {
			continue
		}
		bitmap.Add(packed)
		n++
	}
	so.metrics.RowsDelivered("bitmap", int(n))
	return bitmap, n, nil
}

// ctidOf reads the packed ctid of a source record. found is false when the
// record is gone.
func (so *Opaque) ctidOf(ctx context.Context, sourceID int64) (uint64, bool, error) {
	var packed int64
	err := so.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE _id = ?", so.sources.CtidColumn(), expr.QuoteIdent(so.sources.Name)),
		sourceID).Scan(&packed)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("[scan] failed to read ctid: %w", err)
	}
	return uint64(packed), true, nil
}
