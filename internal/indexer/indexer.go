package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/internal/host"
	"github.com/dshills/pgrnscan/internal/logging"
	"github.com/dshills/pgrnscan/internal/metrics"
	"github.com/dshills/pgrnscan/internal/mutation"
	"github.com/dshills/pgrnscan/pkg/types"
)

// Indexer builds sources tables.
type Indexer struct {
	engine  *engine.Engine
	writer  *mutation.Writer
	logger  zerolog.Logger
	metrics *metrics.Metrics
	locks   *xsync.MapOf[uint32, *IndexLock]

	// Worker pool configuration
	workers int
}

// Result counts the rows seen by a build.
type Result struct {
	HeapTuples  int64
	IndexTuples int64
	Duration    time.Duration
}

// New creates an Indexer converting rows with the given number of workers.
// A non-positive count uses runtime.NumCPU().
func New(e *engine.Engine, w *mutation.Writer, workers int) *Indexer {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Indexer{
		engine:  e,
		writer:  w,
		logger:  logging.Component(e.Logger(), "indexer"),
		metrics: e.Metrics(),
		locks:   xsync.NewMapOf[uint32, *IndexLock](),
		workers: workers,
	}
}

type job struct {
	seq  int
	ctid types.Ctid
	row  types.Row
}

type converted struct {
	seq int
	rec mutation.Record
}

// Build creates the sources table of index and fills it with the live rows
// of its heap.
func (idx *Indexer) Build(ctx context.Context, heap host.Heap, index *types.Index) (result Result, err error) {
	const tag = "[build]"
	start := time.Now()
	defer func() { idx.metrics.Observe("build", start, err) }()

	if err := idx.engine.CheckWritable(tag + " can't create an index"); err != nil {
		return Result{}, err
	}
	if index.Unique {
		return Result{}, fmt.Errorf("%s %w", tag, types.ErrUniqueIndex)
	}
	if _, ok := heap.Table(index.HeapOID); !ok {
		return Result{}, fmt.Errorf("%s heap relation %d: %w", tag, index.HeapOID, types.ErrInvalidArgument)
	}

	unlock, err := idx.lock(index)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	src, err := idx.engine.CreateSources(ctx, index)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err == nil {
			return
		}
		if dropErr := idx.engine.DropSources(context.WithoutCancel(ctx), src); dropErr != nil {
			idx.logger.Warn().Err(dropErr).Str("table", src.Name).Msg(tag + " failed to drop partially built table")
			err = errors.Join(err, dropErr)
		}
	}()

	result, err = idx.fill(ctx, heap, index, src)
	if err != nil {
		return Result{}, err
	}
	result.Duration = time.Since(start)
	idx.metrics.Mutation("build", int(result.IndexTuples))
	idx.logger.Info().
		Str("index", index.Name).
		Str("table", src.Name).
		Int64("heap_tuples", result.HeapTuples).
		Int64("index_tuples", result.IndexTuples).
		Dur("duration", result.Duration).
		Msg(tag)
	return result, nil
}

// BuildEmpty creates the empty sources table of index.
func (idx *Indexer) BuildEmpty(ctx context.Context, index *types.Index) error {
	const tag = "[build-empty]"
	if err := idx.engine.CheckWritable(tag + " can't create an empty index"); err != nil {
		return err
	}
	unlock, err := idx.lock(index)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := idx.engine.CreateSources(ctx, index); err != nil {
		return err
	}
	idx.logger.Debug().Str("index", index.Name).Msg(tag)
	return nil
}

func (idx *Indexer) lock(index *types.Index) (func(), error) {
	l, _ := idx.locks.LoadOrStore(index.OID, &IndexLock{})
	if !l.TryAcquire() {
		return nil, fmt.Errorf("[build] %s is already being built since %s: %w",
			index.Name, l.Since().Format(time.RFC3339), types.ErrInvalidArgument)
	}
	return l.Release, nil
}

// fill streams the heap through the conversion workers into one writer
// transaction.
func (idx *Indexer) fill(ctx context.Context, heap host.Heap, index *types.Index, src *engine.Sources) (Result, error) {
	db, err := idx.engine.EnsureDatabase(ctx)
	if err != nil {
		return Result{}, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("[build] failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job, idx.workers*2)
	results := make(chan converted, idx.workers*2)

	var result Result
	g.Go(func() error {
		defer close(jobs)
		seq := 0
		return heap.Scan(gctx, index.HeapOID, func(ctid types.Ctid, row types.Row) error {
			select {
			case jobs <- job{seq: seq, ctid: ctid, row: row}:
				seq++
				result.HeapTuples++
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	var workers sync.WaitGroup
	for range idx.workers {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for j := range jobs {
				values, isNull := indexTuple(index, j.row)
				rec, err := idx.writer.Prepare(index, src, values, isNull, j.ctid)
				if err != nil {
					return err
				}
				select {
				case results <- converted{seq: j.seq, rec: rec}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(results)
		return nil
	})

	maxRecordSize := 0
	g.Go(func() error {
		// Records are written in scan order.
		pending := make(map[int]mutation.Record)
		next := 0
		for c := range results {
			pending[c.seq] = c.rec
			for {
				rec, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				if err := idx.writer.Write(gctx, tx, index, src, rec); err != nil {
					return err
				}
				result.IndexTuples++
				maxRecordSize = max(maxRecordSize, rec.Size)
			}
		}
		return gctx.Err()
	})

	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := idx.writer.TrackRecordSize(ctx, tx, index, src, maxRecordSize); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("[build] failed to commit: %w", err)
	}
	return result, nil
}

// indexTuple picks the index column values out of a heap row.
func indexTuple(index *types.Index, row types.Row) ([]any, []bool) {
	values := make([]any, len(index.Columns))
	isNull := make([]bool, len(index.Columns))
	for i, c := range index.Columns {
		v, ok := row.Value(c.HeapAttno)
		values[i] = v
		isNull[i] = !ok
	}
	return values, isNull
}
