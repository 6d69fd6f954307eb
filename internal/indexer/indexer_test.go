package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pgrnscan/internal/config"
	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/internal/host"
	"github.com/dshills/pgrnscan/internal/mutation"
	"github.com/dshills/pgrnscan/internal/wal"
	"github.com/dshills/pgrnscan/pkg/types"
)

const heapOID = 10

type testIndexer struct {
	*Indexer
	engine *engine.Engine
	heap   *host.MemoryHeap
	index  *types.Index
}

func newTestIndexer(t *testing.T, workers int) *testIndexer {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Path = ":memory:"
	cfg.Engine.FTSSections = 2
	cfg.WAL.Enabled = true
	e := engine.New(cfg)
	t.Cleanup(func() { _ = e.Finalize() })

	heap := host.NewMemoryHeap()
	heap.CreateTable(types.Table{
		OID:  heapOID,
		Name: "memos",
		Attributes: []types.Attribute{
			{Number: 1, Name: "id", Type: types.TypeInt4, NotNull: true},
			{Number: 2, Name: "note", Type: types.TypeText},
			{Number: 3, Name: "title", Type: types.TypeText},
		},
	})

	return &testIndexer{
		Indexer: New(e, mutation.New(e, wal.New(cfg.WAL, zerolog.Nop(), nil)), workers),
		engine:  e,
		heap:    heap,
		index: &types.Index{
			OID: 11, Name: "memos_index", RelFileNode: 1, HeapOID: heapOID,
			Columns: []types.IndexColumn{
				{Name: "id", Type: types.TypeInt4, HeapAttno: 1},
				{Name: "title", Type: types.TypeText, HeapAttno: 3, Family: types.FamilyFullText},
			},
		},
	}
}

func (ti *testIndexer) db(t *testing.T) *sql.DB {
	t.Helper()
	db, err := ti.engine.EnsureDatabase(context.Background())
	require.NoError(t, err)
	return db
}

func (ti *testIndexer) fill(t *testing.T, n int) []types.Ctid {
	t.Helper()
	ctids := make([]types.Ctid, 0, n)
	for i := 1; i <= n; i++ {
		title := "memo"
		if i%10 == 0 {
			title = "hello memo"
		}
		ctid, err := ti.heap.Insert(heapOID, int64(i), "unindexed", title)
		require.NoError(t, err)
		ctids = append(ctids, ctid)
	}
	return ctids
}

func (ti *testIndexer) objects(t *testing.T) []string {
	t.Helper()
	rows, err := ti.db(t).Query("SELECT name FROM sqlite_master WHERE name LIKE 'Sources%' OR name LIKE 'Lexicon%' ORDER BY name")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	names := []string{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func TestNew(t *testing.T) {
	ti := newTestIndexer(t, 0)
	assert.Positive(t, ti.workers)
	ti = newTestIndexer(t, 3)
	assert.Equal(t, 3, ti.workers)
}

func TestBuild(t *testing.T) {
	ctx := context.Background()

	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			ti := newTestIndexer(t, workers)
			ctids := ti.fill(t, 200)
			require.NoError(t, ti.heap.Delete(heapOID, ctids[0]))

			result, err := ti.Build(ctx, ti.heap, ti.index)
			require.NoError(t, err)
			assert.Equal(t, int64(199), result.HeapTuples)
			assert.Equal(t, int64(199), result.IndexTuples)

			db := ti.db(t)
			rows, err := db.Query("SELECT ctid, id FROM Sources1 ORDER BY _id")
			require.NoError(t, err)
			var got []types.Ctid
			var ids []int64
			for rows.Next() {
				var packed, id int64
				require.NoError(t, rows.Scan(&packed, &id))
				got = append(got, types.UnpackCtid(uint64(packed)))
				ids = append(ids, id)
			}
			require.NoError(t, rows.Err())
			_ = rows.Close()
			assert.Equal(t, ctids[1:], got, "records follow the heap order")
			assert.Equal(t, int64(2), ids[0])

			var n int
			require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM Lexicon1_1 WHERE Lexicon1_1 MATCH 'hello'`).Scan(&n))
			assert.Equal(t, 20, n)

			entries, err := wal.Entries(ctx, db, ti.index.OID, 0, 0)
			require.NoError(t, err)
			assert.Len(t, entries, 199)
		})
	}

	t.Run("empty heap", func(t *testing.T) {
		ti := newTestIndexer(t, 2)
		result, err := ti.Build(ctx, ti.heap, ti.index)
		require.NoError(t, err)
		assert.Zero(t, result.HeapTuples)
		assert.Zero(t, result.IndexTuples)
		assert.Contains(t, ti.objects(t), "Sources1")
	})

	t.Run("values that can't be cast become NULL", func(t *testing.T) {
		ti := newTestIndexer(t, 2)
		_, err := ti.heap.Insert(heapOID, "one", nil, "hello")
		require.NoError(t, err)
		result, err := ti.Build(ctx, ti.heap, ti.index)
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.IndexTuples)

		var n int
		require.NoError(t, ti.db(t).QueryRow("SELECT COUNT(*) FROM Sources1 WHERE id IS NULL AND title = 'hello'").Scan(&n))
		assert.Equal(t, 1, n)
	})

	t.Run("max record size", func(t *testing.T) {
		ti := newTestIndexer(t, 2)
		_, err := ti.heap.Insert(heapOID, int64(1), nil, strings.Repeat("a", 9000))
		require.NoError(t, err)
		_, err = ti.heap.Insert(heapOID, int64(2), nil, "short")
		require.NoError(t, err)
		_, err = ti.Build(ctx, ti.heap, ti.index)
		require.NoError(t, err)

		size, err := engine.MaxRecordSize(ctx, ti.db(t), ti.index.RelFileNode)
		require.NoError(t, err)
		assert.Equal(t, 9000+8, size)
	})
}

// failingHeap stops scanning after a number of rows.
type failingHeap struct {
	*host.MemoryHeap
	after int
}

var errScan = errors.New("scan failed")

func (h *failingHeap) Scan(ctx context.Context, tableOID uint32, fn func(types.Ctid, types.Row) error) error {
	n := 0
	return h.MemoryHeap.Scan(ctx, tableOID, func(ctid types.Ctid, row types.Row) error {
		if n == h.after {
			return errScan
		}
		n++
		return fn(ctid, row)
	})
}

// cancellingHeap cancels the build after a number of rows.
type cancellingHeap struct {
	*host.MemoryHeap
	after  int
	cancel context.CancelFunc
}

func (h *cancellingHeap) Scan(ctx context.Context, tableOID uint32, fn func(types.Ctid, types.Row) error) error {
	n := 0
	return h.MemoryHeap.Scan(ctx, tableOID, func(ctid types.Ctid, row types.Row) error {
		n++
		if n == h.after {
			h.cancel()
		}
		return fn(ctid, row)
	})
}

func TestBuildFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("failed builds leave nothing behind", func(t *testing.T) {
		ti := newTestIndexer(t, 4)
		ti.fill(t, 50)
		_, err := ti.Build(ctx, &failingHeap{MemoryHeap: ti.heap, after: 10}, ti.index)
		assert.ErrorIs(t, err, errScan)

		assert.Empty(t, ti.objects(t))
		_, err = ti.engine.LookupSources(ctx, ti.index.RelFileNode)
		assert.ErrorIs(t, err, types.ErrSourcesNotFound)

		// The index can be built again.
		result, err := ti.Build(ctx, ti.heap, ti.index)
		require.NoError(t, err)
		assert.Equal(t, int64(50), result.IndexTuples)
	})

	t.Run("cancelled", func(t *testing.T) {
		ti := newTestIndexer(t, 2)
		ti.fill(t, 10)
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		_, err := ti.Build(cctx, &cancellingHeap{MemoryHeap: ti.heap, after: 5, cancel: cancel}, ti.index)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, ti.objects(t))
	})

	t.Run("unique", func(t *testing.T) {
		ti := newTestIndexer(t, 1)
		ti.index.Unique = true
		_, err := ti.Build(ctx, ti.heap, ti.index)
		assert.ErrorIs(t, err, types.ErrUniqueIndex)
		assert.Empty(t, ti.objects(t))
	})

	t.Run("read only", func(t *testing.T) {
		ti := newTestIndexer(t, 1)
		ti.engine.SetWritable(false)
		_, err := ti.Build(ctx, ti.heap, ti.index)
		assert.ErrorIs(t, err, types.ErrNotWritable)
		assert.ErrorIs(t, ti.BuildEmpty(ctx, ti.index), types.ErrNotWritable)
	})

	t.Run("unknown heap", func(t *testing.T) {
		ti := newTestIndexer(t, 1)
		ti.index.HeapOID = 99
		_, err := ti.Build(ctx, ti.heap, ti.index)
		assert.ErrorIs(t, err, types.ErrInvalidArgument)
	})

	t.Run("already built", func(t *testing.T) {
		ti := newTestIndexer(t, 1)
		ti.fill(t, 3)
		_, err := ti.Build(ctx, ti.heap, ti.index)
		require.NoError(t, err)
		_, err = ti.Build(ctx, ti.heap, ti.index)
		assert.Error(t, err)

		// The existing table survives.
		var n int
		require.NoError(t, ti.db(t).QueryRow("SELECT COUNT(*) FROM Sources1").Scan(&n))
		assert.Equal(t, 3, n)
	})

	t.Run("build in progress", func(t *testing.T) {
		ti := newTestIndexer(t, 1)
		unlock, err := ti.lock(ti.index)
		require.NoError(t, err)
		_, err = ti.Build(ctx, ti.heap, ti.index)
		assert.ErrorIs(t, err, types.ErrInvalidArgument)
		unlock()
		_, err = ti.Build(ctx, ti.heap, ti.index)
		assert.NoError(t, err)
	})
}

func TestBuildEmpty(t *testing.T) {
	ctx := context.Background()
	ti := newTestIndexer(t, 1)
	ti.fill(t, 5)

	require.NoError(t, ti.BuildEmpty(ctx, ti.index))
	src, err := ti.engine.LookupSources(ctx, ti.index.RelFileNode)
	require.NoError(t, err)
	assert.Len(t, src.Columns, 2)

	var n int
	require.NoError(t, ti.db(t).QueryRow("SELECT COUNT(*) FROM Sources1").Scan(&n))
	assert.Zero(t, n)

	assert.Error(t, ti.BuildEmpty(ctx, ti.index))
}

func TestIndexLock(t *testing.T) {
	t.Run("TryAcquire fails while held", func(t *testing.T) {
		var lock IndexLock
		assert.True(t, lock.Since().IsZero())
		require.True(t, lock.TryAcquire())
		assert.False(t, lock.Since().IsZero())
		assert.False(t, lock.TryAcquire())
		lock.Release()
		assert.True(t, lock.Since().IsZero())
		assert.True(t, lock.TryAcquire())
		lock.Release()
	})

	t.Run("one of many goroutines acquires", func(t *testing.T) {
		var lock IndexLock
		const numGoroutines = 100

		acquired := make([]bool, numGoroutines)
		var wg sync.WaitGroup
		wg.Add(numGoroutines)
		for i := 0; i < numGoroutines; i++ {
			go func(idx int) {
				defer wg.Done()
				acquired[idx] = lock.TryAcquire()
			}(i)
		}
		wg.Wait()

		successCount := 0
		for _, success := range acquired {
			if success {
				successCount++
			}
		}
		assert.Equal(t, 1, successCount)
		lock.Release()
	})
}
