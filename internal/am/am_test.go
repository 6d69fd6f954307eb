package am

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pgrnscan/internal/config"
	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/internal/host"
	"github.com/dshills/pgrnscan/internal/mutation"
	"github.com/dshills/pgrnscan/internal/parallel"
	"github.com/dshills/pgrnscan/internal/registry"
	"github.com/dshills/pgrnscan/internal/wal"
	"github.com/dshills/pgrnscan/pkg/types"
)

const heapOID = 10

type testAM struct {
	*AccessMethod
	heap    *host.MemoryHeap
	catalog *host.MemoryCatalog
	index   *types.Index
}

func newTestAM(t *testing.T) *testAM {
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
			{Number: 2, Name: "title", Type: types.TypeText, NotNull: true},
		},
		PrimaryKey: []int16{1},
	})
	index := newIndex(11, 1)
	catalog := host.NewMemoryCatalog()
	catalog.AddIndex(index)

	return &testAM{
		AccessMethod: New(e, heap, catalog, WithBuildWorkers(2)),
		heap:         heap,
		catalog:      catalog,
		index:        index,
	}
}

func newIndex(oid, relFileNode uint32) *types.Index {
	return &types.Index{
		OID: oid, Name: "memos_index", RelFileNode: relFileNode, HeapOID: heapOID,
		Columns: []types.IndexColumn{
			{Name: "id", Type: types.TypeInt4, HeapAttno: 1},
			{Name: "title", Type: types.TypeText, HeapAttno: 2, Family: types.FamilyFullText},
		},
	}
}

// insert stores a row in the heap and indexes it.
func (ta *testAM) insert(t *testing.T, id int, title string) types.Ctid {
	t.Helper()
	ctid, err := ta.heap.Insert(heapOID, int64(id), title)
	require.NoError(t, err)
	inserted, err := ta.Insert(context.Background(), ta.index, []any{int64(id), title}, []bool{false, false}, ctid)
	require.NoError(t, err)
	assert.False(t, inserted)
	return ctid
}

func (ta *testAM) begin(t *testing.T, keys ...types.ScanKey) registry.Handle {
	t.Helper()
	ctx := context.Background()
	h, err := ta.BeginScan(ctx, ta.index, len(keys), 0)
	require.NoError(t, err)
	require.NoError(t, ta.Rescan(ctx, h, keys, nil))
	t.Cleanup(func() { _ = ta.EndScan(ctx, h) })
	return h
}

func (ta *testAM) collect(t *testing.T, h registry.Handle) []types.Ctid {
	t.Helper()
	var ctids []types.Ctid
	for {
		tuple, found, err := ta.GetTuple(context.Background(), h, types.ForwardScanDirection, false, false)
		require.NoError(t, err)
		if !found {
			return ctids
		}
		ctids = append(ctids, tuple.Ctid)
	}
}

func match(keyword string) types.ScanKey {
	return types.ScanKey{Attno: 2, Strategy: types.StrategyMatch, Argument: keyword}
}

func TestScanLifecycle(t *testing.T) {
	ctx := context.Background()
	ta := newTestAM(t)
	var ctids []types.Ctid
	for i, title := range []string{"hello world", "goodbye", "hello again"} {
		ctid, err := ta.heap.Insert(heapOID, int64(i+1), title)
		require.NoError(t, err)
		ctids = append(ctids, ctid)
	}
	result, err := ta.Build(ctx, ta.index)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.IndexTuples)

	t.Run("tuples", func(t *testing.T) {
		h := ta.begin(t, match("hello"))
		assert.ElementsMatch(t, []types.Ctid{ctids[0], ctids[2]}, ta.collect(t, h))
	})

	t.Run("bitmap", func(t *testing.T) {
		h := ta.begin(t, match("goodbye"))
		bitmap, n, err := ta.GetBitmap(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.True(t, bitmap.Contains(ctids[1].Pack()))
	})

	t.Run("rescan reproduces the scan", func(t *testing.T) {
		h := ta.begin(t, match("hello"))
		first := ta.collect(t, h)
		require.NoError(t, ta.Rescan(ctx, h, []types.ScanKey{match("hello")}, nil))
		assert.Equal(t, first, ta.collect(t, h))
	})

	t.Run("index tuples", func(t *testing.T) {
		h := ta.begin(t, match("goodbye"))
		tuple, found, err := ta.GetTuple(ctx, h, types.ForwardScanDirection, false, true)
		require.NoError(t, err)
		require.True(t, found)
		require.NotNil(t, tuple.IndexTuple)
		assert.Equal(t, []any{int32(2), "goodbye"}, tuple.IndexTuple.Values)
	})

	t.Run("ended scans are gone", func(t *testing.T) {
		h, err := ta.BeginScan(ctx, ta.index, 0, 0)
		require.NoError(t, err)
		require.NoError(t, ta.EndScan(ctx, h))

		_, _, err = ta.GetTuple(ctx, h, types.ForwardScanDirection, false, false)
		assert.ErrorIs(t, err, types.ErrScanClosed)
		assert.ErrorIs(t, ta.EndScan(ctx, h), types.ErrScanClosed)
		assert.ErrorIs(t, ta.Rescan(ctx, h, nil, nil), types.ErrScanClosed)
	})

	t.Run("unknown index", func(t *testing.T) {
		_, err := ta.BeginScan(ctx, newIndex(12, 2), 0, 0)
		assert.ErrorIs(t, err, types.ErrSourcesNotFound)
	})
}

func TestInsertThenScore(t *testing.T) {
	ctx := context.Background()
	ta := newTestAM(t)
	require.NoError(t, ta.BuildEmpty(ctx, ta.index))

	matching := ta.insert(t, 1, "groonga is fast")
	ta.insert(t, 2, "sqlite is small")

	h := ta.begin(t, match("groonga"))
	_, found, err := ta.GetTuple(ctx, h, types.ForwardScanDirection, false, false)
	require.NoError(t, err)
	require.True(t, found)

	score, err := ta.ScoreByRow(ctx, types.Row{TableOID: heapOID, Values: []any{int64(1), "groonga is fast"}})
	require.NoError(t, err)
	assert.Greater(t, score, 0.0)

	score, err = ta.ScoreByRow(ctx, types.Row{TableOID: heapOID, Values: []any{int64(2), "sqlite is small"}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)

	score, err = ta.ScoreByCtid(ctx, heapOID, matching)
	require.NoError(t, err)
	assert.Greater(t, score, 0.0)
}

func TestKillThenRefetch(t *testing.T) {
	ctx := context.Background()
	ta := newTestAM(t)
	require.NoError(t, ta.BuildEmpty(ctx, ta.index))
	ta.insert(t, 1, "hello world")
	ta.insert(t, 2, "hello again")

	h := ta.begin(t, match("hello"))
	first, found, err := ta.GetTuple(ctx, h, types.ForwardScanDirection, false, false)
	require.NoError(t, err)
	require.True(t, found)
	second, found, err := ta.GetTuple(ctx, h, types.ForwardScanDirection, true, false)
	require.NoError(t, err)
	require.True(t, found)
	assert.NotEqual(t, first.Ctid, second.Ctid)

	require.NoError(t, ta.Rescan(ctx, h, []types.ScanKey{match("hello")}, nil))
	assert.Equal(t, []types.Ctid{second.Ctid}, ta.collect(t, h))

	db, err := ta.Engine().EnsureDatabase(ctx)
	require.NoError(t, err)
	entries, err := wal.Entries(ctx, db, ta.index.OID, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, wal.ActionDelete, entries[2].Record.Action)
}

func TestBulkDelete(t *testing.T) {
	ctx := context.Background()
	ta := newTestAM(t)
	require.NoError(t, ta.BuildEmpty(ctx, ta.index))
	dead := ta.insert(t, 1, "hello")
	ta.insert(t, 2, "world")

	stats, err := ta.BulkDelete(ctx, ta.index, func(ctid types.Ctid) bool { return ctid == dead })
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.NumIndexTuples)
	assert.Equal(t, int64(1), stats.TuplesRemoved)

	h := ta.begin(t)
	assert.Len(t, ta.collect(t, h), 1)
}

func TestVacuumCleanup(t *testing.T) {
	ctx := context.Background()

	t.Run("drops tables of dropped indexes", func(t *testing.T) {
		ta := newTestAM(t)
		require.NoError(t, ta.BuildEmpty(ctx, ta.index))
		dropped := newIndex(12, 2)
		ta.catalog.AddIndex(dropped)
		require.NoError(t, ta.BuildEmpty(ctx, dropped))
		ta.catalog.DropIndex(dropped.OID)

		in := mutation.Stats{NumPages: 1, NumIndexTuples: 5, TuplesRemoved: 3}
		stats, err := ta.VacuumCleanup(ctx, &in)
		require.NoError(t, err)
		assert.Equal(t, in, stats)

		_, err = ta.Engine().LookupSources(ctx, 2)
		assert.ErrorIs(t, err, types.ErrSourcesNotFound)
		_, err = ta.Engine().LookupSources(ctx, 1)
		assert.NoError(t, err)
	})

	t.Run("nil stats", func(t *testing.T) {
		ta := newTestAM(t)
		stats, err := ta.VacuumCleanup(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, mutation.Stats{}, stats)
	})

	t.Run("read only keeps everything", func(t *testing.T) {
		ta := newTestAM(t)
		dropped := newIndex(12, 2)
		require.NoError(t, ta.BuildEmpty(ctx, dropped))
		ta.Engine().SetWritable(false)

		_, err := ta.VacuumCleanup(ctx, nil)
		require.NoError(t, err)
		_, err = ta.Engine().LookupSources(ctx, 2)
		assert.NoError(t, err)
	})
}

func TestCanReturn(t *testing.T) {
	ctx := context.Background()
	ta := newTestAM(t)
	require.NoError(t, ta.BuildEmpty(ctx, ta.index))
	ta.insert(t, 1, "short")

	ok, err := ta.CanReturn(ctx, ta.index, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ta.CanReturn(ctx, ta.index, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	ta.insert(t, 2, strings.Repeat("a", 8000))
	ok, err = ta.CanReturn(ctx, ta.index, 1)
	require.NoError(t, err)
	assert.False(t, ok, "records over the threshold disable index-only scans")
}

func TestCostEstimate(t *testing.T) {
	ctx := context.Background()
	ta := newTestAM(t)
	require.NoError(t, ta.BuildEmpty(ctx, ta.index))
	for i, title := range []string{"hello", "world", "hello world", "other"} {
		ta.insert(t, i+1, title)
	}

	est, err := ta.CostEstimate(ctx, ta.index, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, est.Selectivity)

	est, err = ta.CostEstimate(ctx, ta.index, []types.ScanKey{match("hello")})
	require.NoError(t, err)
	assert.Equal(t, 0.5, est.Selectivity)

	est, err = ta.CostEstimate(ctx, ta.index, []types.ScanKey{match("missing")})
	require.NoError(t, err)
	assert.Zero(t, est.Selectivity)
}

func TestParallelScan(t *testing.T) {
	ctx := context.Background()
	ta := newTestAM(t)
	require.NoError(t, ta.BuildEmpty(ctx, ta.index))
	ta.insert(t, 1, "hello")
	ta.insert(t, 2, "hello again")

	assert.Positive(t, ta.EstimateParallelScanSize())
	shared := &parallel.Shared{}
	ta.InitParallelScan(shared)

	a := ta.begin(t, match("hello"))
	b := ta.begin(t, match("hello"))
	require.NoError(t, ta.AttachParallelScan(a, shared))
	require.NoError(t, ta.AttachParallelScan(b, shared))

	_, found, err := ta.GetTuple(ctx, a, types.ForwardScanDirection, false, false)
	require.NoError(t, err)
	assert.True(t, found)
	_, found, err = ta.GetTuple(ctx, b, types.ForwardScanDirection, false, false)
	require.NoError(t, err)
	assert.False(t, found, "only one worker drives a generation")

	require.NoError(t, ta.ParallelRescan(b))
	_, found, err = ta.GetTuple(ctx, b, types.ForwardScanDirection, false, false)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestAbortTransaction(t *testing.T) {
	ctx := context.Background()
	ta := newTestAM(t)
	require.NoError(t, ta.BuildEmpty(ctx, ta.index))
	ta.insert(t, 1, "hello")

	h := ta.begin(t, match("hello"))
	ta.begin(t)
	_, _, err := ta.GetTuple(ctx, h, types.ForwardScanDirection, false, false)
	require.NoError(t, err)
	require.Equal(t, 2, ta.Registry().Len())

	require.NoError(t, ta.AbortTransaction(ctx))
	assert.Zero(t, ta.Registry().Len())
	_, _, err = ta.GetTuple(ctx, h, types.ForwardScanDirection, false, false)
	assert.ErrorIs(t, err, types.ErrScanClosed)

	require.NoError(t, ta.AbortTransaction(ctx))
}

func TestCommand(t *testing.T) {
	ctx := context.Background()
	ta := newTestAM(t)
	require.NoError(t, ta.BuildEmpty(ctx, ta.index))

	out, err := ta.Command(ctx, "object_exist Sources1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "[[0,"), out)
	assert.True(t, strings.HasSuffix(out, ",true]"), out)

	out, err = ta.CommandArgs(ctx, "object_exist", []string{"--name", "Sources9"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, ",false]"), out)

	out, err = ta.Command(ctx, "no_such_command")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "[[-22,"), out)
}
