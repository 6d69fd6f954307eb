package cost

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pgrnscan/internal/config"
	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/pkg/types"
)

func newTestEstimator(t *testing.T) (*Estimator, *types.Index) {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()
	cfg.Engine.Path = ":memory:"
	cfg.Engine.FTSSections = 2
	e := engine.New(cfg)
	t.Cleanup(func() { _ = e.Finalize() })

	index := &types.Index{
		OID: 11, Name: "memos_index", RelFileNode: 1, HeapOID: 10,
		Columns: []types.IndexColumn{
			{Name: "n", Type: types.TypeInt4, HeapAttno: 1},
			{Name: "title", Type: types.TypeText, HeapAttno: 2, Family: types.FamilyFullText},
		},
	}
	_, err := e.CreateSources(ctx, index)
	require.NoError(t, err)
	db, err := e.EnsureDatabase(ctx)
	require.NoError(t, err)
	for i := 1; i <= 10; i++ {
		title := "memo"
		if i%5 == 1 {
			title = "hello memo"
		}
		_, err := db.Exec(`INSERT INTO Sources1 (ctid, n, title) VALUES (?, ?, ?)`, i, i, title)
		require.NoError(t, err)
	}
	return New(e), index
}

func TestEstimate(t *testing.T) {
	es, index := newTestEstimator(t)
	ctx := context.Background()
	key := func(attno int, s types.Strategy, arg any) types.ScanKey {
		return types.ScanKey{Attno: attno, Strategy: s, Argument: arg}
	}

	tests := []struct {
		name        string
		keys        []types.ScanKey
		selectivity float64
	}{
		{"no keys", nil, 1.0},
		{"match", []types.ScanKey{key(2, types.StrategyMatch, "hello")}, 0.2},
		{"every record", []types.ScanKey{key(1, types.StrategyLess, 100)}, 0.01},
		{"no record", []types.ScanKey{key(1, types.StrategyGreater, 100)}, 0.0},
		{"null argument is rejected", []types.ScanKey{{Attno: 1, Strategy: types.StrategyEqual, IsNull: true}}, 0.0},
		{"empty like", []types.ScanKey{key(2, types.StrategyLike, "")}, 0.0},
		{"empty keyword", []types.ScanKey{key(2, types.StrategyMatch, "")}, 0.0},
		{"independent keys", []types.ScanKey{key(2, types.StrategyMatch, "hello"), key(1, types.StrategyLessEqual, 5)}, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est, err := es.Estimate(ctx, index, tt.keys)
			require.NoError(t, err)
			assert.InDelta(t, tt.selectivity, est.Selectivity, 1e-9)
			assert.GreaterOrEqual(t, est.Selectivity, 0.0)
			assert.LessOrEqual(t, est.Selectivity, 1.0)
			assert.Zero(t, est.StartupCost)
			assert.Zero(t, est.Correlation)
		})
	}

	t.Run("costs follow the matching rows", func(t *testing.T) {
		est, err := es.Estimate(ctx, index, nil)
		require.NoError(t, err)
		assert.Equal(t, 1.0, est.Pages)
		assert.InDelta(t, 10*CPUIndexTupleCost+RandomPageCost, est.TotalCost, 1e-9)

		est, err = es.Estimate(ctx, index, []types.ScanKey{key(1, types.StrategyGreater, 100)})
		require.NoError(t, err)
		assert.Zero(t, est.Pages)
		assert.Zero(t, est.TotalCost)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := es.Estimate(ctx, index, []types.ScanKey{key(2, types.Strategy(99), "x")})
		assert.ErrorIs(t, err, types.ErrInvalidStrategy)

		other := *index
		other.RelFileNode = 99
		_, err = es.Estimate(ctx, &other, nil)
		assert.ErrorIs(t, err, types.ErrSourcesNotFound)
	})
}

func TestEstimateEmptyTable(t *testing.T) {
	es, index := newTestEstimator(t)
	ctx := context.Background()
	db, err := es.engine.EnsureDatabase(ctx)
	require.NoError(t, err)
	_, err = db.Exec("DELETE FROM Sources1")
	require.NoError(t, err)

	est, err := es.Estimate(ctx, index, []types.ScanKey{{Attno: 1, Strategy: types.StrategyLess, Argument: 3}})
	require.NoError(t, err)
	assert.Equal(t, 0.01, est.Selectivity)
	assert.Zero(t, est.TotalCost)
}
